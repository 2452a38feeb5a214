package repository

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

// invalidFolderChars are rejected in workspace folder names.
var invalidFolderChars = regexp.MustCompile(`[~"#.%&*:<>?/\\{|}]`)

// Repository is the scanned local state: every declared item plus the folder
// tree they imply.
type Repository struct {
	Dir   string
	Items []*Item

	// Folders lists every folder path holding at least one item, ancestors
	// included, sorted shallow-first so creation can walk it in order.
	Folders []string

	byKey map[string]*Item
}

// Get returns the item with the given display name and type.
func (r *Repository) Get(t itemtype.Type, name string) (*Item, bool) {
	item, ok := r.byKey[name+"."+string(t)]
	return item, ok
}

// ItemsOfType returns the items of one type, in scan order.
func (r *Repository) ItemsOfType(t itemtype.Type) []*Item {
	var items []*Item
	for _, item := range r.Items {
		if item.Type == t {
			items = append(items, item)
		}
	}
	return items
}

// Types returns the distinct item types present, in publish order.
func (r *Repository) Types() []itemtype.Type {
	var types []itemtype.Type
	for _, item := range r.Items {
		types = append(types, item.Type)
	}
	return itemtype.PublishOrder(types)
}

// Scan walks dir for item directories (marked by a .platform file) and loads
// each into a typed Item. Directories of item types this build does not
// manage are skipped with a notice; a real export can carry types we leave
// alone. Corruption aborts the scan: an unreadable metadata file, a missing
// or duplicated logical id, or an invalid folder name all mean the
// repository cannot be deployed safely.
func Scan(dir string, log logr.Logger) (*Repository, error) {
	repo := &Repository{Dir: dir, byKey: map[string]*Item{}}

	var itemDirs []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() && entry.Name() == ".git" {
			return filepath.SkipDir
		}
		if !entry.IsDir() && entry.Name() == PlatformFileName {
			itemDirs = append(itemDirs, filepath.Dir(path))
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, faults.New(faults.RepositoryError, "walking repository "+dir, err)
	}
	sort.Strings(itemDirs)

	var missingLogicalIDs []string
	logicalIDs := map[string]string{}
	folders := map[string]bool{}

	for _, itemDir := range itemDirs {
		item, err := loadItem(dir, itemDir, log)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}

		if item.LogicalID == "" {
			missingLogicalIDs = append(missingLogicalIDs, itemDir)
			continue
		}
		if previous, dup := logicalIDs[item.LogicalID]; dup {
			return nil, faults.Newf(faults.RepositoryError,
				"logical id %s is declared by both %s and %s", item.LogicalID, previous, itemDir)
		}
		logicalIDs[item.LogicalID] = itemDir

		if item.Folder != "" {
			if err := validateFolderPath(item.Folder); err != nil {
				return nil, err
			}
			for folder := item.Folder; folder != ""; folder = parentFolder(folder) {
				folders[folder] = true
			}
		}

		repo.Items = append(repo.Items, item)
		repo.byKey[item.Key()] = item
		log.V(1).Info("scanned item", "type", item.Type, "name", item.Name, "folder", item.Folder)
	}

	if len(missingLogicalIDs) > 0 {
		return nil, faults.Newf(faults.RepositoryError,
			"items without a logical id cannot be tracked across deployments: %s",
			strings.Join(missingLogicalIDs, ", "))
	}

	for folder := range folders {
		repo.Folders = append(repo.Folders, folder)
	}
	sort.Slice(repo.Folders, func(i, j int) bool {
		di, dj := strings.Count(repo.Folders[i], "/"), strings.Count(repo.Folders[j], "/")
		if di != dj {
			return di < dj
		}
		return repo.Folders[i] < repo.Folders[j]
	})

	log.Info("repository scanned", "items", len(repo.Items), "folders", len(repo.Folders))
	return repo, nil
}

// loadItem reads one item directory. A nil item with a nil error means the
// directory declares a type this build does not manage.
func loadItem(root, itemDir string, log logr.Logger) (*Item, error) {
	raw, err := os.ReadFile(filepath.Join(itemDir, PlatformFileName))
	if err != nil {
		return nil, faults.New(faults.RepositoryError, "reading "+PlatformFileName+" in "+itemDir, err)
	}
	meta, err := parsePlatformMetadata(raw)
	if err != nil {
		return nil, faults.New(faults.RepositoryError, "parsing "+PlatformFileName+" in "+itemDir, err)
	}

	t, err := itemtype.Parse(meta.Metadata.Type)
	if err != nil {
		log.Info("skipping item of unmanaged type", "directory", itemDir, "type", meta.Metadata.Type)
		return nil, nil
	}
	if strings.TrimSpace(meta.Metadata.DisplayName) == "" {
		return nil, faults.Newf(faults.RepositoryError, "%s declares no display name", itemDir)
	}

	item := &Item{
		Type:        t,
		Name:        meta.Metadata.DisplayName,
		Description: meta.Metadata.Description,
		LogicalID:   strings.TrimSpace(meta.Config.LogicalID),
		Directory:   itemDir,
		Folder:      folderOf(root, itemDir),
	}

	err = filepath.WalkDir(itemDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(itemDir, path)
		if err != nil {
			return err
		}
		item.Files = append(item.Files, NewFile(rel, payload))
		return nil
	})
	if err != nil {
		return nil, faults.New(faults.RepositoryError, "reading files of "+itemDir, err)
	}
	sort.Slice(item.Files, func(i, j int) bool { return item.Files[i].Path < item.Files[j].Path })
	return item, nil
}

// folderOf derives the workspace folder path from the item directory's
// position under the repository root.
func folderOf(root, itemDir string) string {
	rel, err := filepath.Rel(root, filepath.Dir(itemDir))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func parentFolder(folder string) string {
	idx := strings.LastIndex(folder, "/")
	if idx < 0 {
		return ""
	}
	return folder[:idx]
}

func validateFolderPath(folder string) error {
	for _, segment := range strings.Split(folder, "/") {
		if strings.TrimSpace(segment) == "" {
			return faults.Newf(faults.RepositoryError, "folder path %q has an empty segment", folder)
		}
		if invalidFolderChars.MatchString(segment) {
			return faults.Newf(faults.RepositoryError,
				"folder name %q contains characters the workspace rejects", segment)
		}
	}
	return nil
}
