// Package repository models the local file tree of declared workspace items
// and scans it into typed in-memory items.
package repository

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/fabworks/fabdeploy/itemtype"
)

// PlatformFileName is the metadata file marking an item directory.
const PlatformFileName = ".platform"

// File is one definition file of an item. Text files are held as-is and can
// be rewritten by parameterization; binary files pass through untouched.
type File struct {
	// Path is the item-relative path, slash-separated.
	Path    string
	payload []byte
	binary  bool
}

func NewFile(path string, payload []byte) *File {
	return &File{
		Path:    strings.ReplaceAll(path, "\\", "/"),
		payload: payload,
		binary:  !utf8.Valid(payload),
	}
}

func (f *File) IsBinary() bool { return f.binary }

// Text returns the file contents. Empty for binary files.
func (f *File) Text() string {
	if f.binary {
		return ""
	}
	return string(f.payload)
}

// SetText replaces the contents of a text file. No-op for binary files.
func (f *File) SetText(text string) {
	if f.binary {
		return
	}
	f.payload = []byte(text)
}

func (f *File) Payload() []byte { return f.payload }

// Base64 encodes the payload for inline definition upload.
func (f *File) Base64() string {
	return base64.StdEncoding.EncodeToString(f.payload)
}

// Item is one declared workspace item: metadata from its .platform file plus
// its definition files.
type Item struct {
	Type        itemtype.Type
	Name        string
	Description string
	LogicalID   string

	// Directory is the absolute path of the item directory.
	Directory string

	// Folder is the repository-relative folder holding the item,
	// slash-separated; empty for the repository root.
	Folder string

	Files []*File

	// GUID is the remote item id, set once the item is matched against or
	// created in the workspace.
	GUID string
}

// Key identifies the item the way parameters and include lists name it.
func (i *Item) Key() string {
	return i.Name + "." + string(i.Type)
}

// FindFile returns the definition file at the given item-relative path.
func (i *Item) FindFile(path string) (*File, bool) {
	for _, f := range i.Files {
		if f.Path == path {
			return f, true
		}
	}
	return nil, false
}

// DefinitionPart is one entry of the definition upload payload.
type DefinitionPart struct {
	Path        string `json:"path"`
	Payload     string `json:"payload"`
	PayloadType string `json:"payloadType"`
}

// DefinitionParts builds the inline-base64 upload parts for every file,
// the platform metadata file included.
func (i *Item) DefinitionParts() []DefinitionPart {
	parts := make([]DefinitionPart, 0, len(i.Files))
	for _, f := range i.Files {
		parts = append(parts, DefinitionPart{
			Path:        f.Path,
			Payload:     f.Base64(),
			PayloadType: "InlineBase64",
		})
	}
	return parts
}

// platformMetadata is the .platform file schema.
type platformMetadata struct {
	Metadata struct {
		Type        string `json:"type"`
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
	} `json:"metadata"`
	Config struct {
		LogicalID string `json:"logicalId"`
	} `json:"config"`
}

func parsePlatformMetadata(raw []byte) (platformMetadata, error) {
	var meta platformMetadata
	err := json.Unmarshal(raw, &meta)
	return meta, err
}
