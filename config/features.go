package config

import "sort"

// Known feature flags. The set is open: unknown flags are carried and
// reported, not rejected, so newer flags keep working with older builds.
const (
	FeatureResponseCollection   = "enable_response_collection"
	FeatureEnvVarReplacement    = "enable_environment_variable_replacement"
	FeatureExperimental         = "enable_experimental_features"
	FeatureItemsToInclude       = "enable_items_to_include"
	FeatureExcludeFolder        = "enable_exclude_folder"
	FeatureConfigDeploy         = "enable_config_deploy"
	FeatureLakehouseUnpublish   = "enable_lakehouse_unpublish"
	FeatureWarehouseUnpublish   = "enable_warehouse_unpublish"
	FeatureSQLDatabaseUnpublish = "enable_sqldatabase_unpublish"
	FeatureEventhouseUnpublish  = "enable_eventhouse_unpublish"
	FeatureShortcutPublish      = "enable_shortcut_publish"
	FeatureNoWorkspaceFolders   = "disable_workspace_folder_publish"
	FeatureNoIdentityLogging    = "disable_print_identity"
)

var knownFeatures = map[string]bool{
	FeatureResponseCollection:   true,
	FeatureEnvVarReplacement:    true,
	FeatureExperimental:         true,
	FeatureItemsToInclude:       true,
	FeatureExcludeFolder:        true,
	FeatureConfigDeploy:         true,
	FeatureLakehouseUnpublish:   true,
	FeatureWarehouseUnpublish:   true,
	FeatureSQLDatabaseUnpublish: true,
	FeatureEventhouseUnpublish:  true,
	FeatureShortcutPublish:      true,
	FeatureNoWorkspaceFolders:   true,
	FeatureNoIdentityLogging:    true,
}

// FeatureSet is an immutable set of enabled feature flags.
type FeatureSet struct {
	flags map[string]bool
}

func NewFeatureSet(flags ...string) FeatureSet {
	set := make(map[string]bool, len(flags))
	for _, flag := range flags {
		if flag != "" {
			set[flag] = true
		}
	}
	return FeatureSet{flags: set}
}

func (f FeatureSet) Enabled(flag string) bool {
	return f.flags[flag]
}

// With returns a copy with the given flags also enabled.
func (f FeatureSet) With(flags ...string) FeatureSet {
	merged := make(map[string]bool, len(f.flags)+len(flags))
	for flag := range f.flags {
		merged[flag] = true
	}
	for _, flag := range flags {
		if flag != "" {
			merged[flag] = true
		}
	}
	return FeatureSet{flags: merged}
}

// List returns the enabled flags sorted, for logging.
func (f FeatureSet) List() []string {
	flags := make([]string, 0, len(f.flags))
	for flag := range f.flags {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	return flags
}

// Unknown returns enabled flags this build does not recognize.
func (f FeatureSet) Unknown() []string {
	var unknown []string
	for _, flag := range f.List() {
		if !knownFeatures[flag] {
			unknown = append(unknown, flag)
		}
	}
	return unknown
}
