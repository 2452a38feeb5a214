// Package itemtype defines the closed set of deployable workspace item types
// and the per-type behavior consulted by the reconciliation engine: publish
// and unpublish ordering, shell-only publishing, destructive-unpublish
// feature gates, intra-type dependency detection, and post-publish waits.
package itemtype

import (
	"fmt"
	"sort"
	"strings"
)

type Type string

const (
	DataPipeline       Type = "DataPipeline"
	Environment        Type = "Environment"
	Notebook           Type = "Notebook"
	Report             Type = "Report"
	SemanticModel      Type = "SemanticModel"
	Lakehouse          Type = "Lakehouse"
	MirroredDatabase   Type = "MirroredDatabase"
	VariableLibrary    Type = "VariableLibrary"
	CopyJob            Type = "CopyJob"
	Eventhouse         Type = "Eventhouse"
	KQLDatabase        Type = "KQLDatabase"
	KQLQueryset        Type = "KQLQueryset"
	Reflex             Type = "Reflex"
	Eventstream        Type = "Eventstream"
	Warehouse          Type = "Warehouse"
	SQLDatabase        Type = "SQLDatabase"
	KQLDashboard       Type = "KQLDashboard"
	Dataflow           Type = "Dataflow"
	GraphQLApi         Type = "GraphQLApi"
	ApacheAirflowJob   Type = "ApacheAirflowJob"
	MountedDataFactory Type = "MountedDataFactory"
	OrgApp             Type = "OrgApp"
)

// WaitPolicy names the post-publish provisioning wait a type requires before
// it is considered settled.
type WaitPolicy int

const (
	WaitNone WaitPolicy = iota
	// WaitSQLEndpoint polls the item until its SQL endpoint reports a
	// terminal provisioning status.
	WaitSQLEndpoint
	// WaitEnvironmentPublish polls the environment staging publish state.
	WaitEnvironmentPublish
	// WaitMirroring polls the mirrored database until replication starts.
	WaitMirroring
)

// Spec is the behavior table entry for one item type.
type Spec struct {
	// PublishRank orders types during publish; lower ranks publish first.
	// The order encodes platform dependency constraints (a Lakehouse must
	// exist before the Notebooks attached to it, an Eventhouse before its
	// KQL databases, and so on).
	PublishRank int

	// UnpublishRank orders types during orphan removal; lower ranks delete
	// first (roughly the inverse of the publish order, dependents first).
	UnpublishRank int

	// ShellOnly types deploy metadata only; the platform owns their
	// definition (storage-backed types provision their own internals).
	ShellOnly bool

	// UnpublishGate names the feature flag that must be enabled before
	// orphans of this type are deleted. Empty means deletion is always
	// allowed. Storage-backed types default to gated because their
	// deletion destroys data.
	UnpublishGate string

	// DependencyFile is the definition file scanned for references to
	// sibling items of the same type, driving intra-type topological
	// ordering. Empty means the type has no intra-type dependencies.
	DependencyFile string

	// Wait is the post-publish provisioning wait policy.
	Wait WaitPolicy

	// AttributePaths maps parameterization attribute names (as used by
	// $items variables) to the JSON property path in the type's item
	// detail response. "id" is implicit for every type.
	AttributePaths map[string]string
}

var specs = map[Type]Spec{
	VariableLibrary:    {PublishRank: 0, UnpublishRank: 21},
	Warehouse:          {PublishRank: 1, UnpublishRank: 20, ShellOnly: true, UnpublishGate: "enable_warehouse_unpublish", Wait: WaitSQLEndpoint, AttributePaths: map[string]string{"sqlendpoint": "properties.connectionString"}},
	MirroredDatabase:   {PublishRank: 2, UnpublishRank: 17, Wait: WaitMirroring},
	Lakehouse:          {PublishRank: 3, UnpublishRank: 19, ShellOnly: true, UnpublishGate: "enable_lakehouse_unpublish", Wait: WaitSQLEndpoint, AttributePaths: map[string]string{"sqlendpoint": "properties.sqlEndpointProperties.connectionString"}},
	SQLDatabase:        {PublishRank: 4, UnpublishRank: 18, ShellOnly: true, UnpublishGate: "enable_sqldatabase_unpublish"},
	Environment:        {PublishRank: 5, UnpublishRank: 16, ShellOnly: true, Wait: WaitEnvironmentPublish},
	Notebook:           {PublishRank: 6, UnpublishRank: 15},
	Eventhouse:         {PublishRank: 7, UnpublishRank: 14, UnpublishGate: "enable_eventhouse_unpublish", AttributePaths: map[string]string{"queryserviceuri": "properties.queryServiceUri"}},
	SemanticModel:      {PublishRank: 8, UnpublishRank: 13},
	Report:             {PublishRank: 9, UnpublishRank: 12},
	CopyJob:            {PublishRank: 10, UnpublishRank: 11},
	KQLDatabase:        {PublishRank: 11, UnpublishRank: 10},
	KQLQueryset:        {PublishRank: 12, UnpublishRank: 9},
	Reflex:             {PublishRank: 13, UnpublishRank: 7},
	Eventstream:        {PublishRank: 14, UnpublishRank: 6},
	KQLDashboard:       {PublishRank: 15, UnpublishRank: 8},
	Dataflow:           {PublishRank: 16, UnpublishRank: 5, DependencyFile: "mashup.pq"},
	DataPipeline:       {PublishRank: 17, UnpublishRank: 4, DependencyFile: "pipeline-content.json"},
	GraphQLApi:         {PublishRank: 18, UnpublishRank: 3},
	ApacheAirflowJob:   {PublishRank: 19, UnpublishRank: 2},
	MountedDataFactory: {PublishRank: 20, UnpublishRank: 1},
	OrgApp:             {PublishRank: 21, UnpublishRank: 0},
}

// SpecFor returns the behavior entry for a known type.
func SpecFor(t Type) (Spec, bool) {
	spec, ok := specs[t]
	return spec, ok
}

// Parse validates a raw string against the supported type set.
func Parse(raw string) (Type, error) {
	t := Type(strings.TrimSpace(raw))
	if _, ok := specs[t]; !ok {
		return "", fmt.Errorf("item type %q is invalid or not supported", raw)
	}
	return t, nil
}

// All returns every supported type in publish-rank order.
func All() []Type {
	types := make([]Type, 0, len(specs))
	for t := range specs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		return specs[types[i]].PublishRank < specs[types[j]].PublishRank
	})
	return types
}

// PublishOrder sorts the given types by publish rank, dropping duplicates
// and unknown values.
func PublishOrder(types []Type) []Type {
	return sortByRank(types, func(s Spec) int { return s.PublishRank })
}

// UnpublishOrder sorts the given types by unpublish rank (dependents first).
func UnpublishOrder(types []Type) []Type {
	return sortByRank(types, func(s Spec) int { return s.UnpublishRank })
}

func sortByRank(types []Type, rank func(Spec) int) []Type {
	seen := make(map[Type]bool, len(types))
	ordered := make([]Type, 0, len(types))
	for _, t := range types {
		if seen[t] {
			continue
		}
		if _, ok := specs[t]; !ok {
			continue
		}
		seen[t] = true
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return rank(specs[ordered[i]]) < rank(specs[ordered[j]])
	})
	return ordered
}

// APIPath returns the REST path segment for the type's item-detail
// endpoints (e.g. "lakehouses" for Lakehouse).
func APIPath(t Type) string {
	return strings.ToLower(string(t)) + "s"
}
