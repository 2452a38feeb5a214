package itemtype

import (
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse(" Notebook ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Notebook {
		t.Fatalf("Parse returned %q, want %q", got, Notebook)
	}

	if _, err := Parse("Dashboard"); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty type")
	}
}

func TestPublishOrder(t *testing.T) {
	t.Parallel()

	got := PublishOrder([]Type{Notebook, DataPipeline, Lakehouse, Environment, Notebook})
	want := []Type{Lakehouse, Environment, Notebook, DataPipeline}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUnpublishOrderInvertsPublishOrder(t *testing.T) {
	t.Parallel()

	// Storage types must delete after the items that read from them.
	got := UnpublishOrder([]Type{Lakehouse, Notebook, DataPipeline, Warehouse})
	if got[0] != DataPipeline {
		t.Fatalf("pipelines must unpublish first, got %v", got)
	}
	if got[len(got)-1] != Warehouse {
		t.Fatalf("warehouse must unpublish last, got %v", got)
	}
}

func TestAllCoversEveryType(t *testing.T) {
	t.Parallel()

	all := All()
	if len(all) != len(specs) {
		t.Fatalf("All returned %d types, want %d", len(all), len(specs))
	}
	ranks := make(map[int]Type, len(all))
	for _, typ := range all {
		spec, ok := SpecFor(typ)
		if !ok {
			t.Fatalf("missing spec for %s", typ)
		}
		if prev, dup := ranks[spec.PublishRank]; dup {
			t.Fatalf("publish rank %d shared by %s and %s", spec.PublishRank, prev, typ)
		}
		ranks[spec.PublishRank] = typ
	}
}

func TestShellOnlyAndGates(t *testing.T) {
	t.Parallel()

	shellOnly := map[Type]bool{Environment: true, Lakehouse: true, Warehouse: true, SQLDatabase: true}
	for typ, spec := range specs {
		if spec.ShellOnly != shellOnly[typ] {
			t.Fatalf("%s: ShellOnly = %v, want %v", typ, spec.ShellOnly, shellOnly[typ])
		}
	}

	gated := []Type{Lakehouse, Warehouse, SQLDatabase, Eventhouse}
	for _, typ := range gated {
		spec, _ := SpecFor(typ)
		if spec.UnpublishGate == "" {
			t.Fatalf("%s must require an unpublish gate", typ)
		}
	}
	if spec, _ := SpecFor(Notebook); spec.UnpublishGate != "" {
		t.Fatalf("Notebook unpublish must not be gated")
	}
}

func TestDependencyFiles(t *testing.T) {
	t.Parallel()

	if spec, _ := SpecFor(DataPipeline); spec.DependencyFile != "pipeline-content.json" {
		t.Fatalf("unexpected pipeline dependency file %q", spec.DependencyFile)
	}
	if spec, _ := SpecFor(Dataflow); spec.DependencyFile != "mashup.pq" {
		t.Fatalf("unexpected dataflow dependency file %q", spec.DependencyFile)
	}
}

func TestAPIPath(t *testing.T) {
	t.Parallel()

	if got := APIPath(Lakehouse); got != "lakehouses" {
		t.Fatalf("APIPath(Lakehouse) = %q", got)
	}
	if got := APIPath(KQLDatabase); got != "kqldatabases" {
		t.Fatalf("APIPath(KQLDatabase) = %q", got)
	}
}
