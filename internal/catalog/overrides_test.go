package catalog_test

import (
	"strings"
	"testing"

	"github.com/corvohq/janitor/internal/catalog"
)

func TestParseOverrides(t *testing.T) {
	ov, err := catalog.ParseOverrides([]byte(`{
		"tasks": {
			"prune-run-history": {"min_chunk": 20, "max_chunk": 200},
			"rollup-task-stats": {"disabled": true}
		}
	}`))
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}
	if got := ov.Tasks["prune-run-history"]; got.MinChunk == nil || *got.MinChunk != 20 {
		t.Errorf("min_chunk = %v, want 20", got.MinChunk)
	}
	if got := ov.Tasks["rollup-task-stats"]; got.Disabled == nil || !*got.Disabled {
		t.Errorf("disabled = %v, want true", got.Disabled)
	}
}

func TestParseOverridesRejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"top-level extra", `{"tasks": {}, "extra": 1}`},
		{"per-task extra", `{"tasks": {"a": {"chunk": 5}}}`},
		{"wrong type", `{"tasks": {"a": {"min_chunk": "big"}}}`},
		{"zero chunk", `{"tasks": {"a": {"min_chunk": 0}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := catalog.ParseOverrides([]byte(tt.doc)); err == nil {
				t.Error("expected schema error")
			}
		})
	}
}

func TestOverridesApply(t *testing.T) {
	descriptors := []catalog.Descriptor{
		desc("a", catalog.TierHourly),
		desc("b", catalog.TierHourly),
		desc("c", catalog.TierDaily),
	}

	ov, err := catalog.ParseOverrides([]byte(`{
		"tasks": {
			"a": {"min_chunk": 5, "max_chunk": 50},
			"b": {"disabled": true}
		}
	}`))
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}

	out, err := ov.Apply(descriptors)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 (b disabled)", len(out))
	}
	if out[0].Name != "a" || out[0].MinChunk != 5 || out[0].MaxChunk != 50 {
		t.Errorf("a = %+v, want chunk [5, 50]", out[0])
	}
	if out[1].Name != "c" || out[1].MinChunk != 10 {
		t.Errorf("c = %+v, want untouched", out[1])
	}
}

func TestOverridesApplyUnknownTask(t *testing.T) {
	ov, err := catalog.ParseOverrides([]byte(`{"tasks": {"typo-name": {"disabled": true}}}`))
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}

	_, err = ov.Apply([]catalog.Descriptor{desc("a", catalog.TierHourly)})
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("error = %v, want unknown task", err)
	}
}

func TestOverridesApplyInvalidBounds(t *testing.T) {
	ov, err := catalog.ParseOverrides([]byte(`{"tasks": {"a": {"max_chunk": 2}}}`))
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}

	// Descriptor min stays 10; an override max of 2 inverts the bounds.
	_, err = ov.Apply([]catalog.Descriptor{desc("a", catalog.TierHourly)})
	if err == nil || !strings.Contains(err.Error(), "chunk bounds") {
		t.Errorf("error = %v, want invalid chunk bounds", err)
	}
}
