package catalog_test

import (
	"context"
	"strings"
	"testing"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/maint"
)

func noopFactory(ctx context.Context, deps catalog.Deps) (maint.TunableLoop, error) {
	return nil, nil
}

func desc(name string, tier catalog.Tier) catalog.Descriptor {
	return catalog.Descriptor{
		Name:     name,
		Tier:     tier,
		MinChunk: 10,
		MaxChunk: 100,
		New:      noopFactory,
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []catalog.Descriptor
		wantErr     string
	}{
		{
			name:        "duplicate name",
			descriptors: []catalog.Descriptor{desc("a", catalog.TierHourly), desc("a", catalog.TierDaily)},
			wantErr:     "duplicate",
		},
		{
			name:        "empty name",
			descriptors: []catalog.Descriptor{desc("", catalog.TierHourly)},
			wantErr:     "empty name",
		},
		{
			name:        "unknown tier",
			descriptors: []catalog.Descriptor{desc("a", "weekly")},
			wantErr:     "unknown tier",
		},
		{
			name: "zero min chunk",
			descriptors: []catalog.Descriptor{{
				Name: "a", Tier: catalog.TierHourly, MinChunk: 0, MaxChunk: 10, New: noopFactory,
			}},
			wantErr: "chunk bounds",
		},
		{
			name: "max below min",
			descriptors: []catalog.Descriptor{{
				Name: "a", Tier: catalog.TierHourly, MinChunk: 10, MaxChunk: 5, New: noopFactory,
			}},
			wantErr: "chunk bounds",
		},
		{
			name: "nil factory",
			descriptors: []catalog.Descriptor{{
				Name: "a", Tier: catalog.TierHourly, MinChunk: 1, MaxChunk: 10,
			}},
			wantErr: "no factory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.NewRegistry(tt.descriptors...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryTierFiltering(t *testing.T) {
	exp := desc("exp-task", catalog.TierHourly)
	exp.Experimental = true

	reg, err := catalog.NewRegistry(
		desc("a", catalog.TierFrequent),
		desc("b", catalog.TierHourly),
		exp,
		desc("c", catalog.TierDaily),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	hourly := reg.Tier(catalog.TierHourly, false)
	if len(hourly) != 1 || hourly[0].Name != "b" {
		t.Errorf("hourly without experimental = %v, want [b]", names(hourly))
	}

	hourly = reg.Tier(catalog.TierHourly, true)
	if len(hourly) != 2 {
		t.Errorf("hourly with experimental = %v, want [b exp-task]", names(hourly))
	}

	if got := reg.Tier(catalog.TierFrequent, false); len(got) != 1 || got[0].Name != "a" {
		t.Errorf("frequent = %v, want [a]", names(got))
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := catalog.NewRegistry(desc("a", catalog.TierHourly), desc("b", catalog.TierDaily))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	d, ok := reg.Get("b")
	if !ok || d.Tier != catalog.TierDaily {
		t.Errorf("Get(b) = %+v, %v", d, ok)
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) found a descriptor")
	}

	got := reg.Names()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names = %v, want [a b]", got)
	}
}

func TestTierBudgets(t *testing.T) {
	tests := []struct {
		tier catalog.Tier
		want string
	}{
		{catalog.TierFrequent, "5m0s"},
		{catalog.TierHourly, "55m0s"},
		{catalog.TierDaily, "23h30m0s"},
	}
	for _, tt := range tests {
		if got := tt.tier.Budget().String(); got != tt.want {
			t.Errorf("%s budget = %s, want %s", tt.tier, got, tt.want)
		}
	}
}

func names(ds []catalog.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}
