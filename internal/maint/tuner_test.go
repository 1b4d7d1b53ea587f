package maint_test

import (
	"testing"
	"time"

	"github.com/corvohq/janitor/internal/maint"
)

func TestTunerStartsAtMinimum(t *testing.T) {
	tn := maint.NewTuner(maint.Bounds{Min: 10, Max: 1000}, 500*time.Millisecond)
	if got := tn.Hint(); got != 10 {
		t.Errorf("initial hint = %v, want 10", got)
	}
}

func TestTunerGrowthCapped(t *testing.T) {
	tn := maint.NewTuner(maint.Bounds{Min: 10, Max: 1000}, 500*time.Millisecond)

	// A chunk far faster than the target grows the hint at most 4x per step.
	tn.Observe(time.Millisecond)
	if got := tn.Hint(); got != 40 {
		t.Errorf("hint after fast chunk = %v, want 40", got)
	}
	tn.Observe(time.Millisecond)
	if got := tn.Hint(); got != 160 {
		t.Errorf("hint after second fast chunk = %v, want 160", got)
	}
}

func TestTunerShrinksOnSlowChunks(t *testing.T) {
	tn := maint.NewTuner(maint.Bounds{Min: 10, Max: 1000}, 500*time.Millisecond)
	tn.Observe(time.Millisecond) // 40
	tn.Observe(time.Millisecond) // 160

	// Twice the target halves the hint.
	tn.Observe(time.Second)
	if got := tn.Hint(); got != 80 {
		t.Errorf("hint after slow chunk = %v, want 80", got)
	}

	// Shrinkage never goes below the task minimum.
	for i := 0; i < 10; i++ {
		tn.Observe(time.Hour)
	}
	if got := tn.Hint(); got != 10 {
		t.Errorf("hint after sustained slow chunks = %v, want floor 10", got)
	}
}

func TestTunerRespectsMaximum(t *testing.T) {
	tn := maint.NewTuner(maint.Bounds{Min: 10, Max: 100}, 500*time.Millisecond)
	for i := 0; i < 10; i++ {
		tn.Observe(time.Microsecond)
	}
	if got := tn.Hint(); got != 100 {
		t.Errorf("hint = %v, want ceiling 100", got)
	}
}

func TestBoundsClamp(t *testing.T) {
	tests := []struct {
		name   string
		bounds maint.Bounds
		hint   float64
		want   int
	}{
		{"within", maint.Bounds{Min: 10, Max: 100}, 50, 50},
		{"below min", maint.Bounds{Min: 10, Max: 100}, 3, 10},
		{"above max", maint.Bounds{Min: 10, Max: 100}, 500, 100},
		{"rounds", maint.Bounds{Min: 10, Max: 100}, 49.6, 50},
		{"never below one", maint.Bounds{}, 0.2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bounds.Clamp(tt.hint); got != tt.want {
				t.Errorf("Clamp(%v) = %d, want %d", tt.hint, got, tt.want)
			}
		})
	}
}
