package domain

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func hour(h int) time.Time {
	return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour)
}

// TestIntersect_PartialOverlap tests {T1,T2,T3} ∩ {T2,T3,T4} = {T2,T3}.
func TestIntersect_PartialOverlap(t *testing.T) {
	a := []time.Time{hour(6), hour(12), hour(18)}
	b := []time.Time{hour(24), hour(18), hour(12)}

	set, err := Intersect(a, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 timestamps, got %d", set.Len())
	}
	if !set.At(0).Equal(hour(12)) || !set.At(1).Equal(hour(18)) {
		t.Errorf("unexpected intersection %v", set.Times())
	}
	if !set.First().Equal(hour(12)) || !set.Last().Equal(hour(18)) {
		t.Errorf("first/last mismatch: %v %v", set.First(), set.Last())
	}
}

// TestIntersect_ExactMatchOnly tests that near-equal stamps do not match.
func TestIntersect_ExactMatchOnly(t *testing.T) {
	a := []time.Time{hour(0)}
	b := []time.Time{hour(0).Add(time.Second)}

	_, err := Intersect(a, b)
	var noOverlap *NoOverlapError
	if !errors.As(err, &noOverlap) {
		t.Fatalf("expected NoOverlapError, got %v", err)
	}
	if got := err.Error(); got != "no overlapping times between the time axes" {
		t.Errorf("unexpected message %q", got)
	}

	_, err = IntersectAll([]string{"ifs", "aifs"}, [][]time.Time{a, b})
	if got := err.Error(); got != "no overlapping times between ifs and aifs" {
		t.Errorf("unexpected message %q", got)
	}
}

// TestIntersect_ZoneIndependent tests that equal instants in different zones match.
func TestIntersect_ZoneIndependent(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	a := []time.Time{hour(12)}
	b := []time.Time{hour(12).In(cet)}

	set, err := Intersect(a, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("expected 1 timestamp, got %d", set.Len())
	}
}

// TestIntersect_Properties checks sortedness, uniqueness and the subset
// property over random inputs.
func TestIntersect_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		a := randomTimes(rng, rng.Intn(30)+1)
		b := randomTimes(rng, rng.Intn(30)+1)

		set, err := Intersect(a, b)
		if err != nil {
			var noOverlap *NoOverlapError
			if !errors.As(err, &noOverlap) {
				t.Fatalf("trial %d: unexpected error %v", trial, err)
			}
			if overlaps(a, b) {
				t.Fatalf("trial %d: reported no overlap for overlapping inputs", trial)
			}
			continue
		}

		for i := 1; i < set.Len(); i++ {
			if !set.At(i).After(set.At(i - 1)) {
				t.Fatalf("trial %d: output not strictly ascending at %d", trial, i)
			}
		}
		for _, ts := range set.Times() {
			if !containsTime(a, ts) || !containsTime(b, ts) {
				t.Fatalf("trial %d: %v is not in both inputs", trial, ts)
			}
		}
	}
}

func TestIntersectAll_ThreeSources(t *testing.T) {
	set, err := IntersectAll(
		[]string{"a", "b", "c"},
		[][]time.Time{
			{hour(0), hour(6), hour(12)},
			{hour(6), hour(12), hour(18)},
			{hour(12), hour(6)},
		},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if set.Len() != 2 || !set.Contains(hour(6)) || !set.Contains(hour(12)) {
		t.Errorf("unexpected intersection %v", set.Times())
	}

	_, err = IntersectAll([]string{"a", "b"}, [][]time.Time{{hour(0)}, {hour(1)}})
	var noOverlap *NoOverlapError
	if !errors.As(err, &noOverlap) {
		t.Fatalf("expected NoOverlapError, got %v", err)
	}
	if len(noOverlap.Datasets) != 2 {
		t.Errorf("expected dataset names in error, got %v", noOverlap.Datasets)
	}
}

func TestNewTimeSet_Dedup(t *testing.T) {
	set := NewTimeSet([]time.Time{hour(3), hour(1), hour(3), hour(2)})
	if set.Len() != 3 {
		t.Fatalf("expected 3 distinct timestamps, got %d", set.Len())
	}
	times := set.Times()
	times[0] = hour(99)
	if set.At(0).Equal(hour(99)) {
		t.Errorf("Times() must return a copy")
	}
}

func randomTimes(rng *rand.Rand, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = hour(rng.Intn(48))
	}
	return out
}

func overlaps(a, b []time.Time) bool {
	for _, t := range a {
		if containsTime(b, t) {
			return true
		}
	}
	return false
}

func containsTime(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
