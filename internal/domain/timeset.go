package domain

import (
	"sort"
	"time"
)

// TimeSet is an ordered sequence of distinct timestamps. The zero value is an
// empty set. TimeSet never exposes its backing slice.
type TimeSet struct {
	times []time.Time
}

// NewTimeSet sorts and de-duplicates ts.
func NewTimeSet(ts []time.Time) TimeSet {
	seen := make(map[int64]struct{}, len(ts))
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		key := t.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t.UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return TimeSet{times: out}
}

// Len returns the number of timestamps.
func (s TimeSet) Len() int { return len(s.times) }

// At returns the i-th timestamp in ascending order.
func (s TimeSet) At(i int) time.Time { return s.times[i] }

// Times returns a copy of the timestamps.
func (s TimeSet) Times() []time.Time {
	return append([]time.Time(nil), s.times...)
}

// First returns the earliest timestamp. It panics on an empty set.
func (s TimeSet) First() time.Time { return s.times[0] }

// Last returns the latest timestamp. It panics on an empty set.
func (s TimeSet) Last() time.Time { return s.times[len(s.times)-1] }

// Contains reports whether t is in the set.
func (s TimeSet) Contains(t time.Time) bool {
	i := sort.Search(len(s.times), func(i int) bool { return !s.times[i].Before(t) })
	return i < len(s.times) && s.times[i].Equal(t)
}

// Intersect returns the timestamps present in both a and b, sorted ascending.
// Timestamps must match exactly; there is no tolerance window. An empty
// intersection is a *NoOverlapError.
func Intersect(a, b []time.Time) (TimeSet, error) {
	in := make(map[int64]struct{}, len(a))
	for _, t := range a {
		in[t.UnixNano()] = struct{}{}
	}
	common := make([]time.Time, 0)
	for _, t := range b {
		if _, ok := in[t.UnixNano()]; ok {
			common = append(common, t)
		}
	}
	set := NewTimeSet(common)
	if set.Len() == 0 {
		return TimeSet{}, &NoOverlapError{}
	}
	return set, nil
}

// IntersectAll intersects the time axes of any number of named sources.
func IntersectAll(names []string, axes [][]time.Time) (TimeSet, error) {
	if len(axes) == 0 {
		return TimeSet{}, &NoOverlapError{Datasets: names}
	}
	set := NewTimeSet(axes[0])
	for _, axis := range axes[1:] {
		next, err := Intersect(set.times, axis)
		if err != nil {
			return TimeSet{}, &NoOverlapError{Datasets: names}
		}
		set = next
	}
	if set.Len() == 0 {
		return TimeSet{}, &NoOverlapError{Datasets: names}
	}
	return set, nil
}
