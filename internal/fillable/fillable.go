// Package fillable implements an ordered, disjoint, non-adjacent set of
// half-open integer intervals over [0,size). It is used both to track which
// byte ranges of a piece have been written (Manifest.present) and which
// pieces a remote peer has advertised (peer "has" set) — anywhere the spec
// needs an interval-set rather than a flat bitfield.
package fillable

import (
	"fmt"
)

// interval is a half-open range [start, end).
type interval struct {
	start int64
	end   int64
}

// Fillable is a range [0,size) that can be incrementally filled by
// subranges. Its invariant, enforced after every mutation: contents is
// sorted by start, every interval satisfies start < end <= size, and no two
// consecutive intervals touch or overlap (they must be merged).
type Fillable struct {
	size     int64
	contents []interval
}

// New returns an empty Fillable over [0,size).
func New(size int64) *Fillable {
	return &Fillable{size: size}
}

// Size returns the size of the region this Fillable tracks.
func (f *Fillable) Size() int64 { return f.size }

// IsFull reports whether the entire [0,size) range has been filled.
func (f *Fillable) IsFull() bool {
	return len(f.contents) == 1 && f.contents[0].start == 0 && f.contents[0].end == f.size
}

// IsEmpty reports whether nothing has been filled.
func (f *Fillable) IsEmpty() bool { return len(f.contents) == 0 }

// Has reports whether byte n has been filled.
func (f *Fillable) Has(n int64) bool {
	for _, iv := range f.contents {
		if n < iv.end {
			return iv.start <= n
		}
	}
	return false
}

// Add fills the range [a,b) and reports whether this call, combined with
// prior state, newly made the Fillable full (i.e. IsFull transitioned
// false→true). It is an error if a>=b or b>size.
func (f *Fillable) Add(a, b int64) (newlyFull bool, err error) {
	if a >= b || b > f.size {
		return false, fmt.Errorf("fillable: invalid range [%d,%d) for size %d", a, b, f.size)
	}

	wasFull := f.IsFull()
	f.add(a, b)
	return f.IsFull() && !wasFull, nil
}

// add performs the splice/merge without validating bounds; callers must
// validate first.
func (f *Fillable) add(a, b int64) {
	place := -1
	for i, iv := range f.contents {
		if a <= iv.end {
			place = i
			break
		}
	}

	if place < 0 {
		// New interval belongs strictly after everything existing.
		f.contents = append(f.contents, interval{a, b})
		return
	}

	left := f.contents[:place]
	right := append([]interval(nil), f.contents[place:]...)

	if b < right[0].start {
		// Entirely before the next interval: no merge.
		merged := make([]interval, 0, len(left)+1+len(right))
		merged = append(merged, left...)
		merged = append(merged, interval{a, b})
		merged = append(merged, right...)
		f.contents = merged
		return
	}

	// Overlaps or touches right[0]: merge into it.
	if a < right[0].start {
		right[0].start = a
	}
	if b > right[0].end {
		right[0].end = b
	}

	// The merged interval may now also touch/overlap right[1], and after
	// absorbing it, the interval after that.
	for len(right) > 1 && right[0].end >= right[1].start {
		if right[1].end > right[0].end {
			right[0].end = right[1].end
		}
		right = append(right[:1], right[2:]...)
	}

	merged := make([]interval, 0, len(left)+len(right))
	merged = append(merged, left...)
	merged = append(merged, right...)
	f.contents = merged
}

// Fill marks the entire region as filled.
func (f *Fillable) Fill() {
	f.contents = []interval{{0, f.size}}
}

// Clear empties the Fillable.
func (f *Fillable) Clear() {
	f.contents = nil
}

// FirstUnfilled returns the smallest index in [0,size) not yet covered, or
// (0, false) if the Fillable is full.
func (f *Fillable) FirstUnfilled() (int64, bool) {
	if len(f.contents) == 0 {
		return 0, f.size > 0
	}
	if f.contents[0].start > 0 {
		return 0, true
	}
	end := f.contents[0].end
	if end < f.size {
		return end, true
	}
	return 0, false
}

// FirstUnfilledStartingAt returns the smallest uncovered index at or after
// start, or (0, false) if everything from start onward is filled. It is an
// error if start >= size.
func (f *Fillable) FirstUnfilledStartingAt(start int64) (int64, bool, error) {
	if start >= f.size {
		return 0, false, fmt.Errorf("fillable: start %d >= size %d", start, f.size)
	}
	if len(f.contents) == 0 {
		return start, true, nil
	}
	for _, iv := range f.contents {
		if start < iv.start {
			return start, true, nil
		}
		if start < iv.end {
			if iv.end >= f.size {
				return 0, false, nil
			}
			return iv.end, true, nil
		}
	}
	return start, true, nil
}

// HasRange reports whether the entire half-open range [a,b) is covered by a
// single filled interval. It is an error if a>=b or b>size.
func (f *Fillable) HasRange(a, b int64) (bool, error) {
	if a >= b || b > f.size {
		return false, fmt.Errorf("fillable: invalid range [%d,%d) for size %d", a, b, f.size)
	}
	for _, iv := range f.contents {
		if a < iv.start {
			return false, nil
		}
		if a < iv.end {
			return b <= iv.end, nil
		}
	}
	return false, nil
}

// Range is a half-open [Start,End) range, exported for persistence.
type Range struct {
	Start, End int64
}

// Ranges returns a snapshot of the currently-filled ranges, sorted and
// disjoint. Intended for serialization (see internal/manifest); callers must
// not rely on the returned slice being backed by Fillable's internal state.
func (f *Fillable) Ranges() []Range {
	out := make([]Range, len(f.contents))
	for i, iv := range f.contents {
		out[i] = Range{iv.start, iv.end}
	}
	return out
}

// CheckRep validates the sorted/disjoint/non-adjacent invariant; it exists
// for tests and debug assertions, not the hot path.
func (f *Fillable) CheckRep() error {
	var last *interval
	for i := range f.contents {
		iv := f.contents[i]
		if iv.start >= iv.end {
			return fmt.Errorf("fillable: invalid interval (%d,%d)", iv.start, iv.end)
		}
		if iv.end > f.size {
			return fmt.Errorf("fillable: interval (%d,%d) exceeds size %d", iv.start, iv.end, f.size)
		}
		if last != nil && last.end >= iv.start {
			return fmt.Errorf("fillable: interval starting at %d cannot follow interval ending at %d", iv.start, last.end)
		}
		last = &f.contents[i]
	}
	return nil
}
