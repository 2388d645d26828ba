package simplify

import (
	"cmp"
	"math"
	"slices"
)

// overlaps sweeps segs from left to right and calls fn for every maximal
// interval over which the set of covering segments is constant and non-empty.
// Gaps covered by no segment are skipped. The slice passed to fn is reused
// between calls. segs is reordered.
func overlaps(segs []segment, fn func(left, right float64, x []segment)) {
	if len(segs) == 0 {
		return
	}
	slices.SortStableFunc(segs, func(a, b segment) int {
		return cmp.Compare(a.left, b.left)
	})

	n := len(segs)
	x := make([]segment, 0, n)
	right := segs[0].left
	for j := 0; j < n; {
		left := right
		x = dropEnded(x, left)
		if len(x) == 0 {
			left = segs[j].left
		}
		for j < n && segs[j].left == left {
			x = append(x, segs[j])
			j++
		}
		right = minRight(x)
		if j < n {
			right = min(right, segs[j].left)
		}
		fn(left, right, x)
	}

	for {
		left := right
		x = dropEnded(x, left)
		if len(x) == 0 {
			return
		}
		right = minRight(x)
		fn(left, right, x)
	}
}

// dropEnded removes segments ending at or before pos, in place.
func dropEnded(x []segment, pos float64) []segment {
	out := x[:0]
	for _, s := range x {
		if s.right > pos {
			out = append(out, s)
		}
	}
	return out
}

func minRight(x []segment) float64 {
	r := math.Inf(1)
	for _, s := range x {
		r = min(r, s.right)
	}
	return r
}
