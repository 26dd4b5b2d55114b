// Package mathx holds small generic numeric helpers.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]; reversed bounds are swapped first.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	return Max(lo, Min(v, hi))
}

func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}

func Max[T constraints.Ordered](a, b T) T {
	if b > a {
		return b
	}
	return a
}

// Overlaps reports whether the closed ranges [a0, a1] and [b0, b1] intersect.
func Overlaps[T constraints.Integer](a0, a1, b0, b1 T) bool {
	return a0 <= b1 && b0 <= a1
}
