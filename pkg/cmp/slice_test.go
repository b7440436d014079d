package cmp_test

import (
	"testing"

	"github.com/Baizx98/PaGraph/pkg/cmp"
)

func TestSliceEq(t *testing.T) {
	t.Run("it matches slices with same elements in same order", func(t *testing.T) {
		if !cmp.SliceEq([]int{1, 2, 3}, []int{1, 2, 3}) {
			t.Error("equal slices are reported unequal")
		}
	})

	t.Run("it rejects slices differing in order or length", func(t *testing.T) {
		if cmp.SliceEq([]int{1, 2, 3}, []int{3, 2, 1}) {
			t.Error("reordered slices are reported equal")
		}
		if cmp.SliceEq([]int{1, 2, 3}, []int{1, 2}) {
			t.Error("slices with different length are reported equal")
		}
	})
}

func TestSliceEqUnordered(t *testing.T) {
	t.Run("it ignores ordering but not multiplicity", func(t *testing.T) {
		if !cmp.SliceEqUnordered([]int{1, 2, 2, 3}, []int{3, 2, 1, 2}) {
			t.Error("same multiset is reported unequal")
		}
		if cmp.SliceEqUnordered([]int{1, 2, 2}, []int{1, 1, 2}) {
			t.Error("different multiset is reported equal")
		}
	})
}
