package utils

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// PermuteAndFlatten reorders a raw head output of shape (n, a*c, h, w) into
// shape (n, h*w*a, c) so that row i of an image addresses the same anchor as
// index i of the flattened anchor list. The anchor list is laid out in
// (y, x, anchor) order, which is exactly the order this permutation emits.
func PermuteAndFlatten(t *tensor.Dense, n, a, c, h, w int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 4 {
		return nil, errors.Errorf("expected a 4D tensor, got shape %v", shape)
	}
	if shape[0] != n || shape[1] != a*c || shape[2] != h || shape[3] != w {
		return nil, errors.Errorf("expected shape (%d, %d, %d, %d), got %v", n, a*c, h, w, shape)
	}

	src := t.Float32s()
	dst := make([]float32, n*h*w*a*c)

	for img := range n {
		for anch := range a {
			for ci := range c {
				channel := anch*c + ci
				for y := range h {
					for x := range w {
						srcIdx := ((img*a*c+channel)*h+y)*w + x
						dstIdx := ((img*h*w*a+(y*w+x)*a+anch)*c + ci)
						dst[dstIdx] = src[srcIdx]
					}
				}
			}
		}
	}

	if len(dst) == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, h*w*a, c)), nil
	}
	out := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(n, h*w*a, c),
		tensor.WithBacking(dst),
	)
	return out, nil
}

// ArgSortDescending returns the indices that order data from the highest to
// the lowest value. The sort is stable, so equal values keep their original
// relative order and the result is deterministic.
func ArgSortDescending(data []float32) []int {
	indices := make([]int, len(data))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return data[indices[i]] > data[indices[j]]
	})
	return indices
}

// SelectRows2D gathers the given rows of a 2D tensor into a new tensor.
func SelectRows2D(t *tensor.Dense, indices []int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("expected a 2D tensor, got shape %v", shape)
	}
	numRows, numCols := shape[0], shape[1]

	data := t.Float32s()
	selected := make([]float32, 0, len(indices)*numCols)
	for _, idx := range indices {
		if idx < 0 || idx >= numRows {
			return nil, errors.Errorf("row index %d is out of bounds for %d rows", idx, numRows)
		}
		selected = append(selected, data[idx*numCols:(idx+1)*numCols]...)
	}

	if len(selected) == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0, numCols)), nil
	}
	out := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(indices), numCols),
		tensor.WithBacking(selected),
	)
	return out, nil
}

// TensorByIndices gathers elements of a 1D tensor into a new tensor.
func TensorByIndices(t *tensor.Dense, indices []int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 1 {
		return nil, errors.Errorf("expected a 1D tensor, got shape %v", shape)
	}

	data := t.Float32s()
	selected := make([]float32, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(data) {
			return nil, errors.Errorf("index %d is out of bounds for %d elements", idx, len(data))
		}
		selected[i] = data[idx]
	}

	if len(selected) == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0)), nil
	}
	out := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(indices)),
		tensor.WithBacking(selected),
	)
	return out, nil
}

// Sigmoid applies the logistic transform in place and returns its argument.
func Sigmoid(data []float32) []float32 {
	for i, v := range data {
		data[i] = 1.0 / (1.0 + math32.Exp(-v))
	}
	return data
}
