package processing

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func newDense(t *testing.T, rows int, data []float32) *tensor.Dense {
	t.Helper()
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(rows, 4),
		tensor.WithBacking(data),
	)
}

func TestWeightedBoxCoder_IdentityDecode(t *testing.T) {
	coder := DefaultBoxCoder()

	anchors := newDense(t, 2, []float32{
		0, 0, 9, 9,
		10, 20, 29, 49,
	})
	deltas := newDense(t, 2, make([]float32, 8))

	decoded, err := coder.Decode(deltas, anchors)
	assert.NoError(t, err)

	got := decoded.Float32s()
	want := []float32{0, 0, 9, 9, 10, 20, 29, 49}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4)
	}
}

func TestWeightedBoxCoder_CenterShift(t *testing.T) {
	coder := DefaultBoxCoder()

	// 10x10 anchor, dx=0.5 moves the center by half a width
	anchors := newDense(t, 1, []float32{0, 0, 9, 9})
	deltas := newDense(t, 1, []float32{0.5, 0, 0, 0})

	decoded, err := coder.Decode(deltas, anchors)
	assert.NoError(t, err)

	got := decoded.Float32s()
	assert.InDelta(t, 5.0, got[0], 1e-4)
	assert.InDelta(t, 0.0, got[1], 1e-4)
	assert.InDelta(t, 14.0, got[2], 1e-4)
	assert.InDelta(t, 9.0, got[3], 1e-4)
}

func TestWeightedBoxCoder_SizeScaling(t *testing.T) {
	coder := DefaultBoxCoder()

	// dw = ln(2) doubles the width
	anchors := newDense(t, 1, []float32{0, 0, 9, 9})
	deltas := newDense(t, 1, []float32{0, 0, math32.Log(2), 0})

	decoded, err := coder.Decode(deltas, anchors)
	assert.NoError(t, err)

	got := decoded.Float32s()
	width := got[2] - got[0] + 1
	assert.InDelta(t, 20.0, width, 1e-3)
}

func TestWeightedBoxCoder_WeightsDivideDeltas(t *testing.T) {
	weighted := NewWeightedBoxCoder([4]float32{2, 2, 2, 2})
	unit := DefaultBoxCoder()

	anchors := newDense(t, 1, []float32{0, 0, 9, 9})

	halfShift, err := weighted.Decode(newDense(t, 1, []float32{1, 0, 0, 0}), anchors)
	assert.NoError(t, err)
	fullShift, err := unit.Decode(newDense(t, 1, []float32{0.5, 0, 0, 0}), anchors)
	assert.NoError(t, err)

	assert.InDelta(t, fullShift.Float32s()[0], halfShift.Float32s()[0], 1e-4)
}

func TestWeightedBoxCoder_ClampsLargeSizeDeltas(t *testing.T) {
	coder := DefaultBoxCoder()

	anchors := newDense(t, 1, []float32{0, 0, 9, 9})
	deltas := newDense(t, 1, []float32{0, 0, 1000, 1000})

	decoded, err := coder.Decode(deltas, anchors)
	assert.NoError(t, err)

	got := decoded.Float32s()
	width := got[2] - got[0] + 1
	// exp is clamped at 1000/16, so 10 * 62.5 at most
	assert.LessOrEqual(t, width, float32(626))
}

func TestWeightedBoxCoder_CountMismatch(t *testing.T) {
	coder := DefaultBoxCoder()
	anchors := newDense(t, 2, make([]float32, 8))
	deltas := newDense(t, 1, make([]float32, 4))
	_, err := coder.Decode(deltas, anchors)
	assert.Error(t, err)
}
