package processing

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// BoxCoder decodes box-regression deltas against reference anchors. The
// proposal pipeline treats the encoding as opaque; any strategy satisfying
// this interface can be injected.
type BoxCoder interface {
	// Decode maps an (n, 4) delta tensor and an (n, 4) anchor tensor to an
	// (n, 4) tensor of absolute xyxy boxes.
	Decode(deltas, anchors *tensor.Dense) (*tensor.Dense, error)
}

// WeightedBoxCoder is the standard (dx, dy, dw, dh) parameterization: the
// center offsets are scaled by the anchor extent and the size deltas are
// exponentiated, each divided by its configured weight first.
type WeightedBoxCoder struct {
	weights       [4]float32
	bboxXformClip float32
}

// NewWeightedBoxCoder builds a coder with per-coordinate weights
// (wx, wy, ww, wh). The size deltas are clamped before exponentiation to
// keep decoded boxes finite when the head emits large activations.
func NewWeightedBoxCoder(weights [4]float32) *WeightedBoxCoder {
	return &WeightedBoxCoder{
		weights:       weights,
		bboxXformClip: math32.Log(1000.0 / 16),
	}
}

// DefaultBoxCoder returns the unit-weight coder the RPN stage uses.
func DefaultBoxCoder() *WeightedBoxCoder {
	return NewWeightedBoxCoder([4]float32{1, 1, 1, 1})
}

func (c *WeightedBoxCoder) Decode(deltas, anchors *tensor.Dense) (*tensor.Dense, error) {
	deltaShape := deltas.Shape()
	anchorShape := anchors.Shape()
	if len(deltaShape) != 2 || deltaShape[1] != 4 {
		return nil, errors.Errorf("deltas must have shape (n, 4), got %v", deltaShape)
	}
	if len(anchorShape) != 2 || anchorShape[1] != 4 {
		return nil, errors.Errorf("anchors must have shape (n, 4), got %v", anchorShape)
	}
	if deltaShape[0] != anchorShape[0] {
		return nil, errors.Errorf("got %d deltas for %d anchors", deltaShape[0], anchorShape[0])
	}

	n := deltaShape[0]
	deltaData := deltas.Float32s()
	anchorData := anchors.Float32s()
	decoded := make([]float32, n*4)

	wx, wy, ww, wh := c.weights[0], c.weights[1], c.weights[2], c.weights[3]

	for i := range n {
		x1, y1, x2, y2 := anchorData[i*4], anchorData[i*4+1], anchorData[i*4+2], anchorData[i*4+3]
		width := x2 - x1 + toRemove
		height := y2 - y1 + toRemove
		ctrX := x1 + 0.5*width
		ctrY := y1 + 0.5*height

		dx := deltaData[i*4] / wx
		dy := deltaData[i*4+1] / wy
		dw := min(deltaData[i*4+2]/ww, c.bboxXformClip)
		dh := min(deltaData[i*4+3]/wh, c.bboxXformClip)

		predCtrX := dx*width + ctrX
		predCtrY := dy*height + ctrY
		predW := math32.Exp(dw) * width
		predH := math32.Exp(dh) * height

		decoded[i*4] = predCtrX - 0.5*predW
		decoded[i*4+1] = predCtrY - 0.5*predH
		decoded[i*4+2] = predCtrX + 0.5*predW - toRemove
		decoded[i*4+3] = predCtrY + 0.5*predH - toRemove
	}

	return newBoxTensor(decoded), nil
}
