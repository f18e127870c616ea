package processing

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FieldObjectness is the per-box score field the RPN pipeline ranks and
// suppresses proposals by.
const FieldObjectness = "objectness"

// Boxes follow the legacy pixel-grid convention where a box covers its
// boundary coordinates, so width = x2 - x1 + 1.
const toRemove = float32(1)

// BoxList holds an ordered set of axis-aligned boxes in xyxy order, valid
// within a fixed image size, together with named per-box scalar fields.
// All transforms return a new BoxList; an existing one is never reindexed
// in place.
type BoxList struct {
	boxes  *tensor.Dense
	size   [2]int
	fields map[string]*tensor.Dense
}

// NewBoxList wraps an (n, 4) float32 tensor of xyxy boxes valid within the
// given image size (width, height).
func NewBoxList(boxes *tensor.Dense, size [2]int) (*BoxList, error) {
	shape := boxes.Shape()
	if len(shape) != 2 || shape[1] != 4 {
		return nil, errors.Errorf("boxes must have shape (n, 4), got %v", shape)
	}
	return &BoxList{
		boxes:  boxes,
		size:   size,
		fields: make(map[string]*tensor.Dense),
	}, nil
}

// EmptyBoxList returns a BoxList with zero boxes. An empty list is a valid
// pipeline result, not an error.
func EmptyBoxList(size [2]int) *BoxList {
	return &BoxList{
		boxes:  tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0, 4)),
		size:   size,
		fields: make(map[string]*tensor.Dense),
	}
}

func (b *BoxList) Len() int {
	return b.boxes.Shape()[0]
}

func (b *BoxList) ImageSize() [2]int {
	return b.size
}

func (b *BoxList) Boxes() *tensor.Dense {
	return b.boxes
}

// BoxAt returns box i as (x1, y1, x2, y2).
func (b *BoxList) BoxAt(i int) [4]float32 {
	data := b.boxes.Float32s()
	return [4]float32{data[i*4], data[i*4+1], data[i*4+2], data[i*4+3]}
}

// AddField attaches a per-box scalar field. The field length must match the
// number of boxes.
func (b *BoxList) AddField(name string, values *tensor.Dense) error {
	shape := values.Shape()
	if len(shape) != 1 {
		return errors.Errorf("field %q must be a 1D tensor, got shape %v", name, shape)
	}
	if shape[0] != b.Len() {
		return errors.Errorf("field %q has %d values for %d boxes", name, shape[0], b.Len())
	}
	b.fields[name] = values
	return nil
}

func (b *BoxList) HasField(name string) bool {
	_, ok := b.fields[name]
	return ok
}

func (b *BoxList) Field(name string) (*tensor.Dense, error) {
	values, ok := b.fields[name]
	if !ok {
		return nil, errors.Errorf("boxlist has no field %q", name)
	}
	return values, nil
}

// FieldData returns the raw float32 values of a field.
func (b *BoxList) FieldData(name string) ([]float32, error) {
	values, err := b.Field(name)
	if err != nil {
		return nil, err
	}
	return values.Float32s(), nil
}

func (b *BoxList) fieldNames() []string {
	names := make([]string, 0, len(b.fields))
	for name := range b.fields {
		names = append(names, name)
	}
	return names
}

// Select gathers the boxes at the given indices, together with every field,
// into a new BoxList. Index order is preserved, so a score-sorted index list
// yields a score-sorted result.
func (b *BoxList) Select(indices []int) (*BoxList, error) {
	n := b.Len()
	data := b.boxes.Float32s()

	selected := make([]float32, 0, len(indices)*4)
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, errors.Errorf("box index %d is out of bounds for %d boxes", idx, n)
		}
		selected = append(selected, data[idx*4:(idx+1)*4]...)
	}

	out := &BoxList{
		boxes:  newBoxTensor(selected),
		size:   b.size,
		fields: make(map[string]*tensor.Dense),
	}

	for name, values := range b.fields {
		raw := values.Float32s()
		picked := make([]float32, len(indices))
		for i, idx := range indices {
			picked[i] = raw[idx]
		}
		out.fields[name] = newFieldTensor(picked)
	}
	return out, nil
}

// SelectMask keeps the boxes whose mask entry is true, preserving order.
func (b *BoxList) SelectMask(mask []bool) (*BoxList, error) {
	if len(mask) != b.Len() {
		return nil, errors.Errorf("mask has %d entries for %d boxes", len(mask), b.Len())
	}
	indices := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			indices = append(indices, i)
		}
	}
	return b.Select(indices)
}

// ClipToImage clamps every box to the valid coordinate range of the image.
// Degenerate boxes produced by clipping are kept; the min-size filter is the
// stage that discards them.
func (b *BoxList) ClipToImage() *BoxList {
	width := float32(b.size[0]) - toRemove
	height := float32(b.size[1]) - toRemove

	data := b.boxes.Float32s()
	clipped := make([]float32, len(data))
	for i := 0; i < len(data); i += 4 {
		clipped[i] = clamp(data[i], 0, width)
		clipped[i+1] = clamp(data[i+1], 0, height)
		clipped[i+2] = clamp(data[i+2], 0, width)
		clipped[i+3] = clamp(data[i+3], 0, height)
	}

	out := &BoxList{
		boxes:  newBoxTensor(clipped),
		size:   b.size,
		fields: make(map[string]*tensor.Dense, len(b.fields)),
	}
	for name, values := range b.fields {
		out.fields[name] = values
	}
	return out
}

// Widths returns per-box widths under the boundary-inclusive convention.
func (b *BoxList) Widths() []float32 {
	data := b.boxes.Float32s()
	widths := make([]float32, b.Len())
	for i := range widths {
		widths[i] = data[i*4+2] - data[i*4] + toRemove
	}
	return widths
}

// Heights returns per-box heights under the boundary-inclusive convention.
func (b *BoxList) Heights() []float32 {
	data := b.boxes.Float32s()
	heights := make([]float32, b.Len())
	for i := range heights {
		heights[i] = data[i*4+3] - data[i*4+1] + toRemove
	}
	return heights
}

// RemoveSmallBoxes drops every box whose width or height is strictly below
// minSize.
func RemoveSmallBoxes(b *BoxList, minSize float32) (*BoxList, error) {
	widths := b.Widths()
	heights := b.Heights()

	mask := make([]bool, b.Len())
	for i := range mask {
		mask[i] = widths[i] >= minSize && heights[i] >= minSize
	}
	return b.SelectMask(mask)
}

// Concat merges boxlists of the same image into one, preserving input order.
// Every list must carry the fields of the first one.
func Concat(lists []*BoxList) (*BoxList, error) {
	if len(lists) == 0 {
		return nil, errors.New("cannot concatenate zero boxlists")
	}

	size := lists[0].size
	names := lists[0].fieldNames()

	total := 0
	for _, l := range lists {
		if l.size != size {
			return nil, errors.Errorf("image size mismatch: %v vs %v", l.size, size)
		}
		for _, name := range names {
			if !l.HasField(name) {
				return nil, errors.Errorf("boxlist is missing field %q required for concatenation", name)
			}
		}
		total += l.Len()
	}

	boxes := make([]float32, 0, total*4)
	for _, l := range lists {
		boxes = append(boxes, l.boxes.Float32s()...)
	}

	out := &BoxList{
		boxes:  newBoxTensor(boxes),
		size:   size,
		fields: make(map[string]*tensor.Dense, len(names)),
	}
	for _, name := range names {
		values := make([]float32, 0, total)
		for _, l := range lists {
			raw, err := l.FieldData(name)
			if err != nil {
				return nil, err
			}
			values = append(values, raw...)
		}
		out.fields[name] = newFieldTensor(values)
	}
	return out, nil
}

// CopyBoxesOnly returns a new BoxList with the same boxes and no fields.
func (b *BoxList) CopyBoxesOnly() *BoxList {
	data := b.boxes.Float32s()
	cloned := make([]float32, len(data))
	copy(cloned, data)
	return &BoxList{
		boxes:  newBoxTensor(cloned),
		size:   b.size,
		fields: make(map[string]*tensor.Dense),
	}
}

func newBoxTensor(data []float32) *tensor.Dense {
	n := len(data) / 4
	if n == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0, 4))
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(n, 4),
		tensor.WithBacking(data),
	)
}

func newFieldTensor(data []float32) *tensor.Dense {
	if len(data) == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0))
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(data)),
		tensor.WithBacking(data),
	)
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
