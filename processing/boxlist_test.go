package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func newTestBoxList(t *testing.T, boxes []float32, size [2]int) *BoxList {
	t.Helper()
	dense := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(boxes)/4, 4),
		tensor.WithBacking(boxes),
	)
	boxlist, err := NewBoxList(dense, size)
	assert.NoError(t, err)
	return boxlist
}

func newScoreTensor(scores []float32) *tensor.Dense {
	if len(scores) == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0))
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(scores)),
		tensor.WithBacking(scores),
	)
}

func TestNewBoxList_RejectsBadShape(t *testing.T) {
	bad := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(2, 3),
		tensor.WithBacking(make([]float32, 6)),
	)
	_, err := NewBoxList(bad, [2]int{100, 100})
	assert.Error(t, err)
}

func TestBoxList_EmptyIsValid(t *testing.T) {
	boxlist := EmptyBoxList([2]int{100, 100})
	assert.Equal(t, 0, boxlist.Len())

	clipped := boxlist.ClipToImage()
	assert.Equal(t, 0, clipped.Len())

	filtered, err := RemoveSmallBoxes(boxlist, 10)
	assert.NoError(t, err)
	assert.Equal(t, 0, filtered.Len())
}

func TestBoxList_AddFieldLengthMismatch(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	err := boxlist.AddField("objectness", newScoreTensor([]float32{0.5, 0.7}))
	assert.Error(t, err)
}

func TestBoxList_SelectPreservesOrderAndFields(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9,
		10, 10, 19, 19,
		20, 20, 29, 29,
	}, [2]int{100, 100})
	err := boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.1, 0.2, 0.3}))
	assert.NoError(t, err)

	selected, err := boxlist.Select([]int{2, 0})
	assert.NoError(t, err)
	assert.Equal(t, 2, selected.Len())
	assert.Equal(t, [4]float32{20, 20, 29, 29}, selected.BoxAt(0))
	assert.Equal(t, [4]float32{0, 0, 9, 9}, selected.BoxAt(1))

	scores, err := selected.FieldData(FieldObjectness)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.3, 0.1}, scores)

	// the source list is untouched
	assert.Equal(t, 3, boxlist.Len())
}

func TestBoxList_SelectMask(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9,
		10, 10, 19, 19,
		20, 20, 29, 29,
	}, [2]int{100, 100})

	selected, err := boxlist.SelectMask([]bool{true, false, true})
	assert.NoError(t, err)
	assert.Equal(t, 2, selected.Len())
	assert.Equal(t, [4]float32{0, 0, 9, 9}, selected.BoxAt(0))
	assert.Equal(t, [4]float32{20, 20, 29, 29}, selected.BoxAt(1))

	_, err = boxlist.SelectMask([]bool{true})
	assert.Error(t, err)
}

func TestBoxList_ClipKeepsDegenerateBoxes(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		-10, -10, 50, 50,
		150, 150, 200, 200, // fully outside, collapses to a point
	}, [2]int{100, 100})

	clipped := boxlist.ClipToImage()
	assert.Equal(t, 2, clipped.Len())
	assert.Equal(t, [4]float32{0, 0, 50, 50}, clipped.BoxAt(0))
	assert.Equal(t, [4]float32{99, 99, 99, 99}, clipped.BoxAt(1))
}

func TestRemoveSmallBoxes(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9, // 10x10
		20, 20, 22, 29, // 3x10, too narrow
		40, 40, 49, 42, // 10x3, too short
	}, [2]int{100, 100})

	filtered, err := RemoveSmallBoxes(boxlist, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, filtered.Len())
	assert.Equal(t, [4]float32{0, 0, 9, 9}, filtered.BoxAt(0))
}

func TestConcat(t *testing.T) {
	first := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	assert.NoError(t, first.AddField(FieldObjectness, newScoreTensor([]float32{0.9})))

	second := newTestBoxList(t, []float32{10, 10, 19, 19}, [2]int{100, 100})
	assert.NoError(t, second.AddField(FieldObjectness, newScoreTensor([]float32{0.8})))

	merged, err := Concat([]*BoxList{first, second})
	assert.NoError(t, err)
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, [4]float32{0, 0, 9, 9}, merged.BoxAt(0))
	assert.Equal(t, [4]float32{10, 10, 19, 19}, merged.BoxAt(1))

	scores, err := merged.FieldData(FieldObjectness)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.8}, scores)
}

func TestConcat_SizeMismatch(t *testing.T) {
	first := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	second := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{50, 50})
	_, err := Concat([]*BoxList{first, second})
	assert.Error(t, err)
}

func TestConcat_MissingField(t *testing.T) {
	first := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	assert.NoError(t, first.AddField(FieldObjectness, newScoreTensor([]float32{0.9})))
	second := newTestBoxList(t, []float32{10, 10, 19, 19}, [2]int{100, 100})

	_, err := Concat([]*BoxList{first, second})
	assert.Error(t, err)
}

func TestCopyBoxesOnly(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.9})))

	copied := boxlist.CopyBoxesOnly()
	assert.Equal(t, 1, copied.Len())
	assert.False(t, copied.HasField(FieldObjectness))
	assert.Equal(t, boxlist.BoxAt(0), copied.BoxAt(0))
}
