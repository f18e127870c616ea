package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNMS_SuppressesOverlap(t *testing.T) {
	// first two boxes overlap with IoU ~0.91, the third is far away
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9,
		0, 0, 9, 10,
		50, 50, 59, 59,
	}, [2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.6, 0.9, 0.3})))

	kept, err := NMS(boxlist, FieldObjectness, 0.5, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, kept.Len())

	// the higher-scoring of the overlapping pair survives
	assert.Equal(t, [4]float32{0, 0, 9, 10}, kept.BoxAt(0))
	assert.Equal(t, [4]float32{50, 50, 59, 59}, kept.BoxAt(1))

	scores, err := kept.FieldData(FieldObjectness)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.3}, scores)
}

func TestNMS_Idempotent(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9,
		2, 2, 11, 11,
		5, 5, 14, 14,
		50, 50, 59, 59,
	}, [2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.9, 0.8, 0.7, 0.6})))

	once, err := NMS(boxlist, FieldObjectness, 0.3, 0)
	assert.NoError(t, err)
	twice, err := NMS(once, FieldObjectness, 0.3, 0)
	assert.NoError(t, err)

	assert.Equal(t, once.Len(), twice.Len())
	for i := range once.Len() {
		assert.Equal(t, once.BoxAt(i), twice.BoxAt(i))
	}
}

func TestNMS_MaxProposalsCap(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		0, 0, 9, 9,
		20, 20, 29, 29,
		40, 40, 49, 49,
		60, 60, 69, 69,
	}, [2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.4, 0.9, 0.1, 0.7})))

	kept, err := NMS(boxlist, FieldObjectness, 0.5, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, kept.Len())

	scores, err := kept.FieldData(FieldObjectness)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.7}, scores)
}

func TestNMS_EqualScoresKeepInputOrder(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{
		20, 20, 29, 29,
		0, 0, 9, 9,
	}, [2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor([]float32{0.5, 0.5})))

	kept, err := NMS(boxlist, FieldObjectness, 0.5, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, kept.Len())
	assert.Equal(t, [4]float32{20, 20, 29, 29}, kept.BoxAt(0))
}

func TestNMS_EmptyInput(t *testing.T) {
	boxlist := EmptyBoxList([2]int{100, 100})
	assert.NoError(t, boxlist.AddField(FieldObjectness, newScoreTensor(nil)))

	kept, err := NMS(boxlist, FieldObjectness, 0.5, 10)
	assert.NoError(t, err)
	assert.Equal(t, 0, kept.Len())
}

func TestNMS_MissingScoreField(t *testing.T) {
	boxlist := newTestBoxList(t, []float32{0, 0, 9, 9}, [2]int{100, 100})
	_, err := NMS(boxlist, FieldObjectness, 0.5, 0)
	assert.Error(t, err)
}

func TestBoxIoU(t *testing.T) {
	a := []float32{0, 0, 9, 9}
	assert.InDelta(t, 1.0, boxIoU(a, a), 1e-6)
	assert.InDelta(t, 0.0, boxIoU(a, []float32{50, 50, 59, 59}), 1e-6)

	// half overlap: 5x10 intersection over 100+50-50 union
	b := []float32{0, 0, 4, 9}
	assert.InDelta(t, 0.5, boxIoU(a, b), 1e-6)
}
