package processing

import "github.com/okieraised/go-rpn-pipeline/utils"

// NMS applies greedy non-maximum suppression to a boxlist ranked by the
// given score field: the highest-scoring remaining box is kept and every
// remaining box whose IoU with it exceeds iouThreshold is discarded, until
// no boxes remain or maxProposals boxes have been kept. A maxProposals of
// zero or less means no cap.
//
// Candidates are ordered by a stable descending sort on the score, so equal
// scores are visited in input order; a box whose IoU equals the threshold
// exactly is not suppressed.
func NMS(b *BoxList, scoreField string, iouThreshold float32, maxProposals int) (*BoxList, error) {
	scores, err := b.FieldData(scoreField)
	if err != nil {
		return nil, err
	}

	n := b.Len()
	if n == 0 {
		return b.Select(nil)
	}

	order := utils.ArgSortDescending(scores)
	data := b.Boxes().Float32s()

	suppressed := make([]bool, n)
	keep := make([]int, 0, n)
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		if maxProposals > 0 && len(keep) >= maxProposals {
			break
		}
		for _, j := range order {
			if suppressed[j] || j == i {
				continue
			}
			if boxIoU(data[i*4:i*4+4], data[j*4:j*4+4]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return b.Select(keep)
}

// boxIoU computes intersection over union for two xyxy boxes under the
// boundary-inclusive width convention.
func boxIoU(a, b []float32) float32 {
	xx1 := max(a[0], b[0])
	yy1 := max(a[1], b[1])
	xx2 := min(a[2], b[2])
	yy2 := min(a[3], b[3])

	interW := xx2 - xx1 + toRemove
	interH := yy2 - yy1 + toRemove
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	areaA := (a[2] - a[0] + toRemove) * (a[3] - a[1] + toRemove)
	areaB := (b[2] - b[0] + toRemove) * (b[3] - b[1] + toRemove)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
