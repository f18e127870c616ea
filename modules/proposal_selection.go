package modules

import (
	"github.com/okieraised/go-rpn-pipeline/processing"
	"github.com/okieraised/go-rpn-pipeline/utils"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// selectOverAllLevels re-ranks the merged cross-level proposals and keeps at
// most fpn_post_nms_top_n per image.
//
// During training the default is a single ranking pooled over the whole
// batch, so one image can claim slots from another. That is a legacy
// compatibility behavior, selectable via fpn_post_nms_per_batch; per-image
// selection is always used outside training.
func (p *ProposalPostProcessor) selectOverAllLevels(boxlists []*processing.BoxList, training bool) ([]*processing.BoxList, error) {
	if training && p.params.FPNPostNMSPerBatch {
		return p.selectPerBatch(boxlists)
	}
	return p.selectPerImage(boxlists)
}

// selectPerBatch pools every image's scores into one flat ranking, keeps the
// global top fpn_post_nms_top_n, and redistributes the survivors to their
// images with each image's relative order preserved.
func (p *ProposalPostProcessor) selectPerBatch(boxlists []*processing.BoxList) ([]*processing.BoxList, error) {
	boxSizes := make([]int, len(boxlists))
	total := 0
	for i, boxlist := range boxlists {
		boxSizes[i] = boxlist.Len()
		total += boxlist.Len()
	}

	pooled := make([]float32, 0, total)
	for _, boxlist := range boxlists {
		scores, err := boxlist.FieldData(processing.FieldObjectness)
		if err != nil {
			return nil, err
		}
		pooled = append(pooled, scores...)
	}

	topN := min(p.params.FPNPostNMSTopN, total)
	order := utils.ArgSortDescending(pooled)

	keepMask := make([]bool, total)
	for _, idx := range order[:topN] {
		keepMask[idx] = true
	}

	result := make([]*processing.BoxList, len(boxlists))
	offset := 0
	for i, boxlist := range boxlists {
		selected, err := boxlist.SelectMask(keepMask[offset : offset+boxSizes[i]])
		if err != nil {
			return nil, err
		}
		result[i] = selected
		offset += boxSizes[i]
	}
	return result, nil
}

// selectPerImage keeps the top fpn_post_nms_top_n proposals of each image
// independently, ordered by descending score.
func (p *ProposalPostProcessor) selectPerImage(boxlists []*processing.BoxList) ([]*processing.BoxList, error) {
	result := make([]*processing.BoxList, len(boxlists))
	for i, boxlist := range boxlists {
		scores, err := boxlist.FieldData(processing.FieldObjectness)
		if err != nil {
			return nil, err
		}
		topN := min(p.params.FPNPostNMSTopN, len(scores))
		order := utils.ArgSortDescending(scores)
		selected, err := boxlist.Select(order[:topN])
		if err != nil {
			return nil, err
		}
		result[i] = selected
	}
	return result, nil
}

// addGroundTruth appends each image's ground-truth boxes to its proposals
// with objectness 1.0, so the downstream head always sees the true objects
// as candidates. Runs strictly after the final selection: injected boxes are
// never subject to the top-k cap or NMS.
func (p *ProposalPostProcessor) addGroundTruth(boxlists []*processing.BoxList, targets []*processing.BoxList) ([]*processing.BoxList, error) {
	if len(targets) != len(boxlists) {
		return nil, errors.Errorf("got %d ground-truth sets for %d images", len(targets), len(boxlists))
	}

	result := make([]*processing.BoxList, len(boxlists))
	for i, boxlist := range boxlists {
		gt := targets[i].CopyBoxesOnly()
		onesTensor := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(gt.Len()))
		if gt.Len() > 0 {
			ones := make([]float32, gt.Len())
			for j := range ones {
				ones[j] = 1.0
			}
			onesTensor = tensor.New(
				tensor.Of(tensor.Float32),
				tensor.WithShape(gt.Len()),
				tensor.WithBacking(ones),
			)
		}
		if err := gt.AddField(processing.FieldObjectness, onesTensor); err != nil {
			return nil, err
		}

		merged, err := processing.Concat([]*processing.BoxList{boxlist, gt})
		if err != nil {
			return nil, errors.Wrapf(err, "injecting ground truth for image %d", i)
		}
		result[i] = merged
	}
	return result, nil
}
