package modules

import (
	"github.com/okieraised/go-rpn-pipeline/config"
	"github.com/okieraised/go-rpn-pipeline/processing"
	"github.com/okieraised/go-rpn-pipeline/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// ProposalPostProcessor converts raw per-anchor objectness scores and
// box-regression deltas, produced independently at every feature-pyramid
// level, into a bounded set of region proposals per image.
type ProposalPostProcessor struct {
	params   *config.ProposalParams
	boxCoder processing.BoxCoder
	logger   *zap.Logger
}

// NewProposalPostProcessor validates the parameters and builds a processor.
// A nil boxCoder falls back to the unit-weight decoder.
func NewProposalPostProcessor(params *config.ProposalParams, boxCoder processing.BoxCoder) (*ProposalPostProcessor, error) {
	if params == nil {
		params = config.DefaultProposalParams
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if boxCoder == nil {
		boxCoder = processing.DefaultBoxCoder()
	}
	return &ProposalPostProcessor{
		params:   params,
		boxCoder: boxCoder,
		logger:   zap.NewNop(),
	}, nil
}

// SetLogger attaches a logger for per-stage proposal counts.
func (p *ProposalPostProcessor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Process runs the full selection pipeline. Inputs are indexed per pyramid
// level: anchors[level][image] is the anchor boxlist, objectness[level] has
// shape (n, a, h, w) and boxRegression[level] has shape (n, 4a, h, w).
// During training, targets carries the ground-truth boxes per image and is
// appended to the final proposals with objectness 1.0; outside training the
// per-image final selection mode is always used. The result is one proposal
// boxlist per image.
func (p *ProposalPostProcessor) Process(
	anchors [][]*processing.BoxList,
	objectness []*tensor.Dense,
	boxRegression []*tensor.Dense,
	targets []*processing.BoxList,
	training bool,
) ([]*processing.BoxList, error) {

	numLevels := len(objectness)
	if len(boxRegression) != numLevels || len(anchors) != numLevels {
		return nil, errors.Errorf("got %d levels of anchors, %d of objectness, %d of box regression",
			len(anchors), numLevels, len(boxRegression))
	}
	if numLevels == 0 {
		return []*processing.BoxList{}, nil
	}

	numImages := len(anchors[0])

	// sampled[level][image]
	sampled := make([][]*processing.BoxList, numLevels)
	for lvl := range numLevels {
		levelBoxes, err := p.processSingleLevel(anchors[lvl], objectness[lvl], boxRegression[lvl])
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid level %d", lvl)
		}
		if len(levelBoxes) != numImages {
			return nil, errors.Errorf("pyramid level %d produced %d images, expected %d", lvl, len(levelBoxes), numImages)
		}
		sampled[lvl] = levelBoxes
	}

	boxlists := make([]*processing.BoxList, numImages)
	for img := range numImages {
		perImage := make([]*processing.BoxList, numLevels)
		for lvl := range numLevels {
			perImage[lvl] = sampled[lvl][img]
		}
		merged, err := processing.Concat(perImage)
		if err != nil {
			return nil, errors.Wrapf(err, "merging levels for image %d", img)
		}
		boxlists[img] = merged
	}

	// A single level is already bounded by post_nms_top_n, so the
	// cross-level selection only runs for a real pyramid.
	if numLevels > 1 {
		var err error
		boxlists, err = p.selectOverAllLevels(boxlists, training)
		if err != nil {
			return nil, err
		}
	}

	if training && targets != nil {
		var err error
		boxlists, err = p.addGroundTruth(boxlists, targets)
		if err != nil {
			return nil, err
		}
	}

	for img, boxlist := range boxlists {
		p.logger.Debug("post-processed proposals",
			zap.Int("image", img),
			zap.Int("count", boxlist.Len()),
		)
	}

	return boxlists, nil
}

// processSingleLevel turns one level's raw predictions into one filtered
// proposal boxlist per image.
func (p *ProposalPostProcessor) processSingleLevel(
	anchors []*processing.BoxList,
	objectness *tensor.Dense,
	boxRegression *tensor.Dense,
) ([]*processing.BoxList, error) {

	objShape := objectness.Shape()
	regShape := boxRegression.Shape()
	if len(objShape) != 4 {
		return nil, errors.Errorf("objectness must have shape (n, a, h, w), got %v", objShape)
	}
	if len(regShape) != 4 {
		return nil, errors.Errorf("box regression must have shape (n, 4a, h, w), got %v", regShape)
	}

	n, a, h, w := objShape[0], objShape[1], objShape[2], objShape[3]
	if regShape[0] != n || regShape[1] != 4*a || regShape[2] != h || regShape[3] != w {
		return nil, errors.Errorf("box regression shape %v does not match objectness shape %v", regShape, objShape)
	}
	if len(anchors) != n {
		return nil, errors.Errorf("got %d anchor sets for %d images", len(anchors), n)
	}

	numAnchors := a * h * w
	for img, anchorSet := range anchors {
		if anchorSet.Len() != numAnchors {
			return nil, errors.Errorf("image %d has %d anchors, expected %d", img, anchorSet.Len(), numAnchors)
		}
	}

	// Flatten to (n, a*h*w) scores and (n, a*h*w, 4) deltas in the anchor
	// list's (y, x, anchor) order, then squash scores to [0, 1].
	scoresFlat, err := utils.PermuteAndFlatten(objectness, n, a, 1, h, w)
	if err != nil {
		return nil, err
	}
	deltasFlat, err := utils.PermuteAndFlatten(boxRegression, n, a, 4, h, w)
	if err != nil {
		return nil, err
	}

	scoreData := utils.Sigmoid(scoresFlat.Float32s())
	deltaData := deltasFlat.Float32s()

	// pre_nms_top_n clamps to the available anchors instead of failing.
	topN := min(p.params.PreNMSTopN, numAnchors)

	result := make([]*processing.BoxList, 0, n)
	if numAnchors == 0 {
		for img := range n {
			empty := processing.EmptyBoxList(anchors[img].ImageSize())
			if err := empty.AddField(processing.FieldObjectness,
				tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0))); err != nil {
				return nil, err
			}
			result = append(result, empty)
		}
		return result, nil
	}
	for img := range n {
		imgScores := scoreData[img*numAnchors : (img+1)*numAnchors]
		order := utils.ArgSortDescending(imgScores)
		topIdx := order[:topN]

		// Gathering deltas and anchors with the same index list keeps the
		// anchor/score correspondence intact through the top-k cut.
		imgDeltas := tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(numAnchors, 4),
			tensor.WithBacking(deltaData[img*numAnchors*4:(img+1)*numAnchors*4]),
		)
		selDeltas, err := utils.SelectRows2D(imgDeltas, topIdx)
		if err != nil {
			return nil, err
		}
		selAnchors, err := anchors[img].Select(topIdx)
		if err != nil {
			return nil, err
		}

		decoded, err := p.boxCoder.Decode(selDeltas, selAnchors.Boxes())
		if err != nil {
			return nil, errors.Wrap(err, "decoding box regression")
		}

		boxlist, err := processing.NewBoxList(decoded, anchors[img].ImageSize())
		if err != nil {
			return nil, err
		}

		scoreTensor := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(len(topIdx)))
		if len(topIdx) > 0 {
			selScores := make([]float32, len(topIdx))
			for i, idx := range topIdx {
				selScores[i] = imgScores[idx]
			}
			scoreTensor = tensor.New(
				tensor.Of(tensor.Float32),
				tensor.WithShape(len(selScores)),
				tensor.WithBacking(selScores),
			)
		}
		if err := boxlist.AddField(processing.FieldObjectness, scoreTensor); err != nil {
			return nil, err
		}

		boxlist = boxlist.ClipToImage()
		boxlist, err = processing.RemoveSmallBoxes(boxlist, p.params.MinSize)
		if err != nil {
			return nil, err
		}
		boxlist, err = processing.NMS(boxlist, processing.FieldObjectness, p.params.NMSThresh, p.params.PostNMSTopN)
		if err != nil {
			return nil, err
		}
		result = append(result, boxlist)
	}
	return result, nil
}
