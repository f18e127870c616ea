package config

import (
	"time"

	"github.com/pkg/errors"
)

// ProposalParams controls proposal selection applied to the raw RPN head
// outputs: per-level top-k, NMS, and the cross-level cap.
type ProposalParams struct {
	PreNMSTopN         int     `json:"pre_nms_top_n"`
	PostNMSTopN        int     `json:"post_nms_top_n"`
	NMSThresh          float32 `json:"nms_thresh"`
	MinSize            float32 `json:"min_size"`
	FPNPostNMSTopN     int     `json:"fpn_post_nms_top_n"`
	FPNPostNMSPerBatch bool    `json:"fpn_post_nms_per_batch"`
}

// DefaultProposalParams mirrors the usual two-stage detector training setup.
var DefaultProposalParams = &ProposalParams{
	PreNMSTopN:         2000,
	PostNMSTopN:        2000,
	NMSThresh:          0.7,
	MinSize:            0,
	FPNPostNMSTopN:     2000,
	FPNPostNMSPerBatch: true,
}

func NewProposalParams(preNMSTopN, postNMSTopN int, nmsThresh, minSize float32, fpnPostNMSTopN int, fpnPostNMSPerBatch bool) (*ProposalParams, error) {
	params := &ProposalParams{
		PreNMSTopN:         preNMSTopN,
		PostNMSTopN:        postNMSTopN,
		NMSThresh:          nmsThresh,
		MinSize:            minSize,
		FPNPostNMSTopN:     fpnPostNMSTopN,
		FPNPostNMSPerBatch: fpnPostNMSPerBatch,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Validate rejects out-of-range thresholds at construction so they are never
// discovered mid-pipeline.
func (p *ProposalParams) Validate() error {
	if p.PreNMSTopN <= 0 {
		return errors.Errorf("pre_nms_top_n must be positive, got %d", p.PreNMSTopN)
	}
	if p.PostNMSTopN <= 0 {
		return errors.Errorf("post_nms_top_n must be positive, got %d", p.PostNMSTopN)
	}
	if p.NMSThresh < 0 || p.NMSThresh > 1 {
		return errors.Errorf("nms_thresh must be within [0, 1], got %f", p.NMSThresh)
	}
	if p.MinSize < 0 {
		return errors.Errorf("min_size must be non-negative, got %f", p.MinSize)
	}
	if p.FPNPostNMSTopN <= 0 {
		return errors.Errorf("fpn_post_nms_top_n must be positive, got %d", p.FPNPostNMSTopN)
	}
	return nil
}

// RPNModelParams configures the Triton-served RPN head the proposal pipeline
// reads its raw objectness and box-regression tensors from.
type RPNModelParams struct {
	ModelName    string        `json:"model_name"`
	Timeout      time.Duration `json:"timeout"`
	ImageSize    [2]int        `json:"image_size"`
	MaxBatchSize int           `json:"max_batch_size"`
	PixelMeans   []float32     `json:"pixel_means"`
	PixelStds    []float32     `json:"pixel_stds"`
	PixelScale   float32       `json:"pixel_scale"`
}

var DefaultRPNModelParams = &RPNModelParams{
	ModelName:    "rpn_head",
	Timeout:      20 * time.Second,
	ImageSize:    [2]int{800, 800},
	MaxBatchSize: 1,
	PixelMeans:   []float32{0, 0, 0},
	PixelStds:    []float32{1, 1, 1},
	PixelScale:   1.0,
}

func NewRPNModelParams(modelName string, timeout time.Duration, imgSize [2]int, maxBatchSize int) *RPNModelParams {
	return &RPNModelParams{
		ModelName:    modelName,
		Timeout:      timeout,
		ImageSize:    imgSize,
		MaxBatchSize: maxBatchSize,
		PixelMeans:   DefaultRPNModelParams.PixelMeans,
		PixelStds:    DefaultRPNModelParams.PixelStds,
		PixelScale:   DefaultRPNModelParams.PixelScale,
	}
}
