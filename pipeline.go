package go_rpn_pipeline

import (
	"github.com/okieraised/go-rpn-pipeline/config"
	"github.com/okieraised/go-rpn-pipeline/modules"
	"github.com/okieraised/go-rpn-pipeline/processing"
	"github.com/okieraised/go-rpn-pipeline/utils"
	gotritonclient "github.com/okieraised/go-triton-client"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// ProposalExtractionResult holds the per-image proposals produced by one
// forward pass of the RPN stage.
type ProposalExtractionResult struct {
	Proposals []*processing.BoxList `json:"proposals"`
}

// RPNProposalPipeline wires the Triton-served RPN head to the proposal
// post-processing stage.
type RPNProposalPipeline struct {
	tritonClient *gotritonclient.TritonGRPCClient
	rpnClient    *modules.RPNClient
}

// NewRPNProposalPipeline initializes the proposal extraction pipeline with
// the given model and selection parameters. Nil parameters fall back to the
// package defaults.
func NewRPNProposalPipeline(tritonClient *gotritonclient.TritonGRPCClient, modelParams *config.RPNModelParams, proposalParams *config.ProposalParams) (*RPNProposalPipeline, error) {
	rpnClient, err := modules.NewRPNClient(tritonClient, modelParams, proposalParams)
	if err != nil {
		return nil, err
	}
	return &RPNProposalPipeline{
		tritonClient: tritonClient,
		rpnClient:    rpnClient,
	}, nil
}

// SetLogger attaches a logger to every pipeline stage.
func (p *RPNProposalPipeline) SetLogger(logger *zap.Logger) {
	p.rpnClient.SetLogger(logger)
}

// ExtractProposals decodes a raw encoded image, runs the RPN head, and
// returns the selected proposals. Anchors are supplied per level per image,
// matching the head's pyramid.
func (p *RPNProposalPipeline) ExtractProposals(bImage []byte, anchors [][]*processing.BoxList) (*ProposalExtractionResult, error) {
	img, err := utils.ImageToOpenCV(bImage)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	proposals, err := p.rpnClient.Infer(*img, anchors)
	if err != nil {
		return nil, err
	}
	return &ProposalExtractionResult{Proposals: proposals}, nil
}

// PostProcess bypasses inference and runs only the selection pipeline on raw
// head outputs already in hand: per-level top-k, box decoding, clipping,
// min-size filtering, NMS, cross-level selection, and ground-truth injection
// during training.
func (p *RPNProposalPipeline) PostProcess(
	anchors [][]*processing.BoxList,
	objectness []*tensor.Dense,
	boxRegression []*tensor.Dense,
	targets []*processing.BoxList,
	training bool,
) ([]*processing.BoxList, error) {
	return p.rpnClient.PostProcessor().Process(anchors, objectness, boxRegression, targets, training)
}
