package modules

import (
	"image"

	"github.com/okieraised/go-rpn-pipeline/config"
	"github.com/okieraised/go-rpn-pipeline/processing"
	"github.com/okieraised/go-rpn-pipeline/utils"
	gotritonclient "github.com/okieraised/go-triton-client"
	"github.com/okieraised/go-triton-client/triton_proto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// RPNClient runs a Triton-served RPN head and post-processes its raw
// objectness and box-regression outputs into region proposals. The model is
// expected to expose its outputs in level order, objectness before box
// regression for each pyramid level.
type RPNClient struct {
	tritonClient  *gotritonclient.TritonGRPCClient
	ModelParams   *config.RPNModelParams
	ModelConfig   *triton_proto.ModelConfigResponse
	postProcessor *ProposalPostProcessor
	logger        *zap.Logger
}

func NewRPNClient(tritonClient *gotritonclient.TritonGRPCClient, cfg *config.RPNModelParams, proposalCfg *config.ProposalParams) (*RPNClient, error) {
	if cfg == nil {
		cfg = config.DefaultRPNModelParams
	}

	inferenceConfig, err := tritonClient.GetModelConfiguration(cfg.Timeout, cfg.ModelName, "")
	if err != nil {
		return nil, err
	}

	postProcessor, err := NewProposalPostProcessor(proposalCfg, nil)
	if err != nil {
		return nil, err
	}

	return &RPNClient{
		tritonClient:  tritonClient,
		ModelParams:   cfg,
		ModelConfig:   inferenceConfig,
		postProcessor: postProcessor,
		logger:        zap.NewNop(),
	}, nil
}

func (c *RPNClient) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
		c.postProcessor.SetLogger(logger)
	}
}

// PostProcessor exposes the proposal selection stage for callers that
// already have raw head outputs in hand.
func (c *RPNClient) PostProcessor() *ProposalPostProcessor {
	return c.postProcessor
}

// preprocess letterboxes the input into the model resolution and converts it
// to a normalized (1, 3, h, w) tensor in RGB channel order.
func (c *RPNClient) preprocess(img gocv.Mat) (*tensor.Dense, error) {
	imgShape := img.Size()
	imRatio := float64(imgShape[0]) / float64(imgShape[1])
	modelRatio := float64(c.ModelParams.ImageSize[1]) / float64(c.ModelParams.ImageSize[0])

	var newWidth, newHeight int
	if imRatio > modelRatio {
		newHeight = c.ModelParams.ImageSize[1]
		newWidth = int(float64(newHeight) / imRatio)
	} else {
		newWidth = c.ModelParams.ImageSize[0]
		newHeight = int(float64(newWidth) * imRatio)
	}

	resizedImg := gocv.NewMat()
	defer resizedImg.Close()
	gocv.Resize(img, &resizedImg, image.Point{X: newWidth, Y: newHeight}, 0.0, 0.0, gocv.InterpolationLinear)

	detImg := gocv.NewMatWithSizesWithScalar(
		[]int{c.ModelParams.ImageSize[1], c.ModelParams.ImageSize[0]},
		gocv.MatTypeCV8UC3,
		gocv.NewScalar(0, 0, 0, 0),
	)
	defer detImg.Close()
	roi := detImg.Region(image.Rect(0, 0, newWidth, newHeight))
	gocv.Resize(resizedImg, &roi, image.Point{X: roi.Size()[1], Y: roi.Size()[0]}, 0, 0, gocv.InterpolationLinear)

	detShape := detImg.Size()
	imgTensors := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 3, detShape[0], detShape[1]),
	)
	for z := range 3 {
		for y := range detShape[0] {
			for x := range detShape[1] {
				v := float32(detImg.GetVecbAt(y, x)[2-z])
				v = (v/c.ModelParams.PixelScale - c.ModelParams.PixelMeans[2-z]) / c.ModelParams.PixelStds[2-z]
				err := imgTensors.SetAt(v, 0, z, y, x)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return imgTensors, nil
}

// Infer runs the RPN head on one image and returns the selected proposals.
// The anchors are supplied by the caller, one boxlist per level per image,
// matching the head's output resolution at every level.
func (c *RPNClient) Infer(img gocv.Mat, anchors [][]*processing.BoxList) ([]*processing.BoxList, error) {
	imgTensors, err := c.preprocess(img)
	if err != nil {
		return nil, err
	}

	modelRequest := &triton_proto.ModelInferRequest{
		ModelName: c.ModelParams.ModelName,
	}

	modelInputs := make([]*triton_proto.ModelInferRequest_InferInputTensor, 0)
	for _, inputCfg := range c.ModelConfig.Config.Input {
		modelInput := &triton_proto.ModelInferRequest_InferInputTensor{
			Name:     inputCfg.Name,
			Datatype: inputCfg.DataType.String()[5:],
			Shape:    inputCfg.Dims,
			Contents: &triton_proto.InferTensorContents{
				Fp32Contents: imgTensors.Float32s(),
			},
		}
		modelInputs = append(modelInputs, modelInput)
	}
	modelRequest.Inputs = modelInputs

	inferResp, err := c.tritonClient.ModelGRPCInfer(c.ModelParams.Timeout, modelRequest)
	if err != nil {
		return nil, err
	}

	netOut := make([]*tensor.Dense, len(c.ModelConfig.Config.Output))
	for idx, out := range inferResp.Outputs {
		outShape := make([]int, 0)
		for _, shape := range out.Shape {
			outShape = append(outShape, int(shape))
		}
		outTensors := tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(outShape...),
			tensor.WithBacking(utils.BytesToT32[float32](inferResp.RawOutputContents[idx])),
		)
		for subIdx, cfg := range c.ModelConfig.Config.Output {
			if out.Name == cfg.Name {
				netOut[subIdx] = outTensors
			}
		}
	}

	if len(netOut)%2 != 0 {
		return nil, errors.Errorf("RPN head must emit objectness/regression pairs, got %d outputs", len(netOut))
	}
	numLevels := len(netOut) / 2
	if len(anchors) != numLevels {
		return nil, errors.Errorf("got anchors for %d levels, model emits %d", len(anchors), numLevels)
	}

	objectness := make([]*tensor.Dense, numLevels)
	boxRegression := make([]*tensor.Dense, numLevels)
	for lvl := range numLevels {
		objectness[lvl] = netOut[2*lvl]
		boxRegression[lvl] = netOut[2*lvl+1]
	}

	c.logger.Debug("RPN head inference complete", zap.Int("levels", numLevels))

	return c.postProcessor.Process(anchors, objectness, boxRegression, nil, false)
}
