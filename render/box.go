package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/okieraised/go-rpn-pipeline/processing"
	"gocv.io/x/gocv"
)

// ProposalBoxes draws the proposal boxes of one image onto the matrix,
// labeling each with its objectness score when the field is present.
func ProposalBoxes(img *gocv.Mat, proposals *processing.BoxList, clr color.RGBA, thickness int) {
	var scores []float32
	if proposals.HasField(processing.FieldObjectness) {
		scores, _ = proposals.FieldData(processing.FieldObjectness)
	}

	for i := range proposals.Len() {
		box := proposals.BoxAt(i)
		rect := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3]))
		gocv.Rectangle(img, rect, clr, thickness)

		if scores != nil {
			text := fmt.Sprintf("%.2f", scores[i])
			origin := image.Pt(int(box[0]), int(box[1])-4)
			gocv.PutText(img, text, origin, gocv.FontHersheySimplex, 0.4, clr, 1)
		}
	}
}
