// Package classifier defines the roof-probability model contract used by
// tiled inference, and an ONNX implementation backed by OpenCV's DNN module.
package classifier

import (
	"gocv.io/x/gocv"
)

// Classifier maps one image tile (CV_32FC3, raw R, G, B samples) to a
// CV_32FC1 roof-probability map of the same spatial size. Values should lie in
// [0, 1]; tiling clamps anything outside that range.
//
// A Classifier is loaded once and shared by every job; implementations must be
// safe for concurrent use. The caller closes the returned Mat.
type Classifier interface {
	Predict(tile gocv.Mat) (gocv.Mat, error)
}

// Func adapts an ordinary function to the Classifier interface.
type Func func(tile gocv.Mat) (gocv.Mat, error)

// Predict calls f(tile).
func (f Func) Predict(tile gocv.Mat) (gocv.Mat, error) {
	return f(tile)
}
