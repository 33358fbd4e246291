package classifier

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"rooflytics/internal/errs"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Normalization selects how tiles are standardised before inference.
type Normalization string

const (
	// NormImageNet subtracts the ImageNet channel means and divides by their
	// standard deviations.
	NormImageNet Normalization = "imagenet"
	// NormPerImage standardises each channel by the tile's own statistics.
	NormPerImage Normalization = "per_image"
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ONNXOptions configures an ONNX segmentation model.
type ONNXOptions struct {
	InputSize     int           // model input side; 0 uses the tile size
	Normalization Normalization // default NormImageNet
	Logits        bool          // apply a sigmoid to the model output
	Backend       gocv.NetBackendType
	Target        gocv.NetTargetType
}

// DefaultONNXOptions returns options for a sigmoid-headed U-Net exported from
// an ImageNet-pretrained encoder.
func DefaultONNXOptions() ONNXOptions {
	return ONNXOptions{
		Normalization: NormImageNet,
		Logits:        true,
		Backend:       gocv.NetBackendDefault,
		Target:        gocv.NetTargetCPU,
	}
}

// ONNX is a single-output segmentation network. A gocv Net is not
// re-entrant, so Forward calls are serialised.
type ONNX struct {
	mu   sync.Mutex
	net  gocv.Net
	opts ONNXOptions
}

// LoadONNX reads a model once; call Close when the process shuts down.
func LoadONNX(path string, opts ONNXOptions) (*ONNX, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.InputNotFoundError{Path: path, Err: err}
		}
		return nil, errors.Wrapf(err, "unable to stat model %s", path)
	}
	if opts.Normalization == "" {
		opts.Normalization = NormImageNet
	}
	if opts.Normalization != NormImageNet && opts.Normalization != NormPerImage {
		return nil, errs.Config("classifier.normalization", "unknown method %q", opts.Normalization)
	}
	if opts.InputSize < 0 {
		return nil, errs.Config("classifier.input_size", "cannot be negative")
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model %s", path)
	}
	if err := net.SetPreferableBackend(opts.Backend); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "unable to set DNN backend")
	}
	if err := net.SetPreferableTarget(opts.Target); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "unable to set DNN target")
	}

	log.WithFields(log.Fields{
		"model":         path,
		"normalization": opts.Normalization,
		"input_size":    opts.InputSize,
	}).Info("Loaded roof segmentation model")

	return &ONNX{net: net, opts: opts}, nil
}

// Close releases the network.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.net.Close()
}

// Predict runs the network on one tile.
func (o *ONNX) Predict(tile gocv.Mat) (gocv.Mat, error) {
	if tile.Empty() || tile.Type() != gocv.MatTypeCV32FC3 {
		return gocv.NewMat(), fmt.Errorf("tile must be a non-empty CV_32FC3 Mat")
	}
	rows, cols := tile.Rows(), tile.Cols()
	size := o.opts.InputSize
	if size == 0 {
		if cols != rows {
			return gocv.NewMat(), fmt.Errorf("non-square tile %dx%d needs a fixed input size", cols, rows)
		}
		size = cols
	}

	norm, err := o.normalize(tile)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer norm.Close()

	blob := gocv.BlobFromImage(norm, 1.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	o.mu.Lock()
	o.net.SetInput(blob, "")
	out := o.net.Forward("")
	o.mu.Unlock()
	defer out.Close()

	side := size
	values, err := out.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "unexpected model output")
	}
	if len(values) != side*side {
		return gocv.NewMat(), fmt.Errorf("model output has %d values, want %d (single-channel %dx%d)",
			len(values), side*side, side, side)
	}

	prob := gocv.NewMatWithSize(side, side, gocv.MatTypeCV32FC1)
	dst, err := prob.DataPtrFloat32()
	if err != nil {
		prob.Close()
		return gocv.NewMat(), err
	}
	for i, v := range values {
		if o.opts.Logits {
			v = float32(1 / (1 + math.Exp(-float64(v))))
		}
		dst[i] = v
	}

	if side == rows && side == cols {
		return prob, nil
	}
	resized := gocv.NewMat()
	gocv.Resize(prob, &resized, image.Pt(cols, rows), 0, 0, gocv.InterpolationLinear)
	prob.Close()
	return resized, nil
}

// normalize scales samples into [0, 1] and standardises each channel.
func (o *ONNX) normalize(tile gocv.Mat) (gocv.Mat, error) {
	flat := tile.Reshape(1, 0)
	_, maxVal, _, _ := gocv.MinMaxLoc(flat)
	flat.Close()

	scaled := gocv.NewMat()
	scale := 1.0
	if maxVal > 1 {
		scale = 1.0 / 255
	}
	tile.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, float32(scale), 0)
	defer scaled.Close()

	channels := gocv.Split(scaled)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	if len(channels) != 3 {
		return gocv.NewMat(), fmt.Errorf("expected 3 channels, got %d", len(channels))
	}

	for i := range channels {
		mean, std := imageNetMean[i], imageNetStd[i]
		if o.opts.Normalization == NormPerImage {
			m, s := gocv.NewMat(), gocv.NewMat()
			gocv.MeanStdDev(channels[i], &m, &s)
			mean = float32(m.GetDoubleAt(0, 0))
			std = float32(s.GetDoubleAt(0, 0)) + 1e-6
			m.Close()
			s.Close()
		}
		channels[i].SubtractFloat(mean)
		channels[i].DivideFloat(std)
	}

	out := gocv.NewMat()
	gocv.Merge(channels, &out)
	return out, nil
}
