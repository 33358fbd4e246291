// Package pipeline runs one roof analysis job end to end: tiled inference,
// mask cleanup, reflectance, thermal clustering, savings and exports.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"rooflytics/internal/classifier"
	"rooflytics/internal/config"
	"rooflytics/internal/energy"
	"rooflytics/internal/errs"
	"rooflytics/internal/footprint"
	"rooflytics/internal/mask"
	"rooflytics/internal/raster"
	"rooflytics/internal/reflectance"
	"rooflytics/internal/report"
	"rooflytics/internal/roof"
	"rooflytics/internal/thermal"
	"rooflytics/internal/tiling"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gopkg.in/cheggaaa/pb.v1"
)

// SummaryStore persists the summary row of a completed job.
type SummaryStore interface {
	Insert(row report.SummaryRow) error
}

// Job describes one analysis request.
type Job struct {
	ID        string // generated when empty
	InputPath string // colour GeoTIFF, used by Run

	// Optional precomputed roof probabilities in [0, 1], CV_32FC1 of the
	// input size. When set the classifier is not called.
	Probability     *gocv.Mat
	ProbabilityPath string // single-band GeoTIFF alternative to Probability, used by Run

	OutputDir    string       // exports are skipped when empty
	Store        SummaryStore // summary persistence is skipped when nil
	ShowProgress bool         // draw a tile progress bar on stderr
}

// Result holds everything one job produced. Close releases its rasters.
type Result struct {
	JobID       string
	Meta        raster.Metadata
	Roofs       []roof.Roof
	Estimates   []energy.Estimate
	Report      report.Report
	Summary     report.SummaryRow
	Probability gocv.Mat // CV_32FC1
	RawMask     gocv.Mat // CV_8UC1 0/1, thresholded probabilities
	Cleaned     *mask.Cleaned
	ClassRaster gocv.Mat // CV_8UC1 0 background, 1 hot, 2 cool
	Footprints  *geojson.FeatureCollection
}

// Labels returns the labeling every roof label refers to.
func (r *Result) Labels() *mask.Labeling {
	if r == nil || r.Cleaned == nil {
		return nil
	}
	return r.Cleaned.Labels
}

// Close releases every raster held by the result.
func (r *Result) Close() {
	if r == nil {
		return
	}
	r.Probability.Close()
	r.RawMask.Close()
	r.Cleaned.Close()
	r.ClassRaster.Close()
}

func newResult(jobID string, meta raster.Metadata) *Result {
	return &Result{
		JobID:       jobID,
		Meta:        meta,
		Probability: gocv.NewMat(),
		RawMask:     gocv.NewMat(),
		ClassRaster: gocv.NewMat(),
	}
}

// Analyzer runs jobs against one configuration and one classifier. It holds
// no per-job state and may be shared by concurrent jobs when its classifier
// is safe for concurrent use.
type Analyzer struct {
	cfg config.Config
	clf classifier.Classifier
	log *log.Entry
	now func() time.Time
}

// NewAnalyzer validates cfg and returns an Analyzer. clf may be nil when
// every job supplies its own probabilities. A nil logger logs through the
// standard logrus logger.
func NewAnalyzer(cfg config.Config, clf classifier.Classifier, logger *log.Entry) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Analyzer{cfg: cfg, clf: clf, log: logger, now: time.Now}, nil
}

// Config returns the validated configuration.
func (a *Analyzer) Config() config.Config {
	return a.cfg
}

// Analyze runs the analysis chain on a loaded raster. It writes nothing to
// disk. On error no result is returned and all intermediate rasters are
// released.
func (a *Analyzer) Analyze(ctx context.Context, img *raster.Raster, job Job) (*Result, error) {
	if img == nil || img.Data.Empty() {
		return nil, fmt.Errorf("empty input raster")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	logger := a.log.WithFields(log.Fields{
		"job":  job.ID,
		"tile": tileName(img, job),
	})
	start := time.Now()

	res := newResult(job.ID, img.Meta)
	ok := false
	defer func() {
		if !ok {
			res.Close()
		}
	}()

	prob, err := a.probabilities(ctx, img, job, logger)
	if err != nil {
		return nil, err
	}
	res.Probability.Close()
	res.Probability = prob

	raw, err := mask.Binarize(prob, float32(a.cfg.Mask.Threshold))
	if err != nil {
		return nil, errors.Wrap(err, "unable to threshold probabilities")
	}
	res.RawMask.Close()
	res.RawMask = raw

	cleaned, err := mask.Clean(raw, mask.CleanOptions{
		KernelSize: a.cfg.Mask.KernelSize,
		MinArea:    a.cfg.Mask.MinArea,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to clean roof mask")
	}
	res.Cleaned = cleaned
	lab := cleaned.Labels
	logger.WithFields(log.Fields{
		"stage":      "mask",
		"components": lab.Count(),
		"dropped":    cleaned.Dropped,
		"pixels":     lab.Foreground(),
	}).Info("Cleaned roof mask")

	refl, err := reflectance.Map(img, cleaned.Mask)
	if err != nil {
		return nil, errors.Wrap(err, "unable to compute reflectance")
	}
	defer refl.Close()

	roofs, err := reflectance.Extract(lab, refl, a.cfg.Reflectance.MinPixels)
	if err != nil {
		return nil, errors.Wrap(err, "unable to extract roofs")
	}
	areas := energy.AreasM2(lab, img.Meta.PixelAreaM2())
	for i := range roofs {
		roofs[i].AreaM2 = areas[roofs[i].Label]
	}
	logger.WithFields(log.Fields{
		"stage": "reflectance",
		"roofs": len(roofs),
	}).Info("Extracted roofs")

	classified, err := thermal.Cluster(roofs, thermal.Options{
		Seed:     a.cfg.Thermal.Seed,
		Attempts: a.cfg.Thermal.Attempts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to cluster roofs")
	}
	hot, cool := thermal.Counts(classified)
	logger.WithFields(log.Fields{
		"stage": "thermal",
		"hot":   hot,
		"cool":  cool,
	}).Info("Classified roofs")

	classRaster, err := thermal.ClassRaster(lab, classified)
	if err != nil {
		return nil, err
	}
	res.ClassRaster.Close()
	res.ClassRaster = classRaster

	estimates, err := energy.Estimate(classified, a.cfg.Energy)
	if err != nil {
		return nil, err
	}

	footprints, err := footprint.Build(lab, classified, estimates, img.Meta.Transform, a.cfg.Footprint.SimplifyTolerance)
	if err != nil {
		return nil, errors.Wrap(err, "unable to trace roof footprints")
	}

	res.Roofs = classified
	res.Estimates = estimates
	res.Report = report.New(job.ID, tileName(img, job), classified, estimates)
	res.Summary = res.Report.Summary(a.cfg.Energy, a.now())
	res.Footprints = footprints

	logger.WithFields(log.Fields{
		"stage":    "energy",
		"kwh":      res.Report.Rounded().TotalEnergyKWhPerYear,
		"cost":     res.Report.Rounded().TotalCostPerYear,
		"co2":      res.Report.Rounded().TotalCO2KgPerYear,
		"duration": time.Since(start).String(),
	}).Info("Analysis complete")

	ok = true
	return res, nil
}

// probabilities returns a CV_32FC1 probability raster owned by the caller,
// either copied from the job or inferred tile by tile.
func (a *Analyzer) probabilities(ctx context.Context, img *raster.Raster, job Job, logger *log.Entry) (gocv.Mat, error) {
	if job.Probability != nil {
		p := *job.Probability
		if p.Type() != gocv.MatTypeCV32FC1 || p.Rows() != img.Rows() || p.Cols() != img.Cols() {
			return gocv.NewMat(), errs.Format(job.ProbabilityPath,
				"probability raster must be CV_32FC1 of %dx%d", img.Cols(), img.Rows())
		}
		return p.Clone(), nil
	}

	if a.clf == nil {
		return gocv.NewMat(), &errs.ConfigurationError{
			Key:    "classifier",
			Reason: "no classifier configured and no probability raster supplied",
		}
	}

	windows, err := tiling.Grid(img.Rows(), img.Cols(), a.cfg.Tiling.TileSize, a.cfg.Tiling.Overlap)
	if err != nil {
		return gocv.NewMat(), err
	}
	logger.WithFields(log.Fields{
		"stage":   "inference",
		"tiles":   len(windows),
		"size":    a.cfg.Tiling.TileSize,
		"overlap": a.cfg.Tiling.Overlap,
	}).Info("Running tiled inference")

	opts := tiling.InferOptions{
		TileSize: a.cfg.Tiling.TileSize,
		Overlap:  a.cfg.Tiling.Overlap,
		Workers:  a.cfg.Tiling.Workers,
		Logger:   logger,
	}
	if job.ShowProgress && len(windows) > 0 {
		bar := pb.StartNew(len(windows))
		bar.ShowTimeLeft = false
		defer bar.Finish()
		opts.Progress = bar
	}

	prob, err := tiling.Infer(ctx, a.clf, img.Data, opts)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "tiled inference failed")
	}
	return prob, nil
}

func tileName(img *raster.Raster, job Job) string {
	switch {
	case img.Path != "":
		return filepath.Base(img.Path)
	case job.InputPath != "":
		return filepath.Base(job.InputPath)
	default:
		return "memory"
	}
}
