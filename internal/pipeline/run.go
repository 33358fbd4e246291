package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"rooflytics/internal/energy"
	"rooflytics/internal/errs"
	"rooflytics/internal/raster"
	"rooflytics/internal/render"
	"rooflytics/internal/report"
	"rooflytics/internal/roof"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Export file names written into Job.OutputDir.
const (
	RawMaskFile     = "pred_mask.tif"
	CleanedMaskFile = "pred_mask_cleaned.tif"
	ClassRasterFile = "thermal_clusters.tif"
	ReportFile      = "report.json"
	SummaryFile     = "summary.json"
	FootprintsFile  = "roofs.geojson"
	PreviewFile     = "thermal_preview.png"
)

// PreviewMaxDim bounds the longer side of the thermal preview.
const PreviewMaxDim = 1024

// jobReport is the content of report.json.
type jobReport struct {
	report.Report
	Roofs     []roof.Roof       `json:"roofs"`
	Estimates []energy.Estimate `json:"estimates"`
}

// Run loads job.InputPath, analyses it, writes the exports and stores the
// summary row. A job whose input cannot be loaded writes nothing.
func (a *Analyzer) Run(ctx context.Context, job Job) (*Result, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	logger := a.log.WithField("job", job.ID)

	img, err := raster.Load(job.InputPath, false)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	logger.WithFields(log.Fields{
		"stage":  "load",
		"width":  img.Meta.Width,
		"height": img.Meta.Height,
		"crs":    img.Meta.CRS,
	}).Info("Loaded input raster")

	if job.Probability == nil && job.ProbabilityPath != "" {
		prob, err := loadProbability(job.ProbabilityPath, img.Meta)
		if err != nil {
			return nil, err
		}
		defer prob.Close()
		job.Probability = &prob
	}

	res, err := a.Analyze(ctx, img, job)
	if err != nil {
		return nil, err
	}

	if job.OutputDir != "" {
		if err := a.export(res, img.Meta, job.OutputDir); err != nil {
			res.Close()
			return nil, err
		}
		logger.WithField("dir", job.OutputDir).Info("Wrote job outputs")
	}

	if job.Store != nil {
		if err := job.Store.Insert(res.Summary); err != nil {
			res.Close()
			return nil, errors.Wrapf(err, "unable to store summary of job %s", job.ID)
		}
	}
	return res, nil
}

// loadProbability reads a single-band probability GeoTIFF matching ref and
// scales integer samples into [0, 1].
func loadProbability(path string, ref raster.Metadata) (gocv.Mat, error) {
	r, err := raster.Load(path, true)
	if err != nil {
		return gocv.NewMat(), err
	}
	if r.Meta.Width != ref.Width || r.Meta.Height != ref.Height {
		r.Close()
		return gocv.NewMat(), errs.Format(path, "probability raster is %dx%d, input is %dx%d",
			r.Meta.Width, r.Meta.Height, ref.Width, ref.Height)
	}

	_, maxVal, _, _ := gocv.MinMaxLoc(r.Data)
	switch {
	case maxVal <= 1:
	case maxVal <= 255:
		r.Data.DivideFloat(255)
	default:
		r.Data.DivideFloat(65535)
	}
	return r.Data, nil
}

// export writes every per-job output file.
func (a *Analyzer) export(res *Result, meta raster.Metadata, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "unable to create output directory %s", dir)
	}

	masks := []struct {
		name string
		m    gocv.Mat
	}{
		{RawMaskFile, res.RawMask},
		{CleanedMaskFile, res.Cleaned.Mask},
		{ClassRasterFile, res.ClassRaster},
	}
	for _, m := range masks {
		if err := raster.SaveMask(filepath.Join(dir, m.name), m.m, meta); err != nil {
			return errors.Wrapf(err, "unable to export %s", m.name)
		}
	}

	jsonFiles := []struct {
		name string
		v    interface{}
	}{
		{ReportFile, jobReport{Report: res.Report.Rounded(), Roofs: res.Roofs, Estimates: res.Estimates}},
		{SummaryFile, res.Summary},
		{FootprintsFile, res.Footprints},
	}
	for _, f := range jsonFiles {
		if err := report.WriteJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return errors.Wrapf(err, "unable to export %s", f.name)
		}
	}

	preview, err := render.ThermalPreview(res.ClassRaster, PreviewMaxDim)
	if err != nil {
		return errors.Wrap(err, "unable to render preview")
	}
	return render.SavePNG(filepath.Join(dir, PreviewFile), preview)
}
