// Package thermal splits roofs into hot and cool classes by clustering their
// mean reflectance.
package thermal

import (
	"fmt"
	"math"
	"runtime"

	"rooflytics/internal/errs"
	"rooflytics/internal/mask"
	"rooflytics/internal/roof"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

const (
	numClusters = 2
	minAttempts = 10
)

// Options configures k-means clustering.
type Options struct {
	Seed     int // fixed RNG seed, so identical input gives identical classes
	Attempts int // k-means restarts, at least 10
}

// DefaultOptions returns seed 42 with 10 restarts.
func DefaultOptions() Options {
	return Options{Seed: 42, Attempts: minAttempts}
}

// Cluster partitions roofs into two clusters on MeanReflectance. The cluster
// whose members have the higher average mean reflectance is Cool, the other
// Hot; on an exact tie cluster 0 is Cool. Fewer than two roofs cannot be
// partitioned and yield an InsufficientDataError. The input is not modified.
func Cluster(roofs []roof.Roof, opts Options) ([]roof.Roof, error) {
	if opts.Attempts < minAttempts {
		return nil, errs.Config("thermal.attempts", "must be at least %d, got %d", minAttempts, opts.Attempts)
	}
	if len(roofs) < numClusters {
		return nil, &errs.InsufficientDataError{Have: len(roofs), Need: numClusters}
	}

	values := make([]float64, len(roofs))
	data := gocv.NewMatWithSize(len(roofs), 1, gocv.MatTypeCV32FC1)
	defer data.Close()
	for i, r := range roofs {
		if math.IsNaN(r.MeanReflectance) || math.IsInf(r.MeanReflectance, 0) {
			return nil, fmt.Errorf("roof %d has non-finite mean reflectance", r.Label)
		}
		values[i] = r.MeanReflectance
		data.SetFloatAt(i, 0, float32(r.MeanReflectance))
	}

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 100, 1e-4)

	// OpenCV's RNG is per thread; pin the goroutine so the seed applies to
	// the k-means call.
	runtime.LockOSThread()
	gocv.SetRNGSeed(opts.Seed)
	gocv.KMeans(data, numClusters, &labels, criteria, opts.Attempts, gocv.KMeansPPCenters, &centers)
	runtime.UnlockOSThread()

	assign := make([]int, len(roofs))
	var members [numClusters][]float64
	for i := range roofs {
		c := int(labels.GetIntAt(i, 0))
		if c < 0 || c >= numClusters {
			return nil, fmt.Errorf("k-means returned cluster %d", c)
		}
		assign[i] = c
		members[c] = append(members[c], values[i])
	}

	var means [numClusters]float64
	for c := range members {
		means[c] = math.Inf(-1)
		if len(members[c]) > 0 {
			means[c] = stat.Mean(members[c], nil)
		}
	}
	cool := coolCluster(means)

	out := make([]roof.Roof, len(roofs))
	for i, r := range roofs {
		r.Cluster = assign[i]
		r.Class = roof.Hot
		if assign[i] == cool {
			r.Class = roof.Cool
		}
		out[i] = r
	}
	return out, nil
}

// coolCluster returns the index of the cluster with the highest mean; the
// lowest index wins ties.
func coolCluster(means [numClusters]float64) int {
	best := 0
	for c := 1; c < numClusters; c++ {
		if means[c] > means[best] {
			best = c
		}
	}
	return best
}

// Counts returns the number of hot and cool roofs.
func Counts(roofs []roof.Roof) (hot, cool int) {
	for _, r := range roofs {
		switch r.Class {
		case roof.Hot:
			hot++
		case roof.Cool:
			cool++
		}
	}
	return hot, cool
}

// ClassRaster renders roofs onto their labeling as a CV_8UC1 raster with
// 0 = background, 1 = hot, 2 = cool. Labels without a classified roof stay 0.
func ClassRaster(lab *mask.Labeling, roofs []roof.Roof) (gocv.Mat, error) {
	if lab == nil {
		return gocv.NewMat(), fmt.Errorf("nil labeling")
	}

	values := make([]uint8, lab.Count()+1)
	for _, r := range roofs {
		if r.Label < 1 || r.Label > lab.Count() {
			return gocv.NewMat(), fmt.Errorf("roof label %d not in labeling (1..%d)", r.Label, lab.Count())
		}
		values[r.Label] = r.Class.RasterValue()
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), lab.Rows, lab.Cols, gocv.MatTypeCV8UC1)
	dst, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	for i, label := range lab.Labels {
		dst[i] = values[label]
	}
	return out, nil
}
