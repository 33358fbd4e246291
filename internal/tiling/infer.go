package tiling

import (
	"context"
	"runtime"
	"sync"
	"time"

	"rooflytics/internal/classifier"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gopkg.in/cheggaaa/pb.v1"
)

// InferOptions configures tiled inference.
type InferOptions struct {
	TileSize int
	Overlap  int
	Workers  int             // 0 = MaxParallelism()
	Progress *pb.ProgressBar // optional, incremented once per stitched tile
	Logger   *log.Entry      // optional
}

// MaxParallelism returns the number of goroutines that can usefully run tile
// inference at once.
func MaxParallelism() int {
	maxProcs := runtime.GOMAXPROCS(0)
	numCPU := runtime.NumCPU()
	if maxProcs < numCPU {
		return maxProcs
	}
	return numCPU
}

type tileJob struct {
	window Window
	tile   gocv.Mat
}

type tileResult struct {
	window Window
	pred   gocv.Mat
	err    error
}

// Infer runs clf over every tile of src (CV_32FC3) and stitches the
// predictions into a CV_32FC1 probability raster of src's size.
//
// Tiles are cut by one producer goroutine, predicted by Workers goroutines
// and written by the calling goroutine only. Results are applied in window
// order, so overlapping tiles resolve last-write-wins exactly as Stitch does.
// The first classifier error, or cancellation of ctx, aborts the run.
func Infer(ctx context.Context, clf classifier.Classifier, src gocv.Mat, opts InferOptions) (gocv.Mat, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	seq, err := Tiles(src, opts.TileSize, opts.Overlap)
	if err != nil {
		return gocv.NewMat(), err
	}
	windows, _ := Grid(src.Rows(), src.Cols(), opts.TileSize, opts.Overlap)

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = MaxParallelism()
	}
	if numWorkers > len(windows) {
		numWorkers = len(windows)
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), gocv.MatTypeCV32FC1)
	if len(windows) == 0 {
		logger.Warnf("Raster %dx%d is smaller than one %d px tile; probability raster is empty",
			src.Cols(), src.Rows(), opts.TileSize)
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan tileJob, numWorkers)
	results := make(chan tileResult, numWorkers)

	// Producer
	go func() {
		defer close(jobs)
		for w, tile := range seq {
			select {
			case jobs <- tileJob{window: w, tile: tile}:
			case <-ctx.Done():
				tile.Close()
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					job.tile.Close()
					continue
				}
				start := time.Now()
				pred, err := clf.Predict(job.tile)
				job.tile.Close()
				if err != nil {
					err = errors.Wrapf(err, "classifier failed on tile %d at %s", job.window.Index, job.window.RectInt)
				} else {
					logger.Debugf("Tile %d at %s predicted in %v", job.window.Index, job.window.RectInt, time.Since(start))
				}
				select {
				case results <- tileResult{window: job.window, pred: pred, err: err}:
				case <-ctx.Done():
					if err == nil {
						pred.Close()
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	pending := make(map[int]tileResult)
	next := 0
	for res := range results {
		if firstErr != nil {
			if res.err == nil {
				res.pred.Close()
			}
			continue
		}
		if res.err != nil {
			firstErr = res.err
			cancel()
			continue
		}

		pending[res.window.Index] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			err := place(&out, r.pred, r.window)
			r.pred.Close()
			if err != nil {
				firstErr = err
				cancel()
				break
			}
			if opts.Progress != nil {
				opts.Progress.Increment()
			}
			next++
		}
	}
	for _, r := range pending {
		r.pred.Close()
	}

	if firstErr == nil && next < len(windows) {
		firstErr = ctx.Err()
		if firstErr == nil {
			firstErr = errors.Errorf("only %d of %d tiles were stitched", next, len(windows))
		}
	}
	if firstErr != nil {
		out.Close()
		return gocv.NewMat(), firstErr
	}
	return out, nil
}
