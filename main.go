// Package main provides the rooflytics command: it classifies the roofs of a
// GeoTIFF tile as hot or cool and estimates the savings of coating them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"rooflytics/internal/classifier"
	"rooflytics/internal/config"
	"rooflytics/internal/pipeline"
	"rooflytics/internal/report"
	"rooflytics/internal/store"
	"rooflytics/internal/version"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

func main() {
	input := flag.String("input", "", "Path to the RGB GeoTIFF tile")
	prob := flag.String("prob", "", "Optional single-band roof probability GeoTIFF; skips the model")
	model := flag.String("model", "", "Path to the ONNX roof segmentation model")
	norm := flag.String("norm", string(classifier.NormImageNet), "Model input normalisation: imagenet or per_image")
	inputSize := flag.Int("input-size", 0, "Model input side in pixels (0 = tile size)")
	configPath := flag.String("config", "", "Optional YAML config file")
	outDir := flag.String("out", "", "Output directory (default: ./outputs/<job>)")
	jobID := flag.String("job", "", "Job id (default: random UUID)")
	redisAddr := flag.String("redis", "", "Redis address for the summary store (overrides config)")
	workers := flag.Int("workers", -1, "Inference workers (0 = one per CPU, -1 = config)")
	progress := flag.Bool("progress", true, "Show a tile progress bar")
	list := flag.Int("list", 0, "List the N most recent stored summaries and exit")
	show := flag.String("show", "", "Print the stored summary of a job and exit")
	verbose := flag.Bool("v", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *redisAddr != "" {
		cfg.Redis.Address = *redisAddr
	}
	if *workers >= 0 {
		cfg.Tiling.Workers = *workers
	}
	level, _ := log.ParseLevel(cfg.Logging.Level)
	if *verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	var summaries *store.Redis
	if cfg.Redis.Address != "" {
		summaries = store.NewRedis(cfg.Redis.Address, cfg.Redis.MaxIdle, cfg.Redis.KeyPrefix)
		defer summaries.Close()
		if err := summaries.Ping(); err != nil {
			log.Fatalf("Summary store unavailable: %v", err)
		}
	}

	if *list > 0 || *show != "" {
		if summaries == nil {
			log.Fatal("-list and -show need a Redis address (-redis or REDIS_ADDRESS)")
		}
		if err := query(summaries, *list, *show); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *input == "" {
		fmt.Println("Usage: rooflytics -input <tile.tif> (-model <model.onnx> | -prob <prob.tif>) [-out dir] [-config file.yaml]")
		os.Exit(1)
	}
	if *model == "" && *prob == "" {
		log.Fatal("Either -model or -prob is required")
	}

	var clf classifier.Classifier
	if *model != "" && *prob == "" {
		opts := classifier.DefaultONNXOptions()
		opts.Normalization = classifier.Normalization(*norm)
		opts.InputSize = *inputSize
		net, err := classifier.LoadONNX(*model, opts)
		if err != nil {
			log.Fatalf("Failed to load model: %v", err)
		}
		defer net.Close()
		clf = net
	}

	analyzer, err := pipeline.NewAnalyzer(cfg, clf, log.WithField("version", version.Version))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	job := pipeline.Job{
		ID:              *jobID,
		InputPath:       *input,
		ProbabilityPath: *prob,
		OutputDir:       *outDir,
		ShowProgress:    *progress,
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.OutputDir == "" {
		job.OutputDir = filepath.Join("outputs", job.ID)
	}
	if summaries != nil {
		job.Store = summaries
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := analyzer.Run(ctx, job)
	if err != nil {
		log.WithField("job", job.ID).Errorf("Job failed: %v", err)
		stop()
		os.Exit(1)
	}
	defer res.Close()

	printReport(res.Report.Rounded(), job.OutputDir)
}

func printReport(r report.Report, dir string) {
	fmt.Printf("\nJob %s (%s)\n", r.JobID, r.TileName)
	fmt.Printf("  Roofs:        %d (%d hot, %d cool)\n", r.NumRoofs, r.HotRoofs, r.CoolRoofs)
	fmt.Printf("  Energy saved: %.2f kWh/year\n", r.TotalEnergyKWhPerYear)
	fmt.Printf("  Cost saved:   %.2f /year\n", r.TotalCostPerYear)
	fmt.Printf("  CO2 avoided:  %.2f kg/year\n", r.TotalCO2KgPerYear)
	fmt.Printf("  Outputs:      %s\n", dir)
}

func query(s *store.Redis, limit int, jobID string) error {
	if jobID != "" {
		row, err := s.Get(jobID)
		if err != nil {
			return err
		}
		printReport(row.Report.Rounded(), "")
		fmt.Printf("  Stored:       %s by %s\n", row.CreatedAt.Format("2006-01-02 15:04:05"), row.Version)
		return nil
	}

	rows, err := s.List(limit)
	if err != nil {
		return err
	}
	fmt.Printf("%-36s %-24s %6s %5s %5s %14s\n", "JOB", "TILE", "ROOFS", "HOT", "COOL", "KWH/YEAR")
	for _, row := range rows {
		fmt.Printf("%-36s %-24s %6d %5d %5d %14.2f\n",
			row.JobID, row.TileName, row.NumRoofs, row.HotRoofs, row.CoolRoofs, row.TotalEnergyKWhPerYear)
	}
	return nil
}
