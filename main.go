package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/lehigh-university-libraries/htr-prep/internal/config"
	"github.com/lehigh-university-libraries/htr-prep/internal/dataset"
	"github.com/lehigh-university-libraries/htr-prep/internal/handlers"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/ocr"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/preprocess"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/recognizer"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/register"
	"github.com/lehigh-university-libraries/htr-prep/internal/training"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
	"github.com/lehigh-university-libraries/htr-prep/internal/worksheet"
)

const usage = `usage: htr-prep <command> [flags]

commands:
  train      train the recognizer until the validation error stops improving
  validate   score the saved recognizer on the validation set (TEST_MODE: hyphen-free samples only)
  infer      recognize the word in INFER_IMAGE
  extract    extract handwriting crops from scribed worksheet PDFs
  serve      accept worksheet uploads over HTTP`

func main() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("Error loading .env file", "err", err)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	utils.ExitOnError("Invalid configuration", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd := os.Args[1]; cmd {
	case "train", "validate":
		err = runTraining(ctx, cfg, cmd == "train")
	case "infer":
		err = runInfer(ctx, cfg)
	case "extract":
		fs := flag.NewFlagSet("extract", flag.ExitOnError)
		reset := fs.Bool("reset", false, "remove the extracted- tag from all scribed PDFs first")
		_ = fs.Parse(os.Args[2:])
		err = runExtract(ctx, cfg, *reset)
	case "serve":
		err = runServe(cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	utils.ExitOnError(os.Args[1]+" failed", err)
}

func prepareCheckpointDir(cfg *config.Config) error {
	dir := cfg.CheckpointDir()
	if cfg.RunName == "debug" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func runTraining(ctx context.Context, cfg *config.Config, train bool) error {
	if train && cfg.TestMode {
		return fmt.Errorf("TEST_MODE has no training samples, run validate instead")
	}
	if train {
		if err := prepareCheckpointDir(cfg); err != nil {
			return err
		}
	} else if err := os.MkdirAll(cfg.CheckpointDir(), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.CheckpointDir(), err)
	}

	seed := uint64(cfg.Seed)
	rng := rand.New(rand.NewPCG(seed, seed))
	loader, err := dataset.NewLoader(dataset.Options{
		Roots:         cfg.DatasetRoots,
		Format:        cfg.DatasetFormat,
		BatchSize:     cfg.BatchSize,
		ImageSize:     image.Pt(cfg.ImageWidth, cfg.ImageHeight),
		MaxTextLength: cfg.MaxTextLength,
		IsTest:        cfg.TestMode,
		Extensions:    cfg.Extensions,
		Rand:          rng,
		Preprocessor:  preprocess.New(rng),
	})
	if err != nil {
		return err
	}

	if err := loader.WriteCharList(cfg.CharListPath()); err != nil {
		return err
	}
	if err := loader.WriteCorpus(cfg.CorpusPath()); err != nil {
		return err
	}

	model, err := recognizer.NewRemoteModel(ctx, cfg.ModelURL, loader.CharList(), cfg.CheckpointDir(), !train)
	if err != nil {
		return err
	}

	if !train {
		_, err := training.Validate(ctx, model, loader)
		return err
	}
	_, err = training.Train(ctx, model, loader, training.Options{
		EarlyStopping: cfg.EarlyStopping,
		AccuracyPath:  cfg.AccuracyPath(),
	})
	return err
}

func runInfer(ctx context.Context, cfg *config.Config) error {
	if report, err := os.ReadFile(cfg.AccuracyPath()); err == nil {
		slog.Info(string(report))
	}

	charList, err := os.ReadFile(cfg.CharListPath())
	if err != nil {
		return fmt.Errorf("failed to read char list: %w", err)
	}

	model, err := recognizer.NewRemoteModel(ctx, cfg.ModelURL, []rune(string(charList)), cfg.CheckpointDir(), true)
	if err != nil {
		return err
	}

	size := image.Pt(cfg.ImageWidth, cfg.ImageHeight)
	text, err := training.Infer(ctx, model, preprocess.New(nil), cfg.InferImage, size, cfg.BatchSize)
	if err != nil {
		return err
	}
	slog.Info("Recognized", "text", text, "image", cfg.InferImage)
	return nil
}

func newExtractor(cfg *config.Config) (*worksheet.Extractor, error) {
	template, err := worksheet.LoadTemplate(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}

	var reader ocr.LabelReader
	if cfg.VerifyPrintedLabels {
		reader = ocr.New(cfg.UseCloudVision)
	}
	return worksheet.NewExtractor(cfg.CrowdRoot, template, register.NewORB(), cfg.RegistrationThreshold, reader), nil
}

func runExtract(ctx context.Context, cfg *config.Config, reset bool) error {
	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	_, err = extractor.Run(ctx, reset)
	return err
}

func runServe(cfg *config.Config) error {
	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	handler := handlers.New(extractor, filepath.Join(cfg.CrowdRoot, "uploads"))

	// Set up routes
	http.HandleFunc("/api/extract", handler.HandleExtract)
	http.HandleFunc("/api/jobs", handler.HandleJobs)
	http.HandleFunc("/api/jobs/", handler.HandleJobDetail)
	http.HandleFunc("/api/metrics", handler.HandleMetrics)
	http.HandleFunc("/healthcheck", handlers.HandleHealthcheck)

	slog.Info("Worksheet intake available", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}
