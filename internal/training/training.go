package training

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/lehigh-university-libraries/htr-prep/internal/dataset"
	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/preprocess"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/recognizer"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
	"github.com/lehigh-university-libraries/htr-prep/pkg/metrics"
)

const (
	DefaultEarlyStopping = 10
	lossLogInterval      = 200
	loggedSamples        = 10
)

type Options struct {
	// EarlyStopping is the number of epochs without a better character
	// error rate after which training ends.
	EarlyStopping int
	// AccuracyPath receives the error rate of the last saved model.
	AccuracyPath string
}

// Result is the outcome of one validation pass.
type Result struct {
	CharacterErrorRate float64
	WordAccuracy       float64
}

// Train runs epochs until the validation character error rate has not
// improved for opts.EarlyStopping epochs. The model is saved after every
// improvement. It returns the best error rate reached.
func Train(ctx context.Context, model recognizer.Model, loader *dataset.Loader, opts Options) (float64, error) {
	if opts.EarlyStopping < 1 {
		opts.EarlyStopping = DefaultEarlyStopping
	}

	best := math.Inf(1)
	noImprovementSince := 0
	for epoch := 1; ; epoch++ {
		slog.Info("Training", "epoch", epoch)

		it := loader.TrainSet()
		for it.HasNext() {
			if err := ctx.Err(); err != nil {
				return best, err
			}
			current, total := it.Info()
			batch, err := it.Next(false)
			if err != nil {
				return best, fmt.Errorf("failed to load training batch %d: %w", current, err)
			}
			loss, err := model.TrainBatch(ctx, batch)
			if err != nil {
				return best, err
			}
			if current%lossLogInterval == 0 {
				slog.Info("Trained batch", "epoch", epoch, "batch", current, "total", total, "loss", loss)
			}
		}

		result, err := Validate(ctx, model, loader)
		if err != nil {
			return best, err
		}

		if result.CharacterErrorRate < best {
			slog.Info("Character error rate improved, saving model", "cer", result.CharacterErrorRate, "previous", best)
			best = result.CharacterErrorRate
			noImprovementSince = 0
			if err := model.Save(ctx); err != nil {
				return best, err
			}
			if err := WriteAccuracy(opts.AccuracyPath, best); err != nil {
				return best, err
			}
		} else {
			noImprovementSince++
			slog.Info("Character error rate not improved", "cer", result.CharacterErrorRate, "best", best, "epochs", noImprovementSince)
		}

		if noImprovementSince >= opts.EarlyStopping {
			slog.Info("Training stopped", "epochs_without_improvement", opts.EarlyStopping, "best_cer", best)
			return best, nil
		}
	}
}

// Validate recognizes every full validation batch and scores it.
func Validate(ctx context.Context, model recognizer.Model, loader *dataset.Loader) (Result, error) {
	it := loader.ValidationSet()
	var tally metrics.Tally
	logged := 0
	for it.HasNext() {
		current, _ := it.Info()
		batch, err := it.Next(false)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load validation batch %d: %w", current, err)
		}
		recognized, err := model.InferBatch(ctx, batch)
		if err != nil {
			return Result{}, err
		}
		if len(recognized) != batch.Len() {
			return Result{}, fmt.Errorf("model returned %d texts for %d images", len(recognized), batch.Len())
		}

		for i, text := range recognized {
			gt := batch.GroundTruthTexts[i]
			dist := tally.Add(gt, text)
			if logged < loggedSamples {
				status := "[OK]"
				if dist != 0 {
					status = fmt.Sprintf("[ERR:%d]", dist)
				}
				slog.Debug("Validation sample", "status", status, "ground_truth", gt, "recognized", text)
				logged++
			}
		}
	}

	cer, err := tally.CharacterErrorRate()
	if err != nil {
		return Result{}, fmt.Errorf("failed to score validation set: %w", err)
	}
	result := Result{CharacterErrorRate: cer, WordAccuracy: tally.WordAccuracy()}
	slog.Info("Validated",
		"character_error_rate", fmt.Sprintf("%f%%", cer*100),
		"word_accuracy", fmt.Sprintf("%f%%", result.WordAccuracy*100))
	return result, nil
}

// Infer recognizes the word in a single image file. The image fills a whole
// batch and the first result is returned.
func Infer(ctx context.Context, model recognizer.Model, pre preprocess.Preprocessor, path string, size image.Point, batchSize int) (string, error) {
	raw, err := utils.LoadGray(path)
	if err != nil {
		return "", err
	}
	img, err := pre.Preprocess(raw, size, false, true)
	if err != nil {
		return "", fmt.Errorf("failed to preprocess %s: %w", path, err)
	}

	images := make([]*image.Gray, max(batchSize, 1))
	for i := range images {
		images[i] = img
	}
	batch, err := models.NewBatch(nil, images)
	if err != nil {
		return "", err
	}

	recognized, err := model.InferBatch(ctx, batch)
	if err != nil {
		return "", err
	}
	if len(recognized) == 0 {
		return "", fmt.Errorf("model returned no text")
	}
	return recognized[0], nil
}

func AccuracyReport(cer float64) string {
	return fmt.Sprintf("Validation character error rate of saved model: %f%%", cer*100.0)
}

func WriteAccuracy(path string, cer float64) error {
	if path == "" {
		return nil
	}
	return utils.WriteTextFile(path, AccuracyReport(cer))
}
