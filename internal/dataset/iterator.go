package dataset

import (
	"fmt"
	"image"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/preprocess"
)

// Iterator serves fixed-size batches from one pass over a sample list.
// A trailing remainder smaller than the batch size is never served.
// An Iterator belongs to a single caller and is not safe for concurrent use.
type Iterator struct {
	samples      []models.Sample
	current      int
	batchSize    int
	imageSize    image.Point
	augment      bool
	preprocessor preprocess.Preprocessor
	decoder      Decoder
}

func (it *Iterator) HasNext() bool {
	return it.current+it.batchSize <= len(it.samples)
}

// Next decodes and preprocesses the next batch. A missing or unreadable image
// fails the whole batch and leaves the cursor where it was.
func (it *Iterator) Next(isTesting bool) (models.Batch, error) {
	if !it.HasNext() {
		return models.Batch{}, fmt.Errorf("no full batch left: %d of %d samples consumed", it.current, len(it.samples))
	}

	chunk := it.samples[it.current : it.current+it.batchSize]
	texts := make([]string, len(chunk))
	images := make([]*image.Gray, len(chunk))
	for i, s := range chunk {
		raw, err := it.decoder(s.FilePath)
		if err != nil {
			return models.Batch{}, fmt.Errorf("failed to load sample %s: %w", s.FilePath, err)
		}
		img, err := it.preprocessor.Preprocess(raw, it.imageSize, it.augment, isTesting)
		if err != nil {
			return models.Batch{}, fmt.Errorf("failed to preprocess sample %s: %w", s.FilePath, err)
		}
		texts[i] = s.GroundTruthText
		images[i] = img
	}

	batch, err := models.NewBatch(texts, images)
	if err != nil {
		return models.Batch{}, err
	}
	it.current += it.batchSize
	return batch, nil
}

// Info returns the 1-based number of the next batch and the number of full
// batches in the pass.
func (it *Iterator) Info() (current, total int) {
	return it.current/it.batchSize + 1, len(it.samples) / it.batchSize
}

func (it *Iterator) Len() int {
	return len(it.samples)
}

func (it *Iterator) Augmenting() bool {
	return it.augment
}
