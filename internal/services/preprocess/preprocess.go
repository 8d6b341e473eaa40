package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

var ErrEmptyImage = errors.New("image has no pixels")

// Preprocessor turns a decoded word image into model input of a fixed size.
type Preprocessor interface {
	Preprocess(img image.Image, size image.Point, augment, testing bool) (*image.Gray, error)
}

// Service scales word images to fit the target size and pastes them in the
// top-left corner of a white canvas. With augmentation on, the word is first
// stretched horizontally by a random factor in [0.5, 1.5).
//
// Service is not safe for concurrent use.
type Service struct {
	rng *rand.Rand
}

func New(rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return &Service{rng: rng}
}

func (s *Service) Preprocess(img image.Image, size image.Point, augment, testing bool) (*image.Gray, error) {
	if size.X < 1 || size.Y < 1 {
		return nil, fmt.Errorf("invalid target size %v", size)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	src := img
	if augment && !testing {
		stretch := s.rng.Float64() + 0.5
		w := max(int(float64(src.Bounds().Dx())*stretch), 1)
		src = imaging.Resize(src, w, src.Bounds().Dy(), imaging.Linear)
	}

	b := src.Bounds()
	f := max(float64(b.Dx())/float64(size.X), float64(b.Dy())/float64(size.Y))
	w := max(min(size.X, int(float64(b.Dx())/f)), 1)
	h := max(min(size.Y, int(float64(b.Dy())/f)), 1)

	canvas := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	for i := range canvas.Pix {
		canvas.Pix[i] = 255
	}
	draw.BiLinear.Scale(canvas, image.Rect(0, 0, w, h), src, b, draw.Src, nil)
	return canvas, nil
}
