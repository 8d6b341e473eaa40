package preprocess

import (
	"errors"
	"image"
	"math/rand/v2"
	"testing"
)

func dark(w, h int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, w, h))
}

func TestPreprocessAlwaysReturnsTargetSize(t *testing.T) {
	svc := New(rand.New(rand.NewPCG(1, 2)))
	target := image.Pt(128, 32)

	tests := []struct {
		name    string
		img     image.Image
		augment bool
	}{
		{"wide", dark(400, 20), false},
		{"tall", dark(10, 200), false},
		{"tiny", dark(1, 1), false},
		{"exact", dark(128, 32), false},
		{"augmented", dark(90, 40), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Preprocess(tt.img, target, tt.augment, false)
			if err != nil {
				t.Fatalf("Preprocess() error: %v", err)
			}
			if got.Bounds() != image.Rect(0, 0, 128, 32) {
				t.Errorf("bounds = %v, want 128x32", got.Bounds())
			}
		})
	}
}

func TestPreprocessPadsWithWhite(t *testing.T) {
	svc := New(nil)

	// 100x20 scales by 128/100 to 128x25, leaving rows 25..31 blank
	got, err := svc.Preprocess(dark(100, 20), image.Pt(128, 32), false, false)
	if err != nil {
		t.Fatalf("Preprocess() error: %v", err)
	}
	if v := got.GrayAt(10, 10).Y; v != 0 {
		t.Errorf("word pixel = %d, want 0", v)
	}
	if v := got.GrayAt(10, 31).Y; v != 255 {
		t.Errorf("padding pixel = %d, want 255", v)
	}
}

func TestPreprocessRejectsEmptyImage(t *testing.T) {
	_, err := New(nil).Preprocess(image.NewGray(image.Rectangle{}), image.Pt(8, 8), false, false)
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("error = %v, want ErrEmptyImage", err)
	}
}
