package imgproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// DefaultMergeThreshold is the inverted intensity below which patch pixels
// count as background and are made transparent.
const DefaultMergeThreshold = 100

var ErrPatchOutOfBounds = errors.New("patch does not overlap base image")

// RemoveBackground returns a copy of img with every pixel strictly below
// threshold set to 0. Pixels at or above threshold are kept as is.
func RemoveBackground(img *image.Gray, threshold int) *image.Gray {
	masked := ToGray(img)
	for i, v := range masked.Pix {
		if int(v) < threshold {
			masked.Pix[i] = 0
		}
	}
	return masked
}

// MergePatch superimposes patch onto base so that the patch center lands on
// centroid (X = column, Y = row in base coordinates). Ink is combined by
// taking the darker pixel; patch pixels that fall outside base are dropped.
func MergePatch(base, patch *image.Gray, centroid image.Point, threshold int) (*image.Gray, error) {
	invBase := invert(ToGray(base))
	invPatch := RemoveBackground(invert(ToGray(patch)), threshold)

	pb := invPatch.Bounds()
	offRow := centroid.Y - pb.Dy()/2
	offCol := centroid.X - pb.Dx()/2

	bb := invBase.Bounds()
	merged := ToGray(invBase)
	kept := 0
	for r := 0; r < pb.Dy(); r++ {
		dr := r + offRow
		if dr < 0 || dr >= bb.Dy() {
			continue
		}
		for c := 0; c < pb.Dx(); c++ {
			dc := c + offCol
			if dc < 0 || dc >= bb.Dx() {
				continue
			}
			kept++
			p := invPatch.GrayAt(c, r).Y
			if b := invBase.GrayAt(dc, dr).Y; b > p {
				p = b
			}
			merged.SetGray(dc, dr, color.Gray{Y: p})
		}
	}
	if kept == 0 {
		return nil, fmt.Errorf("%w: offset (%d, %d) places %dx%d patch outside %dx%d base",
			ErrPatchOutOfBounds, offRow, offCol, pb.Dy(), pb.Dx(), bb.Dy(), bb.Dx())
	}

	return invert(merged), nil
}

// invert flips intensities in place and returns img.
func invert(img *image.Gray) *image.Gray {
	for i, v := range img.Pix {
		img.Pix[i] = 255 - v
	}
	return img
}
