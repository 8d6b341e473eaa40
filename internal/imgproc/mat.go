package imgproc

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// ToGray returns a compact grayscale copy of img anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// toMat copies img into a new Mat: one channel for *image.Gray, BGR otherwise.
func toMat(img image.Image) (gocv.Mat, error) {
	if g, ok := img.(*image.Gray); ok {
		mat, err := gocv.ImageGrayToMatGray(ToGray(g))
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("failed to convert gray image: %w", err)
		}
		return mat, nil
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert color image: %w", err)
	}
	return mat, nil
}

// toGrayMat converts a one or three channel Mat to a new single channel Mat.
func toGrayMat(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if src.Channels() > 1 {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&gray)
	}
	return gray
}

// Crop copies the rectangle r (relative to the image origin) out of img,
// keeping *image.Gray inputs gray.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Add(img.Bounds().Min)
	if g, ok := img.(*image.Gray); ok {
		return ToGray(g.SubImage(r))
	}
	return imaging.Crop(img, r)
}
