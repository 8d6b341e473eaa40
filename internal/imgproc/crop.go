package imgproc

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const (
	DefaultCropThreshold = 1 - 1.5e-2

	inkThreshold = 20
	erodeKernel  = 3
	cropStep     = 0.5e-3
)

var ErrEmptyCrop = errors.New("crop removed the whole image")

// cropVector holds pixels to strip from the top, bottom, left and right.
type cropVector [4]int

const (
	edgeTop = iota
	edgeBottom
	edgeLeft
	edgeRight
)

// TightCrop strips whitespace margins. It greedily grows the margins, one
// edge at a time in top, bottom, left, right order, while the share of ink
// left inside stays above a target that is lowered in small steps until it
// drops below threshold. The search starts from a crop that already drops the
// last row and column, so cropping an already tight image still removes them.
func TightCrop(img image.Image, threshold float64) (image.Image, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("crop threshold must be in (0, 1], got %f", threshold)
	}

	src, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(src, &inverted)

	gray := toGrayMat(inverted)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, inkThreshold, 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(erodeKernel, erodeKernel))
	defer kernel.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(binary, &eroded, kernel)

	mask := newInkMask(eroded.ToBytes(), eroded.Rows(), eroded.Cols())
	crop := searchCrop(mask, threshold)

	r := crop.rect(mask.rows, mask.cols)
	if r.Empty() {
		return nil, fmt.Errorf("%w: crop %v on %dx%d image", ErrEmptyCrop, crop, mask.rows, mask.cols)
	}
	return Crop(img, r), nil
}

// searchCrop runs the greedy margin search over a binarized ink mask.
func searchCrop(mask inkMask, threshold float64) cropVector {
	crop := cropVector{0, 1, 0, 1}
	if mask.total() == 0 {
		return crop
	}

	edge := -1
	sub := 1.0
	for sub >= threshold {
		edge++
		sub -= cropStep
		next := crop
		for mask.preserved(next) >= sub {
			crop = next
			next[edge%4]++
		}
	}
	return crop
}

// rect is the region left after stripping the margins, empty if nothing is left.
func (c cropVector) rect(rows, cols int) image.Rectangle {
	top := min(c[edgeTop], rows)
	bottom := max(rows-c[edgeBottom], 0)
	left := min(c[edgeLeft], cols)
	right := max(cols-c[edgeRight], 0)
	if top >= bottom || left >= right {
		return image.Rectangle{}
	}
	return image.Rect(left, top, right, bottom)
}

// inkMask counts non-zero pixels with a summed-area table.
type inkMask struct {
	rows, cols int
	integral   []int
}

func newInkMask(pix []byte, rows, cols int) inkMask {
	m := inkMask{rows: rows, cols: cols, integral: make([]int, (rows+1)*(cols+1))}
	w := cols + 1
	for r := 0; r < rows; r++ {
		rowSum := 0
		for c := 0; c < cols; c++ {
			if pix[r*cols+c] != 0 {
				rowSum++
			}
			m.integral[(r+1)*w+c+1] = m.integral[r*w+c+1] + rowSum
		}
	}
	return m
}

func (m inkMask) count(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	w := m.cols + 1
	return m.integral[r.Max.Y*w+r.Max.X] - m.integral[r.Min.Y*w+r.Max.X] -
		m.integral[r.Max.Y*w+r.Min.X] + m.integral[r.Min.Y*w+r.Min.X]
}

func (m inkMask) total() int {
	return m.count(image.Rect(0, 0, m.cols, m.rows))
}

// preserved is the share of ink that survives blanking the margins in c.
func (m inkMask) preserved(c cropVector) float64 {
	return float64(m.count(c.rect(m.rows, m.cols))) / float64(m.total())
}
