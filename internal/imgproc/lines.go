package imgproc

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Line detection parameters. Crop boundaries downstream depend on these exact
// values, so they are not tuned per call.
const (
	DefaultLineThreshold = 0.23

	blurKernel     = 5
	cannyLow       = 50
	cannyHigh      = 150
	houghRho       = 1
	houghThetaDeg  = 1
	angleTolerance = 3.0 // degrees
	// Allowed distance from the image border, as a fraction of the square width.
	verticalLineBand   = 0.07 // theta near 0 or 180 degrees
	horizontalLineBand = 0.2  // theta near 90 degrees
	lineThickness      = 14
	lineHalfLength     = 1000
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// CleanLines paints over ruled border lines found by a Hough transform.
// threshold is the fraction of the (squared) image width a line needs in
// votes. Lines that are not axis aligned or not close to the border are left
// alone. img is not modified.
func CleanLines(img image.Image, threshold float64) (image.Image, error) {
	work, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer work.Close()

	gray := toGrayMat(work)
	defer gray.Close()

	origRows, origCols := gray.Rows(), gray.Cols()
	side := max(origRows, origCols)

	// square canvas so horizontal and vertical lines collect votes equally
	square := gocv.NewMat()
	defer square.Close()
	gocv.Resize(gray, &square, image.Pt(side, side), 0, 0, gocv.InterpolationLinear)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(square, &blurred, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, cannyLow, cannyHigh)

	width := edges.Rows()
	votes := max(int(threshold*float64(width)), 1)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLines(edges, &lines, houghRho, float32(houghThetaDeg*math.Pi/180), votes)

	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVecfAt(i, 0)
		rho, theta := v[0], v[1]
		if !isBorderLine(float64(rho), float64(theta), float64(width)) {
			continue
		}
		p1, p2 := lineEndpoints(rho, theta, origRows, origCols, side)
		gocv.Line(&work, p1, p2, white, lineThickness)
	}

	return work.ToImage()
}

// isBorderLine reports whether a Hough line (rho, theta in radians) is axis
// aligned and lies near an edge of a width x width image.
func isBorderLine(rho, theta, width float64) bool {
	deg := 180 / math.Pi * theta
	near := func(angle float64) bool {
		return math.Abs(deg-angle) < angleTolerance
	}
	nearEdge := func(band float64) bool {
		return math.Abs(rho) < band*width ||
			math.Abs(rho-width) < band*width ||
			math.Abs(rho+width) < band*width
	}

	if !(near(0) || near(90) || near(180) || near(270) || near(360)) {
		return false
	}
	return (near(0) || near(180)) && nearEdge(verticalLineBand) ||
		near(90) && nearEdge(horizontalLineBand)
}

// lineEndpoints converts a Hough line found on the side x side canvas into a
// segment on the original rows x cols image.
func lineEndpoints(rho, theta float32, rows, cols, side int) (image.Point, image.Point) {
	a := float32(math.Cos(float64(theta)))
	b := float32(math.Sin(float64(theta)))
	x0, y0 := a*rho, b*rho

	x1 := int(x0 + lineHalfLength*(-b))
	y1 := int(y0 + lineHalfLength*a)
	x2 := int(x0 - lineHalfLength*(-b))
	y2 := int(y0 - lineHalfLength*a)

	scale := func(v, orig int) int {
		return int(float64(v*orig) / float64(side))
	}
	return image.Pt(scale(x1, cols), scale(y1, rows)), image.Pt(scale(x2, cols), scale(y2, rows))
}
