package register

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"gocv.io/x/gocv"
)

const (
	DefaultThresholdDistance = 300.0

	ratioTest        = 0.75
	minMatches       = 10
	ransacReprojErr  = 3.0
	ransacMaxIters   = 2000
	ransacConfidence = 0.995
)

var ErrRegistrationFailed = errors.New("image registration failed")

// Registrar aligns a scanned page onto a template page.
type Registrar interface {
	Register(candidate, template image.Image, threshDist float64) (image.Image, error)
}

// ORB matches ORB keypoints between candidate and template, keeps matches
// that pass the ratio test and move less than threshDist pixels, fits a
// RANSAC homography and warps the candidate into template space.
type ORB struct {
	Features int
}

func NewORB() *ORB {
	return &ORB{Features: 5000}
}

func (o *ORB) Register(candidate, template image.Image, threshDist float64) (image.Image, error) {
	cand, err := grayMat(candidate)
	if err != nil {
		return nil, err
	}
	defer cand.Close()

	tmpl, err := grayMat(template)
	if err != nil {
		return nil, err
	}
	defer tmpl.Close()

	orb := gocv.NewORBWithParams(o.Features, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()

	candKP, candDesc := orb.DetectAndCompute(cand, noMask)
	defer candDesc.Close()
	tmplKP, tmplDesc := orb.DetectAndCompute(tmpl, noMask)
	defer tmplDesc.Close()

	if candDesc.Empty() || tmplDesc.Empty() {
		return nil, fmt.Errorf("%w: no features found", ErrRegistrationFailed)
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()

	var src, dst []gocv.Point2f
	for _, pair := range matcher.KnnMatch(candDesc, tmplDesc, 2) {
		if len(pair) < 2 || pair[0].Distance >= ratioTest*pair[1].Distance {
			continue
		}
		c := candKP[pair[0].QueryIdx]
		t := tmplKP[pair[0].TrainIdx]
		if math.Hypot(c.X-t.X, c.Y-t.Y) >= threshDist {
			continue
		}
		src = append(src, gocv.Point2f{X: float32(c.X), Y: float32(c.Y)})
		dst = append(dst, gocv.Point2f{X: float32(t.X), Y: float32(t.Y)})
	}
	if len(src) < minMatches {
		return nil, fmt.Errorf("%w: %d good matches, need %d", ErrRegistrationFailed, len(src), minMatches)
	}
	slog.Debug("Matched page features", "matches", len(src))

	srcMat := pointsMat(src)
	defer srcMat.Close()
	dstMat := pointsMat(dst)
	defer dstMat.Close()

	inliers := gocv.NewMat()
	defer inliers.Close()
	h := gocv.FindHomography(srcMat, &dstMat, gocv.HomograpyMethodRANSAC, ransacReprojErr, &inliers, ransacMaxIters, ransacConfidence)
	defer h.Close()
	if h.Empty() {
		return nil, fmt.Errorf("%w: no homography", ErrRegistrationFailed)
	}

	color, err := gocv.ImageToMatRGB(candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert candidate: %w", err)
	}
	defer color.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspective(color, &warped, h, image.Pt(tmpl.Cols(), tmpl.Rows()))

	out, err := warped.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert registered page: %w", err)
	}
	return out, nil
}

func grayMat(img image.Image) (gocv.Mat, error) {
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert image: %w", err)
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// pointsMat packs points into an Nx1 two channel float64 Mat.
func pointsMat(pts []gocv.Point2f) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV64FC2)
	for i, p := range pts {
		m.SetDoubleAt(i, 0, float64(p.X))
		m.SetDoubleAt(i, 1, float64(p.Y))
	}
	return m
}
