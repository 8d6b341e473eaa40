package worksheet

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImages returns the scan embedded in each page of a PDF, in page
// order. Scanned worksheets carry one raster image per page; when a page has
// several, the largest is taken. A page without a decodable image is nil.
func PageImages(pdfPath string) ([]image.Image, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return decodePageImages(data)
}

func decodePageImages(data []byte) (pages []image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("panic while extracting PDF images: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read and validate PDF: %w", err)
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		embedded, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("failed to extract images of page %d: %w", pageNr, err)
		}

		best := largestImage(embedded)
		if best == nil {
			slog.Warn("Page has no decodable image", "page", pageNr)
		}
		pages = append(pages, best)
	}
	return pages, nil
}

// largestImage decodes the embedded images of a page and returns the one
// with the largest area, or nil when none decode.
func largestImage(embedded map[int]model.Image) image.Image {
	objNrs := make([]int, 0, len(embedded))
	for objNr := range embedded {
		objNrs = append(objNrs, objNr)
	}
	slices.Sort(objNrs)

	var best image.Image
	for _, objNr := range objNrs {
		embeddedImage := embedded[objNr]
		if embeddedImage.Reader == nil {
			continue
		}
		img, err := imaging.Decode(embeddedImage.Reader)
		if err != nil {
			continue
		}
		if best == nil || area(img) > area(best) {
			best = img
		}
	}
	return best
}

func area(img image.Image) int {
	return img.Bounds().Dx() * img.Bounds().Dy()
}

// LoadTemplate reads the blank worksheet, either an image file or the first
// page of a scanned PDF.
func LoadTemplate(path string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err := PageImages(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", path, err)
		}
		if len(pages) == 0 || pages[0] == nil {
			return nil, fmt.Errorf("template %s has no decodable page image", path)
		}
		return pages[0], nil
	}
	return utils.LoadImage(path)
}
