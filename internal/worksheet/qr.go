package worksheet

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi/qrcode"
)

var ErrSeedNotFound = errors.New("page does not carry exactly one QR code")

// SeedFromQR decodes the page seed from the single QR code on a registered
// page. When zero or several codes are found the page is saved to
// <errorDir>/<name>.png for inspection and ErrSeedNotFound is returned.
func SeedFromQR(page image.Image, name, errorDir string) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(page)
	if err != nil {
		return "", fmt.Errorf("failed to create bitmap: %w", err)
	}

	// the reader reports a page without codes as an error
	results, err := qrcode.NewQRCodeMultiReader().DecodeMultiple(bmp, nil)
	if err != nil {
		results = nil
	}

	if len(results) != 1 {
		slog.Warn("Unexpected number of QR codes", "found", len(results), "page", name)
		path := filepath.Join(errorDir, name+".png")
		if err := utils.SaveImage(path, page); err != nil {
			slog.Error("Failed to save page for inspection", "path", path, "err", err)
		}
		return "", fmt.Errorf("%w: found %d on %s", ErrSeedNotFound, len(results), name)
	}

	if format := results[0].GetBarcodeFormat(); format != gozxing.BarcodeFormat_QR_CODE {
		return "", fmt.Errorf("unexpected barcode format %v on %s", format, name)
	}
	return results[0].GetText(), nil
}
