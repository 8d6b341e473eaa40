package worksheet

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/lehigh-university-libraries/htr-prep/internal/imgproc"
	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
)

// Worksheet layout in registered template pixels.
const (
	cellPad     = 0
	xAnchor     = 421 - cellPad
	yAnchor     = 204 - cellPad
	cellWidth   = 460 + 2*cellPad
	cellHeight  = 104 + 2*cellPad
	columns     = 3
	rows        = 26
	xSpacing    = 770
	ySpacing    = 107
	labelX      = 157
	labelY      = 235
	labelWidth  = 258
	labelHeight = 80

	cropExt = ".jpg"
)

var (
	ErrLabelMissing = errors.New("no label for worksheet cell")
	ErrCropBounds   = errors.New("crop lies outside the page")
)

// Cells lists every handwriting cell, column by column.
func Cells() []models.GridCell {
	cells := make([]models.GridCell, 0, columns*rows)
	for i := range columns {
		for j := range rows {
			cells = append(cells, models.GridCell{Col: i, Row: j})
		}
	}
	return cells
}

// CellCoord is the handwriting box of a cell.
func CellCoord(cell models.GridCell) models.CropCoord {
	return models.CropCoord{
		X:      cell.Col*xSpacing + xAnchor,
		Y:      cell.Row*ySpacing + yAnchor,
		Width:  cellWidth,
		Height: cellHeight,
		Label:  "image",
	}
}

// LabelCoord is the printed label next to a cell.
func LabelCoord(cell models.GridCell) models.CropCoord {
	return models.CropCoord{
		X:      cell.Col*xSpacing + labelX,
		Y:      cell.Row*ySpacing + labelY,
		Width:  labelWidth,
		Height: labelHeight,
		Label:  "label",
	}
}

func GridCoords() []models.CropCoord {
	cells := Cells()
	coords := make([]models.CropCoord, len(cells))
	for i, cell := range cells {
		coords[i] = CellCoord(cell)
	}
	return coords
}

// Crop cuts coord out of page. The rectangle must lie entirely on the page.
func Crop(page image.Image, coord models.CropCoord) (image.Image, error) {
	r := coord.Rect()
	if r.Empty() || !r.Add(page.Bounds().Min).In(page.Bounds()) {
		return nil, fmt.Errorf("%w: %v on %v page", ErrCropBounds, r, page.Bounds().Size())
	}
	return imgproc.Crop(page, r), nil
}

// ExtractProcessSaveCrops cuts every handwriting cell out of a registered
// page, removes ruling lines and margins, and saves it as <label>.jpg in
// saveDir. It returns the number of crops written.
func ExtractProcessSaveCrops(page image.Image, labels models.LabelTable, saveDir string) (int, error) {
	saved := 0
	for _, cell := range Cells() {
		label, ok := labels[cell]
		if !ok {
			return saved, fmt.Errorf("%w: column %d row %d", ErrLabelMissing, cell.Col, cell.Row)
		}

		crop, err := Crop(page, CellCoord(cell))
		if err != nil {
			return saved, err
		}
		cleaned, err := imgproc.CleanLines(crop, imgproc.DefaultLineThreshold)
		if err != nil {
			return saved, fmt.Errorf("failed to clean lines of cell %d,%d: %w", cell.Col, cell.Row, err)
		}
		tight, err := imgproc.TightCrop(cleaned, imgproc.DefaultCropThreshold)
		if err != nil {
			return saved, fmt.Errorf("failed to crop cell %d,%d: %w", cell.Col, cell.Row, err)
		}

		path := filepath.Join(saveDir, utils.SanitizeFilename(label)+cropExt)
		if err := utils.SaveImage(path, tight); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
