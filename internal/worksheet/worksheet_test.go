package worksheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/makiuchi-d/gozxing"
	qrwriter "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pageWidth, pageHeight = 2421, 3000

func whitePage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

// withQR draws a QR code encoding text into the top-left corner, clear of
// the label and handwriting cells.
func withQR(t *testing.T, page *image.Gray, text string) *image.Gray {
	t.Helper()
	code, err := qrwriter.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 180, 180, nil)
	if err != nil {
		t.Fatalf("failed to encode QR code: %v", err)
	}
	draw.Draw(page, image.Rect(10, 10, 190, 190), code, image.Point{}, draw.Src)
	return page
}

func fullLabels() models.LabelTable {
	labels := make(models.LabelTable)
	for _, cell := range Cells() {
		labels[cell] = fmt.Sprintf("w%d-%d", cell.Col, cell.Row)
	}
	return labels
}

func TestGridCoords(t *testing.T) {
	coords := GridCoords()
	if len(coords) != 78 {
		t.Fatalf("len(GridCoords()) = %d, want 78", len(coords))
	}

	first := models.CropCoord{X: 421, Y: 204, Width: 460, Height: 104, Label: "image"}
	if coords[0] != first {
		t.Errorf("first = %+v, want %+v", coords[0], first)
	}
	last := models.CropCoord{X: 1961, Y: 2879, Width: 460, Height: 104, Label: "image"}
	if coords[len(coords)-1] != last {
		t.Errorf("last = %+v, want %+v", coords[len(coords)-1], last)
	}
	if coords[26].X != 421+770 || coords[26].Y != 204 {
		t.Errorf("second column starts at %+v", coords[26])
	}
}

func TestLabelCoord(t *testing.T) {
	got := LabelCoord(models.GridCell{Col: 1, Row: 2})
	want := models.CropCoord{X: 927, Y: 449, Width: 258, Height: 80, Label: "label"}
	if got != want {
		t.Errorf("LabelCoord() = %+v, want %+v", got, want)
	}
}

func TestCrop(t *testing.T) {
	page := whitePage(100, 50)

	got, err := Crop(page, models.CropCoord{X: 10, Y: 5, Width: 30, Height: 20})
	if err != nil {
		t.Fatalf("Crop() error: %v", err)
	}
	if got.Bounds().Size() != image.Pt(30, 20) {
		t.Errorf("size = %v, want 30x20", got.Bounds().Size())
	}

	_, err = Crop(page, models.CropCoord{X: 90, Y: 5, Width: 30, Height: 20})
	if !errors.Is(err, ErrCropBounds) {
		t.Errorf("error = %v, want ErrCropBounds", err)
	}
}

func TestLoadLabelTable(t *testing.T) {
	root := t.TempDir()
	path := LabelTablePath(root, "1234")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	data := `[{"col":0,"row":0,"label":"apple"},{"col":2,"row":25,"label":"pear"}]`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadLabelTable(root, "1234")
	if err != nil {
		t.Fatalf("LoadLabelTable() error: %v", err)
	}
	if table[models.GridCell{Col: 0, Row: 0}] != "apple" || table[models.GridCell{Col: 2, Row: 25}] != "pear" {
		t.Errorf("table = %v", table)
	}

	if _, err := LoadLabelTable(root, "missing"); err == nil {
		t.Error("expected error for missing seed")
	}
}

func TestExtractProcessSaveCrops(t *testing.T) {
	page := whitePage(pageWidth, pageHeight)
	dir := t.TempDir()

	n, err := ExtractProcessSaveCrops(page, fullLabels(), dir)
	if err != nil {
		t.Fatalf("ExtractProcessSaveCrops() error: %v", err)
	}
	if n != 78 {
		t.Errorf("saved %d crops, want 78", n)
	}
	for _, name := range []string{"w0-0.jpg", "w2-25.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing crop %s: %v", name, err)
		}
	}
}

func TestExtractProcessSaveCropsMissingLabel(t *testing.T) {
	labels := fullLabels()
	delete(labels, models.GridCell{Col: 0, Row: 0})

	_, err := ExtractProcessSaveCrops(whitePage(pageWidth, pageHeight), labels, t.TempDir())
	if !errors.Is(err, ErrLabelMissing) {
		t.Fatalf("error = %v, want ErrLabelMissing", err)
	}
}

func TestSeedFromQR(t *testing.T) {
	errDir := t.TempDir()
	page := withQR(t, whitePage(400, 300), "8675309")

	seed, err := SeedFromQR(page, "scan-0", errDir)
	if err != nil {
		t.Fatalf("SeedFromQR() error: %v", err)
	}
	if seed != "8675309" {
		t.Errorf("seed = %q, want %q", seed, "8675309")
	}
}

func TestSeedFromQRNoCode(t *testing.T) {
	errDir := t.TempDir()

	_, err := SeedFromQR(whitePage(400, 300), "scan-3", errDir)
	if !errors.Is(err, ErrSeedNotFound) {
		t.Fatalf("error = %v, want ErrSeedNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(errDir, "scan-3.png")); err != nil {
		t.Errorf("failing page not saved: %v", err)
	}
}

func TestPendingAndReset(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "extracted-b.pdf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles() error: %v", err)
	}
	if !slices.Equal(pending, []string{filepath.Join(dir, "a.pdf")}) {
		t.Errorf("pending = %v", pending)
	}

	if err := resetExtracted(dir); err != nil {
		t.Fatalf("resetExtracted() error: %v", err)
	}
	pending, err = pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles() error: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending after reset = %v, want both PDFs", pending)
	}
}

// stubRegistrar ignores the scan and returns a prepared page.
type stubRegistrar struct {
	page image.Image
	err  error
}

func (r stubRegistrar) Register(candidate, template image.Image, threshDist float64) (image.Image, error) {
	if candidate.Bounds().Size() != template.Bounds().Size() {
		return nil, fmt.Errorf("candidate not resized to template: %v", candidate.Bounds().Size())
	}
	return r.page, r.err
}

type stubLabelReader struct{}

func (stubLabelReader) ReadLabel(ctx context.Context, img image.Image) (string, error) {
	return "w0-0", nil
}

// writeScanPDF builds a PDF with one embedded PNG scan per page.
func writeScanPDF(t *testing.T, path string, pages int) {
	t.Helper()
	var imgs []io.Reader
	for range pages {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, whitePage(60, 80), imaging.PNG); err != nil {
			t.Fatal(err)
		}
		imgs = append(imgs, &buf)
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, imgs, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		t.Fatalf("failed to build PDF: %v", err)
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPageImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	writeScanPDF(t, path, 2)

	pages, err := PageImages(path)
	if err != nil {
		t.Fatalf("PageImages() error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[0].Bounds().Size() != image.Pt(60, 80) {
		t.Errorf("page size = %v, want 60x80", pages[0].Bounds().Size())
	}
}

func TestProcessPDFAndRun(t *testing.T) {
	root := t.TempDir()
	if err := SaveLabelTable(root, "4242", fullLabels()); err != nil {
		t.Fatal(err)
	}

	registered := withQR(t, whitePage(pageWidth, pageHeight), "4242")
	template := whitePage(pageWidth, pageHeight)
	e := NewExtractor(root, template, stubRegistrar{page: registered}, 300, stubLabelReader{})

	scan := filepath.Join(e.ScribedDir(), "batch1.pdf")
	if err := os.MkdirAll(e.ScribedDir(), 0755); err != nil {
		t.Fatal(err)
	}
	writeScanPDF(t, scan, 1)

	reports, err := e.ProcessPDF(context.Background(), scan)
	if err != nil {
		t.Fatalf("ProcessPDF() error: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.Skipped || r.Seed != "4242" || r.Crops != 78 {
		t.Errorf("report = %+v", r)
	}
	// the stub reader only agrees with cell 0,0
	if len(r.Mismatch) != 77 {
		t.Errorf("got %d label mismatches, want 77", len(r.Mismatch))
	}
	if _, err := os.Stat(filepath.Join(e.ProcessedDir("4242"), "w1-7.jpg")); err != nil {
		t.Errorf("crop not written: %v", err)
	}

	processed, err := e.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	tagged := filepath.Join(e.ScribedDir(), "extracted-batch1.pdf")
	if !slices.Equal(processed, []string{tagged}) {
		t.Errorf("processed = %v", processed)
	}

	again, err := e.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("extracted file processed again: %v", again)
	}
}

func TestProcessPDFSkipsUnregisteredPage(t *testing.T) {
	root := t.TempDir()
	template := whitePage(100, 100)
	e := NewExtractor(root, template, stubRegistrar{err: errors.New("no match")}, 300, nil)

	scan := filepath.Join(root, "scan.pdf")
	writeScanPDF(t, scan, 2)

	reports, err := e.ProcessPDF(context.Background(), scan)
	if err != nil {
		t.Fatalf("ProcessPDF() error: %v", err)
	}
	for _, r := range reports {
		if !r.Skipped || r.Reason == "" {
			t.Errorf("page %d not skipped: %+v", r.Page, r)
		}
	}
}

func TestProcessPDFSkipsPageWithoutQR(t *testing.T) {
	root := t.TempDir()
	template := whitePage(300, 300)
	e := NewExtractor(root, template, stubRegistrar{page: whitePage(300, 300)}, 300, nil)

	scan := filepath.Join(root, "blank.pdf")
	writeScanPDF(t, scan, 1)

	reports, err := e.ProcessPDF(context.Background(), scan)
	if err != nil {
		t.Fatalf("ProcessPDF() error: %v", err)
	}
	if !reports[0].Skipped {
		t.Errorf("page without QR code was not skipped: %+v", reports[0])
	}
	if _, err := os.Stat(filepath.Join(e.ErrorDir(), "blank-0.png")); err != nil {
		t.Errorf("failing page not saved: %v", err)
	}
}

func TestLargestImage(t *testing.T) {
	encode := func(w, h int) io.Reader {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, whitePage(w, h), imaging.PNG); err != nil {
			t.Fatal(err)
		}
		return &buf
	}

	if got := largestImage(map[int]model.Image{}); got != nil {
		t.Errorf("largestImage(empty) = %v, want nil", got.Bounds())
	}

	junk := map[int]model.Image{4: {Reader: bytes.NewReader([]byte("JB2 data"))}}
	if got := largestImage(junk); got != nil {
		t.Errorf("undecodable image returned %v", got.Bounds())
	}

	mixed := map[int]model.Image{
		3: {Reader: encode(10, 10)},
		5: {Reader: bytes.NewReader([]byte("JB2 data"))},
		7: {Reader: encode(30, 20)},
	}
	got := largestImage(mixed)
	if got == nil || got.Bounds().Size() != image.Pt(30, 20) {
		t.Errorf("largestImage() = %v, want 30x20", got)
	}
}

func TestProcessPagesSkipsPageWithoutImage(t *testing.T) {
	root := t.TempDir()
	if err := SaveLabelTable(root, "77", fullLabels()); err != nil {
		t.Fatal(err)
	}
	registered := withQR(t, whitePage(pageWidth, pageHeight), "77")
	template := whitePage(pageWidth, pageHeight)
	e := NewExtractor(root, template, stubRegistrar{page: registered}, 300, nil)

	pages := []image.Image{nil, whitePage(60, 80)}
	reports, err := e.processPages(context.Background(), "mixed.pdf", pages)
	if err != nil {
		t.Fatalf("processPages() error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if !reports[0].Skipped || reports[0].Reason == "" {
		t.Errorf("page without image not skipped: %+v", reports[0])
	}
	if reports[1].Skipped || reports[1].Seed != "77" || reports[1].Crops != 78 {
		t.Errorf("second page report = %+v", reports[1])
	}
}
