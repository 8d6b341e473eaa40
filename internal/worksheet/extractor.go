package worksheet

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/ocr"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/register"
)

const extractedPrefix = "extracted-"

// Extractor turns scanned worksheet PDFs into labeled handwriting crops.
type Extractor struct {
	crowdRoot string
	template  image.Image
	registrar register.Registrar
	threshold float64
	// labelReader, when set, cross-checks printed labels against the table.
	labelReader ocr.LabelReader
}

func NewExtractor(crowdRoot string, template image.Image, registrar register.Registrar, threshold float64, labelReader ocr.LabelReader) *Extractor {
	return &Extractor{
		crowdRoot:   crowdRoot,
		template:    template,
		registrar:   registrar,
		threshold:   threshold,
		labelReader: labelReader,
	}
}

func (e *Extractor) ScribedDir() string {
	return filepath.Join(e.crowdRoot, "scribed")
}

func (e *Extractor) ErrorDir() string {
	return filepath.Join(e.crowdRoot, "errors")
}

func (e *Extractor) ProcessedDir(seed string) string {
	return filepath.Join(e.crowdRoot, "processed", seed)
}

// ProcessPDF extracts the crops of every page in file. Pages without a
// decodable scan or that fail registration or QR decoding are skipped with a
// warning; any other failure stops processing.
func (e *Extractor) ProcessPDF(ctx context.Context, file string) ([]models.PageReport, error) {
	pages, err := PageImages(file)
	if err != nil {
		return nil, err
	}
	return e.processPages(ctx, file, pages)
}

func (e *Extractor) processPages(ctx context.Context, file string, pages []image.Image) ([]models.PageReport, error) {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	reports := make([]models.PageReport, 0, len(pages))
	for page, img := range pages {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if img == nil {
			slog.Warn("Skipping page without scan image", "file", name, "page", page)
			reports = append(reports, models.PageReport{Page: page, Skipped: true, Reason: "no decodable page image"})
			continue
		}
		slog.Info("Processing page", "page", page, "of", len(pages), "file", file)

		report, err := e.processPage(ctx, img, name, page)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("failed to process page %d of %s: %w", page, file, err)
		}
	}
	return reports, nil
}

func (e *Extractor) processPage(ctx context.Context, img image.Image, name string, page int) (models.PageReport, error) {
	report := models.PageReport{Page: page}
	tb := e.template.Bounds()
	resized := imaging.Resize(img, tb.Dx(), tb.Dy(), imaging.Linear)

	registered, err := e.registrar.Register(resized, e.template, e.threshold)
	if err != nil {
		slog.Warn("Image registration failed", "file", name, "page", page, "err", err)
		report.Skipped, report.Reason = true, err.Error()
		return report, nil
	}

	seed, err := SeedFromQR(registered, fmt.Sprintf("%s-%d", name, page), e.ErrorDir())
	if err != nil {
		slog.Warn("Decode QR seed failed", "file", name, "page", page, "err", err)
		report.Skipped, report.Reason = true, err.Error()
		return report, nil
	}
	report.Seed = seed

	labels, err := LoadLabelTable(e.crowdRoot, seed)
	if err != nil {
		return report, err
	}

	if e.labelReader != nil {
		report.Mismatch = e.verifyLabels(ctx, registered, labels)
	}

	saveDir := e.ProcessedDir(seed)
	report.OutputDir = saveDir
	report.Crops, err = ExtractProcessSaveCrops(registered, labels, saveDir)
	if err != nil {
		return report, err
	}
	slog.Info("Saved crops", "file", name, "page", page, "seed", seed, "crops", report.Crops)
	return report, nil
}

// verifyLabels reads the printed label of every cell and lists the cells
// whose text disagrees with the label table. Disagreements are only logged.
func (e *Extractor) verifyLabels(ctx context.Context, page image.Image, labels models.LabelTable) []string {
	var mismatches []string
	for _, cell := range Cells() {
		want, ok := labels[cell]
		if !ok {
			continue
		}
		crop, err := Crop(page, LabelCoord(cell))
		if err != nil {
			slog.Warn("Failed to crop printed label", "col", cell.Col, "row", cell.Row, "err", err)
			continue
		}
		got, err := e.labelReader.ReadLabel(ctx, crop)
		if err != nil {
			slog.Warn("Failed to read printed label", "col", cell.Col, "row", cell.Row, "err", err)
			continue
		}
		if got != ocr.NormalizeLabel(want) {
			slog.Warn("Printed label does not match label table", "col", cell.Col, "row", cell.Row, "want", want, "got", got)
			mismatches = append(mismatches, fmt.Sprintf("%d,%d: want %q got %q", cell.Col, cell.Row, want, got))
		}
	}
	return mismatches
}

// Run processes every scribed PDF that has not been extracted yet and tags
// it with the extracted- prefix afterwards. With reset, the prefix is first
// stripped from all files so everything is processed again.
func (e *Extractor) Run(ctx context.Context, reset bool) ([]string, error) {
	dir := e.ScribedDir()
	if err := os.MkdirAll(e.ErrorDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", e.ErrorDir(), err)
	}

	if reset {
		if err := resetExtracted(dir); err != nil {
			return nil, err
		}
	}

	files, err := pendingFiles(dir)
	if err != nil {
		return nil, err
	}

	var processed []string
	for _, file := range files {
		if _, err := e.ProcessPDF(ctx, file); err != nil {
			return processed, err
		}
		tagged := filepath.Join(filepath.Dir(file), extractedPrefix+filepath.Base(file))
		if err := os.Rename(file, tagged); err != nil {
			return processed, fmt.Errorf("failed to tag %s as extracted: %w", file, err)
		}
		processed = append(processed, tagged)
	}
	slog.Info("Extraction finished", "dir", dir, "files", len(processed))
	return processed, nil
}

func scribedPDFs(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return files, nil
}

func resetExtracted(dir string) error {
	files, err := scribedPDFs(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		base := filepath.Base(file)
		clean := strings.ReplaceAll(base, extractedPrefix, "")
		if clean == base {
			continue
		}
		if err := os.Rename(file, filepath.Join(dir, clean)); err != nil {
			return fmt.Errorf("failed to reset %s: %w", file, err)
		}
	}
	return nil
}

func pendingFiles(dir string) ([]string, error) {
	files, err := scribedPDFs(dir)
	if err != nil {
		return nil, err
	}
	pending := files[:0]
	for _, file := range files {
		if !strings.Contains(filepath.Base(file), extractedPrefix) {
			pending = append(pending, file)
		}
	}
	return pending, nil
}
