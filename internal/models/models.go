package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"
)

var ErrBatchShape = errors.New("batch images and texts do not line up")

// Sample is one labeled word image on disk.
type Sample struct {
	GroundTruthText string `json:"ground_truth_text"`
	FilePath        string `json:"file_path"`
}

// Batch holds preprocessed images and, when known, their transcriptions.
// GroundTruthTexts is nil for pure inference batches.
type Batch struct {
	GroundTruthTexts []string
	Images           []*image.Gray
}

// NewBatch checks that every image has the same shape and, if texts are
// given, that there is exactly one text per image.
func NewBatch(texts []string, images []*image.Gray) (Batch, error) {
	if texts != nil && len(texts) != len(images) {
		return Batch{}, fmt.Errorf("%w: %d texts for %d images", ErrBatchShape, len(texts), len(images))
	}
	for i, img := range images {
		if img == nil {
			return Batch{}, fmt.Errorf("%w: image %d is nil", ErrBatchShape, i)
		}
		if img.Bounds().Size() != images[0].Bounds().Size() {
			return Batch{}, fmt.Errorf("%w: image %d is %v, want %v",
				ErrBatchShape, i, img.Bounds().Size(), images[0].Bounds().Size())
		}
	}
	return Batch{GroundTruthTexts: texts, Images: images}, nil
}

func (b Batch) Len() int {
	return len(b.Images)
}

// CropCoord is a rectangle on a registered worksheet page plus the name of
// what it holds.
type CropCoord struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
}

func (c CropCoord) Rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

// GridCell addresses one handwriting cell on a worksheet page.
type GridCell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// LabelTable maps worksheet cells to the text the scribe was asked to write.
type LabelTable map[GridCell]string

type labelEntry struct {
	Col   int    `json:"col"`
	Row   int    `json:"row"`
	Label string `json:"label"`
}

func (t LabelTable) MarshalJSON() ([]byte, error) {
	entries := make([]labelEntry, 0, len(t))
	for cell, label := range t {
		entries = append(entries, labelEntry{Col: cell.Col, Row: cell.Row, Label: label})
	}
	return json.Marshal(entries)
}

func (t *LabelTable) UnmarshalJSON(data []byte) error {
	var entries []labelEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal label table: %w", err)
	}
	table := make(LabelTable, len(entries))
	for _, e := range entries {
		table[GridCell{Col: e.Col, Row: e.Row}] = e.Label
	}
	*t = table
	return nil
}

// PageReport summarizes what happened to one page of a scanned worksheet.
type PageReport struct {
	Page      int      `json:"page"`
	Seed      string   `json:"seed,omitempty"`
	Crops     int      `json:"crops"`
	Skipped   bool     `json:"skipped"`
	Reason    string   `json:"reason,omitempty"`
	Mismatch  []string `json:"label_mismatches,omitempty"`
	OutputDir string   `json:"output_dir,omitempty"`
}

// ExtractionJob tracks one uploaded worksheet PDF.
type ExtractionJob struct {
	ID        string       `json:"id"`
	Filename  string       `json:"filename"`
	MD5       string       `json:"md5"`
	Status    string       `json:"status"`
	Error     string       `json:"error,omitempty"`
	Pages     []PageReport `json:"pages"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
