package utils

import (
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestCalculateDataMD5(t *testing.T) {
	if got := CalculateDataMD5([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("CalculateDataMD5() = %s", got)
	}
}

func TestCalculateFileMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := CalculateFileMD5(path)
	if err != nil {
		t.Fatalf("CalculateFileMD5() error: %v", err)
	}
	if got != CalculateDataMD5([]byte("hello")) {
		t.Errorf("file and data hashes differ: %s", got)
	}
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, "nope", http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "nope" {
		t.Errorf("error = %q, want %q", body["error"], "nope")
	}
}

func TestSaveAndLoadGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(2, 1, color.Gray{Y: 0})

	path := filepath.Join(t.TempDir(), "nested", "word.png")
	if err := SaveImage(path, img); err != nil {
		t.Fatalf("SaveImage() error: %v", err)
	}

	got, err := LoadGray(path)
	if err != nil {
		t.Fatalf("LoadGray() error: %v", err)
	}
	if got.Bounds().Size() != image.Pt(8, 4) {
		t.Fatalf("size = %v, want 8x4", got.Bounds().Size())
	}
	if got.GrayAt(2, 1).Y != 0 || got.GrayAt(0, 0).Y != 255 {
		t.Errorf("pixels not preserved: (2,1)=%d (0,0)=%d", got.GrayAt(2, 1).Y, got.GrayAt(0, 0).Y)
	}
}

func TestLoadGrayMissingFile(t *testing.T) {
	if _, err := LoadGray(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename("and/or"); got != "and_or" {
		t.Errorf("SanitizeFilename() = %q", got)
	}
}
