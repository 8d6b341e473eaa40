package recognizer

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
)

type fakeServer struct {
	calls   []string
	init    initRequest
	trained batchRequest
	infered batchRequest
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls = append(f.calls, r.URL.Path)
		switch r.URL.Path {
		case "/init":
			if err := json.NewDecoder(r.Body).Decode(&f.init); err != nil {
				t.Errorf("failed to decode init: %v", err)
			}
		case "/train":
			if err := json.NewDecoder(r.Body).Decode(&f.trained); err != nil {
				t.Errorf("failed to decode train: %v", err)
			}
			_ = json.NewEncoder(w).Encode(trainResponse{Loss: 1.5})
		case "/infer":
			if err := json.NewDecoder(r.Body).Decode(&f.infered); err != nil {
				t.Errorf("failed to decode infer: %v", err)
			}
			out := make([]string, len(f.infered.Images))
			for i := range out {
				out[i] = "word"
			}
			_ = json.NewEncoder(w).Encode(inferResponse{Recognized: out})
		case "/save":
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
}

func testBatch(t *testing.T, texts []string, n int) models.Batch {
	t.Helper()
	images := make([]*image.Gray, n)
	for i := range images {
		images[i] = image.NewGray(image.Rect(0, 0, 8, 4))
	}
	batch, err := models.NewBatch(texts, images)
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func TestRemoteModel(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	m, err := NewRemoteModel(ctx, srv.URL+"/", []rune("abc"), "/ckpt/debug", false)
	if err != nil {
		t.Fatalf("NewRemoteModel() error: %v", err)
	}
	if fake.init.CharList != "abc" || fake.init.Checkpoint != "/ckpt/debug" {
		t.Errorf("init request = %+v", fake.init)
	}

	loss, err := m.TrainBatch(ctx, testBatch(t, []string{"a", "b"}, 2))
	if err != nil {
		t.Fatalf("TrainBatch() error: %v", err)
	}
	if loss != 1.5 {
		t.Errorf("loss = %v, want 1.5", loss)
	}
	if len(fake.trained.Images) != 2 || strings.Join(fake.trained.GroundTruthTexts, ",") != "a,b" {
		t.Errorf("train request = %d images, texts %v", len(fake.trained.Images), fake.trained.GroundTruthTexts)
	}

	got, err := m.InferBatch(ctx, testBatch(t, []string{"a", "b", "c"}, 3))
	if err != nil {
		t.Fatalf("InferBatch() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("InferBatch() returned %d texts, want 3", len(got))
	}
	if fake.infered.GroundTruthTexts != nil {
		t.Errorf("ground truth leaked into inference: %v", fake.infered.GroundTruthTexts)
	}

	if err := m.Save(ctx); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if strings.Join(fake.calls, " ") != "/init /train /infer /save" {
		t.Errorf("calls = %v", fake.calls)
	}
}

func TestRemoteModelServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewRemoteModel(context.Background(), srv.URL, []rune("a"), "", false); err == nil {
		t.Fatal("expected error from failing server")
	}
}
