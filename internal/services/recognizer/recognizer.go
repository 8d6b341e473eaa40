package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
)

// Model is a trainable word recognizer.
type Model interface {
	TrainBatch(ctx context.Context, batch models.Batch) (float64, error)
	InferBatch(ctx context.Context, batch models.Batch) ([]string, error)
	Save(ctx context.Context) error
}

// RemoteModel drives a recognizer served over HTTP. Batches are posted as
// JSON with each image base64 encoded as PNG.
type RemoteModel struct {
	baseURL string
	client  *http.Client
}

type initRequest struct {
	CharList   string `json:"char_list"`
	Checkpoint string `json:"checkpoint"`
	Restore    bool   `json:"restore"`
}

type batchRequest struct {
	Images           []string `json:"images"`
	GroundTruthTexts []string `json:"ground_truth_texts,omitempty"`
}

type trainResponse struct {
	Loss float64 `json:"loss"`
}

type inferResponse struct {
	Recognized []string `json:"recognized"`
}

// NewRemoteModel registers the output alphabet and checkpoint directory with
// the server at baseURL. restore asks the server to load the last saved
// weights instead of starting fresh.
func NewRemoteModel(ctx context.Context, baseURL string, charList []rune, checkpoint string, restore bool) (*RemoteModel, error) {
	m := &RemoteModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 600 * time.Second,
		},
	}

	req := initRequest{CharList: string(charList), Checkpoint: checkpoint, Restore: restore}
	if err := m.post(ctx, "/init", req, nil); err != nil {
		return nil, fmt.Errorf("failed to initialize model: %w", err)
	}
	slog.Info("Initialized remote model", "url", m.baseURL, "chars", len(charList), "restore", restore)
	return m, nil
}

func (m *RemoteModel) TrainBatch(ctx context.Context, batch models.Batch) (float64, error) {
	req, err := encodeBatch(batch)
	if err != nil {
		return 0, err
	}
	var resp trainResponse
	if err := m.post(ctx, "/train", req, &resp); err != nil {
		return 0, fmt.Errorf("failed to train batch: %w", err)
	}
	return resp.Loss, nil
}

func (m *RemoteModel) InferBatch(ctx context.Context, batch models.Batch) ([]string, error) {
	req, err := encodeBatch(batch)
	if err != nil {
		return nil, err
	}
	// recognition must not depend on the answers
	req.GroundTruthTexts = nil

	var resp inferResponse
	if err := m.post(ctx, "/infer", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to infer batch: %w", err)
	}
	if len(resp.Recognized) != batch.Len() {
		return nil, fmt.Errorf("model returned %d texts for %d images", len(resp.Recognized), batch.Len())
	}
	return resp.Recognized, nil
}

func (m *RemoteModel) Save(ctx context.Context) error {
	if err := m.post(ctx, "/save", struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

func encodeBatch(batch models.Batch) (batchRequest, error) {
	req := batchRequest{
		Images:           make([]string, batch.Len()),
		GroundTruthTexts: batch.GroundTruthTexts,
	}
	for i, img := range batch.Images {
		data, err := utils.EncodePNG(img)
		if err != nil {
			return batchRequest{}, fmt.Errorf("failed to encode image %d: %w", i, err)
		}
		req.Images[i] = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

func (m *RemoteModel) post(ctx context.Context, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
