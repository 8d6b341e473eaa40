package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/storage"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
	"github.com/lehigh-university-libraries/htr-prep/pkg/metrics"
)

const maxUploadSize = 256 << 20

// PDFProcessor extracts handwriting crops from one worksheet PDF.
type PDFProcessor interface {
	ProcessPDF(ctx context.Context, file string) ([]models.PageReport, error)
}

type Handler struct {
	jobStore  *storage.JobStore
	processor PDFProcessor
	uploadDir string

	// extraction runs one PDF at a time
	extractMu sync.Mutex
	jobs      sync.WaitGroup
}

func New(processor PDFProcessor, uploadDir string) *Handler {
	return &Handler{
		jobStore:  storage.New(),
		processor: processor,
		uploadDir: uploadDir,
	}
}

// Wait blocks until every accepted extraction job has finished.
func (h *Handler) Wait() {
	h.jobs.Wait()
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondWithError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		utils.RespondWithError(w, "Only PDF worksheets are accepted", http.StatusBadRequest)
		return
	}

	fileData, err := io.ReadAll(file)
	if err != nil {
		utils.RespondWithError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		utils.RespondWithError(w, "Failed to create uploads directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	md5Hash := utils.CalculateDataMD5(fileData)
	baseFilename := strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	pdfPath := filepath.Join(h.uploadDir, baseFilename+"_"+md5Hash+".pdf")
	if err := os.WriteFile(pdfPath, fileData, 0644); err != nil {
		utils.RespondWithError(w, "Failed to save file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Worksheet saved", "filename", header.Filename, "md5", md5Hash)

	now := time.Now()
	job := models.ExtractionJob{
		ID:        fmt.Sprintf("%s_%d", md5Hash[:12], now.UnixNano()),
		Filename:  header.Filename,
		MD5:       md5Hash,
		Status:    models.JobStatusPending,
		Pages:     []models.PageReport{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.jobStore.Set(job)

	h.jobs.Add(1)
	go h.runJob(job.ID, pdfPath)

	utils.RespondWithJSON(w, job, http.StatusAccepted)
}

func (h *Handler) runJob(jobID, pdfPath string) {
	defer h.jobs.Done()

	h.extractMu.Lock()
	defer h.extractMu.Unlock()

	h.jobStore.Update(jobID, func(j *models.ExtractionJob) {
		j.Status = models.JobStatusRunning
		j.UpdatedAt = time.Now()
	})

	reports, err := h.processor.ProcessPDF(context.Background(), pdfPath)

	h.jobStore.Update(jobID, func(j *models.ExtractionJob) {
		j.Pages = append(j.Pages, reports...)
		j.UpdatedAt = time.Now()
		if err != nil {
			j.Status = models.JobStatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = models.JobStatusCompleted
	})

	if err != nil {
		slog.Error("Extraction failed", "job", jobID, "err", err)
		return
	}
	slog.Info("Extraction completed", "job", jobID, "pages", len(reports))
}

func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		utils.RespondWithJSON(w, h.jobStore.GetAll(), http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleJobDetail(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")

	job, exists := h.jobStore.Get(jobID)
	if !exists {
		utils.RespondWithError(w, "Job not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case "GET":
		utils.RespondWithJSON(w, job, http.StatusOK)
	case "DELETE":
		if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
			utils.RespondWithError(w, "Job is still in progress", http.StatusConflict)
			return
		}
		h.jobStore.Delete(jobID)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics scores a recognized transcription against its ground truth.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Original  string `json:"original"`
		Corrected string `json:"corrected"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		slog.Error("Unable to decode metrics data", "err", err)
		utils.RespondWithError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	utils.RespondWithJSON(w, metrics.CalculateAccuracyMetrics(request.Original, request.Corrected), http.StatusOK)
}

func HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Unable to write healthcheck", "err", err)
	}
}
