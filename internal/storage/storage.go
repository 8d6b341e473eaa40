package storage

import (
	"slices"
	"strings"
	"sync"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
)

// JobStore keeps extraction jobs in memory. Callers always receive copies,
// so a job can only change through Set or Update.
type JobStore struct {
	jobs map[string]*models.ExtractionJob
	mu   sync.RWMutex
}

func New() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.ExtractionJob),
	}
}

func (s *JobStore) Get(jobID string) (models.ExtractionJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return models.ExtractionJob{}, false
	}
	return clone(job), true
}

func (s *JobStore) Set(job models.ExtractionJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(&job)
	s.jobs[job.ID] = &c
}

// Update applies fn to the stored job under the write lock. It reports
// whether the job exists.
func (s *JobStore) Update(jobID string, fn func(*models.ExtractionJob)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return false
	}
	fn(job)
	return true
}

// GetAll returns every job, oldest first.
func (s *JobStore) GetAll() []models.ExtractionJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.ExtractionJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, clone(job))
	}
	slices.SortFunc(result, func(a, b models.ExtractionJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func (s *JobStore) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

func clone(job *models.ExtractionJob) models.ExtractionJob {
	c := *job
	c.Pages = slices.Clone(job.Pages)
	return c
}
