package storage

import (
	"testing"
	"time"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
)

func TestJobStore(t *testing.T) {
	s := New()
	now := time.Now()

	s.Set(models.ExtractionJob{ID: "b", Status: models.JobStatusPending, CreatedAt: now.Add(time.Second)})
	s.Set(models.ExtractionJob{ID: "a", Status: models.JobStatusPending, CreatedAt: now})

	job, ok := s.Get("a")
	if !ok || job.Status != models.JobStatusPending {
		t.Fatalf("Get() = %+v, %v", job, ok)
	}

	// mutating a returned copy must not leak into the store
	job.Status = models.JobStatusFailed
	if stored, _ := s.Get("a"); stored.Status != models.JobStatusPending {
		t.Errorf("store changed through copy: %s", stored.Status)
	}

	updated := s.Update("a", func(j *models.ExtractionJob) {
		j.Status = models.JobStatusCompleted
		j.Pages = append(j.Pages, models.PageReport{Page: 0, Crops: 78})
	})
	if !updated {
		t.Fatal("Update() reported missing job")
	}
	if s.Update("missing", func(*models.ExtractionJob) {}) {
		t.Error("Update() of missing job reported success")
	}

	all := s.GetAll()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("GetAll() = %+v", all)
	}
	if all[0].Status != models.JobStatusCompleted || len(all[0].Pages) != 1 {
		t.Errorf("update not visible: %+v", all[0])
	}

	s.Delete("a")
	if _, ok := s.Get("a"); ok {
		t.Error("job still present after Delete()")
	}
}
