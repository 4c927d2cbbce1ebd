package resultstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// jobResultModel is the GORM row shape for the job_results table created by
// this package's embedded migration (db.go). Kept separate from Record so
// the public API never leans on a GORM struct tag directly.
type jobResultModel struct {
	JobID          string `gorm:"column:job_id;primaryKey"`
	JobClass       string `gorm:"column:job_class"`
	JobState       string `gorm:"column:job_state"`
	StartedAt      time.Time
	CompletedAt    time.Time `gorm:"column:completed_at"`
	MissingWorkers string    `gorm:"column:missing_workers"`
	TrackerSummary string    `gorm:"column:tracker_summary"`
}

func (jobResultModel) TableName() string { return "job_results" }

func toModel(r Record) jobResultModel {
	return jobResultModel{
		JobID:          r.JobID,
		JobClass:       r.JobClass,
		JobState:       r.JobState,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		MissingWorkers: strings.Join(r.MissingWorkers, ","),
		TrackerSummary: r.TrackerSummary,
	}
}

func fromModel(m jobResultModel) Record {
	var missing []string
	if m.MissingWorkers != "" {
		missing = strings.Split(m.MissingWorkers, ",")
	}
	return Record{
		JobID:          m.JobID,
		JobClass:       m.JobClass,
		JobState:       m.JobState,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		MissingWorkers: missing,
		TrackerSummary: m.TrackerSummary,
	}
}

// GormStore is a Store backed by a *gorm.DB (sqlite or postgres, see
// db.go's Open). It is the concrete implementation of spec.md's "external
// store considered outside the core".
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened and migrated *gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) SaveJobResult(ctx context.Context, rec Record) error {
	m := toModel(rec)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("resultstore: save job %q: %w", rec.JobID, err)
	}
	return nil
}

func (s *GormStore) GetJobResult(ctx context.Context, jobID string) (Record, error) {
	var m jobResultModel
	err := s.db.WithContext(ctx).First(&m, "job_id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("resultstore: get job %q: %w", jobID, err)
	}
	return fromModel(m), nil
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	var models []jobResultModel
	q := s.db.WithContext(ctx).Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("resultstore: list recent: %w", err)
	}
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, fromModel(m))
	}
	return out, nil
}
