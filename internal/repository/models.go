package repository

import (
	"time"

	"github.com/yz4230/release-promoter/internal/entity"
	"gorm.io/gorm"
)

type PromotionRun struct {
	ID         string    `gorm:"primaryKey"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	DryRun     bool
	Commit     string
	Promoted   int
	Retried    int
	Failed     int
	Superseded int
	Skipped    int
	Error      string
	CreatedAt  time.Time
}

func (r *PromotionRun) ToEntity() *entity.PromotionRun {
	return &entity.PromotionRun{
		ID:         entity.NewID(r.ID),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DryRun:     r.DryRun,
		Commit:     r.Commit,
		Promoted:   r.Promoted,
		Retried:    r.Retried,
		Failed:     r.Failed,
		Superseded: r.Superseded,
		Skipped:    r.Skipped,
		Error:      r.Error,
	}
}

func (r *PromotionRun) FromEntity(e *entity.PromotionRun) {
	r.ID = e.ID.String()
	r.StartedAt = e.StartedAt
	r.FinishedAt = e.FinishedAt
	r.DryRun = e.DryRun
	r.Commit = e.Commit
	r.Promoted = e.Promoted
	r.Retried = e.Retried
	r.Failed = e.Failed
	r.Superseded = e.Superseded
	r.Skipped = e.Skipped
	r.Error = e.Error
}

type RunEntry struct {
	gorm.Model
	RunID      string `gorm:"index"`
	QueueID    string `gorm:"index"`
	Service    string
	Env        string
	Outcome    string
	Attempts   int
	Digest     string
	EvidenceID string
	Error      string
}

func (e *RunEntry) ToEntity() entity.RunEntry {
	return entity.RunEntry{
		QueueID:    entity.NewID(e.QueueID),
		Service:    e.Service,
		Env:        e.Env,
		Outcome:    e.Outcome,
		Attempts:   e.Attempts,
		Digest:     e.Digest,
		EvidenceID: entity.NewID(e.EvidenceID),
		Error:      e.Error,
	}
}

func (e *RunEntry) FromEntity(runID entity.ID, en entity.RunEntry) {
	e.RunID = runID.String()
	e.QueueID = en.QueueID.String()
	e.Service = en.Service
	e.Env = en.Env
	e.Outcome = en.Outcome
	e.Attempts = en.Attempts
	e.Digest = en.Digest
	e.EvidenceID = en.EvidenceID.String()
	e.Error = en.Error
}
