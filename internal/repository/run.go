package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
	"gorm.io/gorm"
)

type RunRepository interface {
	Create(ctx context.Context, run *entity.PromotionRun) (*entity.PromotionRun, error)
	GetByID(ctx context.Context, id entity.ID) (*entity.PromotionRun, error)
	// List returns the newest runs first, without entries.
	List(ctx context.Context, limit int) ([]*entity.PromotionRun, error)
	// ListByQueueID returns the per-run outcomes recorded for one queue entry.
	ListByQueueID(ctx context.Context, queueID entity.ID) ([]entity.RunEntry, error)
}

type runRepositoryImpl struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepositoryImpl{db: db}
}

// Create stores a run and its entries in one transaction.
func (r *runRepositoryImpl) Create(ctx context.Context, run *entity.PromotionRun) (*entity.PromotionRun, error) {
	if run.ID.IsZero() {
		run.ID = entity.NewRunID()
	}
	var model PromotionRun
	model.FromEntity(run)
	entries := lo.Map(run.Entries, func(e entity.RunEntry, _ int) RunEntry {
		var m RunEntry
		m.FromEntity(run.ID, e)
		return m
	})

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := gorm.G[PromotionRun](tx).Create(ctx, &model); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return gorm.G[RunEntry](tx).CreateInBatches(ctx, &entries, 100)
	})
	if errors.Is(err, ErrDuplicate) {
		return nil, fmt.Errorf("run %s: %w", run.ID, entity.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r.GetByID(ctx, run.ID)
}

func (r *runRepositoryImpl) GetByID(ctx context.Context, id entity.ID) (*entity.PromotionRun, error) {
	found, err := gorm.G[PromotionRun](r.db).Where("id = ?", id.String()).First(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	entries, err := gorm.G[RunEntry](r.db).Where("run_id = ?", id.String()).Order("id").Find(ctx)
	if err != nil {
		return nil, err
	}
	run := found.ToEntity()
	run.Entries = lo.Map(entries, func(e RunEntry, _ int) entity.RunEntry { return e.ToEntity() })
	return run, nil
}

func (r *runRepositoryImpl) List(ctx context.Context, limit int) ([]*entity.PromotionRun, error) {
	q := gorm.G[PromotionRun](r.db).Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	founds, err := q.Find(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*entity.PromotionRun, len(founds))
	for i, f := range founds {
		res[i] = f.ToEntity()
	}
	return res, nil
}

func (r *runRepositoryImpl) ListByQueueID(ctx context.Context, queueID entity.ID) ([]entity.RunEntry, error) {
	founds, err := gorm.G[RunEntry](r.db).Where("queue_id = ?", queueID.String()).Order("id").Find(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(founds, func(e RunEntry, _ int) entity.RunEntry { return e.ToEntity() }), nil
}
