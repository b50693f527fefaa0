package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
	"github.com/yz4230/release-promoter/internal/storage"
)

type ListEvidenceUsecase interface {
	// Execute returns records newest first; limit <= 0 returns all.
	Execute(ctx context.Context, limit int) ([]entity.EvidenceRecord, error)
}

type listEvidenceUsecaseImpl struct {
	workspace storage.Workspace
}

func (l *listEvidenceUsecaseImpl) Execute(ctx context.Context, limit int) ([]entity.EvidenceRecord, error) {
	records, err := l.workspace.ListEvidence(ctx)
	if err != nil {
		return nil, err
	}
	feed := evidence.Feed(records)
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return feed, nil
}

func NewListEvidenceUsecase(injector *do.Injector) (ListEvidenceUsecase, error) {
	return &listEvidenceUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
