package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/storage"
)

type BackfillEvidenceUsecase interface {
	// Execute stamps sha into the given records and returns the written paths.
	Execute(ctx context.Context, sha string, ids []entity.ID) ([]string, error)
}

type backfillEvidenceUsecaseImpl struct {
	workspace storage.Workspace
}

func (b *backfillEvidenceUsecaseImpl) Execute(ctx context.Context, sha string, ids []entity.ID) ([]string, error) {
	if sha == "" {
		return nil, fmt.Errorf("%w: empty commit sha", entity.ErrInvalid)
	}
	plan, err := storage.PlanBackfill(ctx, b.workspace, ids, sha)
	if err != nil {
		return nil, err
	}
	if err := gate(plan.Records); err != nil {
		return nil, err
	}
	if err := b.workspace.Apply(ctx, plan); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("commit", sha).Int("records", len(plan.Records)).Msg("backfilled deploy commit")
	return plan.Paths(), nil
}

func NewBackfillEvidenceUsecase(injector *do.Injector) (BackfillEvidenceUsecase, error) {
	return &backfillEvidenceUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
