package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/storage"
)

type CollectEvidenceUsecase interface {
	// Execute rebuilds the evidence index and summary and returns the written paths.
	Execute(ctx context.Context) ([]string, error)
}

type collectEvidenceUsecaseImpl struct {
	workspace storage.Workspace
}

func (c *collectEvidenceUsecaseImpl) Execute(ctx context.Context) ([]string, error) {
	plan, err := storage.PlanCollect(ctx, c.workspace)
	if err != nil {
		return nil, err
	}
	if err := c.workspace.Apply(ctx, plan); err != nil {
		return nil, err
	}
	return plan.Paths(), nil
}

func NewCollectEvidenceUsecase(injector *do.Injector) (CollectEvidenceUsecase, error) {
	return &collectEvidenceUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
