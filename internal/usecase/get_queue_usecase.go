package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/storage"
)

type GetQueueUsecase interface {
	Execute(ctx context.Context) (entity.QueueDocument, error)
}

type getQueueUsecaseImpl struct {
	workspace storage.Workspace
}

// Execute implements GetQueueUsecase.
func (g *getQueueUsecaseImpl) Execute(ctx context.Context) (entity.QueueDocument, error) {
	return g.workspace.LoadQueue(ctx)
}

func NewGetQueueUsecase(injector *do.Injector) (GetQueueUsecase, error) {
	return &getQueueUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
