package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/storage"
)

type GetEvidenceUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*entity.EvidenceRecord, error)
}

type getEvidenceUsecaseImpl struct {
	workspace storage.Workspace
}

// Execute implements GetEvidenceUsecase.
func (g *getEvidenceUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*entity.EvidenceRecord, error) {
	return g.workspace.LoadEvidence(ctx, id)
}

func NewGetEvidenceUsecase(injector *do.Injector) (GetEvidenceUsecase, error) {
	return &getEvidenceUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
