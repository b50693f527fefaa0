package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/repository"
)

type GetRunUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*entity.PromotionRun, error)
}

type getRunUsecaseImpl struct {
	runRepository repository.RunRepository
}

// Execute implements GetRunUsecase.
func (g *getRunUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*entity.PromotionRun, error) {
	return g.runRepository.GetByID(ctx, id)
}

func NewGetRunUsecase(injector *do.Injector) (GetRunUsecase, error) {
	return &getRunUsecaseImpl{
		runRepository: do.MustInvoke[repository.RunRepository](injector),
	}, nil
}
