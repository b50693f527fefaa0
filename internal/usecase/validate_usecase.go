package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
	"github.com/yz4230/release-promoter/internal/storage"
)

type ValidateQueueUsecase interface {
	// Execute loads and checks release/queue.yaml and returns the entry count per status.
	Execute(ctx context.Context) (map[entity.Status]int, error)
}

type validateQueueUsecaseImpl struct {
	workspace storage.Workspace
}

func (v *validateQueueUsecaseImpl) Execute(ctx context.Context) (map[entity.Status]int, error) {
	doc, err := v.workspace.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Counts(), nil
}

func NewValidateQueueUsecase(injector *do.Injector) (ValidateQueueUsecase, error) {
	return &validateQueueUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}

type ValidateEvidenceUsecase interface {
	// Execute checks the given records, or every record when ids is empty,
	// and returns how many were checked.
	Execute(ctx context.Context, ids []entity.ID) (int, error)
}

type validateEvidenceUsecaseImpl struct {
	workspace storage.Workspace
}

func (v *validateEvidenceUsecaseImpl) Execute(ctx context.Context, ids []entity.ID) (int, error) {
	var records []entity.EvidenceRecord
	if len(ids) == 0 {
		all, err := v.workspace.ListEvidence(ctx)
		if err != nil {
			return 0, err
		}
		records = all
	} else {
		for _, id := range ids {
			r, err := v.workspace.LoadEvidence(ctx, id)
			if err != nil {
				return 0, err
			}
			records = append(records, *r)
		}
	}

	var errs []error
	for _, r := range records {
		if err := evidence.Validate(r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", storage.EvidencePath(r.ID), err))
		}
	}
	return len(records), errors.Join(errs...)
}

func NewValidateEvidenceUsecase(injector *do.Injector) (ValidateEvidenceUsecase, error) {
	return &validateEvidenceUsecaseImpl{
		workspace: do.MustInvoke[storage.Workspace](injector),
	}, nil
}
