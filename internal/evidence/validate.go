package evidence

import (
	"errors"
	"fmt"

	"github.com/yz4230/release-promoter/internal/entity"
)

// Validate is the gate run before records are committed.
func Validate(r entity.EvidenceRecord) error {
	required := []struct {
		path  string
		value string
	}{
		{"evidenceId", r.ID.String()},
		{"service", r.Service},
		{"env", r.Env},
		{"source.repo", r.Source.Repo},
		{"source.commit", r.Source.Commit},
		{"image.ref", r.Image.Ref},
		{"deploy.commitSha", r.Deploy.CommitSha},
	}
	var errs []error
	for _, f := range required {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("missing required field: %s", f.path))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", entity.ErrInvalid, errors.Join(errs...))
	}
	return nil
}
