package repository

import (
	"context"

	"github.com/google/uuid"

	"submission_service/internal/domain"
)

// BuildFunc produces the version to commit once its number is known. It runs
// while the submission is locked, so it must not block on the same submission.
type BuildFunc func(next int) (domain.Version, error)

type SubmissionRepository interface {
	// AppendVersion finds or creates the aggregate for key and appends the
	// built version under the next number, atomically. The submission goes
	// back to submitted status.
	AppendVersion(ctx context.Context, key domain.SubmissionKey, build BuildFunc) (*domain.Submission, int, error)
	// AppendVersionTo appends to an existing aggregate and leaves its status
	// and evaluation alone.
	AppendVersionTo(ctx context.Context, submissionID uuid.UUID, build BuildFunc) (*domain.Submission, int, error)
	Get(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error)
	FindByKey(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error)
	// UpdateEvaluation applies fn to the locked aggregate and persists the
	// evaluation fields and version comments it changed.
	UpdateEvaluation(ctx context.Context, submissionID uuid.UUID, fn func(*domain.Submission) error) (*domain.Submission, error)
}

func commitVersion(sub *domain.Submission, v domain.Version, resubmit bool) error {
	if resubmit {
		return sub.Resubmit(v)
	}
	return sub.AppendVersion(v)
}
