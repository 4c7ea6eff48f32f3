package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

type EvaluationInput struct {
	RubricScores    map[string]float64 `json:"rubricScores" validate:"omitempty,dive,keys,required,max=64,endkeys,gte=0"`
	Comments        *string            `json:"comments" validate:"omitempty,max=5000"`
	Status          *string            `json:"status" validate:"omitempty,oneof=submitted under-review approved revisions-requested"`
	RevisionDueDate *time.Time         `json:"revisionDueDate"`
}

// Evaluate records the supervising faculty's assessment of a submission.
func (s *Service) Evaluate(ctx context.Context, submissionID uuid.UUID, in EvaluationInput) (*domain.Submission, error) {
	p, err := currentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != domain.UserRoleFaculty {
		return nil, fmt.Errorf("only faculty evaluate submissions: %w", errdefs.ErrPermissionDenied)
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	sub, err := s.repo.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	faculty, err := s.registry.SupervisingFaculty(ctx, sub.ProjectID)
	if err != nil {
		return nil, dependency("project registry", err)
	}
	if faculty == nil || *faculty != p.ID {
		return nil, fmt.Errorf("not the supervising faculty: %w", errdefs.ErrPermissionDenied)
	}

	eval := domain.Evaluation{
		FacultyID:       p.ID,
		RubricScores:    in.RubricScores,
		RevisionDueDate: in.RevisionDueDate,
	}
	if in.Comments != nil && *in.Comments != "" {
		eval.Comments = in.Comments
	}
	if in.Status != nil {
		status := domain.SubmissionStatus(*in.Status)
		eval.Status = &status
	}

	updated, err := s.repo.UpdateEvaluation(ctx, submissionID, func(sub *domain.Submission) error {
		return sub.Evaluate(eval, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "submission evaluated",
		zap.String("submission_id", submissionID.String()),
		zap.String("status", string(updated.Status)),
	)
	s.announceEvaluation(ctx, updated, p.ID)
	return updated, nil
}
