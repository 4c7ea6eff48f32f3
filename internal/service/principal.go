package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/pkg/ctxdata"
)

type principal struct {
	ID   uuid.UUID
	Role domain.UserRole
}

func currentPrincipal(ctx context.Context) (principal, error) {
	rawID, ok := ctxdata.GetUserID(ctx)
	if !ok {
		return principal{}, fmt.Errorf("no user in context: %w", errdefs.ErrAuthentication)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return principal{}, fmt.Errorf("malformed user id: %w", errdefs.ErrAuthentication)
	}
	role, ok := ctxdata.GetUserRole(ctx)
	if !ok {
		return principal{}, fmt.Errorf("no role in context: %w", errdefs.ErrAuthentication)
	}
	return principal{ID: id, Role: domain.UserRole(role)}, nil
}

// authorizeSubmission allows the owning student and the supervising faculty.
func (s *Service) authorizeSubmission(ctx context.Context, p principal, sub *domain.Submission) error {
	if p.ID == sub.StudentID {
		return nil
	}
	if p.Role == domain.UserRoleFaculty {
		faculty, err := s.registry.SupervisingFaculty(ctx, sub.ProjectID)
		if err != nil {
			return dependency("project registry", err)
		}
		if faculty != nil && *faculty == p.ID {
			return nil
		}
	}
	return fmt.Errorf("not authorized for this submission: %w", errdefs.ErrPermissionDenied)
}

func dependency(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, errdefs.ErrDependency)
}
