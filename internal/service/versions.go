package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

type ListVersionsInput struct {
	ProjectID     string `validate:"required,uuid"`
	MilestoneType string `validate:"required,max=64"`
	StudentID     string `validate:"omitempty,uuid"`
}

type VersionSummary struct {
	SubmissionID uuid.UUID         `json:"submissionId"`
	Number       int               `json:"versionNumber"`
	CreatedAt    time.Time         `json:"createdAt"`
	Checksum     string            `json:"checksum"`
	OriginalName string            `json:"originalName"`
	MediaType    string            `json:"mediaType"`
	Size         int64             `json:"size"`
	Sealed       bool              `json:"encrypted"`
	ScanStatus   domain.ScanStatus `json:"scanStatus"`
	Comments     *string           `json:"comments,omitempty"`
}

// ListVersions returns the version history of one (project, milestone,
// student) submission, oldest first. Students see their own history; the
// supervising faculty and admins name the student.
func (s *Service) ListVersions(ctx context.Context, in ListVersionsInput) ([]VersionSummary, error) {
	p, err := currentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	projectID := uuid.MustParse(in.ProjectID)

	owner := p.ID
	switch p.Role {
	case domain.UserRoleStudent:
		if in.StudentID != "" && uuid.MustParse(in.StudentID) != p.ID {
			return nil, fmt.Errorf("students only list their own versions: %w", errdefs.ErrPermissionDenied)
		}
		member, err := s.registry.IsProjectMember(ctx, projectID, p.ID)
		if err != nil {
			return nil, dependency("project registry", err)
		}
		if !member {
			return nil, fmt.Errorf("not a member of this project: %w", errdefs.ErrPermissionDenied)
		}
	case domain.UserRoleFaculty, domain.UserRoleAdmin:
		if in.StudentID == "" {
			return nil, fmt.Errorf("studentId is required: %w", errdefs.ErrValidation)
		}
		owner = uuid.MustParse(in.StudentID)
		if p.Role == domain.UserRoleFaculty {
			faculty, err := s.registry.SupervisingFaculty(ctx, projectID)
			if err != nil {
				return nil, dependency("project registry", err)
			}
			if faculty == nil || *faculty != p.ID {
				return nil, fmt.Errorf("not the supervising faculty: %w", errdefs.ErrPermissionDenied)
			}
		}
	default:
		return nil, fmt.Errorf("role %q cannot list versions: %w", p.Role, errdefs.ErrPermissionDenied)
	}

	sub, err := s.repo.FindByKey(ctx, domain.SubmissionKey{ProjectID: projectID, MilestoneType: in.MilestoneType, StudentID: owner})
	if errors.Is(err, errdefs.ErrNotFound) {
		return []VersionSummary{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]VersionSummary, 0, len(sub.Versions))
	for _, v := range sub.Versions {
		out = append(out, VersionSummary{
			SubmissionID: sub.ID,
			Number:       v.Number,
			CreatedAt:    v.CreatedAt,
			Checksum:     v.Checksum.Hex,
			OriginalName: v.OriginalName,
			MediaType:    v.MediaType,
			Size:         v.Size,
			Sealed:       v.Sealed(),
			ScanStatus:   v.Scan.Status,
			Comments:     v.Comments,
		})
	}
	return out, nil
}
