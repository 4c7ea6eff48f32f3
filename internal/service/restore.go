package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/internal/storage"
)

type RestoreResult struct {
	SubmissionID uuid.UUID `json:"id"`
	NewVersion   int       `json:"version"`
}

// Restore appends a copy of an older version's payload as the newest version.
// The older version is left untouched.
func (s *Service) Restore(ctx context.Context, submissionID uuid.UUID, number int) (*RestoreResult, error) {
	p, err := currentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSubmission(ctx, p, sub); err != nil {
		return nil, err
	}
	source, ok := sub.Version(number)
	if !ok {
		return nil, fmt.Errorf("version %d: %w", number, errdefs.ErrNotFound)
	}

	if source.Sealed() && s.sealer != nil {
		if err := s.verifyStored(ctx, source); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	locator, err := s.copyForRestore(ctx, source.Locator, number, now)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, fmt.Errorf("stored payload missing: %w", errdefs.ErrIntegrity)
		}
		return nil, fmt.Errorf("failed to duplicate file: %w", err)
	}

	updated, next, err := s.repo.AppendVersionTo(ctx, submissionID, func(next int) (domain.Version, error) {
		return source.CloneAs(next, locator, now), nil
	})
	if err != nil {
		if rmErr := s.store.Remove(locator); rmErr != nil {
			s.logger.Warn(ctx, "cleanup of restored copy failed", zap.String("locator", locator), zap.Error(rmErr))
		}
		return nil, err
	}

	s.logger.Info(ctx, "submission version restored",
		zap.String("submission_id", submissionID.String()),
		zap.Int("from", number),
		zap.Int("version", next),
	)
	s.recordAudit(ctx, p, domain.AuditActionRestore, updated, next)

	return &RestoreResult{SubmissionID: submissionID, NewVersion: next}, nil
}

// copyForRestore duplicates the source payload under a fresh restore name.
// Restores landing in the same millisecond move to the next one.
func (s *Service) copyForRestore(ctx context.Context, src string, number int, now time.Time) (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		locator := storage.RestoreLocator(src, number, now.Add(time.Duration(attempt)*time.Millisecond))
		err := s.store.Copy(ctx, src, locator)
		if errors.Is(err, errdefs.ErrConflict) {
			continue
		}
		return locator, err
	}
	return "", fmt.Errorf("no free restore name for version %d: %w", number, errdefs.ErrConflict)
}

// verifyStored authenticates a sealed payload so a damaged file is never
// copied forward.
func (s *Service) verifyStored(ctx context.Context, v domain.Version) error {
	f, err := s.store.Open(v.Locator)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return fmt.Errorf("stored payload missing: %w", errdefs.ErrIntegrity)
		}
		return err
	}
	defer f.Close()
	return s.sealer.Verify(ctx, v.Envelope, f)
}
