package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/internal/storage"
)

// Download is an authorized handle on one stored version. Nothing is read
// until WriteTo is called.
type Download struct {
	Filename    string
	MediaType   string
	Size        int64
	Disposition domain.Disposition
	Checksum    domain.Digest

	svc     *Service
	p       principal
	sub     *domain.Submission
	version domain.Version
}

// Open authorizes the caller and locates a version for download or preview.
func (s *Service) Open(ctx context.Context, submissionID uuid.UUID, number int, disposition domain.Disposition) (*Download, error) {
	p, err := currentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if disposition != domain.DispositionInline && disposition != domain.DispositionAttachment {
		return nil, fmt.Errorf("unknown disposition %q: %w", disposition, errdefs.ErrValidation)
	}

	sub, err := s.repo.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSubmission(ctx, p, sub); err != nil {
		return nil, err
	}
	v, ok := sub.Version(number)
	if !ok {
		return nil, fmt.Errorf("version %d: %w", number, errdefs.ErrNotFound)
	}

	filename := v.OriginalName
	if filename == "" {
		filename = fmt.Sprintf("submission-v%d", v.Number)
	}
	return &Download{
		Filename:    filename,
		MediaType:   v.MediaType,
		Size:        v.Size,
		Disposition: disposition,
		Checksum:    v.Checksum,
		svc:         s,
		p:           p,
		sub:         sub,
		version:     v,
	}, nil
}

// WriteTo streams the plaintext to w. Sealed payloads are fully
// authenticated before the first byte is written, so an ErrIntegrity
// failure leaves w untouched.
func (d *Download) WriteTo(ctx context.Context, w io.Writer) error {
	s := d.svc
	f, err := s.store.Open(d.version.Locator)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			s.logger.Error(ctx, "stored payload missing",
				zap.String("submission_id", d.sub.ID.String()), zap.Int("version", d.version.Number))
			return fmt.Errorf("stored payload missing: %w", errdefs.ErrIntegrity)
		}
		return err
	}
	defer f.Close()

	if d.version.Sealed() {
		if s.sealer == nil {
			return fmt.Errorf("encryption key unavailable: %w", errdefs.ErrDependency)
		}
		if err := s.sealer.Unseal(ctx, d.version.Envelope, w, f); err != nil {
			if errors.Is(err, errdefs.ErrIntegrity) {
				s.logger.Error(ctx, "integrity check failed on retrieval",
					zap.String("submission_id", d.sub.ID.String()), zap.Int("version", d.version.Number), zap.Error(err))
			}
			return err
		}
	} else {
		if _, err := io.Copy(w, storage.ContextReader(ctx, f)); err != nil {
			return err
		}
	}

	action := domain.AuditActionDownload
	if d.Disposition == domain.DispositionInline {
		action = domain.AuditActionPreview
	}
	s.recordAudit(ctx, d.p, action, d.sub, d.version.Number)
	return nil
}
