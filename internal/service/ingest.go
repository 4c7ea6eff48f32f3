package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/digest"
	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/internal/storage"
)

// sniffLen is how much of an upload is inspected to detect its content type.
const sniffLen = 3072

type UploadInput struct {
	ProjectID     string `validate:"required,uuid"`
	MilestoneType string `validate:"required,min=1,max=64,excludesall=/\\"`
	Filename      string `validate:"required,max=255"`
	// Size is the declared length, or -1 when unknown.
	Size int64
	Body io.Reader `validate:"required"`
}

type UploadResult struct {
	SubmissionID uuid.UUID `json:"id"`
	Version      int       `json:"version"`
}

type stagedUpload struct {
	locator   string
	path      string
	checksum  domain.Digest
	size      int64
	mediaType string
}

// Upload ingests a new file version for the calling student.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	p, err := currentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != domain.UserRoleStudent {
		return nil, fmt.Errorf("only students upload submissions: %w", errdefs.ErrPermissionDenied)
	}

	projectID, err := uuid.Parse(in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("projectId must be a uuid: %w", errdefs.ErrValidation)
	}
	member, err := s.registry.IsProjectMember(ctx, projectID, p.ID)
	if err != nil {
		return nil, dependency("project registry", err)
	}
	if !member {
		return nil, fmt.Errorf("not a member of this project: %w", errdefs.ErrPermissionDenied)
	}

	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	_, ext := storage.SplitName(in.Filename)
	mediaType, err := checkExtension(ext)
	if err != nil {
		return nil, err
	}
	if err := checkSize(in.Size); err != nil {
		return nil, err
	}

	key := domain.SubmissionKey{ProjectID: projectID, MilestoneType: in.MilestoneType, StudentID: p.ID}
	logger := s.logger.With(zap.String("project_id", projectID.String()), zap.String("milestone", in.MilestoneType))

	staged, err := s.stage(ctx, key, in.Filename, ext, in.Body)
	if err != nil {
		return nil, err
	}
	staged.mediaType = mediaType

	// Until the version is committed every artifact written here is removed.
	committed := false
	final := staged.locator
	defer func() {
		if committed {
			return
		}
		for _, locator := range []string{staged.locator, final} {
			if err := s.store.Remove(locator); err != nil {
				logger.Warn(ctx, "cleanup of upload artifact failed", zap.String("locator", locator), zap.Error(err))
			}
		}
	}()

	scan := domain.ScanResult{Status: domain.ScanStatusSkipped, ScannedAt: s.now().UTC(), Details: "AV engine not configured"}
	if s.scanner != nil {
		scan = s.scanner.Scan(ctx, staged.path)
	}
	if scan.Status == domain.ScanStatusInfected {
		logger.Warn(ctx, "upload flagged by malware scan", zap.String("engine", scan.Engine), zap.String("details", scan.Details))
	}

	sealedLocator := staged.locator + storage.SealedSuffix
	env, sealErr := s.seal(ctx, staged.locator, sealedLocator)
	switch {
	case sealErr == nil:
		final = sealedLocator
		if err := s.store.Remove(staged.locator); err != nil {
			return nil, fmt.Errorf("removing staged plaintext: %w", err)
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case s.cfg.AllowPlaintextFallback && !s.cfg.production():
		logger.Warn(ctx, "sealing failed, storing legacy plaintext", zap.Error(sealErr))
		env = nil
	default:
		logger.Error(ctx, "sealing failed", zap.Error(sealErr))
		return nil, fmt.Errorf("failed to secure file: %v: %w", sealErr, errdefs.ErrDependency)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub, number, err := s.repo.AppendVersion(ctx, key, func(next int) (domain.Version, error) {
		return domain.Version{
			Number:       next,
			Locator:      final,
			Checksum:     staged.checksum,
			OriginalName: filepath.Base(strings.ReplaceAll(in.Filename, "\\", "/")),
			MediaType:    staged.mediaType,
			Size:         staged.size,
			Envelope:     env,
			Scan:         scan,
			CreatedAt:    now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	committed = true

	version, _ := sub.Version(number)
	logger.Info(ctx, "submission version committed",
		zap.String("submission_id", sub.ID.String()),
		zap.Int("version", number),
		zap.Bool("sealed", env != nil),
		zap.String("scan", string(scan.Status)),
	)

	s.recordAudit(ctx, p, domain.AuditActionUpload, sub, number)
	s.announceUpload(ctx, sub, version)

	return &UploadResult{SubmissionID: sub.ID, Version: number}, nil
}

// stage writes the body to its staging locator, hashing and size-checking it
// in the same pass. On error nothing is left behind.
func (s *Service) stage(ctx context.Context, key domain.SubmissionKey, filename, ext string, body io.Reader) (_ *stagedUpload, err error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(storage.ContextReader(ctx, body), head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, readError(err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("file is empty: %w", errdefs.ErrValidation)
	}
	if err := checkContent(ext, head); err != nil {
		return nil, err
	}

	hasher, err := digest.New(s.cfg.DigestAlgorithm)
	if err != nil {
		return nil, err
	}

	locator, f, err := s.createStaged(key, filename)
	if err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = s.store.Remove(locator)
		}
	}()

	src := io.MultiReader(bytes.NewReader(head), storage.ContextReader(ctx, body))
	written, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, readError(err)
	}
	if err := checkSize(written); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}

	return &stagedUpload{
		locator:  locator,
		path:     f.Name(),
		checksum: hasher.Sum(),
		size:     written,
	}, nil
}

// createStaged claims a staging locator whose plaintext and sealed names are
// both unused. Uploads landing in the same millisecond move to the next one.
func (s *Service) createStaged(key domain.SubmissionKey, filename string) (string, *os.File, error) {
	now := s.now()
	for attempt := 0; attempt < 64; attempt++ {
		locator := storage.StageLocator(key, filename, now.Add(time.Duration(attempt)*time.Millisecond))
		f, err := s.store.Create(locator)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		// The staged name is freed only after its sealed sibling exists, so
		// checking after the claim cannot miss a concurrent upload.
		if sealed, err := s.store.Open(locator + storage.SealedSuffix); err == nil {
			_ = sealed.Close()
			_ = f.Close()
			_ = s.store.Remove(locator)
			continue
		}
		return locator, f, nil
	}
	return "", nil, fmt.Errorf("no free staging name for %q: %w", filename, errdefs.ErrConflict)
}

// seal encrypts the staged file into dst. dst only appears once it is
// complete and synced.
func (s *Service) seal(ctx context.Context, staged, dst string) (*domain.Envelope, error) {
	if s.sealer == nil {
		return nil, errors.New("encryption key unavailable")
	}
	src, err := s.store.Open(staged)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var env *domain.Envelope
	err = s.store.WriteAtomic(ctx, dst, func(w io.Writer) error {
		var sealErr error
		env, sealErr = s.sealer.Seal(ctx, w, src)
		return sealErr
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func readError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("file exceeds the upload limit: %w", errdefs.ErrValidation)
	}
	return fmt.Errorf("reading upload: %w", err)
}
