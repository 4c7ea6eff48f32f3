package service

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"

	"submission_service/internal/domain"
)

type ProjectRegistry interface {
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	// SupervisingFaculty returns nil when no faculty is assigned.
	SupervisingFaculty(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error)
	ProjectName(ctx context.Context, projectID uuid.UUID) (string, error)
}

type UserDirectory interface {
	Contact(ctx context.Context, userID uuid.UUID) (domain.Contact, error)
}

type AuditSink interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type Mailer interface {
	Send(ctx context.Context, m domain.Mail) error
}

type Scanner interface {
	Scan(ctx context.Context, path string) domain.ScanResult
}

type Sealer interface {
	Seal(ctx context.Context, dst io.Writer, src io.Reader) (*domain.Envelope, error)
	Unseal(ctx context.Context, env *domain.Envelope, dst io.Writer, src io.ReadSeeker) error
	Verify(ctx context.Context, env *domain.Envelope, src io.ReadSeeker) error
}

type FileStore interface {
	Path(locator string) (string, error)
	Create(locator string) (*os.File, error)
	Open(locator string) (*os.File, error)
	WriteAtomic(ctx context.Context, locator string, fn func(w io.Writer) error) error
	Copy(ctx context.Context, src, dst string) error
	Remove(locator string) error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, name string, fn func(ctx context.Context) error) bool
}
