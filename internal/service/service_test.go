package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"submission_service/internal/domain"
	"submission_service/internal/envelope"
	"submission_service/internal/errdefs"
	"submission_service/internal/repository"
	"submission_service/internal/storage"
	"submission_service/pkg/ctxdata"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, projectID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) SupervisingFaculty(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error) {
	args := m.Called(ctx, projectID)
	id, _ := args.Get(0).(*uuid.UUID)
	return id, args.Error(1)
}

func (m *mockRegistry) ProjectName(ctx context.Context, projectID uuid.UUID) (string, error) {
	args := m.Called(ctx, projectID)
	return args.String(0), args.Error(1)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *recordingAudit) Append(_ context.Context, e domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return e, nil
}

func (r *recordingAudit) actions() []domain.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// failingRepo wraps a repository and fails every append after building the version.
type failingRepo struct {
	repository.SubmissionRepository
}

func (f failingRepo) AppendVersion(ctx context.Context, key domain.SubmissionKey, build repository.BuildFunc) (*domain.Submission, int, error) {
	if _, err := build(1); err != nil {
		return nil, 0, err
	}
	return nil, 0, errors.New("database unavailable")
}

type fixture struct {
	svc      *Service
	repo     *repository.Memory
	store    *storage.Local
	registry *mockRegistry
	audit    *recordingAudit
	notes    *recordingNotifier

	project  uuid.UUID
	studentA uuid.UUID
	studentB uuid.UUID
	faculty  uuid.UUID
	stranger uuid.UUID
}

func newFixture(t *testing.T, cfg Config, sealer Sealer) *fixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		repo:     repository.NewMemory(),
		store:    store,
		registry: new(mockRegistry),
		audit:    &recordingAudit{},
		notes:    &recordingNotifier{},
		project:  uuid.New(),
		studentA: uuid.New(),
		studentB: uuid.New(),
		faculty:  uuid.New(),
		stranger: uuid.New(),
	}
	faculty := f.faculty
	f.registry.On("IsProjectMember", mock.Anything, f.project, f.studentA).Return(true, nil).Maybe()
	f.registry.On("IsProjectMember", mock.Anything, f.project, mock.Anything).Return(false, nil).Maybe()
	f.registry.On("SupervisingFaculty", mock.Anything, f.project).Return(&faculty, nil).Maybe()
	f.registry.On("ProjectName", mock.Anything, f.project).Return("Capstone", nil).Maybe()

	f.svc = New(cfg, Deps{
		Repo:     f.repo,
		Registry: f.registry,
		Store:    store,
		Sealer:   sealer,
		Audit:    f.audit,
		Notifier: f.notes,
	})
	return f
}

func newCodec(t *testing.T) *envelope.Codec {
	t.Helper()
	codec, err := envelope.NewCodec(bytes.Repeat([]byte{7}, envelope.KeySize))
	require.NoError(t, err)
	return codec
}

func as(id uuid.UUID, role domain.UserRole) context.Context {
	return ctxdata.WithPrincipal(context.Background(), id.String(), string(role))
}

func pdf(body string) []byte {
	return []byte("%PDF-1.4\n" + body + "\n%%EOF\n")
}

func (f *fixture) upload(t *testing.T, name string, body []byte) *UploadResult {
	t.Helper()
	res, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), UploadInput{
		ProjectID:     f.project.String(),
		MilestoneType: "synopsis",
		Filename:      name,
		Size:          int64(len(body)),
		Body:          bytes.NewReader(body),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(f.store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, filepath.Base(path))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func download(t *testing.T, f *fixture, ctx context.Context, id uuid.UUID, n int) []byte {
	t.Helper()
	d, err := f.svc.Open(ctx, id, n, domain.DispositionAttachment)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, d.WriteTo(ctx, &buf))
	return buf.Bytes()
}

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestUpload_AppendsSealedVersions(t *testing.T) {
	f := newFixture(t, Config{Environment: "production"}, newCodec(t))

	first := f.upload(t, "doc.pdf", pdf("one"))
	second := f.upload(t, "doc.pdf", pdf("two"))

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.SubmissionID, second.SubmissionID)

	versions, err := f.svc.ListVersions(as(f.studentA, domain.UserRoleStudent), ListVersionsInput{
		ProjectID:     f.project.String(),
		MilestoneType: "synopsis",
	})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Number)
		assert.True(t, v.Sealed)
		assert.Equal(t, "doc.pdf", v.OriginalName)
		assert.Equal(t, "application/pdf", v.MediaType)
		assert.Equal(t, domain.ScanStatusSkipped, v.ScanStatus)
	}
	assert.Equal(t, sha(pdf("one")), versions[0].Checksum)

	files := f.files(t)
	assert.Len(t, files, 2)
	for _, name := range files {
		assert.True(t, strings.HasSuffix(name, storage.SealedSuffix), name)
	}
	assert.Equal(t, []domain.AuditAction{domain.AuditActionUpload, domain.AuditActionUpload}, f.audit.actions())
}

func TestUpload_Rejected(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	student := as(f.studentA, domain.UserRoleStudent)

	tests := []struct {
		name  string
		ctx   context.Context
		input UploadInput
		want  error
	}{
		{
			name:  "extension not allowed",
			ctx:   student,
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "run.exe", Body: bytes.NewReader([]byte("MZ"))},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "declared size over limit",
			ctx:   student,
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Size: MaxUploadSize + 1, Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "content does not match extension",
			ctx:   student,
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Body: strings.NewReader("plain text pretending")},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "empty file",
			ctx:   student,
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Body: bytes.NewReader(nil)},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "malformed project",
			ctx:   student,
			input: UploadInput{ProjectID: "nope", MilestoneType: "synopsis", Filename: "doc.pdf", Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "milestone with path separator",
			ctx:   student,
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "../etc", Filename: "doc.pdf", Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrValidation,
		},
		{
			name:  "not a project member",
			ctx:   as(f.studentB, domain.UserRoleStudent),
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrPermissionDenied,
		},
		{
			name:  "non-member with disallowed extension",
			ctx:   as(f.stranger, domain.UserRoleStudent),
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "run.exe", Body: bytes.NewReader([]byte("MZ"))},
			want:  errdefs.ErrPermissionDenied,
		},
		{
			name:  "faculty cannot upload",
			ctx:   as(f.faculty, domain.UserRoleFaculty),
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrPermissionDenied,
		},
		{
			name:  "anonymous",
			ctx:   context.Background(),
			input: UploadInput{ProjectID: f.project.String(), MilestoneType: "synopsis", Filename: "doc.pdf", Body: bytes.NewReader(pdf("x"))},
			want:  errdefs.ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Upload(tt.ctx, tt.input)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.files(t))
	assert.Empty(t, f.audit.actions())
	_, err := f.repo.FindByKey(context.Background(), domain.SubmissionKey{ProjectID: f.project, MilestoneType: "synopsis", StudentID: f.studentA})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestUpload_BodyOverLimit(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	body := io.MultiReader(bytes.NewReader(pdf("big")), io.LimitReader(zeroReader{}, MaxUploadSize))

	_, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), UploadInput{
		ProjectID:     f.project.String(),
		MilestoneType: "synopsis",
		Filename:      "doc.pdf",
		Size:          -1,
		Body:          body,
	})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
	assert.Empty(t, f.files(t))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestUpload_FailedAppendLeavesNoFiles(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	f.svc.repo = failingRepo{SubmissionRepository: f.repo}

	_, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), UploadInput{
		ProjectID:     f.project.String(),
		MilestoneType: "synopsis",
		Filename:      "doc.pdf",
		Body:          bytes.NewReader(pdf("lost")),
	})
	require.Error(t, err)
	assert.Empty(t, f.files(t))
	assert.Empty(t, f.audit.actions())
}

// cancellingReader cancels the request after the first read, like a client
// dropping the connection mid-body.
type cancellingReader struct {
	r      io.Reader
	cancel context.CancelFunc
	reads  int
}

func (c *cancellingReader) Read(p []byte) (int, error) {
	c.reads++
	if c.reads > 1 {
		c.cancel()
	}
	return c.r.Read(p)
}

// cancellingSealer cancels the request once sealing has started.
type cancellingSealer struct {
	Sealer
	cancel context.CancelFunc
}

func (c cancellingSealer) Seal(ctx context.Context, dst io.Writer, src io.Reader) (*domain.Envelope, error) {
	c.cancel()
	return c.Sealer.Seal(ctx, dst, src)
}

func TestUpload_CancelledLeavesNothing(t *testing.T) {
	key := func(f *fixture) domain.SubmissionKey {
		return domain.SubmissionKey{ProjectID: f.project, MilestoneType: "synopsis", StudentID: f.studentA}
	}

	t.Run("while staging", func(t *testing.T) {
		f := newFixture(t, Config{}, newCodec(t))
		ctx, cancel := context.WithCancel(as(f.studentA, domain.UserRoleStudent))
		defer cancel()
		body := io.MultiReader(bytes.NewReader(pdf("head")), io.LimitReader(zeroReader{}, 4<<20))

		_, err := f.svc.Upload(ctx, UploadInput{
			ProjectID:     f.project.String(),
			MilestoneType: "synopsis",
			Filename:      "doc.pdf",
			Size:          -1,
			Body:          &cancellingReader{r: body, cancel: cancel},
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.files(t))
		assert.Empty(t, f.audit.actions())
		_, err = f.repo.FindByKey(context.Background(), key(f))
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("while sealing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFixture(t, Config{}, cancellingSealer{Sealer: newCodec(t), cancel: cancel})

		_, err := f.svc.Upload(ctxdata.WithPrincipal(ctx, f.studentA.String(), string(domain.UserRoleStudent)), UploadInput{
			ProjectID:     f.project.String(),
			MilestoneType: "synopsis",
			Filename:      "doc.pdf",
			Body:          bytes.NewReader(pdf(strings.Repeat("x", 200<<10))),
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.files(t))
		assert.Empty(t, f.audit.actions())
		_, err = f.repo.FindByKey(context.Background(), key(f))
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})
}

func TestUpload_WithoutKey(t *testing.T) {
	input := func(f *fixture) UploadInput {
		return UploadInput{
			ProjectID:     f.project.String(),
			MilestoneType: "synopsis",
			Filename:      "doc.pdf",
			Body:          bytes.NewReader(pdf("legacy")),
		}
	}

	t.Run("fallback allowed in development", func(t *testing.T) {
		f := newFixture(t, Config{Environment: "development", AllowPlaintextFallback: true}, nil)
		res, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), input(f))
		require.NoError(t, err)

		sub, err := f.repo.Get(context.Background(), res.SubmissionID)
		require.NoError(t, err)
		v, _ := sub.Version(1)
		assert.False(t, v.Sealed())
		assert.Equal(t, pdf("legacy"), download(t, f, as(f.studentA, domain.UserRoleStudent), res.SubmissionID, 1))
	})

	t.Run("fallback not enabled", func(t *testing.T) {
		f := newFixture(t, Config{Environment: "development"}, nil)
		_, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), input(f))
		assert.ErrorIs(t, err, errdefs.ErrDependency)
		assert.Empty(t, f.files(t))
	})

	t.Run("production ignores fallback", func(t *testing.T) {
		f := newFixture(t, Config{Environment: "production", AllowPlaintextFallback: true}, nil)
		_, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), input(f))
		assert.ErrorIs(t, err, errdefs.ErrDependency)
		assert.Empty(t, f.files(t))
	})
}

func TestDownloadAndPreview(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	body := pdf(strings.Repeat("content ", 20000))
	res := f.upload(t, "Final Report.PDF", body)
	ctx := as(f.studentA, domain.UserRoleStudent)

	d, err := f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionAttachment)
	require.NoError(t, err)
	assert.Equal(t, "Final Report.PDF", d.Filename)
	assert.Equal(t, "application/pdf", d.MediaType)
	assert.Equal(t, int64(len(body)), d.Size)
	assert.Equal(t, sha(body), d.Checksum.Hex)

	var buf bytes.Buffer
	require.NoError(t, d.WriteTo(ctx, &buf))
	assert.Equal(t, body, buf.Bytes())

	p, err := f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionInline)
	require.NoError(t, err)
	require.NoError(t, p.WriteTo(ctx, io.Discard))

	assert.Equal(t, []domain.AuditAction{
		domain.AuditActionUpload, domain.AuditActionDownload, domain.AuditActionPreview,
	}, f.audit.actions())

	_, err = f.svc.Open(ctx, res.SubmissionID, 9, domain.DispositionAttachment)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = f.svc.Open(ctx, uuid.New(), 1, domain.DispositionAttachment)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestDownload_TamperedPayload(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("secret"))
	ctx := as(f.studentA, domain.UserRoleStudent)

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	v, _ := sub.Version(1)
	path, err := f.store.Path(v.Locator)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[3] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	d, err := f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionAttachment)
	require.NoError(t, err)
	var buf bytes.Buffer
	assert.ErrorIs(t, d.WriteTo(ctx, &buf), errdefs.ErrIntegrity)
	assert.Zero(t, buf.Len())

	_, err = f.svc.Restore(ctx, res.SubmissionID, 1)
	assert.ErrorIs(t, err, errdefs.ErrIntegrity)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionUpload}, f.audit.actions())
}

func TestDownload_MissingPayload(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("gone"))
	ctx := as(f.studentA, domain.UserRoleStudent)

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	v, _ := sub.Version(1)
	require.NoError(t, f.store.Remove(v.Locator))

	d, err := f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionAttachment)
	require.NoError(t, err)
	assert.ErrorIs(t, d.WriteTo(ctx, io.Discard), errdefs.ErrIntegrity)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	original := pdf("original")
	f.upload(t, "doc.pdf", original)
	res := f.upload(t, "doc.pdf", pdf("rewrite"))
	ctx := as(f.studentA, domain.UserRoleStudent)

	restored, err := f.svc.Restore(ctx, res.SubmissionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.NewVersion)

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	require.Len(t, sub.Versions, 3)
	v1, _ := sub.Version(1)
	v3, _ := sub.Version(3)
	assert.Equal(t, v1.Checksum, v3.Checksum)
	assert.Equal(t, v1.OriginalName, v3.OriginalName)
	assert.NotEqual(t, v1.Locator, v3.Locator)
	assert.Contains(t, v3.Locator, "-restore-v1-")

	assert.Equal(t, original, download(t, f, ctx, res.SubmissionID, 3))
	assert.Equal(t, original, download(t, f, ctx, res.SubmissionID, 1))

	_, err = f.svc.Restore(ctx, res.SubmissionID, 7)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestRestore_KeepsApprovalLock(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("v1"))
	faculty := as(f.faculty, domain.UserRoleFaculty)
	approved := string(domain.SubmissionStatusApproved)
	underReview := string(domain.SubmissionStatusUnderReview)

	_, err := f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{Status: &approved})
	require.NoError(t, err)

	restored, err := f.svc.Restore(as(f.studentA, domain.UserRoleStudent), res.SubmissionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.NewVersion)

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusApproved, sub.Status)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{Status: &underReview})
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestRestore_SameMillisecond(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("v1"))
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	ctx := as(f.studentA, domain.UserRoleStudent)

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Restore(ctx, res.SubmissionID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	require.Len(t, sub.Versions, n+1)
	locators := make(map[string]bool)
	for _, v := range sub.Versions {
		locators[v.Locator] = true
	}
	assert.Len(t, locators, n+1)
	assert.Len(t, f.files(t), n+1)
}

func TestScenario_StudentsAndFaculty(t *testing.T) {
	f := newFixture(t, Config{Environment: "production"}, newCodec(t))
	body := pdf("synopsis draft")
	studentA := as(f.studentA, domain.UserRoleStudent)

	res := f.upload(t, "doc.pdf", body)
	require.Equal(t, 1, res.Version)

	restored, err := f.svc.Restore(studentA, res.SubmissionID, 1)
	require.NoError(t, err)
	require.Equal(t, 2, restored.NewVersion)

	sub, err := f.repo.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	v1, _ := sub.Version(1)
	v2, _ := sub.Version(2)
	assert.Equal(t, sha(body), v1.Checksum.Hex)
	assert.Equal(t, v1.Checksum, v2.Checksum)
	assert.NotEqual(t, v1.Locator, v2.Locator)

	_, err = f.svc.Open(as(f.studentB, domain.UserRoleStudent), res.SubmissionID, 1, domain.DispositionAttachment)
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	assert.Equal(t, body, download(t, f, as(f.faculty, domain.UserRoleFaculty), res.SubmissionID, 2))
}

func TestAccess_Strangers(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("private"))

	for name, ctx := range map[string]context.Context{
		"other student":      as(f.studentB, domain.UserRoleStudent),
		"other faculty":      as(f.stranger, domain.UserRoleFaculty),
		"admin":              as(f.stranger, domain.UserRoleAdmin),
		"student as faculty": as(f.studentB, domain.UserRoleFaculty),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionAttachment)
			assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)
			_, err = f.svc.Open(ctx, res.SubmissionID, 1, domain.DispositionInline)
			assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)
			_, err = f.svc.Restore(ctx, res.SubmissionID, 1)
			assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)
		})
	}

	assert.Equal(t, []domain.AuditAction{domain.AuditActionUpload}, f.audit.actions())
	assert.Len(t, f.files(t), 1)
}

func TestListVersions_Roles(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	f.upload(t, "doc.pdf", pdf("v1"))
	in := ListVersionsInput{ProjectID: f.project.String(), MilestoneType: "synopsis", StudentID: f.studentA.String()}

	versions, err := f.svc.ListVersions(as(f.faculty, domain.UserRoleFaculty), in)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	versions, err = f.svc.ListVersions(as(f.stranger, domain.UserRoleAdmin), in)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	_, err = f.svc.ListVersions(as(f.stranger, domain.UserRoleFaculty), in)
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	_, err = f.svc.ListVersions(as(f.studentB, domain.UserRoleStudent), in)
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	_, err = f.svc.ListVersions(as(f.faculty, domain.UserRoleFaculty), ListVersionsInput{ProjectID: f.project.String(), MilestoneType: "synopsis"})
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	versions, err = f.svc.ListVersions(as(f.studentA, domain.UserRoleStudent), ListVersionsInput{ProjectID: f.project.String(), MilestoneType: "report"})
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	res := f.upload(t, "doc.pdf", pdf("v1"))
	faculty := as(f.faculty, domain.UserRoleFaculty)
	status := func(s domain.SubmissionStatus) *string {
		v := string(s)
		return &v
	}
	comment := "tighten the scope"
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	sub, err := f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{
		RubricScores:    map[string]float64{"clarity": 4, "depth": 3.5},
		Comments:        &comment,
		Status:          status(domain.SubmissionStatusRevisionsRequested),
		RevisionDueDate: &due,
	})
	require.NoError(t, err)
	require.NotNil(t, sub.TotalScore)
	assert.Equal(t, 7.5, *sub.TotalScore)
	assert.Equal(t, domain.SubmissionStatusRevisionsRequested, sub.Status)
	require.NotNil(t, sub.RevisionDueDate)
	v1, _ := sub.Version(1)
	require.NotNil(t, v1.Comments)
	assert.Equal(t, comment, *v1.Comments)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{RubricScores: map[string]float64{"clarity": -1}})
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = f.svc.Evaluate(as(f.stranger, domain.UserRoleFaculty), res.SubmissionID, EvaluationInput{Status: status(domain.SubmissionStatusApproved)})
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	_, err = f.svc.Evaluate(as(f.studentA, domain.UserRoleStudent), res.SubmissionID, EvaluationInput{Status: status(domain.SubmissionStatusApproved)})
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{Status: status(domain.SubmissionStatusApproved)})
	require.NoError(t, err)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{Status: status(domain.SubmissionStatusApproved)})
	assert.NoError(t, err)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{Status: status(domain.SubmissionStatusUnderReview)})
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	_, err = f.svc.Evaluate(faculty, res.SubmissionID, EvaluationInput{RubricScores: map[string]float64{"clarity": 5}})
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	var titles []string
	for _, n := range f.notes.sent {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Upload successful")
	assert.Contains(t, titles, "New submission")
	assert.Contains(t, titles, "Submission evaluated")
}

func TestUpload_ConcurrentVersionsAreGapless(t *testing.T) {
	f := newFixture(t, Config{}, newCodec(t))
	const n = 12

	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := pdf(uuid.NewString())
			res, err := f.svc.Upload(as(f.studentA, domain.UserRoleStudent), UploadInput{
				ProjectID:     f.project.String(),
				MilestoneType: "synopsis",
				Filename:      "doc.pdf",
				Body:          bytes.NewReader(body),
			})
			if assert.NoError(t, err) {
				results <- res.Version
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for v := range results {
		seen[v] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "missing version %d", i)
	}
	assert.Len(t, f.files(t), n)
}
