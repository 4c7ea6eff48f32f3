package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

// SealedSuffix is appended to the staged name of an encrypted payload.
const SealedSuffix = ".enc"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Local is the single-node file store. Locators are slash separated paths
// relative to the root.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) Root() string {
	return l.root
}

// SplitName returns the sanitized base name and the lower cased extension.
func SplitName(filename string) (string, string) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" {
		base = "file"
	}
	return base, ext
}

func Dir(key domain.SubmissionKey) string {
	return strings.Join([]string{
		key.ProjectID.String(),
		unsafeChars.ReplaceAllString(key.MilestoneType, "_"),
		key.StudentID.String(),
	}, "/")
}

// StageLocator names a fresh upload: <dir>/<unix-ms>-<safe-name><ext>.
func StageLocator(key domain.SubmissionKey, filename string, now time.Time) string {
	base, ext := SplitName(filename)
	return fmt.Sprintf("%s/%d-%s%s", Dir(key), now.UnixMilli(), base, ext)
}

// RestoreLocator names the copy of version n next to the original.
func RestoreLocator(original string, n int, now time.Time) string {
	dir, name := splitLocator(original)
	name = strings.TrimSuffix(name, SealedSuffix)
	if i := strings.IndexByte(name, '-'); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasPrefix(name, "restore-v") {
		if i := strings.IndexByte(name[len("restore-v"):], '-'); i >= 0 {
			name = name[len("restore-v")+i+1:]
		}
	}
	locator := fmt.Sprintf("%d-restore-v%d-%s", now.UnixMilli(), n, name)
	if strings.HasSuffix(original, SealedSuffix) {
		locator += SealedSuffix
	}
	if dir == "" {
		return locator
	}
	return dir + "/" + locator
}

func splitLocator(locator string) (string, string) {
	i := strings.LastIndexByte(locator, '/')
	if i < 0 {
		return "", locator
	}
	return locator[:i], locator[i+1:]
}

// Path resolves a locator to an absolute path inside the root.
func (l *Local) Path(locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("empty locator: %w", errdefs.ErrValidation)
	}
	p := filepath.Join(l.root, filepath.FromSlash(locator))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("locator %q escapes storage root: %w", locator, errdefs.ErrValidation)
	}
	return p, nil
}

// Create opens a new file for locator, creating parent directories. It fails
// if the file already exists.
func (l *Local) Create(locator string) (*os.File, error) {
	p, err := l.Path(locator)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
}

func (l *Local) Open(locator string) (*os.File, error) {
	p, err := l.Path(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("stored file %s: %w", locator, errdefs.ErrNotFound)
	}
	return f, err
}

// WriteAtomic writes locator through a temp file in the same directory. The
// data is fsynced and linked into place only when fn succeeds, so readers
// either see the complete file or nothing. An existing file is never replaced.
func (l *Local) WriteAtomic(ctx context.Context, locator string, fn func(w io.Writer) error) (err error) {
	p, err := l.Path(locator)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+uuid.NewString()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", locator, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", locator, err)
	}
	// A hard link publishes the file without replacing one that already exists.
	if err = os.Link(tmp.Name(), p); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists: %w", locator, errdefs.ErrConflict)
		}
		return fmt.Errorf("publish %s: %w", locator, err)
	}
	_ = os.Remove(tmp.Name())
	if err = syncDir(dir); err != nil {
		_ = os.Remove(p)
		return err
	}
	return nil
}

// Copy duplicates src into a new file at dst without interpreting the bytes.
func (l *Local) Copy(ctx context.Context, src, dst string) error {
	in, err := l.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return l.WriteAtomic(ctx, dst, func(w io.Writer) error {
		if _, err := io.Copy(w, ContextReader(ctx, in)); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil
	})
}

// Remove deletes locator. A missing file is not an error.
func (l *Local) Remove(locator string) error {
	p, err := l.Path(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var syncDir = fsyncDir

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// ContextReader stops reading once ctx is done.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
