package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"submission_service/internal/errdefs"
)

// MaxUploadSize is the fixed ceiling for one uploaded file.
const MaxUploadSize int64 = 50 << 20

// allowedTypes maps each accepted extension to its stored media type and the
// detected types (or ancestors) its content may sniff as.
var allowedTypes = map[string]struct {
	mediaType string
	sniffed   []string
}{
	".pdf":  {"application/pdf", []string{"application/pdf"}},
	".doc":  {"application/msword", []string{"application/msword", "application/x-ole-storage"}},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", []string{"application/zip"}},
	".zip":  {"application/zip", []string{"application/zip"}},
	".mp4":  {"video/mp4", []string{"video/mp4", "video/quicktime", "video/x-m4v"}},
}

var validate = validator.New()

func allowedExtensions() string {
	exts := make([]string, 0, len(allowedTypes))
	for ext := range allowedTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

func checkExtension(ext string) (string, error) {
	t, ok := allowedTypes[ext]
	if !ok {
		return "", fmt.Errorf("file type %q not allowed, allowed: %s: %w", ext, allowedExtensions(), errdefs.ErrValidation)
	}
	return t.mediaType, nil
}

func checkSize(size int64) error {
	if size > MaxUploadSize {
		return fmt.Errorf("file is %s, limit is %s: %w",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(MaxUploadSize)), errdefs.ErrValidation)
	}
	return nil
}

// checkContent sniffs the first bytes of an upload and matches them against ext.
func checkContent(ext string, head []byte) error {
	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range allowedTypes[ext].sniffed {
			if m.Is(want) {
				return nil
			}
		}
	}
	return fmt.Errorf("content looks like %s, not %s: %w", detected.String(), ext, errdefs.ErrValidation)
}

func validationError(err error) error {
	return fmt.Errorf("%v: %w", err, errdefs.ErrValidation)
}
