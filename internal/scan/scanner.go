package scan

import (
	"context"
	"time"

	"submission_service/internal/domain"
)

// Scanner inspects a staged plaintext file. It never returns an error: every
// failure is reported as a ScanStatusError result.
type Scanner interface {
	Scan(ctx context.Context, path string) domain.ScanResult
}

type NoopScanner struct {
	now func() time.Time
}

func NewNoopScanner() *NoopScanner {
	return &NoopScanner{now: time.Now}
}

func (s *NoopScanner) Scan(_ context.Context, _ string) domain.ScanResult {
	return domain.ScanResult{
		Status:    domain.ScanStatusSkipped,
		ScannedAt: s.now().UTC(),
		Details:   "AV engine not configured",
	}
}
