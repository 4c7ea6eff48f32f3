package scan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/pkg/logging"
	"submission_service/pkg/retry"
)

const (
	ClamdEngine        = "clamav"
	DefaultScanTimeout = 30 * time.Second

	clamdChunkSize = 32 * 1024
)

type ClamdConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

type ClamdScanner struct {
	addr    string
	timeout time.Duration
	breaker *retry.CircuitBreaker
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	now     func() time.Time
	logger  *logging.Logger
}

func NewClamdScanner(cfg ClamdConfig, logger *logging.Logger) *ClamdScanner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	dialer := &net.Dialer{}
	return &ClamdScanner{
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		timeout: timeout,
		breaker: retry.NewCircuitBreaker(3, time.Minute),
		dial:    dialer.DialContext,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *ClamdScanner) Scan(ctx context.Context, path string) domain.ScanResult {
	result := domain.ScanResult{Engine: ClamdEngine}

	file, err := os.Open(path)
	if err != nil {
		result.Status = domain.ScanStatusError
		result.Details = "file not readable"
		result.ScannedAt = s.now().UTC()
		return result
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reply string
	err = s.breaker.Execute(func() error {
		var scanErr error
		reply, scanErr = s.instream(ctx, file)
		if scanErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// A hung daemon counts against the breaker like an unreachable one.
			return fmt.Errorf("clamd did not answer within %s", s.timeout)
		}
		return scanErr
	})
	result.ScannedAt = s.now().UTC()

	if err != nil {
		s.logger.Warn(ctx, "clamd scan failed", zap.String("addr", s.addr), zap.Error(err))
		result.Status = domain.ScanStatusError
		result.Details = err.Error()
		return result
	}

	result.Status, result.Details = parseReply(reply)
	return result
}

// instream sends the file with the zINSTREAM command and returns the daemon's reply.
func (s *ClamdScanner) instream(ctx context.Context, r io.Reader) (string, error) {
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	buf := make([]byte, clamdChunkSize)
	var size [4]byte
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(size[:], uint32(n))
			if _, err := conn.Write(size[:]); err != nil {
				return "", fmt.Errorf("send chunk size: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("send chunk: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", retry.Permanent(fmt.Errorf("read file: %w", readErr))
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := conn.Write(size[:]); err != nil {
		return "", fmt.Errorf("send terminator: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(bytes.TrimRight([]byte(reply), "\x00\n")), nil
}

func parseReply(reply string) (domain.ScanStatus, string) {
	body := strings.TrimSpace(strings.TrimPrefix(reply, "stream:"))
	switch {
	case body == "OK":
		return domain.ScanStatusClean, ""
	case strings.HasSuffix(body, " FOUND"):
		return domain.ScanStatusInfected, strings.TrimSuffix(body, " FOUND")
	default:
		return domain.ScanStatusError, reply
	}
}
