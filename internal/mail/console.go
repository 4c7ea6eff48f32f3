package mail

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/pkg/logging"
)

// ConsoleMailer logs messages instead of delivering them. Used when no
// SendGrid key is configured.
type ConsoleMailer struct {
	logger     *logging.Logger
	subjPrefix string

	mu   sync.Mutex
	sent []domain.Mail
}

func NewConsoleMailer(logger *logging.Logger, appName string) *ConsoleMailer {
	return &ConsoleMailer{logger: logger, subjPrefix: "[" + appName + "] "}
}

func (c *ConsoleMailer) Send(ctx context.Context, m domain.Mail) error {
	c.logger.Info(ctx, "email",
		zap.String("to", m.To),
		zap.String("subject", c.subjPrefix+m.Subject),
		zap.String("text", strings.TrimSpace(m.Text)),
	)
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

func (c *ConsoleMailer) Sent() []domain.Mail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Mail(nil), c.sent...)
}
