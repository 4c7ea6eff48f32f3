package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/pkg/logging"
)

const DefaultTopic = "submission-notifications"

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type Sender interface {
	Send(ctx context.Context, topic string, key string, message interface{}) error
}

// KafkaNotifier publishes notifications keyed by recipient so one user's
// messages stay ordered within a partition.
type KafkaNotifier struct {
	sender Sender
	topic  string
}

func NewKafkaNotifier(sender Sender, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaNotifier{sender: sender, topic: topic}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n domain.Notification) error {
	if len(n.Channels) == 0 {
		n.Channels = []string{"in-app"}
	}
	if err := k.sender.Send(ctx, k.topic, n.Recipient.String(), n); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) error {
	l.logger.Info(ctx, "notification",
		zap.String("recipient", n.Recipient.String()),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
	return nil
}
