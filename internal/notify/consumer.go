package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/pkg/logging"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Deliver hands one decoded notification to its channel.
type Deliver func(ctx context.Context, n domain.Notification) error

// Consumer drains the notification topic. Every fetched message is
// committed, including ones that fail to decode or deliver.
type Consumer struct {
	reader  MessageReader
	deliver Deliver
	logger  *logging.Logger
}

func NewConsumer(reader MessageReader, deliver Deliver, logger *logging.Logger) *Consumer {
	return &Consumer{reader: reader, deliver: deliver, logger: logger}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, "failed to fetch message", zap.Error(err))
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, "failed to commit message", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var n domain.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		c.logger.Warn(ctx, "failed to unmarshal notification",
			zap.String("topic", msg.Topic),
			zap.ByteString("value", truncateBytes(msg.Value, 256)),
			zap.Error(err),
		)
		return
	}
	if err := c.deliver(ctx, n); err != nil {
		c.logger.Error(ctx, "failed to deliver notification",
			zap.String("recipient", n.Recipient.String()),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
