package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/internal/notify"
	"submission_service/pkg/logging"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("cannot create logger: %v", err))
	}
	logger := logging.New(zapLogger)
	defer func() { _ = logger.Sync() }()

	brokers := splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	topic := getEnv("KAFKA_NOTIFY_TOPIC", notify.DefaultTopic)
	groupID := getEnv("KAFKA_GROUP_ID", "submission-notifier")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "Starting notification consumer",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	})
	defer func() { _ = reader.Close() }()

	deliver := func(ctx context.Context, n domain.Notification) error {
		logger.Info(ctx, "Received notification",
			zap.String("recipient", n.Recipient.String()),
			zap.String("type", n.Type),
			zap.String("title", n.Title),
			zap.Strings("channels", n.Channels),
			zap.String("module", n.Module),
		)
		return nil
	}

	if err := notify.NewConsumer(reader, deliver, logger).Run(ctx); err != nil {
		logger.Error(ctx, "consumer stopped", zap.Error(err))
	}
	logger.Info(ctx, "Consumer shutting down")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitAndTrim(csv string) []string {
	out := []string{}
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
