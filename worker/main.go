package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/filing-insight/internal/config"
	"github.com/DeafMist/filing-insight/internal/dedupe"
	"github.com/DeafMist/filing-insight/internal/elasticsearch"
	"github.com/DeafMist/filing-insight/internal/history"
	"github.com/DeafMist/filing-insight/internal/logger"
	"github.com/DeafMist/filing-insight/internal/models"
)

const dlqAttempts = 5

var errIncompleteReport = errors.New("pending report is missing id, user or ticker")

type reportWriter interface {
	Write(ctx context.Context, stored models.StoredReport) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.WaitReady(ctx, cfg.ESStartupAttempts, cfg.ESStartupDelay); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to prepare elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	store := history.NewStore(esClient, nil, log, 0)
	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)
	dlqTopic := cfg.PendingTopic + "_dlq"

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.PendingTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       50e6,
		CommitInterval: 0,
	})
	defer reader.Close()

	dlqWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  dlqTopic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.PendingTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, store, cache, cfg, msg); err != nil {
			log.Warn("persist pending report failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			// Committing past a message that never reached the DLQ would lose it.
			if !sendToDLQ(ctx, log, dlqWriter, msg, err, time.Second) {
				if ctx.Err() != nil {
					return
				}
				log.Error("DLQ write exhausted retries, leaving offset uncommitted",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage writes one queued report to the history. Replays of an id
// already written are acknowledged without a second write.
func processMessage(ctx context.Context, log *slog.Logger, store reportWriter, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var stored models.StoredReport
	if err := json.Unmarshal(msg.Value, &stored); err != nil {
		return fmt.Errorf("decode pending report: %w", err)
	}

	stored.ID = strings.TrimSpace(stored.ID)
	if stored.ID == "" || strings.TrimSpace(stored.UserID) == "" || strings.TrimSpace(stored.Ticker) == "" {
		return errIncompleteReport
	}
	if stored.UploadedAt.IsZero() {
		return fmt.Errorf("pending report %s has no upload time", stored.ID)
	}

	if cache.IsSeen(stored.ID) {
		log.Debug("duplicate pending report", slog.String("id", stored.ID))
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()
	if err := store.Write(writeCtx, stored); err != nil {
		return err
	}

	cache.MarkSeen(stored.ID)
	log.Info("persisted pending report",
		slog.String("id", stored.ID),
		slog.String("ticker", stored.Ticker),
		slog.String("queued_at", header(msg, "queued_at")),
	)
	return nil
}

// sendToDLQ forwards a failed message with its origin and error, retrying with
// exponential backoff starting at base. It reports whether the write landed.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error, base time.Duration) bool {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	for attempt := range dlqAttempts {
		err := w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := base << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
