package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/filing-insight/internal/config"
	"github.com/DeafMist/filing-insight/internal/dedupe"
	"github.com/DeafMist/filing-insight/internal/models"
)

type stubWriter struct {
	reports []models.StoredReport
	err     error
}

func (s *stubWriter) Write(_ context.Context, stored models.StoredReport) error {
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, stored)
	return nil
}

type flakyDLQ struct {
	failures int
	msgs     []kafka.Message
}

func (f *flakyDLQ) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workerConfig() *config.Worker {
	return &config.Worker{
		Common:       config.Common{PendingTopic: "reports_pending"},
		WriteTimeout: time.Second,
	}
}

func pendingMessage(t *testing.T, stored models.StoredReport) kafka.Message {
	t.Helper()
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	return kafka.Message{
		Key:     []byte(stored.ID),
		Value:   data,
		Headers: []kafka.Header{{Key: "queued_at", Value: []byte("2024-03-01T12:00:00Z")}},
	}
}

func pendingReport() models.StoredReport {
	return models.StoredReport{
		Report: models.Report{
			SchemaVersion: models.SchemaVersion,
			UserID:        "user-1",
			Ticker:        "ACME",
			Filename:      "acme-10k.pdf",
		},
		ID:         "r-1",
		UploadedAt: time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

func TestProcessMessagePersistsReport(t *testing.T) {
	store := &stubWriter{}
	cache := dedupe.NewCache(100, time.Hour)
	msg := pendingMessage(t, pendingReport())

	require.NoError(t, processMessage(context.Background(), testLogger(), store, cache, workerConfig(), msg))
	require.Len(t, store.reports, 1)

	got := store.reports[0]
	require.Equal(t, "r-1", got.ID)
	require.Equal(t, "ACME", got.Ticker)
	require.Equal(t, "acme-10k.pdf", got.Filename)
	require.True(t, got.UploadedAt.Equal(pendingReport().UploadedAt))

	require.NoError(t, processMessage(context.Background(), testLogger(), store, cache, workerConfig(), msg))
	require.Len(t, store.reports, 1)
}

func TestProcessMessageRejectsBadPayload(t *testing.T) {
	noID := pendingReport()
	noID.ID = " "
	noUser := pendingReport()
	noUser.UserID = ""
	noTime := pendingReport()
	noTime.UploadedAt = time.Time{}

	cases := []struct {
		name string
		msg  kafka.Message
	}{
		{name: "malformed json", msg: kafka.Message{Value: []byte("{not json")}},
		{name: "missing id", msg: pendingMessage(t, noID)},
		{name: "missing user", msg: pendingMessage(t, noUser)},
		{name: "missing time", msg: pendingMessage(t, noTime)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubWriter{}
			err := processMessage(context.Background(), testLogger(), store, dedupe.NewCache(10, time.Hour), workerConfig(), tc.msg)
			require.Error(t, err)
			require.Empty(t, store.reports)
		})
	}
}

func TestProcessMessageWriteFailureIsNotMarkedSeen(t *testing.T) {
	store := &stubWriter{err: errors.New("cluster down")}
	cache := dedupe.NewCache(10, time.Hour)
	msg := pendingMessage(t, pendingReport())

	require.Error(t, processMessage(context.Background(), testLogger(), store, cache, workerConfig(), msg))
	require.False(t, cache.IsSeen("r-1"))

	store.err = nil
	require.NoError(t, processMessage(context.Background(), testLogger(), store, cache, workerConfig(), msg))
	require.Len(t, store.reports, 1)
}

func TestSendToDLQRetriesAndKeepsOrigin(t *testing.T) {
	dlq := &flakyDLQ{failures: 2}
	msg := pendingMessage(t, pendingReport())
	msg.Partition = 3
	msg.Offset = 42

	ok := sendToDLQ(context.Background(), testLogger(), dlq, msg, errors.New("cluster down"), time.Millisecond)
	require.True(t, ok)
	require.Len(t, dlq.msgs, 1)

	sent := dlq.msgs[0]
	require.Equal(t, []byte("r-1"), sent.Key)
	require.Equal(t, "3", header(sent, "original_partition"))
	require.Equal(t, "42", header(sent, "original_offset"))
	require.Equal(t, "cluster down", header(sent, "error"))
	require.Equal(t, "2024-03-01T12:00:00Z", header(sent, "queued_at"))
}

func TestSendToDLQGivesUp(t *testing.T) {
	dlq := &flakyDLQ{failures: dlqAttempts}
	msg := pendingMessage(t, pendingReport())

	require.False(t, sendToDLQ(context.Background(), testLogger(), dlq, msg, errors.New("x"), time.Millisecond))
	require.Empty(t, dlq.msgs)
}

func TestSendToDLQStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dlq := &flakyDLQ{failures: 1}

	require.False(t, sendToDLQ(ctx, testLogger(), dlq, pendingMessage(t, pendingReport()), errors.New("x"), time.Hour))
}
