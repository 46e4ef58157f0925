// Package history keeps the append-only log of generated reports.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/filing-insight/internal/elasticsearch"
	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/report"
)

// Backend is the document store behind the history.
type Backend interface {
	IndexReport(ctx context.Context, doc models.HistoryDocument) error
	SearchReports(ctx context.Context, userID, ticker string, size int) ([]models.HistoryDocument, error)
}

// PersistenceError wraps a failed write of a prepared report.
type PersistenceError struct {
	ReportID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist report %s: %v", e.ReportID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Clock hands out strictly increasing UTC timestamps.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock backed by now; nil means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a timestamp later than every one returned before.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Store appends reports and reads them back newest first.
type Store struct {
	backend Backend
	clock   *Clock
	log     *slog.Logger
	limit   int
}

// NewStore builds a Store. limit caps how many records History returns.
func NewStore(backend Backend, clock *Clock, logger *slog.Logger, limit int) *Store {
	if clock == nil {
		clock = NewClock(nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{backend: backend, clock: clock, log: logger, limit: limit}
}

// Prepare gives a report its id and timestamp without writing it.
func (s *Store) Prepare(r models.Report) models.StoredReport {
	return models.StoredReport{
		Report:     r,
		ID:         uuid.NewString(),
		UploadedAt: s.clock.Next(),
	}
}

// Save prepares and writes a report. The prepared report is returned even when
// the write fails so the caller can queue it for a later attempt.
func (s *Store) Save(ctx context.Context, r models.Report) (models.StoredReport, error) {
	stored := s.Prepare(r)
	return stored, s.Write(ctx, stored)
}

// Write stores an already prepared report. Writing the same report twice is not
// an error, and an existing record is never replaced.
func (s *Store) Write(ctx context.Context, stored models.StoredReport) error {
	body, err := json.Marshal(stored.Report)
	if err != nil {
		return &PersistenceError{ReportID: stored.ID, Err: fmt.Errorf("marshal report: %w", err)}
	}

	doc := models.HistoryDocument{
		ID:            stored.ID,
		UserID:        stored.UserID,
		Ticker:        stored.Ticker,
		UploadedAt:    stored.UploadedAt,
		SchemaVersion: stored.SchemaVersion,
		Report:        body,
	}

	if err := s.backend.IndexReport(ctx, doc); err != nil {
		if errors.Is(err, elasticsearch.ErrConflict) {
			s.log.Debug("report already stored", slog.String("id", stored.ID))
			return nil
		}
		return &PersistenceError{ReportID: stored.ID, Err: err}
	}
	return nil
}

// History returns every stored report for the user and ticker, newest first.
// No records is an empty slice, not an error. Records written under older
// schema versions are migrated; records that cannot be decoded are skipped.
func (s *Store) History(ctx context.Context, userID, ticker string) ([]models.StoredReport, error) {
	docs, err := s.backend.SearchReports(ctx, userID, ticker, s.limit)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}

	out := make([]models.StoredReport, 0, len(docs))
	for _, doc := range docs {
		r, err := report.Migrate(doc.Report, doc.SchemaVersion)
		if err != nil {
			s.log.Error("skip undecodable history record",
				slog.String("id", doc.ID),
				slog.Int("schema_version", doc.SchemaVersion),
				slog.Any("err", err),
			)
			continue
		}
		if r.UserID == "" {
			r.UserID = doc.UserID
		}
		if r.Ticker == "" {
			r.Ticker = doc.Ticker
		}
		out = append(out, models.StoredReport{Report: r, ID: doc.ID, UploadedAt: doc.UploadedAt})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}
