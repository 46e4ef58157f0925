// Package pipeline sequences extraction, enrichment, assembly and persistence of a report.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/filing-insight/internal/enrichment"
	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/report"
)

// Stage is a step of one analysis run.
type Stage string

const (
	StageIdle                Stage = "idle"
	StageValidatingInput     Stage = "validating_input"
	StageExtracting          Stage = "extracting"
	StageExtracted           Stage = "extracted"
	StageEnriching           Stage = "enriching"
	StageAssembling          Stage = "assembling"
	StagePersisting          Stage = "persisting"
	StageCompleted           Stage = "completed"
	StageValidationFailed    Stage = "validation_failed"
	StageExtractionFailed    Stage = "extraction_failed"
	StagePersistenceDegraded Stage = "persistence_degraded"
	StageFailed              Stage = "failed"
)

// Mode selects single-document or two-document analysis.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeComparison Mode = "comparison"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// ValidationError rejects a request before any upstream call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type Extractor interface {
	Extract(ctx context.Context, doc models.UploadedDocument) (*models.ExtractionResult, error)
}

type Enricher interface {
	Enrich(ctx context.Context, in enrichment.Input) report.Enrichments
}

type ReportStore interface {
	Save(ctx context.Context, r models.Report) (models.StoredReport, error)
}

// PendingQueue takes reports whose write failed. It is optional.
type PendingQueue interface {
	PublishPending(ctx context.Context, stored models.StoredReport, cause error) error
}

// Request is one analysis submitted by a user.
type Request struct {
	UserID   string
	Ticker   string
	Mode     Mode
	Current  *models.UploadedDocument
	Previous *models.UploadedDocument
}

// Result is a finished analysis. Persisted is false when the history write
// failed; Queued then says whether the report was handed to the pending queue.
type Result struct {
	Report    models.StoredReport
	Persisted bool
	Queued    bool
	Stage     Stage
}

// Analyzer runs the report pipeline.
type Analyzer struct {
	log            *slog.Logger
	extractor      Extractor
	enricher       Enricher
	store          ReportStore
	pending        PendingQueue
	persistTimeout time.Duration
}

// NewAnalyzer wires the pipeline. pending may be nil.
func NewAnalyzer(log *slog.Logger, extractor Extractor, enricher Enricher, store ReportStore, pending PendingQueue, persistTimeout time.Duration) *Analyzer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Analyzer{
		log:            log,
		extractor:      extractor,
		enricher:       enricher,
		store:          store,
		pending:        pending,
		persistTimeout: persistTimeout,
	}
}

type run struct {
	log   *slog.Logger
	stage Stage
}

func (r *run) enter(s Stage) {
	r.log.Debug("stage transition", slog.String("from", string(r.stage)), slog.String("to", string(s)))
	r.stage = s
}

// Run analyzes the request. Validation and extraction failures are returned as
// errors; enrichment failures degrade silently and a failed history write is
// reported through Result.Persisted.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{log: a.log, stage: StageIdle}

	r.enter(StageValidatingInput)
	req, err := normalize(req)
	if err != nil {
		r.enter(StageValidationFailed)
		return nil, err
	}
	r.log = r.log.With(slog.String("ticker", req.Ticker), slog.String("mode", string(req.Mode)))

	r.enter(StageExtracting)
	current, previous, err := a.extract(ctx, req)
	if err != nil {
		r.enter(StageExtractionFailed)
		r.log.Error("extraction failed", slog.Any("err", err))
		return nil, err
	}
	r.enter(StageExtracted)

	r.enter(StageEnriching)
	enr := a.enricher.Enrich(ctx, enrichment.Input{Ticker: req.Ticker, Current: current, Previous: previous})

	r.enter(StageAssembling)
	meta := report.Metadata{
		UserID:         req.UserID,
		Ticker:         req.Ticker,
		Filename:       req.Current.Filename,
		ComparisonMode: req.Mode == ModeComparison,
	}
	if req.Previous != nil {
		meta.PreviousFilename = req.Previous.Filename
	}
	assembled, err := report.Assemble(current, previous, enr, meta)
	if err != nil {
		r.enter(StageFailed)
		return nil, err
	}

	r.enter(StagePersisting)
	res := a.persist(ctx, r, assembled)
	r.log.Info("analysis finished",
		slog.String("id", res.Report.ID),
		slog.String("stage", string(res.Stage)),
		slog.Bool("persisted", res.Persisted),
	)
	return res, nil
}

func (a *Analyzer) extract(ctx context.Context, req Request) (*models.ExtractionResult, *models.ExtractionResult, error) {
	var current, previous *models.ExtractionResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := a.extractor.Extract(gctx, *req.Current)
		if err != nil {
			return err
		}
		current = res
		return nil
	})
	if req.Previous != nil {
		g.Go(func() error {
			res, err := a.extractor.Extract(gctx, *req.Previous)
			if err != nil {
				return err
			}
			previous = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return current, previous, nil
}

func (a *Analyzer) persist(ctx context.Context, r *run, assembled models.Report) *Result {
	saveCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.persistTimeout > 0 {
		saveCtx, cancel = context.WithTimeout(ctx, a.persistTimeout)
	}
	defer cancel()

	stored, err := a.store.Save(saveCtx, assembled)
	if err == nil {
		r.enter(StageCompleted)
		return &Result{Report: stored, Persisted: true, Stage: r.stage}
	}

	r.enter(StagePersistenceDegraded)
	r.log.Error("persist report", slog.String("id", stored.ID), slog.Any("err", err))

	res := &Result{Report: stored, Persisted: false, Stage: r.stage}
	if a.pending == nil {
		return res
	}
	if perr := a.pending.PublishPending(ctx, stored, err); perr != nil {
		r.log.Error("queue pending report", slog.String("id", stored.ID), slog.Any("err", perr))
		return res
	}
	res.Queued = true
	return res
}

func normalize(req Request) (Request, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))

	if req.UserID == "" {
		return req, &ValidationError{Field: "user", Reason: "authenticated user is required"}
	}
	if req.Ticker == "" {
		return req, &ValidationError{Field: "ticker", Reason: "company ticker is required"}
	}
	if !tickerPattern.MatchString(req.Ticker) {
		return req, &ValidationError{Field: "ticker", Reason: "company ticker is malformed"}
	}

	switch req.Mode {
	case "":
		req.Mode = ModeComparison
	case ModeSingle, ModeComparison:
	default:
		return req, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	if !present(req.Current) {
		return req, &ValidationError{Field: "currentReport", Reason: "current report file is required"}
	}
	switch req.Mode {
	case ModeComparison:
		if !present(req.Previous) {
			return req, &ValidationError{Field: "previousReport", Reason: "previous report file is required in comparison mode"}
		}
	case ModeSingle:
		req.Previous = nil
	}
	return req, nil
}

func present(doc *models.UploadedDocument) bool {
	return doc != nil && len(doc.Content) > 0 && strings.TrimSpace(doc.Filename) != ""
}
