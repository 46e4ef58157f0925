package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/filing-insight/internal/auth"
	"github.com/DeafMist/filing-insight/internal/enrichment"
	"github.com/DeafMist/filing-insight/internal/extraction"
	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/pipeline"
)

const (
	multipartMemory    = 32 << 20
	maxExplainBody     = 1 << 20
	healthTimeout      = 2 * time.Second
	historyTimeout     = 10 * time.Second
	fieldCurrentReport = "currentReport"
	fieldPrevReport    = "previousReport"
)

type analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type historyReader interface {
	History(ctx context.Context, userID, ticker string) ([]models.StoredReport, error)
}

type chartExplainer interface {
	Explain(ctx context.Context, req enrichment.ExplainRequest) (string, error)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

type server struct {
	log            *slog.Logger
	maxUploadBytes int64
	explainTimeout time.Duration
	analyzer       analyzer
	history        historyReader
	explainer      chartExplainer
	es             healthChecker
}

type errorResponse struct {
	Error           string `json:"error"`
	UpstreamDetails any    `json:"upstreamDetails,omitempty"`
}

type analyzeResponse struct {
	models.StoredReport
	Persisted bool `json:"persisted"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

func (s *server) routes(authenticate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/history/{ticker}", s.handleHistory)
		r.Post("/explain", s.handleExplain)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	log := s.log.With(slog.String("request_id", middleware.GetReqID(r.Context())))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected a multipart form upload"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	current, err := formDocument(r, fieldCurrentReport, models.RoleCurrent)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	previous, err := formDocument(r, fieldPrevReport, models.RolePrevious)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ticker := r.FormValue("companyTicker")
	if ticker == "" {
		ticker = r.FormValue("ticker")
	}

	res, err := s.analyzer.Run(r.Context(), pipeline.Request{
		UserID:   user,
		Ticker:   ticker,
		Mode:     pipeline.Mode(strings.ToLower(strings.TrimSpace(r.FormValue("mode")))),
		Current:  current,
		Previous: previous,
	})
	if err != nil {
		var (
			verr *pipeline.ValidationError
			eerr *extraction.Error
		)
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
		case errors.As(err, &eerr):
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:           "document extraction failed",
				UpstreamDetails: eerr.UpstreamDetails,
			})
		default:
			log.Error("analyze", slog.Any("err", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{StoredReport: res.Report, Persisted: res.Persisted})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	user, _ := auth.UserFrom(ctx)
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if ticker == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ticker is required"})
		return
	}

	reports, err := s.history.History(ctx, user, ticker)
	if err != nil {
		s.log.Error("load history", slog.String("ticker", ticker), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load history"})
		return
	}
	if len(reports) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no history found for ticker " + ticker})
		return
	}

	writeJSON(w, http.StatusOK, reports)
}

func (s *server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req enrichment.ExplainRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxExplainBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ctx := r.Context()
	if s.explainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.explainTimeout)
		defer cancel()
	}

	explanation, err := s.explainer.Explain(ctx, req)
	if err != nil {
		if errors.Is(err, enrichment.ErrInvalidExplainRequest) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.log.Warn("explain chart", slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not generate an explanation"})
		return
	}

	writeJSON(w, http.StatusOK, explainResponse{Explanation: explanation})
}

// formDocument reads an optional file field. A missing field is not an error.
func formDocument(r *http.Request, field string, role models.DocumentRole) (*models.UploadedDocument, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("could not read " + field)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("could not read " + field)
	}

	return &models.UploadedDocument{
		Content:  content,
		Filename: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Role:     role,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
