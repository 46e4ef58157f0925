package extraction_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/filing-insight/internal/extraction"
	"github.com/DeafMist/filing-insight/internal/models"
)

func document() models.UploadedDocument {
	return models.UploadedDocument{
		Content:  []byte("%PDF-1.7 fake"),
		Filename: "acme-10k.pdf",
		MIMEType: "application/pdf",
		Role:     models.RoleCurrent,
	}
}

func TestExtractDecodesResult(t *testing.T) {
	var gotFile, gotName, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err == nil {
			data, _ := io.ReadAll(file)
			gotFile = string(data)
			gotName = header.Filename
			gotType = header.Header.Get("Content-Type")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"raw_risk_factors": "Competition is intense.",
			"key_metrics": {"revenue": "$10B", "netIncome": "$2B", "eps": 3.1},
			"financial_ratios": {"ratios": [{"name": "Current Ratio", "value": 1.5}]}
		}`))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, time.Second, 3, time.Millisecond, nil)
	result, err := client.Extract(context.Background(), document())
	require.NoError(t, err)

	require.Equal(t, "%PDF-1.7 fake", gotFile)
	require.Equal(t, "acme-10k.pdf", gotName)
	require.Equal(t, "application/pdf", gotType)
	require.Equal(t, "acme-10k.pdf", result.Filename)
	require.Equal(t, "Competition is intense.", result.RawRiskFactors)
	require.Equal(t, models.Text("3.1"), result.KeyMetrics.EPS)
	require.Equal(t, models.Text("1.5"), result.FinancialRatios.Ratios[0].Value)
}

func TestExtractRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"raw_risk_factors": "ok"}`))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, time.Second, 3, time.Millisecond, nil)
	result, err := client.Extract(context.Background(), document())
	require.NoError(t, err)
	require.Equal(t, "ok", result.RawRiskFactors)
	require.EqualValues(t, 3, calls.Load())
}

func TestExtractDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "not a PDF"}`))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, time.Second, 3, time.Millisecond, nil)
	_, err := client.Extract(context.Background(), document())
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())

	var extErr *extraction.Error
	require.True(t, errors.As(err, &extErr))
	require.Equal(t, http.StatusUnprocessableEntity, extErr.Status)
	require.Equal(t, map[string]any{"detail": "not a PDF"}, extErr.UpstreamDetails)
}

func TestExtractGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, time.Second, 2, time.Millisecond, nil)
	_, err := client.Extract(context.Background(), document())

	var extErr *extraction.Error
	require.True(t, errors.As(err, &extErr))
	require.Equal(t, http.StatusServiceUnavailable, extErr.Status)
	require.Equal(t, "overloaded", extErr.UpstreamDetails)
	require.EqualValues(t, 2, calls.Load())
}

func TestExtractRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, time.Second, 3, time.Millisecond, nil)
	_, err := client.Extract(context.Background(), document())

	var extErr *extraction.Error
	require.True(t, errors.As(err, &extErr))
	require.Equal(t, "<html>oops</html>", extErr.UpstreamDetails)
}

func TestExtractRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := extraction.New(srv.URL, 50*time.Millisecond, 2, time.Millisecond, nil)
	_, err := client.Extract(context.Background(), document())
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestExtractValidatesDocument(t *testing.T) {
	client := extraction.New("http://127.0.0.1:1", time.Second, 1, time.Millisecond, nil)

	_, err := client.Extract(context.Background(), models.UploadedDocument{Filename: "empty.pdf"})
	require.ErrorIs(t, err, extraction.ErrInvalidDocument)

	_, err = client.Extract(context.Background(), models.UploadedDocument{Content: []byte("x")})
	require.ErrorIs(t, err, extraction.ErrInvalidDocument)
}
