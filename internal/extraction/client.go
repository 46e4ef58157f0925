// Package extraction talks to the document extraction service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/DeafMist/filing-insight/internal/models"
)

const maxDetailBytes = 4096

// ErrInvalidDocument is the cause of an Error raised before any call is made.
var ErrInvalidDocument = errors.New("document has no content or filename")

// Error reports a failed extraction. UpstreamDetails carries the extraction
// service's error body when there was one: decoded JSON if it parsed, otherwise text.
type Error struct {
	Filename        string
	Status          int
	Cause           error
	UpstreamDetails any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("extract %q: upstream status %d: %v", e.Filename, e.Status, e.Cause)
	}
	return fmt.Sprintf("extract %q: %v", e.Filename, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Client posts documents to the extraction service.
type Client struct {
	http        *http.Client
	url         string
	maxAttempts int
	backoff     time.Duration
	log         *slog.Logger
}

// New builds a client. timeout bounds each attempt; backoff doubles after every retry.
func New(url string, timeout time.Duration, maxAttempts int, backoff time.Duration, logger *slog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		url:         url,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         logger,
	}
}

// Extract sends doc to the extraction service and decodes its structured result.
// Server errors, throttling and timeouts are retried; anything else fails at once.
func (c *Client) Extract(ctx context.Context, doc models.UploadedDocument) (*models.ExtractionResult, error) {
	if len(doc.Content) == 0 || strings.TrimSpace(doc.Filename) == "" {
		return nil, &Error{Filename: doc.Filename, Cause: ErrInvalidDocument}
	}

	var lastErr *Error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<uint(attempt-1))
			c.log.Warn("extraction failed, retrying",
				slog.String("filename", doc.Filename),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.Any("err", lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &Error{Filename: doc.Filename, Cause: ctx.Err()}
			}
		}

		result, err, retryable := c.do(ctx, doc)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, doc models.UploadedDocument) (*models.ExtractionResult, *Error, bool) {
	body, contentType, err := multipartBody(doc)
	if err != nil {
		return nil, &Error{Filename: doc.Filename, Cause: err}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, &Error{Filename: doc.Filename, Cause: fmt.Errorf("build request: %w", err)}, false
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Filename: doc.Filename, Cause: fmt.Errorf("post document: %w", err)}, isTimeout(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Filename: doc.Filename, Status: res.StatusCode, Cause: fmt.Errorf("read response: %w", err)}, isTimeout(err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		retryable := res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests
		return nil, &Error{
			Filename:        doc.Filename,
			Status:          res.StatusCode,
			Cause:           fmt.Errorf("extraction service returned %s", res.Status),
			UpstreamDetails: details(data),
		}, retryable
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &Error{
			Filename:        doc.Filename,
			Status:          res.StatusCode,
			Cause:           fmt.Errorf("decode extraction response: %w", err),
			UpstreamDetails: details(data),
		}, false
	}
	if result.Filename == "" {
		result.Filename = doc.Filename
	}
	return &result, nil, false
}

func multipartBody(doc models.UploadedDocument) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(doc.Filename)))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func details(data []byte) any {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err == nil {
		return decoded
	}
	if len(data) > maxDetailBytes {
		data = data[:maxDetailBytes]
	}
	return string(data)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
