package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/filing-insight/internal/models"
)

// ErrConflict is returned by IndexReport when a document with the same id already exists.
var ErrConflict = errors.New("document already exists")

const maxHistorySize = 1000

const indexMapping = `{
  "mappings": {
    "dynamic": "strict",
    "properties": {
      "id":             {"type": "keyword"},
      "user_id":        {"type": "keyword"},
      "ticker":         {"type": "keyword"},
      "uploaded_at":    {"type": "date_nanos"},
      "schema_version": {"type": "integer"},
      "report":         {"type": "object", "enabled": false}
    }
  }
}`

// Client wraps go-elasticsearch with helpers for the report history index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureIndex creates the history index with its mapping unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index failed: %s", res.Status())
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}

	c.log.Info("created history index", slog.String("index", c.index))
	return nil
}

// IndexReport writes a history document. Existing documents are never overwritten;
// an id collision returns ErrConflict. The call returns once the document is searchable.
func (c *Client) IndexReport(ctx context.Context, doc models.HistoryDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		OpType:     "create",
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// SearchReports returns the history documents of one user and ticker, newest first.
// A missing index yields an empty result.
func (c *Client) SearchReports(ctx context.Context, userID, ticker string, size int) ([]models.HistoryDocument, error) {
	if size <= 0 || size > maxHistorySize {
		size = maxHistorySize
	}

	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"user_id": userID}},
					{"term": map[string]any{"ticker": ticker}},
				},
			},
		},
		"sort": []map[string]any{
			{"uploaded_at": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "desc"}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return []models.HistoryDocument{}, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.HistoryDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.HistoryDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return items, nil
}

// Health pings Elasticsearch to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

const (
	readyPingTimeout  = 5 * time.Second
	readyIndexTimeout = 10 * time.Second
	maxReadyDelay     = 30 * time.Second
)

// WaitReady pings the cluster and ensures the history index, retrying with
// exponential backoff from delay (capped at 30s) for up to attempts tries.
// Nothing may be indexed before it returns nil.
func (c *Client) WaitReady(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = c.ready(ctx); err == nil {
			c.log.Info("connected to elasticsearch", slog.String("index", c.index))
			return nil
		}
		if i == attempts-1 {
			break
		}

		c.log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxReadyDelay {
			delay = maxReadyDelay
		}
	}
	return fmt.Errorf("elasticsearch not ready after %d attempts: %w", attempts, err)
}

func (c *Client) ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, readyPingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		return err
	}

	indexCtx, cancelIndex := context.WithTimeout(ctx, readyIndexTimeout)
	defer cancelIndex()
	return c.EnsureIndex(indexCtx)
}
