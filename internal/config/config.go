package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names an optional YAML file of KEY: value pairs. Environment
// variables take precedence over the file; the file over built-in defaults.
const FileEnv = "FILING_CONFIG"

// Common contains Elasticsearch and Kafka parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
	KafkaBrokers       []string
	PendingTopic       string
	ESStartupAttempts  int
	ESStartupDelay     time.Duration
}

// Worker holds configuration for the pending-report worker.
type Worker struct {
	Common
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
	WriteTimeout   time.Duration
}

// LLM selects the generative model provider.
type LLM struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	VertexProject string
	VertexRegion  string
	Temperature   float32
	MaxTokens     int
	RPM           int
	Burst         int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	LLM
	BindAddr              string
	WriteTimeout          time.Duration
	MaxUploadBytes        int64
	ExtractionURL         string
	ExtractionTimeout     time.Duration
	ExtractionMaxAttempts int
	ExtractionBackoff     time.Duration
	EnrichmentTimeout     time.Duration
	ExplainTimeout        time.Duration
	PersistTimeout        time.Duration
	PromptMaxChars        int
	HistoryLimit          int
	PendingQueue          bool
	JWTSecret             string
	JWTIssuer             string
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         s.common(),
		KafkaConsumer:  s.getEnv("KAFKA_CONSUMER_GROUP", "report-persister"),
		DedupeCapacity: s.getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      s.getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      s.getInt("WORKER_BATCH_SIZE", 10),
		WriteTimeout:   s.getDuration("WORKER_WRITE_TIMEOUT", "30s"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.WriteTimeout <= 0 {
		return nil, fmt.Errorf("WORKER_WRITE_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common: s.common(),
		LLM: LLM{
			Provider:      s.getEnv("LLM_PROVIDER", "vertex"),
			Model:         s.getEnv("LLM_MODEL", "gemini-1.5-flash"),
			BaseURL:       s.getEnv("LLM_BASE_URL", ""),
			APIKey:        s.getEnv("LLM_API_KEY", ""),
			VertexProject: s.getEnv("VERTEX_PROJECT", ""),
			VertexRegion:  s.getEnv("VERTEX_REGION", "us-central1"),
			Temperature:   float32(s.getFloat("LLM_TEMPERATURE", 0.2)),
			MaxTokens:     s.getInt("LLM_MAX_TOKENS", 2048),
			RPM:           s.getInt("LLM_RPM", 60),
			Burst:         s.getInt("LLM_BURST", 3),
		},
		BindAddr:              s.getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		MaxUploadBytes:        int64(s.getInt("API_MAX_UPLOAD_BYTES", 50<<20)),
		ExtractionURL:         s.getEnv("EXTRACTION_URL", "http://extraction:8000/parse-pdf"),
		ExtractionTimeout:     s.getDuration("EXTRACTION_TIMEOUT", "3m"),
		ExtractionMaxAttempts: s.getInt("EXTRACTION_MAX_ATTEMPTS", 3),
		ExtractionBackoff:     s.getDuration("EXTRACTION_BACKOFF", "1s"),
		EnrichmentTimeout:     s.getDuration("ENRICHMENT_TIMEOUT", "90s"),
		ExplainTimeout:        s.getDuration("EXPLAIN_TIMEOUT", "60s"),
		PersistTimeout:        s.getDuration("PERSIST_TIMEOUT", "10s"),
		PromptMaxChars:        s.getInt("PROMPT_MAX_CHARS", 60000),
		HistoryLimit:          s.getInt("API_HISTORY_LIMIT", 100),
		PendingQueue:          s.getBool("API_PENDING_QUEUE", true),
		JWTSecret:             s.getEnv("JWT_SECRET", ""),
		JWTIssuer:             s.getEnv("JWT_ISSUER", ""),
	}

	if c.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if c.ExtractionURL == "" {
		return nil, fmt.Errorf("EXTRACTION_URL is required")
	}
	if c.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("API_MAX_UPLOAD_BYTES must be positive")
	}
	if c.ExtractionMaxAttempts <= 0 {
		return nil, fmt.Errorf("EXTRACTION_MAX_ATTEMPTS must be positive")
	}
	if c.HistoryLimit <= 0 {
		return nil, fmt.Errorf("API_HISTORY_LIMIT must be positive")
	}
	if c.PromptMaxChars <= 0 {
		return nil, fmt.Errorf("PROMPT_MAX_CHARS must be positive")
	}
	// The response is written after the whole pipeline, so the write timeout
	// must outlast its worst case.
	budget := c.AnalyzeBudget()
	if raw := s.getEnv("API_WRITE_TIMEOUT", ""); raw == "" {
		c.WriteTimeout = budget + writeTimeoutSlack
	} else {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_WRITE_TIMEOUT: %w", err)
		}
		if d < budget {
			return nil, fmt.Errorf("API_WRITE_TIMEOUT %s is shorter than the analysis budget %s", d, budget)
		}
		c.WriteTimeout = d
	}
	if c.PendingQueue && len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker when API_PENDING_QUEUE is enabled")
	}

	return c, nil
}

const writeTimeoutSlack = 30 * time.Second

// AnalyzeBudget is the longest an analysis can take: every extraction attempt
// timing out with the backoff between them, then enrichment and the history write.
func (c *API) AnalyzeBudget() time.Duration {
	budget := time.Duration(c.ExtractionMaxAttempts) * c.ExtractionTimeout
	for i := 1; i < c.ExtractionMaxAttempts; i++ {
		budget += c.ExtractionBackoff << uint(i-1)
	}
	return budget + c.EnrichmentTimeout + c.PersistTimeout
}

type source struct {
	file map[string]string
}

func newSource() (*source, error) {
	s := &source{file: map[string]string{}}

	path := os.Getenv(FileEnv)
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for key, v := range values {
		switch typed := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(typed))
			for _, p := range typed {
				parts = append(parts, fmt.Sprint(p))
			}
			s.file[key] = strings.Join(parts, ",")
		default:
			s.file[key] = fmt.Sprint(typed)
		}
	}
	return s, nil
}

func (s *source) common() Common {
	return Common{
		ElasticsearchAddr:  s.getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: s.getEnv("ELASTICSEARCH_INDEX", "reports"),
		KafkaBrokers:       splitAndTrim(s.getEnv("KAFKA_BROKERS", "kafka:9092")),
		PendingTopic:       s.getEnv("KAFKA_PENDING_TOPIC", "reports_pending"),
		ESStartupAttempts:  s.getInt("ES_STARTUP_ATTEMPTS", 10),
		ESStartupDelay:     s.getDuration("ES_STARTUP_DELAY", "2s"),
	}
}

func (s *source) getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s *source) getInt(key string, fallback int) int {
	if v := s.getEnv(key, ""); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s *source) getFloat(key string, fallback float64) float64 {
	if v := s.getEnv(key, ""); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s *source) getBool(key string, fallback bool) bool {
	if v := s.getEnv(key, ""); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s *source) getDuration(key, fallback string) time.Duration {
	raw := s.getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
