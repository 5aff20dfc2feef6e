// Package client provides the flight-status HTTP transport. It issues one
// page request per call and classifies the outcome; it never retries, since
// every attempt counts against a daily quota.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for API calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total flight-status requests by result class",
	}, []string{"class"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Flight-status request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Class is the classification of a call outcome.
type Class string

const (
	// ClassOK represents a 2xx response with a decodable page.
	ClassOK Class = "ok"

	// ClassQuotaExhausted represents a rejection whose body names the quota.
	ClassQuotaExhausted Class = "quota_exhausted"

	// ClassServer represents 5xx errors and undecodable success bodies.
	ClassServer Class = "server"

	// ClassNotFound represents 404 responses.
	ClassNotFound Class = "not_found"

	// ClassClient represents the remaining 4xx errors.
	ClassClient Class = "client"

	// ClassNetwork represents transport failures and timeouts.
	ClassNetwork Class = "network"
)

// DefaultQuotaMarker is the body fragment the API uses on quota rejections.
const DefaultQuotaMarker = "Developer"

// maxBodySize caps how much of a response is kept.
const maxBodySize = 64 << 20

// PageInfo is the pagination block of a successful response.
type PageInfo struct {
	PageSize   int `json:"pageSize"`
	PageNumber int `json:"pageNumber"`
	FullCount  int `json:"fullCount"`
	PageCount  int `json:"pageCount"`
	TotalPages int `json:"totalPages"`
}

type pageEnvelope struct {
	Page *PageInfo `json:"page"`
}

// DecodePage extracts the page block from a response body.
func DecodePage(body []byte) (PageInfo, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	if env.Page == nil {
		return PageInfo{}, errors.New("decode page info: missing page block")
	}
	return *env.Page, nil
}

// Result is the classified outcome of one call.
type Result struct {
	Class      Class
	StatusCode int
	// Status is the HTTP status line, e.g. "200 OK".
	Status  string
	Body    []byte
	Page    PageInfo
	Message string
}

// Err returns nil for ClassOK and an *APIError otherwise.
func (r *Result) Err() error {
	if r.Class == ClassOK {
		return nil
	}
	return &APIError{
		StatusCode: r.StatusCode,
		Class:      r.Class,
		Message:    r.Message,
		Err:        sentinel(r.Class),
	}
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the flight-status endpoint, query string excluded.
	BaseURL string

	// QuotaMarker identifies quota rejections in error bodies.
	QuotaMarker string

	// Timeout bounds each request.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns a configuration for baseURL with safe defaults.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:     baseURL,
		QuotaMarker: DefaultQuotaMarker,
		Timeout:     30 * time.Second,
		UserAgent:   userAgent,
	}
}

// Client is the flight-status API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.QuotaMarker == "" {
		cfg.QuotaMarker = DefaultQuotaMarker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// PageURL builds the request URL for signature and page. Blanks are removed
// so hand-edited matrix values cannot break the query string.
func (c *Client) PageURL(signature string, page int) string {
	base := strings.TrimRight(c.config.BaseURL, "?")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(base)
	if signature != "" {
		b.WriteString(sep)
		b.WriteString(signature)
		sep = "&"
	}
	b.WriteString(sep)
	b.WriteString("pageNumber=")
	b.WriteString(strconv.Itoa(page))

	return strings.ReplaceAll(b.String(), " ", "")
}

// FetchPage issues one request for page of the query identified by signature.
// A non-nil error is only returned for a cancelled context or an unbuildable
// request; every server answer and transport failure is reported as a Result.
func (c *Client) FetchPage(ctx context.Context, secret, signature string, page int) (*Result, error) {
	url := c.PageURL(signature, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("API-Key", secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/hal+json, application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("signature", signature).
		Int("page", page).
		Msg("Executing flight-status request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Error().Err(err).Str("signature", signature).Int("page", page).Msg("HTTP request failed")
		requestsTotal.WithLabelValues(string(ClassNetwork)).Inc()
		return &Result{Class: ClassNetwork, Status: "network error", Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		requestsTotal.WithLabelValues(string(ClassNetwork)).Inc()
		return &Result{
			Class:      ClassNetwork,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    fmt.Sprintf("read body: %v", err),
		}, nil
	}

	result := c.classify(resp, body)
	requestsTotal.WithLabelValues(string(result.Class)).Inc()

	if result.Class != ClassOK {
		c.logger.Warn().
			Str("signature", signature).
			Int("page", page).
			Int("status", result.StatusCode).
			Str("class", string(result.Class)).
			Msg("Flight-status request error")
	}

	return result, nil
}

// classify categorizes a response for the pagination engine.
func (c *Client) classify(resp *http.Response, body []byte) *Result {
	result := &Result{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		page, err := DecodePage(body)
		if err != nil {
			result.Class = ClassServer
			result.Message = err.Error()
			return result
		}
		result.Class = ClassOK
		result.Page = page
		return result
	case strings.Contains(string(body), c.config.QuotaMarker):
		result.Class = ClassQuotaExhausted
	case resp.StatusCode == http.StatusNotFound:
		result.Class = ClassNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		result.Class = ClassClient
	default:
		result.Class = ClassServer
	}

	result.Message = strings.TrimSpace(string(body))
	return result
}
