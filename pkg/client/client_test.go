package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(DefaultConfig(baseURL, "TestHarvester/1.0"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://example.com/flightstatus", "TestApp/1.0"),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      Config{UserAgent: "TestApp/1.0"},
			expectError: true,
		},
		{
			name:        "missing user agent",
			config:      Config{BaseURL: "https://example.com/flightstatus"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, zerolog.Nop())
			if (err != nil) != tt.expectError {
				t.Errorf("New() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		signature string
		page      int
		expected  string
	}{
		{
			name:      "with signature",
			base:      "https://api.example.com/flightstatus/",
			signature: "origin=CDG&startRange=2025-01-01T00:00:00Z",
			page:      2,
			expected:  "https://api.example.com/flightstatus/?origin=CDG&startRange=2025-01-01T00:00:00Z&pageNumber=2",
		},
		{
			name:      "empty signature",
			base:      "https://api.example.com/flightstatus",
			signature: "",
			page:      0,
			expected:  "https://api.example.com/flightstatus?pageNumber=0",
		},
		{
			name:      "blanks removed",
			base:      "https://api.example.com/flightstatus",
			signature: "origin= CDG",
			page:      1,
			expected:  "https://api.example.com/flightstatus?origin=CDG&pageNumber=1",
		},
		{
			name:      "base with query",
			base:      "https://api.example.com/flightstatus?format=json",
			signature: "origin=CDG",
			page:      1,
			expected:  "https://api.example.com/flightstatus?format=json&origin=CDG&pageNumber=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.base)
			if got := c.PageURL(tt.signature, tt.page); got != tt.expected {
				t.Errorf("PageURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestDecodePage_Fixture pins the decoder to a recorded response.
func TestDecodePage_Fixture(t *testing.T) {
	page, err := DecodePage(readFixture(t, "flightstatus_page.json"))
	if err != nil {
		t.Fatalf("DecodePage() error = %v", err)
	}

	if page.TotalPages != 4 {
		t.Errorf("TotalPages = %d, want 4", page.TotalPages)
	}
	if page.FullCount != 347 {
		t.Errorf("FullCount = %d, want 347", page.FullCount)
	}
	if page.PageNumber != 1 {
		t.Errorf("PageNumber = %d, want 1", page.PageNumber)
	}
}

func TestDecodePage_Invalid(t *testing.T) {
	for _, body := range []string{"", "{}", "not json", `{"page": 3}`} {
		if _, err := DecodePage([]byte(body)); err == nil {
			t.Errorf("DecodePage(%q) error = nil, want error", body)
		}
	}
}

func TestFetchPage_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantClass Class
		wantPages int
		wantErrIs error
	}{
		{
			name:      "success",
			status:    http.StatusOK,
			body:      string(mustRead("testdata/flightstatus_page.json")),
			wantClass: ClassOK,
			wantPages: 4,
		},
		{
			name:      "quota exhausted",
			status:    http.StatusForbidden,
			body:      string(mustRead("testdata/quota_exceeded.json")),
			wantClass: ClassQuotaExhausted,
			wantErrIs: ErrQuotaExhausted,
		},
		{
			name:      "quota marker on 429",
			status:    http.StatusTooManyRequests,
			body:      "Developer Inactive",
			wantClass: ClassQuotaExhausted,
			wantErrIs: ErrQuotaExhausted,
		},
		{
			name:      "not found",
			status:    http.StatusNotFound,
			body:      `{"errors":[{"description":"No flights found"}]}`,
			wantClass: ClassNotFound,
			wantErrIs: ErrNotFound,
		},
		{
			name:      "bad request",
			status:    http.StatusBadRequest,
			body:      `{"errors":[{"description":"Invalid range"}]}`,
			wantClass: ClassClient,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			body:      "upstream unavailable",
			wantClass: ClassServer,
		},
		{
			name:      "undecodable success",
			status:    http.StatusOK,
			body:      "<html>maintenance</html>",
			wantClass: ClassServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			result, err := c.FetchPage(context.Background(), "secret", "origin=CDG", 0)
			if err != nil {
				t.Fatalf("FetchPage() error = %v", err)
			}

			if result.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", result.Class, tt.wantClass)
			}
			if result.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, tt.status)
			}
			if result.Page.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", result.Page.TotalPages, tt.wantPages)
			}

			err = result.Err()
			if tt.wantClass == ClassOK {
				if err != nil {
					t.Errorf("Err() = %v, want nil", err)
				}
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Err() = %v, want *APIError", err)
			}
			if apiErr.Class != tt.wantClass {
				t.Errorf("APIError.Class = %s, want %s", apiErr.Class, tt.wantClass)
			}
			if tt.wantErrIs != nil && !errors.Is(err, tt.wantErrIs) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErrIs)
			}
		})
	}
}

func TestFetchPage_RequestShape(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write(mustRead("testdata/flightstatus_page.json"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/flightstatus")
	if _, err := c.FetchPage(context.Background(), "k-123", "origin=CDG&destination=AMS", 3); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if got.Method != http.MethodGet {
		t.Errorf("Method = %s, want GET", got.Method)
	}
	if got.Header.Get("API-Key") != "k-123" {
		t.Errorf("API-Key = %q, want k-123", got.Header.Get("API-Key"))
	}
	if got.Header.Get("User-Agent") != "TestHarvester/1.0" {
		t.Errorf("User-Agent = %q", got.Header.Get("User-Agent"))
	}
	if ct := got.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", ct)
	}

	q := got.URL.Query()
	if q.Get("pageNumber") != "3" || q.Get("origin") != "CDG" || q.Get("destination") != "AMS" {
		t.Errorf("query = %v", q)
	}
}

func TestFetchPage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	result, err := c.FetchPage(context.Background(), "secret", "origin=CDG", 0)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if result.Class != ClassNetwork {
		t.Errorf("Class = %s, want %s", result.Class, ClassNetwork)
	}
	if result.Message == "" {
		t.Error("network result should carry a message")
	}
}

func TestFetchPage_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := newTestClient(t, server.URL)
	_, err := c.FetchPage(ctx, "secret", "origin=CDG", 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("FetchPage() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := (&Result{Class: ClassServer, StatusCode: 503, Message: "down"}).Err()
	if !strings.Contains(err.Error(), "server") || !strings.Contains(err.Error(), "503") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func mustRead(name string) []byte {
	data, err := os.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return data
}
