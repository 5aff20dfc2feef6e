// Package testutil provides testing utilities for the flight-status harvester.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// QuotaBody is returned for exhausted keys. It carries the quota marker.
const QuotaBody = `{"errors":[{"code":403,"description":"Developer Over Rate"}]}`

// MockResponse defines a fixed response for queries on one origin.
type MockResponse struct {
	StatusCode int
	Body       string
}

// Request is one request received by the mock.
type Request struct {
	APIKey string
	Origin string
	Page   int
	Query  string
}

// MockFlightStatus is a configurable mock flight-status API.
//
// Queries are distinguished by their origin parameter. Unless configured
// otherwise an origin has DefaultTotalPages pages of DefaultPageSize flights.
type MockFlightStatus struct {
	server *httptest.Server
	mu     sync.RWMutex

	DefaultTotalPages int
	DefaultPageSize   int

	totalPages map[string]int
	responses  map[string]MockResponse
	exhausted  map[string]bool
	budget     map[string]int
	requests   []Request
}

// NewMockFlightStatus creates and starts a mock server.
func NewMockFlightStatus() *MockFlightStatus {
	mock := &MockFlightStatus{
		DefaultTotalPages: 1,
		DefaultPageSize:   100,
		totalPages:        make(map[string]int),
		responses:         make(map[string]MockResponse),
		exhausted:         make(map[string]bool),
		budget:            make(map[string]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockFlightStatus) URL() string {
	return m.server.URL + "/opendata/flightstatus"
}

// Close shuts down the mock server.
func (m *MockFlightStatus) Close() {
	m.server.Close()
}

// SetTotalPages configures the page count for origin.
func (m *MockFlightStatus) SetTotalPages(origin string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalPages[origin] = n
}

// SetResponse makes every request for origin return resp.
func (m *MockFlightStatus) SetResponse(origin string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[origin] = resp
}

// ExhaustKey makes every request with apiKey fail with the quota marker.
func (m *MockFlightStatus) ExhaustKey(apiKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted[apiKey] = true
}

// SetKeyBudget lets apiKey succeed n more times before it is exhausted.
func (m *MockFlightStatus) SetKeyBudget(apiKey string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget[apiKey] = n
}

// Requests returns a copy of all received requests.
func (m *MockFlightStatus) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockFlightStatus) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Reset clears recorded requests.
func (m *MockFlightStatus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func (m *MockFlightStatus) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("pageNumber"))
	key := r.Header.Get("API-Key")
	origin := q.Get("origin")

	m.mu.Lock()
	m.requests = append(m.requests, Request{APIKey: key, Origin: origin, Page: page, Query: r.URL.RawQuery})
	if n, ok := m.budget[key]; ok {
		if n <= 0 {
			m.exhausted[key] = true
		}
		m.budget[key] = n - 1
	}
	exhausted := m.exhausted[key]
	resp, fixed := m.responses[origin]
	total, ok := m.totalPages[origin]
	if !ok {
		total = m.DefaultTotalPages
	}
	pageSize := m.DefaultPageSize
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/hal+json")

	switch {
	case exhausted:
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(QuotaBody))
	case fixed:
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	default:
		json.NewEncoder(w).Encode(PageBody(origin, page, total, pageSize))
	}
}

// PageBody builds a success payload for page of total.
func PageBody(origin string, page, total, pageSize int) map[string]any {
	flights := make([]map[string]any, 0, 2)
	for i := 0; i < 2; i++ {
		flights = append(flights, map[string]any{
			"id":    origin + "-" + strconv.Itoa(page) + "-" + strconv.Itoa(i),
			"route": []string{origin},
		})
	}
	return map[string]any{
		"operationalFlights": flights,
		"page": map[string]any{
			"pageSize":   pageSize,
			"pageNumber": page,
			"fullCount":  total * pageSize,
			"pageCount":  pageSize,
			"totalPages": total,
		},
	}
}
