package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/flightstatus-harvester/internal/testutil"
	"github.com/Sternrassler/flightstatus-harvester/pkg/harvest"
)

const matrixHeader = "origin,startRange,endRange,completion\n"

// setupEnv points the harvester at a temp data dir and the mock API.
func setupEnv(t *testing.T, mock *testutil.MockFlightStatus, matrices map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range matrices {
		p := filepath.Join(dir, "call_parameter_lists", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o640); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	t.Setenv("HARVEST_DATA_DIR", dir)
	t.Setenv("HARVEST_MIN_INTERVAL", "0s")
	t.Setenv("HARVEST_ROLL_DATES", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("METRICS_ADDR", "")
	if mock != nil {
		t.Setenv("HARVEST_BASE_URL", mock.URL())
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_HarvestsAndReportsStatus(t *testing.T) {
	mock := testutil.NewMockFlightStatus()
	defer mock.Close()
	mock.SetTotalPages("CDG", 2)

	dir := setupEnv(t, mock, map[string]string{
		"a.csv": matrixHeader + "CDG,2025-01-01T00:00:00Z,2025-01-01T23:59:59Z,\n",
	})
	t.Setenv("API_KEYS", "k1:key-1")

	out, err := execute(t, "run")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("RequestCount() = %d, want 2", mock.RequestCount())
	}
	if !strings.Contains(out, "pages fetched:  2") {
		t.Errorf("run output = %q, want 2 pages fetched", out)
	}

	artifacts, err := filepath.Glob(filepath.Join(dir, "data", "*.json.gz"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(artifacts) != 2 {
		t.Errorf("artifacts = %v, want 2", artifacts)
	}

	if _, err := os.Stat(filepath.Join(dir, "api_keys", "afklm_api_keys.csv")); err != nil {
		t.Errorf("credential file not written: %v", err)
	}

	out, err = execute(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("status output = %q, want header and one row", out)
	}
	if fields := strings.Fields(lines[1]); len(fields) != 7 || fields[0] != "a.csv" || fields[2] != "1" || fields[5] != "2" {
		t.Errorf("status row = %q, want a.csv with 1 complete and 2 pages", lines[1])
	}

	// Nothing left to do.
	if _, err := execute(t, "run"); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("RequestCount() after second run = %d, want 2", mock.RequestCount())
	}
}

func TestRun_WithoutCredentials(t *testing.T) {
	mock := testutil.NewMockFlightStatus()
	defer mock.Close()

	setupEnv(t, mock, map[string]string{
		"a.csv": matrixHeader + "CDG,2025-01-01T00:00:00Z,2025-01-01T23:59:59Z,\n",
	})
	t.Setenv("API_KEYS", "")

	out, err := execute(t, "run")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if mock.RequestCount() != 0 {
		t.Errorf("RequestCount() = %d, want 0", mock.RequestCount())
	}
	if !strings.Contains(out, "all credentials exhausted") {
		t.Errorf("run output = %q, want quota notice", out)
	}
}

func TestRoll_AppendsWindows(t *testing.T) {
	yesterday := time.Now().AddDate(0, 0, -1)
	day := yesterday.Format("2006-01-02")

	setupEnv(t, nil, map[string]string{
		"a.csv": matrixHeader + "CDG," + day + "T00:00:00Z," + day + "T23:59:59Z,100\n",
	})

	out, err := execute(t, "roll", "--lookahead", "2")
	if err != nil {
		t.Fatalf("roll error = %v", err)
	}
	if strings.HasPrefix(out, "rolled 0 ") {
		t.Errorf("roll output = %q, want new windows", out)
	}

	out, err = execute(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[1])
	if fields[1] == "1" {
		t.Errorf("status row = %q, want more than one query after roll", lines[1])
	}
}

func TestStatus_DoesNotWriteMatrixFiles(t *testing.T) {
	dir := setupEnv(t, nil, map[string]string{
		"a.csv": matrixHeader + "CDG,2025-01-01T00:00:00Z,2025-01-01T23:59:59Z,67%\n",
	})

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "a.csv") {
		t.Errorf("status output = %q, want a.csv row", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "call_parameter_lists", "a.bak")); !os.IsNotExist(err) {
		t.Errorf("status wrote a backup twin (stat error = %v)", err)
	}
}

func TestRoot_InvalidFlags(t *testing.T) {
	setupEnv(t, nil, nil)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown log level", []string{"--log-level", "verbose", "status"}},
		{"missing config file", []string{"--config", "does-not-exist.yaml", "status"}},
		{"negative lookahead", []string{"roll", "--lookahead", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("execute(%v) error = nil, want error", tt.args)
			}
		})
	}
}

func TestPrintStatus_Totals(t *testing.T) {
	var buf bytes.Buffer
	err := printStatus(&buf, []harvest.SourceStatus{
		{Source: "a.csv", Queries: 2, Complete: 1, Pending: 1, PagesRetrieved: 3, Flights: 250},
		{Source: "b.csv", Queries: 1, Failed: 1},
	})
	if err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), buf.String())
	}
	want := []string{"TOTAL", "3", "1", "1", "1", "3", "250"}
	if got := strings.Fields(lines[3]); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("total row = %v, want %v", got, want)
	}
}
