package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorett/groundlink/internal/config"
)

func testDownloadConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	tempDir := t.TempDir()
	cfg := config.Default()
	cfg.Download.LogsDir = filepath.Join(tempDir, "logs")
	cfg.Download.GraphsDir = filepath.Join(tempDir, "graphs")
	cfg.Download.ErrorLog = filepath.Join(tempDir, "download_errors.tsv")
	cfg.Download.Retries = 2
	return cfg, tempDir
}

func TestDownloadLogsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#Pass ID: test\nlog body for "+r.URL.Path+"\n")
	}))
	defer server.Close()

	cfg, tempDir := testDownloadConfig(t)
	d := NewDownloader(cfg)

	tasks := []Task{
		{SourceURL: server.URL + "/log_get/a.log", DestPath: filepath.Join(tempDir, "out", "a.log")},
		{SourceURL: server.URL + "/log_get/b.log", DestPath: filepath.Join(tempDir, "out", "b.log")},
		{SourceURL: server.URL + "/log_get/c.log", DestPath: filepath.Join(tempDir, "out", "c.log")},
	}
	stats, results := d.DownloadLogs(context.Background(), tasks)

	if stats.Downloaded != 3 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("Expected 3 downloads, got %+v", stats)
	}
	if len(results) != len(tasks) {
		t.Fatalf("Expected %d results, got %d", len(tasks), len(results))
	}
	for i, res := range results {
		// Results are attributed to the submitting index.
		if res.Task.SourceURL != tasks[i].SourceURL {
			t.Errorf("Result %d attributed to wrong task: %s", i, res.Task.SourceURL)
		}
		body, err := os.ReadFile(res.Task.DestPath)
		if err != nil {
			t.Fatalf("Downloaded file missing: %v", err)
		}
		if !strings.Contains(string(body), "log body") {
			t.Errorf("Unexpected file content: %q", string(body))
		}
		if _, err := os.Stat(res.Task.DestPath + ".part"); !os.IsNotExist(err) {
			t.Errorf("Temp file left behind for %s", res.Task.DestPath)
		}
	}
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		io.WriteString(w, "fresh content")
	}))
	defer server.Close()

	cfg, tempDir := testDownloadConfig(t)
	d := NewDownloader(cfg)

	destPath := filepath.Join(tempDir, "existing.log")
	if err := os.WriteFile(destPath, []byte("already here"), 0644); err != nil {
		t.Fatalf("Failed to prepare existing file: %v", err)
	}

	stats, results := d.DownloadLogs(context.Background(), []Task{
		{SourceURL: server.URL + "/existing.log", DestPath: destPath},
	})

	if stats.Skipped != 1 || stats.Downloaded != 0 {
		t.Fatalf("Expected 1 skip, got %+v", stats)
	}
	if results[0].Outcome != OutcomeSkipped {
		t.Errorf("Expected OutcomeSkipped, got %s", results[0].Outcome)
	}
	if atomic.LoadInt64(&hits) != 0 {
		t.Errorf("Expected no network requests for existing file, got %d", hits)
	}
	body, _ := os.ReadFile(destPath)
	if string(body) != "already here" {
		t.Errorf("Existing file was overwritten: %q", string(body))
	}
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "finally")
	}))
	defer server.Close()

	cfg, tempDir := testDownloadConfig(t)
	d := NewDownloader(cfg)

	start := time.Now()
	stats, _ := d.DownloadLogs(context.Background(), []Task{
		{SourceURL: server.URL + "/flaky.log", DestPath: filepath.Join(tempDir, "flaky.log")},
	})
	elapsed := time.Since(start)

	if stats.Downloaded != 1 {
		t.Fatalf("Expected download to succeed on third attempt, got %+v", stats)
	}
	if atomic.LoadInt64(&attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// Two backoffs: 300ms then 600ms.
	if elapsed < 900*time.Millisecond {
		t.Errorf("Expected at least 900ms of backoff, finished in %s", elapsed)
	}
}

func TestDownloadFailureIsLoggedNotRaised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	cfg, tempDir := testDownloadConfig(t)
	cfg.Download.Retries = 0
	d := NewDownloader(cfg)

	badDest := filepath.Join(tempDir, "bad.log")
	stats, results := d.DownloadLogs(context.Background(), []Task{
		{SourceURL: server.URL + "/good.log", DestPath: filepath.Join(tempDir, "good.log")},
		{SourceURL: server.URL + "/bad.log", DestPath: badDest},
	})

	if stats.Downloaded != 1 || stats.Failed != 1 {
		t.Fatalf("Expected 1 download and 1 failure, got %+v", stats)
	}
	if results[1].Outcome != OutcomeFailed || results[1].Err == nil {
		t.Errorf("Expected failed result with error, got %+v", results[1])
	}
	if _, err := os.Stat(badDest); !os.IsNotExist(err) {
		t.Errorf("Failed download left a file at %s", badDest)
	}

	raw, err := os.ReadFile(cfg.Download.ErrorLog)
	if err != nil {
		t.Fatalf("Error log not written: %v", err)
	}
	line := strings.TrimSpace(string(raw))
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		t.Fatalf("Expected 3 tab-separated fields in error log, got %q", line)
	}
	if fields[0] != server.URL+"/bad.log" || fields[1] != badDest {
		t.Errorf("Error log row mismatch: %q", line)
	}
}

func TestDownloadGraphsUsesRenderer(t *testing.T) {
	cfg, tempDir := testDownloadConfig(t)
	d := NewDownloader(cfg)

	renderer := renderFunc(func(ctx context.Context, pageURL string) ([]byte, error) {
		return []byte("PNG:" + pageURL), nil
	})

	destPath := filepath.Join(tempDir, "graphs", "pass.png")
	stats, _ := d.DownloadGraphs(context.Background(), []Task{
		{SourceURL: "http://portal.test/log_view/pass.log", DestPath: destPath},
	}, renderer)

	if stats.Downloaded != 1 {
		t.Fatalf("Expected 1 rendered snapshot, got %+v", stats)
	}
	body, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("Snapshot file missing: %v", err)
	}
	if string(body) != "PNG:http://portal.test/log_view/pass.log" {
		t.Errorf("Unexpected snapshot content: %q", string(body))
	}
}

// renderFunc adapts a function to the SnapshotRenderer interface for tests.
type renderFunc func(ctx context.Context, pageURL string) ([]byte, error)

func (f renderFunc) RenderSnapshot(ctx context.Context, pageURL string) ([]byte, error) {
	return f(ctx, pageURL)
}

func TestDestPathHelpers(t *testing.T) {
	d := day("2026-01-27")

	logPath := LogDestPath("/data/logs", d, "Moscow_RU",
		"http://portal.test/eus/log_get/Moscow_RU__20260127_031121_METEOR-M2_rec.log")
	wantLog := filepath.Join("/data/logs", "2026", "01", "27", "Moscow_RU",
		"Moscow_RU__20260127_031121_METEOR-M2_rec.log")
	if logPath != wantLog {
		t.Errorf("LogDestPath = %s, want %s", logPath, wantLog)
	}

	graphPath := GraphDestPath("/data/graphs", d, "Moscow_RU",
		"http://portal.test/eus/log_view/Moscow_RU__20260127_031121_METEOR-M2_rec.log")
	wantGraph := filepath.Join("/data/graphs", "2026", "01", "27", "Moscow_RU",
		"Moscow_RU__20260127_031121_METEOR-M2_rec.png")
	if graphPath != wantGraph {
		t.Errorf("GraphDestPath = %s, want %s", graphPath, wantGraph)
	}
}
