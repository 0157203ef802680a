package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lorett/groundlink/internal/config"
)

// downloadChunkSize is the streamed copy buffer for log bodies.
const downloadChunkSize = 8192

// initialBackoff is the delay before the first retry; it doubles per attempt.
const initialBackoff = 300 * time.Millisecond

// Outcome classifies what happened to one download task.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeDownloaded
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Task is one file to fetch: where from and where to.
type Task struct {
	SourceURL string
	DestPath  string
}

// TaskResult is the outcome of one task, attributed to the submitting index
// so callers can zip results back to their requests regardless of
// completion order.
type TaskResult struct {
	Task    Task
	Outcome Outcome
	Err     error
}

// DownloadStats summarizes a whole batch.
type DownloadStats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// fetchFunc retrieves one source into one destination path. Implementations
// must leave a complete file at destPath or no file at all.
type fetchFunc func(ctx context.Context, sourceURL, destPath string) error

// Downloader runs batches of download tasks through a bounded worker pool
// with retry, idempotent skip and crash-safe staged writes. The same pool
// drives both raw log fetches and rendered graph snapshots.
type Downloader struct {
	cfg    *config.Config
	client *http.Client

	errLogMu sync.Mutex
}

// NewDownloader creates a downloader bound to the configured limits.
func NewDownloader(cfg *config.Config) *Downloader {
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Download.Timeout},
	}
}

// DownloadLogs fetches every task's raw log over HTTP. The batch always
// completes: individual failures are counted and appended to the error log,
// never raised.
func (d *Downloader) DownloadLogs(ctx context.Context, tasks []Task) (DownloadStats, []TaskResult) {
	return d.run(ctx, tasks, d.cfg.Download.Concurrency, d.fetchHTTP)
}

// DownloadGraphs renders every task's pass preview page through the given
// renderer and stores the PNG snapshot. Same scheduling contract as
// DownloadLogs, at the lower graph concurrency.
func (d *Downloader) DownloadGraphs(ctx context.Context, tasks []Task, renderer SnapshotRenderer) (DownloadStats, []TaskResult) {
	fetch := func(ctx context.Context, sourceURL, destPath string) error {
		img, err := renderer.RenderSnapshot(ctx, sourceURL)
		if err != nil {
			return fmt.Errorf("failed to render snapshot of %s: %w", sourceURL, err)
		}
		return stageBytes(destPath, img)
	}
	return d.run(ctx, tasks, d.cfg.Download.GraphConcurrency, fetch)
}

// run is the shared worker pool. Tasks are pre-deduplicated by destination
// path by the caller, so no two in-flight tasks ever touch the same file.
func (d *Downloader) run(ctx context.Context, tasks []Task, concurrency int, fetch fetchFunc) (DownloadStats, []TaskResult) {
	results := make([]TaskResult, len(tasks))
	if len(tasks) == 0 {
		return DownloadStats{}, results
	}
	if concurrency > len(tasks) {
		concurrency = len(tasks)
	}

	jobs := make(chan int, concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.runTask(ctx, tasks[i], fetch)
			}
		}()
	}
	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var stats DownloadStats
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDownloaded:
			stats.Downloaded++
		case OutcomeSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	log.Printf("Download batch done: %d downloaded, %d skipped, %d failed of %d tasks",
		stats.Downloaded, stats.Skipped, stats.Failed, len(tasks))
	return stats, results
}

// runTask executes one task: skip if already present, otherwise fetch with
// retries and exponential backoff.
func (d *Downloader) runTask(ctx context.Context, task Task, fetch fetchFunc) TaskResult {
	if fi, err := os.Stat(task.DestPath); err == nil && fi.Size() > 0 {
		log.Printf("File exists, skip: %s", task.DestPath)
		return TaskResult{Task: task, Outcome: OutcomeSkipped}
	}

	var lastErr error
	backoff := initialBackoff
	attempts := d.cfg.Download.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fetch(ctx, task.SourceURL, task.DestPath)
		if lastErr == nil {
			return TaskResult{Task: task, Outcome: OutcomeDownloaded}
		}
		if attempt < attempts {
			log.Printf("Attempt %d/%d for %s failed: %v, retrying in %s",
				attempt, attempts, task.SourceURL, lastErr, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
			}
			backoff *= 2
		}
	}

	log.Printf("Download failed after %d attempts: %s: %v", attempts, task.SourceURL, lastErr)
	d.appendErrorLog(task, lastErr)
	return TaskResult{Task: task, Outcome: OutcomeFailed, Err: lastErr}
}

// fetchHTTP streams one URL into destPath via a temporary sibling file, so
// a crash mid-transfer never leaves a truncated final file.
func (d *Downloader) fetchHTTP(ctx context.Context, sourceURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", sourceURL, err)
	}
	req.Header.Set("User-Agent", d.cfg.Portal.UserAgent)

	res, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", sourceURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code for %s: %d %s", sourceURL, res.StatusCode, res.Status)
	}

	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", partPath, err)
	}

	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(out, res.Body, buf); err != nil {
		out.Close()
		os.Remove(partPath)
		return fmt.Errorf("failed to write %s: %w", partPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to close temp file %s: %w", partPath, err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to move %s into place: %w", partPath, err)
	}
	return nil
}

// stageBytes writes a fully buffered payload through the same staged-rename
// protocol as streamed fetches.
func stageBytes(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}
	partPath := destPath + ".part"
	if err := os.WriteFile(partPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", partPath, err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to move %s into place: %w", partPath, err)
	}
	return nil
}

// appendErrorLog records one failed task as a tab-separated row, when an
// error log path is configured.
func (d *Downloader) appendErrorLog(task Task, taskErr error) {
	if d.cfg.Download.ErrorLog == "" || taskErr == nil {
		return
	}
	d.errLogMu.Lock()
	defer d.errLogMu.Unlock()

	f, err := os.OpenFile(d.cfg.Download.ErrorLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Failed to open download error log %s: %v", d.cfg.Download.ErrorLog, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\t%v\n", task.SourceURL, task.DestPath, taskErr)
}

// URLFilename returns the final path element of a portal link.
func URLFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}

// LogDestPath places a raw log under <root>/<YYYY>/<MM>/<DD>/<station>/.
func LogDestPath(root string, day time.Time, station, getURL string) string {
	return filepath.Join(root,
		day.Format("2006"), day.Format("01"), day.Format("02"),
		station, URLFilename(getURL))
}

// GraphDestPath places a rendered snapshot next to its log's layout, named
// after the log file with a .png extension.
func GraphDestPath(root string, day time.Time, station, viewURL string) string {
	name := URLFilename(viewURL)
	name = strings.TrimSuffix(name, ".log") + ".png"
	name = strings.ReplaceAll(name, " ", "_")
	return filepath.Join(root,
		day.Format("2006"), day.Format("01"), day.Format("02"),
		station, name)
}
