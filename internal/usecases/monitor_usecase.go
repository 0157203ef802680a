// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lorett/groundlink/internal/analyzer"
	"github.com/lorett/groundlink/internal/config"
	"github.com/lorett/groundlink/internal/entities"
	"github.com/lorett/groundlink/internal/integration"
	"github.com/lorett/groundlink/internal/repository"
)

// MonitorUseCase drives one monitoring cycle: discover the day's passes on
// the portal, download their logs and graph snapshots, analyze each log
// and persist the results.
type MonitorUseCase struct {
	repo       repository.PassRepository
	scraper    *integration.PortalScraper
	downloader *integration.Downloader
	renderer   integration.SnapshotRenderer
	analyzer   *analyzer.PassAnalyzer
	cfg        *config.Config
}

// NewMonitorUseCase creates a new monitor use case. The renderer may be
// nil; graph snapshots are skipped then.
func NewMonitorUseCase(
	repo repository.PassRepository,
	scraper *integration.PortalScraper,
	downloader *integration.Downloader,
	renderer integration.SnapshotRenderer,
	passAnalyzer *analyzer.PassAnalyzer,
	cfg *config.Config,
) *MonitorUseCase {
	return &MonitorUseCase{
		repo:       repo,
		scraper:    scraper,
		downloader: downloader,
		renderer:   renderer,
		analyzer:   passAnalyzer,
		cfg:        cfg,
	}
}

// passJob pairs one listing entry with its local destinations.
type passJob struct {
	station   string
	logURL    string
	logPath   string
	graphURL  string
	graphPath string
}

// ProcessDay runs the full pipeline for one calendar day.
func (uc *MonitorUseCase) ProcessDay(ctx context.Context, day time.Time) error {
	log.Printf("Processing passes for %s", day.Format("2006-01-02"))

	listing, err := uc.scraper.FetchListing(day)
	if err != nil {
		return fmt.Errorf("failed to fetch portal listing: %v", err)
	}
	log.Printf("Found %d passes across %d stations", listing.Total(), len(listing.Stations()))

	jobs := uc.buildJobs(listing, day)
	if len(jobs) == 0 {
		log.Printf("Nothing to download for %s", day.Format("2006-01-02"))
		return nil
	}

	logTasks := make([]integration.Task, len(jobs))
	for i, job := range jobs {
		logTasks[i] = integration.Task{SourceURL: job.logURL, DestPath: job.logPath}
	}
	logStats, logResults := uc.downloader.DownloadLogs(ctx, logTasks)
	log.Printf("Log downloads: %d downloaded, %d skipped, %d failed",
		logStats.Downloaded, logStats.Skipped, logStats.Failed)

	if uc.renderer != nil {
		var graphTasks []integration.Task
		for i, job := range jobs {
			if logResults[i].Outcome == integration.OutcomeFailed || job.graphURL == "" {
				continue
			}
			graphTasks = append(graphTasks, integration.Task{SourceURL: job.graphURL, DestPath: job.graphPath})
		}
		graphStats, _ := uc.downloader.DownloadGraphs(ctx, graphTasks, uc.renderer)
		log.Printf("Graph snapshots: %d rendered, %d skipped, %d failed",
			graphStats.Downloaded, graphStats.Skipped, graphStats.Failed)
	}

	var passes []entities.Pass
	for i, res := range logResults {
		if res.Outcome == integration.OutcomeFailed {
			continue
		}
		job := jobs[i]
		p, err := uc.analyzer.AnalyzePass(entities.Pass{
			StationName: job.station,
			PassDate:    day,
			LogURL:      job.logURL,
			LogPath:     job.logPath,
			GraphURL:    job.graphURL,
			GraphPath:   job.graphPath,
		})
		if errors.Is(err, analyzer.ErrInvalidLog) {
			log.Printf("Warning: %v", err)
			continue
		}
		if err != nil {
			// An unreadable log must surface, not vanish from the
			// day's statistics.
			return fmt.Errorf("failed to analyze %s: %v", job.logPath, err)
		}
		passes = append(passes, p)
	}

	if len(passes) == 0 {
		log.Printf("No analyzable passes for %s", day.Format("2006-01-02"))
		return nil
	}
	inserted, err := uc.repo.RecordPasses(passes)
	if err != nil {
		return fmt.Errorf("failed to record passes: %v", err)
	}
	log.Printf("Recorded %d new passes for %s", inserted, day.Format("2006-01-02"))
	return nil
}

// ProcessRange runs ProcessDay for every day in the inclusive range. A
// failed day is logged and does not stop the rest of the range.
func (uc *MonitorUseCase) ProcessRange(ctx context.Context, from, to time.Time) error {
	var lastErr error
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := uc.ProcessDay(ctx, day); err != nil {
			log.Printf("Warning: failed to process %s: %v", day.Format("2006-01-02"), err)
			lastErr = err
		}
	}
	return lastErr
}

// buildJobs flattens the listing into download jobs, deduplicating
// entries that resolve to the same local log file.
func (uc *MonitorUseCase) buildJobs(listing *integration.Listing, day time.Time) []passJob {
	var jobs []passJob
	seen := map[string]bool{}
	for _, station := range listing.Stations() {
		for _, entry := range listing.Passes(station) {
			logPath := integration.LogDestPath(uc.cfg.Download.LogsDir, day, station, entry.GetURL)
			if seen[logPath] {
				continue
			}
			seen[logPath] = true
			jobs = append(jobs, passJob{
				station:   station,
				logURL:    entry.GetURL,
				logPath:   logPath,
				graphURL:  entry.ViewURL,
				graphPath: integration.GraphDestPath(uc.cfg.Download.GraphsDir, day, station, entry.ViewURL),
			})
		}
	}
	return jobs
}

// DailyReport renders the day's statistics as plain text: per-station
// success counters, average SNR, the best pass per station and the graphs
// of failed passes, plus commercial reconciliation when orders exist.
func (uc *MonitorUseCase) DailyReport(day time.Time) (string, error) {
	dayValue := day.Format("2006-01-02")
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Pass report for %s\n\n", dayValue))

	stats, err := uc.repo.DailySuccessStats(day)
	if err != nil {
		return "", fmt.Errorf("failed to load daily stats: %v", err)
	}
	if len(stats) == 0 {
		b.WriteString("No passes recorded.\n")
		return b.String(), nil
	}
	b.WriteString("Station                  total success failed failed%\n")
	for _, s := range stats {
		b.WriteString(fmt.Sprintf("%-24s %5d %7d %6d %6.2f\n",
			s.StationName, s.TotalPasses, s.SuccessPasses, s.FailedPasses, s.FailedPercent))
	}

	snrStats, err := uc.repo.DailyStationStats(day)
	if err != nil {
		return "", fmt.Errorf("failed to load SNR stats: %v", err)
	}
	if len(snrStats) > 0 {
		b.WriteString("\nAverage SNR per station\n")
		for _, s := range snrStats {
			b.WriteString(fmt.Sprintf("%-24s %6.2f\n", s.StationName, s.SnrAvg))
		}
	}

	best, err := uc.repo.MaxSnrSumPassPerStation(day)
	if err != nil {
		return "", fmt.Errorf("failed to load best passes: %v", err)
	}
	if len(best) > 0 {
		b.WriteString("\nBest pass per station\n")
		for _, p := range best {
			snrSum := 0.0
			if p.SnrSum != nil {
				snrSum = *p.SnrSum
			}
			b.WriteString(fmt.Sprintf("%-24s %s SNR sum %.2f\n", p.StationName, p.SatelliteName, snrSum))
		}
	}

	failedGraphs, err := uc.repo.FailedGraphsByStation(day)
	if err != nil {
		return "", fmt.Errorf("failed to load failed graphs: %v", err)
	}
	if len(failedGraphs) > 0 {
		b.WriteString("\nFailed pass graphs\n")
		for _, station := range sortedKeys(failedGraphs) {
			for _, graphURL := range failedGraphs[station] {
				b.WriteString(fmt.Sprintf("%-24s %s\n", station, graphURL))
			}
		}
	}

	commercial, totals, err := uc.repo.CommercialStatsByStation(day, day)
	if err != nil {
		return "", fmt.Errorf("failed to load commercial stats: %v", err)
	}
	if totals.Planned > 0 {
		b.WriteString("\nCommercial passes\n")
		b.WriteString("Station                  planned received missed\n")
		for _, s := range commercial {
			b.WriteString(fmt.Sprintf("%-24s %7d %8d %6d\n", s.StationName, s.Planned, s.Successful, s.NotReceived))
		}
		b.WriteString(fmt.Sprintf("%-24s %7d %8d %6d\n", "total", totals.Planned, totals.Successful, totals.NotReceived))

		missed, err := uc.repo.CommercialNotReceived(day, day)
		if err != nil {
			return "", fmt.Errorf("failed to load missed commercial passes: %v", err)
		}
		for _, m := range missed {
			line := fmt.Sprintf("missed: %s %s at %s", m.StationName, m.SatelliteName, m.RxStart)
			if m.GraphURL != "" {
				line += " " + m.GraphURL
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String(), nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
