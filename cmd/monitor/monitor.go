package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lorett/groundlink/internal/analyzer"
	"github.com/lorett/groundlink/internal/config"
	"github.com/lorett/groundlink/internal/integration"
	"github.com/lorett/groundlink/internal/repository"
	"github.com/lorett/groundlink/internal/usecases"
	"github.com/robfig/cron/v3"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting GroundLink Monitor...")

	configPath := flag.String("config", "", "path to YAML config file")
	dateFlag := flag.String("date", "", "process a single day (YYYY-MM-DD)")
	fromFlag := flag.String("from", "", "process a date range, start day (YYYY-MM-DD)")
	toFlag := flag.String("to", "", "process a date range, end day (YYYY-MM-DD)")
	once := flag.Bool("once", false, "run a single cycle and exit instead of scheduling")
	noGraphs := flag.Bool("no-graphs", false, "skip graph snapshot rendering")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	repo, err := repository.NewSQLitePassRepository(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	scraper := integration.NewPortalScraper(cfg)
	downloader := integration.NewDownloader(cfg)
	var renderer integration.SnapshotRenderer
	if !*noGraphs {
		renderer = integration.NewChromeSnapshotRenderer()
	}
	passAnalyzer := analyzer.NewPassAnalyzer(cfg)

	useCase := usecases.NewMonitorUseCase(repo, scraper, downloader, renderer, passAnalyzer, cfg)

	ctx := context.Background()

	switch {
	case *fromFlag != "" || *toFlag != "":
		from, to, err := parseRangeFlags(*fromFlag, *toFlag)
		if err != nil {
			log.Fatalf("Invalid range: %v", err)
		}
		if err := useCase.ProcessRange(ctx, from, to); err != nil {
			log.Fatalf("Range processing finished with errors: %v", err)
		}
		return
	case *dateFlag != "":
		day := mustParseDay(*dateFlag)
		if err := useCase.ProcessDay(ctx, day); err != nil {
			log.Fatalf("Failed to process %s: %v", *dateFlag, err)
		}
		printReport(useCase, day)
		return
	}

	// No explicit date: run over yesterday, whose listing is complete.
	runYesterday := func() {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := useCase.ProcessDay(ctx, day); err != nil {
			log.Printf("Scheduled processing failed: %v", err)
			return
		}
		printReport(useCase, day)
	}
	runYesterday()

	if *once {
		return
	}

	// Set up cron scheduler to run daily
	c := cron.New()
	_, err = c.AddFunc("30 0 * * *", runYesterday)
	if err != nil {
		log.Fatalf("Failed to set up cron job: %v", err)
	}

	log.Println("Monitor has been scheduled to run daily")
	c.Start()

	// Keep the program running
	select {}
}

// parseRangeFlags validates the -from/-to pair: both must be set, both
// must parse, and the range must not be inverted.
func parseRangeFlags(fromValue, toValue string) (time.Time, time.Time, error) {
	if fromValue == "" || toValue == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("both -from and -to must be set")
	}
	from, err := time.Parse("2006-01-02", fromValue)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -from date %q, expected YYYY-MM-DD", fromValue)
	}
	to, err := time.Parse("2006-01-02", toValue)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -to date %q, expected YYYY-MM-DD", toValue)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s is after %s", fromValue, toValue)
	}
	return from, to, nil
}

func mustParseDay(value string) time.Time {
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		log.Fatalf("Invalid date %q, expected YYYY-MM-DD: %v", value, err)
	}
	return day
}

func printReport(useCase *usecases.MonitorUseCase, day time.Time) {
	report, err := useCase.DailyReport(day)
	if err != nil {
		log.Printf("Failed to build daily report: %v", err)
		return
	}
	log.Println(report)
}
