package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avasiliev/bookcrawl/config"
	"github.com/avasiliev/bookcrawl/models"
	"github.com/avasiliev/bookcrawl/pipeline"
	"github.com/avasiliev/bookcrawl/schedule"
	"github.com/avasiliev/bookcrawl/scraper"
)

func main() {
	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("CRAWLER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CRAWLER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("CRAWLER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("CRAWLER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	scheduleDefault := defaultCfg.ScheduleAt
	if value, ok := config.EnvString("CRAWLER_SCHEDULE"); ok {
		scheduleDefault = value
	}

	maxPages := flag.Int("pages", pagesDefault, "Maximum catalog pages to crawl (negative crawls until the catalog ends)")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay after each detail fetch (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", 200, "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", 2000, "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: json, csv, or dual")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Catalog base URL")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	scheduleAt := flag.String("schedule", scheduleDefault, "Run daily at this HH:MM time instead of once")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := buildConfigFromFlags(*baseURL, *maxPages, *delayMs, *maxRetries, *retryBackoffMs, *retryBackoffMaxMs, *respectRobots, *outputFile, *outputFormat, *metricsAddr, *scheduleAt, *verbose)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting crawler",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Duration("delay", cfg.Delay),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	exitCode := 0
	if cfg.ScheduleAt != "" {
		if err := runScheduled(ctx, cfg, s); err != nil {
			slog.Error("scheduler failed", slog.Any("error", err))
			exitCode = 1
		}
	} else {
		if err := runOnce(ctx, cfg, s); err != nil {
			slog.Error("crawl failed", slog.Any("error", err))
			exitCode = 1
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	os.Exit(exitCode)
}

// runScheduled crawls once per day at cfg.ScheduleAt until interrupted.
// A failed run is logged and the schedule keeps going.
func runScheduled(ctx context.Context, cfg *config.Config, s *scraper.Scraper) error {
	sched, err := schedule.Daily(cfg.ScheduleAt, func() {
		slog.Info("scheduled crawl starting", slog.String("at", cfg.ScheduleAt))
		if err := runOnce(ctx, cfg, s); err != nil {
			slog.Error("scheduled crawl failed", slog.Any("error", err))
			return
		}
		slog.Info("scheduled crawl finished")
	})
	if err != nil {
		return err
	}

	sched.Start()
	slog.Info("scheduler started",
		slog.String("at", cfg.ScheduleAt),
		slog.Time("next_run", sched.Next()),
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight run to finish")
	<-sched.Stop().Done()
	return nil
}

// runOnce performs one full crawl and persists the result. A partial
// result from a crawl that stopped early is still persisted before the
// error is reported.
func runOnce(ctx context.Context, cfg *config.Config, s *scraper.Scraper) error {
	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(2)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	start := time.Now()
	result, crawlErr := s.Crawl(ctx)

	if err := p.Process(result.Items...); err != nil && err != pipeline.ErrPipelineClosed {
		slog.Error("pipeline process error", slog.Any("error", err))
	}
	if err := p.Close(); err != nil {
		writer.Close()
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	printSummary(result, time.Since(start), cfg.OutputFile, p.GetMetrics())

	if crawlErr != nil {
		return fmt.Errorf("crawl stopped early: %w", crawlErr)
	}
	return writer.Validate()
}

func buildConfigFromFlags(baseURL string, maxPages, delayMs, maxRetries, retryBackoffMs, retryBackoffMaxMs int, respectRobots bool, outputFile, outputFormat, metricsAddr, scheduleAt string, verbose bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.MaxPages = maxPages
	cfg.Delay = time.Duration(delayMs) * time.Millisecond
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = time.Duration(retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = respectRobots
	cfg.OutputFile = outputFile
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.MetricsAddr = metricsAddr
	cfg.ScheduleAt = scheduleAt
	cfg.Verbose = verbose
	return cfg
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		csvFilename := strings.TrimSuffix(filename, ".json") + ".csv"
		return pipeline.NewDualWriter(filename, csvFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.CrawlResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	persisted := int64(0)
	if processed, ok := metrics["processed_items"].(int64); ok {
		persisted = processed
	}

	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Items:         %d\n", len(result.Items))
	fmt.Printf("  Persisted:     %d\n", persisted)
	fmt.Printf("  Failures:      %d\n", len(result.Failures))
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(len(result.Items)) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
