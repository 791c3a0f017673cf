package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"harvester/internal/config"
	"harvester/internal/logger"
	"harvester/pkg/checker"
	"harvester/pkg/fetcher"
	"harvester/pkg/harvest"
	"harvester/pkg/ingest"
	"harvester/pkg/proxypool"
	"harvester/pkg/retry"
	"harvester/pkg/session"
	"harvester/pkg/sink"
	"harvester/pkg/status"
	"harvester/pkg/workitems"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	Version = "1.0.0"
	Banner  = `
______ ______ ______ ______ ______ ______ ______ ______

  H A R V E S T E R

Harvester - release marketplace scraper v%s

______ ______ ______ ______ ______ ______ ______ ______

`
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one harvester invocation and returns the process exit code.
// Every failure returns through here so deferred cleanup always runs.
func run(args []string) int {
	flags := pflag.NewFlagSet("harvester", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to config file")
	genConfig := flags.Bool("gen-config", false, "Generate default config file")
	version := flags.Bool("version", false, "Show version")
	mode := flags.String("mode", "scrape", "Run mode: scrape or ingest")
	flags.Int("workers", 3, "Concurrent workers")
	flags.Int("retries", 5, "Attempts per page")
	flags.Int("batch", 100, "Releases per batch")
	flags.String("sink", "sqlite", "Sink: sqlite, postgres, postgres_normalized or redis")
	flags.String("ids-file", "", "File with one release id per line")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harvester [flags] [release ids | dump files/urls]\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *version {
		fmt.Printf("Harvester v%s\n", Version)
		return 0
	}

	fmt.Printf(Banner, Version)

	if *genConfig {
		if err := config.SaveConfigTemplate("config.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			return 1
		}
		fmt.Println("Default config generated: config.yaml")
		return 0
	}

	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if flags.Changed("ids-file") {
		cfg.Source.Kind = "file"
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.New("main")
	log.Info().Str("version", Version).Str("mode", *mode).Msg("Starting harvester")
	config.PrintConfig(log, cfg)

	if *mode != "scrape" && *mode != "ingest" {
		log.Error().Str("mode", *mode).Msg("Unknown mode")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := sink.New(cfg.Sink, logger.New("sink"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create sink")
		return 1
	}
	if err := out.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to connect sink")
		return 1
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sink")
		}
	}()

	if *mode == "ingest" {
		err = runIngest(ctx, cfg, flags.Args(), out, log)
	} else {
		err = runScrape(ctx, cfg, flags.Args(), out, log)
	}
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return 1
	}

	log.Info().Msg("Shutdown complete")
	return 0
}

func runScrape(ctx context.Context, cfg *config.Config, args []string, out sink.Sink, log zerolog.Logger) error {
	chk := checker.NewChecker(checker.CheckerConfig{
		TestURL:    cfg.Proxy.ValidateURL,
		Timeout:    cfg.Proxy.ValidateTimeout,
		MaxWorkers: cfg.Proxy.PrevalidateWorkers,
		UserAgent:  cfg.Session.UserAgent,
	}, logger.New("checker"))

	pool := proxypool.New(chk, logger.New("pool"))
	if cfg.Proxy.UseProxy {
		loadPool(ctx, cfg, pool, log)
		if cfg.Proxy.Prevalidate && pool.Len() > 0 {
			removed := chk.Prune(ctx, pool)
			log.Info().Int("removed", removed).Int("remaining", pool.Len()).Msg("Proxy pool prevalidated")
		}
	}

	src, err := workitems.New(cfg.Source, args, cfg.Sink.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to create work item source: %w", err)
	}
	ids, err := src.IDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load release ids from %s: %w", src.Name(), err)
	}
	if len(ids) == 0 {
		log.Warn().Str("source", src.Name()).Msg("No release ids to harvest")
		return nil
	}
	log.Info().Int("ids", len(ids)).Str("source", src.Name()).Int("batch_size", cfg.Batch.Size).Msg("Release ids loaded")

	keeper := session.NewKeeper(pool, session.Config{
		RateLimitPerMinute: cfg.Session.RateLimitPerMinute,
		RequestTimeout:     cfg.Session.RequestTimeout,
		UserAgent:          cfg.Session.UserAgent,
	}, logger.New("session"))

	client := fetcher.NewClient(fetcher.Config{
		BaseURL:      cfg.Scraper.BaseURL,
		SellerParams: cfg.Scraper.SellerParams,
	})

	progress := &harvest.Progress{}
	h := harvest.New(keeper, client, harvest.Config{
		Workers:    cfg.Scraper.MaxWorkers,
		FetchDelay: cfg.Scraper.FetchDelay,
		UseProxy:   cfg.Proxy.UseProxy,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Unit:        cfg.Retry.BackoffUnit,
			MaxBackoff:  cfg.Retry.MaxBackoff,
		},
	}, progress, logger.New("harvest"))

	if cfg.Status.Enabled {
		srv := status.NewServer(pool, progress, status.Config{
			ListenAddr: cfg.Status.ListenAddr,
			UseProxy:   cfg.Proxy.UseProxy,
		}, logger.New("status"))
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Status server disabled")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Status server shutdown error")
				}
			}()
		}
	}

	pipeline := harvest.NewPipeline(h, out, cfg.Batch.Size, logger.New("pipeline"))
	written := pipeline.Run(ctx, ids)

	snap := progress.Snapshot()
	stats := pool.Stats()
	log.Info().
		Int("written", written).
		Int64("records", snap.Records).
		Int64("partial", snap.Partial).
		Int64("dropped", snap.Dropped).
		Int64("write_failures", snap.WriteFailures).
		Int("proxies_left", stats.Total).
		Int("proxies_removed", stats.Removed).
		Bool("interrupted", ctx.Err() != nil).
		Msg("Harvest finished")
	return nil
}

func loadPool(ctx context.Context, cfg *config.Config, pool *proxypool.Pool, log zerolog.Logger) {
	srcConfig := proxypool.SourceConfig{Timeout: 30 * time.Second, UserAgent: cfg.Session.UserAgent}

	var sources []proxypool.Source
	if cfg.Proxy.ListURL != "" {
		sources = append(sources, proxypool.NewTextListSource(cfg.Proxy.ListURL, srcConfig))
	}
	for _, u := range cfg.Proxy.ExtraSources {
		sources = append(sources, proxypool.NewTextListSource(u, srcConfig))
	}
	if cfg.Proxy.GeonodeURL != "" {
		sources = append(sources, proxypool.NewGeonodeSource(cfg.Proxy.GeonodeURL, srcConfig))
	}
	if len(sources) == 0 {
		log.Warn().Msg("No proxy source configured, running proxyless")
		return
	}

	var src proxypool.Source = proxypool.NewMultiSource(logger.New("sources"), sources...)
	if cfg.Proxy.GeoIPDB != "" {
		geo, err := proxypool.NewGeoSource(src, cfg.Proxy.GeoIPDB)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Proxy.GeoIPDB).Msg("GeoIP database unavailable, countries left blank")
		} else {
			defer geo.Close()
			src = geo
		}
	}
	pool.Initialize(ctx, src)
}

func runIngest(ctx context.Context, cfg *config.Config, args []string, out sink.Sink, log zerolog.Logger) error {
	inputs := args
	if len(inputs) == 0 && cfg.Ingest.DumpURL != "" {
		inputs = []string{cfg.Ingest.DumpURL}
	}
	if len(inputs) == 0 {
		return errors.New("ingest mode needs a dump file or url, as an argument or ingest.dump_url")
	}

	downloader := ingest.NewDownloader(logger.New("download"))
	ingester := ingest.NewIngester(out, cfg.Ingest.BatchSize, logger.New("ingest"))

	for _, input := range inputs {
		if ctx.Err() != nil {
			break
		}
		path := input
		if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			path, err = downloader.Download(ctx, input, cfg.Ingest.DestDir)
			if err != nil {
				log.Error().Err(err).Str("url", input).Msg("Failed to download dump")
				continue
			}
		}

		n, err := ingester.IngestFile(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Int("releases", n).Msg("Dump ingestion stopped")
			continue
		}
		log.Info().Str("path", path).Int("releases", n).Msg("Dump ingested")
	}
	return nil
}
