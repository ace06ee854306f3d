package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yangchao228/ScoutX/internal/classify"
	"github.com/yangchao228/ScoutX/internal/collect"
	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/database"
	"github.com/yangchao228/ScoutX/internal/dedup"
	"github.com/yangchao228/ScoutX/internal/ledger"
	"github.com/yangchao228/ScoutX/internal/llm"
	"github.com/yangchao228/ScoutX/internal/notify"
	"github.com/yangchao228/ScoutX/internal/pipeline"
	"github.com/yangchao228/ScoutX/internal/retry"
	"github.com/yangchao228/ScoutX/internal/server"
)

const usage = `Usage: scoutx [command] [options]
Commands: run, push, report, server

For command-specific options, use: scoutx [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	logLevel   string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", config.GetEnvString("SCOUTX_CONFIG", config.DefaultConfigPath),
		"Path to the YAML config file (env: SCOUTX_CONFIG)")
	fs.StringVar(&c.logLevel, "log-level", config.GetEnvString("SCOUTX_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: SCOUTX_LOG_LEVEL)")
	return c
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "push":
		err = pushCommand(os.Args[2:])
	case "report":
		err = reportCommand(os.Args[2:])
	case "server":
		err = serverCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := bindCommon(fs)

	var intervalMinutes, workers int
	fs.IntVar(&intervalMinutes, "interval", config.GetEnvInt("SCOUTX_INTERVAL", config.DefaultInterval),
		"Interval in minutes between runs, 0 for one-shot mode (env: SCOUTX_INTERVAL)")
	fs.IntVar(&workers, "workers", config.GetEnvInt("SCOUTX_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of concurrent source fetches, 0 for CPU count (env: SCOUTX_WORKER_COUNT)")
	useLLM := fs.Bool("llm", config.GetEnvBool("SCOUTX_LLM_ENABLED", true),
		"Score and summarise with the LLM when enabled in config (env: SCOUTX_LLM_ENABLED)")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	cfg.Interval = time.Duration(intervalMinutes) * time.Minute
	cfg.LLM.Enabled = cfg.LLM.Enabled && *useLLM

	db, led, err := openLedger(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := buildPipeline(cfg, led, workers)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runLoop(ctx, cfg.Interval, p)
}

func pushCommand(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	common := bindCommon(fs)
	date := fs.String("date", "", "Report day to deliver (YYYY-MM-DD), today when empty")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	db, led, err := openLedger(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := buildPipeline(cfg, led, 1)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := p.DeliverStored(ctx, *date)
	if err != nil {
		return fmt.Errorf("deliver stored reports: %w", err)
	}
	log.Info().
		Stringer("outcome", res.Outcome).
		Int("input", res.Input).
		Int("sent", res.Total).
		Int("dedup_skipped", res.DedupSkipped).
		Msg("Stored reports delivered")
	return nil
}

func reportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	common := bindCommon(fs)
	date := fs.String("date", "", "Report day to send (YYYY-MM-DD), today when empty")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	db, led, err := openLedger(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	sink, err := notify.NewFeishuSink(cfg.Notifier.FeishuWebhook, notifyTimeout(cfg))
	if err != nil {
		return err
	}

	day := *date
	if day == "" {
		day = led.Today()
	}

	ctx, cancel := signalContext()
	defer cancel()

	reporter := notify.NewReporter(sink, led, cfg.Server.WebBaseURL, retry.DefaultPolicy(), log.Logger)
	count, err := reporter.SendDay(ctx, day)
	if err != nil {
		return fmt.Errorf("send daily report: %w", err)
	}
	log.Debug().Str("date", day).Int("messages", count).Msg("Report command finished")
	return nil
}

func serverCommand(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	common := bindCommon(fs)
	host := fs.String("host", config.GetEnvString("SCOUTX_HOST", ""),
		"Host to bind the server to, overrides config (env: SCOUTX_HOST)")
	port := fs.Int("port", config.GetEnvInt("SCOUTX_PORT", 0),
		"Port to listen on, overrides config (env: SCOUTX_PORT)")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	db, led, err := openLedger(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return server.Run(ctx, cfg.ListenAddr(), server.Options{
		Reader: led,
		Pinger: db,
		Today:  led.Today,
		APIKey: cfg.Server.APIKey,
		Logger: log.Logger,
	})
}

// loadConfig reads the config file, applies the log level and merges CSV sources.
func loadConfig(common *commonFlags) (*config.Config, error) {
	cfg, err := config.Load(common.configPath)
	if err != nil {
		return nil, err
	}

	if level, err := zerolog.ParseLevel(common.logLevel); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if cfg.SourcesCSV != "" {
		extra, err := collect.LoadSourcesCSV(cfg.SourcesCSV)
		if err != nil {
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, extra...)
	}

	log.Debug().
		Str("config", common.configPath).
		Int("sources", len(cfg.Sources)).
		Str("db", cfg.Storage.SQLitePath).
		Msg("Configuration loaded")
	return cfg, nil
}

func openLedger(cfg *config.Config, readOnly bool) (*database.DB, *ledger.Ledger, error) {
	dbCfg := database.NewConfig(cfg.Storage.SQLitePath)
	if readOnly {
		dbCfg = database.NewReadOnlyConfig(cfg.Storage.SQLitePath)
	}

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("Failed to initialize database")
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, ledger.New(db, cfg.Location()), nil
}

func notifyTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Notifier.TimeoutSec) * time.Second
}

// buildPipeline wires the collaborators enabled by cfg.
func buildPipeline(cfg *config.Config, led *ledger.Ledger, workers int) (*pipeline.Pipeline, error) {
	gate := dedup.NewGate(led, log.Logger)
	policy := retry.DefaultPolicy()

	deps := pipeline.Deps{
		Collector:  collect.NewCollector(workers, log.Logger),
		Classifier: classify.New(),
		Dedup:      gate,
		Store:      led,
		Logger:     log.Logger,
	}

	if cfg.LLM.Enabled {
		deps.Scorer = llm.NewClient(cfg.LLM, policy, log.Logger)
	} else {
		log.Info().Msg("LLM disabled, using fallback summaries")
	}

	if cfg.Notifier.FeishuWebhook != "" {
		sink, err := notify.NewFeishuSink(cfg.Notifier.FeishuWebhook, notifyTimeout(cfg))
		if err != nil {
			return nil, err
		}
		deps.Deliverer = notify.NewEngine(notify.EngineConfig{
			Sink:     sink,
			Channel:  cfg.Notifier.DedupChannel,
			Filter:   gate,
			Marker:   led,
			Location: cfg.Location(),
			Policy:   policy,
			Logger:   log.Logger,
		})
	} else {
		log.Warn().Msg("No feishu webhook configured, channel digest disabled")
	}

	if cfg.Notifier.TelegramChatID != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Notifier.TelegramBotTokenEnv, cfg.Notifier.TelegramChatID, notifyTimeout(cfg))
		if err != nil {
			log.Warn().Err(err).Msg("Telegram notifier disabled")
		} else {
			deps.Notifier = tg
		}
	}

	return pipeline.New(deps, pipeline.Options{
		Sources: cfg.Sources,
		Filter: classify.KeywordFilter{
			Allow: cfg.Filters.AllowKeywords,
			Deny:  cfg.Filters.DenyKeywords,
		},
		MinScore: cfg.Filters.MinScore,
		Gate: pipeline.PushGate{
			Hours:    cfg.Schedule.PushHours,
			Minute:   cfg.Schedule.PushMinute,
			Location: cfg.Location(),
		},
	}), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// runLoop runs the pipeline once, or every interval until ctx is cancelled.
func runLoop(ctx context.Context, interval time.Duration, p *pipeline.Pipeline) error {
	if interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Int64("interval_minutes", int64(interval.Minutes())).Msg("Running in periodic mode")
	}

	if err := runCycle(ctx, p); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Run canceled by shutdown signal")
			return nil
		}
		return err
	}

	if interval <= 0 {
		log.Info().Msg("One-shot run completed, exiting")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Time("next_run", time.Now().Add(interval)).Msg("Waiting for next run")

	for {
		select {
		case <-ticker.C:
			if err := runCycle(ctx, p); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Run canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Msg("Run failed")
			}
			log.Info().Time("next_run", time.Now().Add(interval)).Msg("Waiting for next run")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic runs")
			return nil
		}
	}
}

func runCycle(ctx context.Context, p *pipeline.Pipeline) error {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	startTime := time.Now()
	stats, err := p.RunOnce(runCtx)
	log.Info().
		Str("run_id", stats.RunID).
		Dur("duration", time.Since(startTime)).
		Msg("Run cycle finished")

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %s: %w", stats.RunID, err)
	}
	if stats.DeliveryError != nil {
		log.Warn().Err(stats.DeliveryError).Str("run_id", stats.RunID).Msg("Items were stored but the channel digest failed")
	}
	return nil
}
