package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shpitdev/outreach-enricher/internal/app"
	"github.com/shpitdev/outreach-enricher/internal/config"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/redact"
)

func main() {
	cliApp := &cli.App{
		Name:  "outreach",
		Usage: "enrich website lists with company insights and outreach email drafts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "chat backend: openai, groq or gemini (env: PROVIDER)"},
			&cli.StringFlag{Name: "model", Usage: "model override (env: MODEL)"},
			&cli.StringFlag{Name: "profile", Usage: "YAML tone profile path (env: PROFILE_PATH)"},
			&cli.StringFlag{Name: "cache", Usage: "sqlite page cache path, empty disables (env: CACHE_PATH)"},
			&cli.BoolFlag{Name: "quiet", Usage: "only log warnings and errors"},
		},
		Commands: []*cli.Command{
			batchCommand(),
			analyzeCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, redact.Secrets(err.Error()))
		os.Exit(1)
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "process a CSV of websites, appending results to a resumable output file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Required: true, Usage: "input CSV with a 'website' or 'url' column"},
			&cli.StringFlag{Name: "output", Required: true, Usage: "output CSV, doubles as the resume checkpoint"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent items (env: WORKERS)"},
			&cli.DurationFlag{Name: "delay", Usage: "pause between items, 1s to 30s (env: DELAY)"},
			&cli.BoolFlag{Name: "retry-failed", Usage: "reprocess rows recorded as failed (env: RETRY_FAILED)"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "abort on the first item error (env: FAIL_FAST)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := newLogger(c.Bool("quiet"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := app.New(cfg, logger).RunBatch(ctx, c.String("input"), c.String("output"))
			if err != nil {
				return err
			}
			if st.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d items failed, see %s", st.Failed, st.Total, c.String("output")), 1)
			}
			return nil
		},
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "enrich a single website and print the result as JSON",
		ArgsUsage: "<website>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: outreach analyze <website>", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := newLogger(true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.New(cfg, logger).AnalyzeOne(ctx, c.Args().First(), os.Stdout)
		},
	}
}

// loadConfig reads the environment, then lets explicit CLI flags win.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", redactedErr(err))
	}
	if c.IsSet("provider") {
		cfg.Provider = c.String("provider")
	}
	if c.IsSet("model") {
		cfg.Model = c.String("model")
	}
	if c.IsSet("profile") {
		cfg.ProfilePath = c.String("profile")
	}
	if c.IsSet("cache") {
		cfg.CachePath = c.String("cache")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("delay") {
		cfg.Delay = c.Duration("delay")
	}
	if c.IsSet("retry-failed") {
		cfg.RetryFailed = c.Bool("retry-failed")
	}
	if c.IsSet("fail-fast") {
		cfg.FailFast = c.Bool("fail-fast")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(quiet bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.DisableStacktrace = true
	zc.DisableCaller = true
	if quiet {
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return zc.Build()
}

// redactedErr keeps secrets out of error output without losing the message.
func redactedErr(err error) error {
	return fmt.Errorf("%s", redact.Secrets(err.Error()))
}
