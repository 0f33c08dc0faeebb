// Package app assembles the fetcher, enricher and batch coordinator from
// configuration and runs the user-facing workflows.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/shpitdev/outreach-enricher/internal/config"
	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/enrich/gemini"
	"github.com/shpitdev/outreach-enricher/internal/enrich/openai"
	"github.com/shpitdev/outreach-enricher/internal/fetch"
	"github.com/shpitdev/outreach-enricher/internal/profile"
	"github.com/shpitdev/outreach-enricher/internal/run"
	"github.com/shpitdev/outreach-enricher/internal/table"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/checkpoint"
)

type App struct {
	cfg *config.Config
	log *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, log: logger}
}

// RunBatch processes every row of the input CSV and appends results to the
// checkpoint file at outputPath. Re-running with the same output path resumes:
// rows already recorded there are not reprocessed. An interrupt stops the run
// at an item boundary and leaves the checkpoint valid.
func (a *App) RunBatch(ctx context.Context, inputPath, outputPath string) (run.Status, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return run.Status{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	items, err := table.Read(in)
	if err != nil {
		return run.Status{}, fmt.Errorf("read input %s: %w", inputPath, err)
	}

	ckpt, err := checkpoint.Open(outputPath, run.Header())
	if err != nil {
		return run.Status{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer ckpt.Close()

	fetcher, closeFetcher, err := a.buildFetcher()
	if err != nil {
		return run.Status{}, err
	}
	defer closeFetcher()

	enricher, err := a.buildEnricher(ctx)
	if err != nil {
		return run.Status{}, err
	}

	coord := run.New(fetcher, enricher, a.log, run.Options{
		Workers:        a.cfg.Workers,
		MaxRetries:     a.cfg.MaxRetries,
		RequestTimeout: a.cfg.RequestTimeout,
		Delay:          a.cfg.Delay,
		RetryFailed:    a.cfg.RetryFailed,
		FailFast:       a.cfg.FailFast,
	})

	r, err := coord.Start(ctx, items, ckpt)
	if err != nil {
		return run.Status{}, err
	}

	waitErr := r.Wait()
	st := r.Status()
	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			a.log.Info("run interrupted, re-run with the same output to resume",
				zap.Int("processed", st.Processed),
				zap.Int("total", st.Total),
			)
			return st, nil
		}
		return st, waitErr
	}

	a.log.Info("run complete",
		zap.Int("succeeded", st.Succeeded),
		zap.Int("failed", st.Failed),
		zap.Int("skipped", st.Skipped),
		zap.String("output", outputPath),
	)
	return st, nil
}

// AnalyzeOne enriches a single website and writes the result as indented JSON.
func (a *App) AnalyzeOne(ctx context.Context, website string, w io.Writer) error {
	fetcher, closeFetcher, err := a.buildFetcher()
	if err != nil {
		return err
	}
	defer closeFetcher()

	enricher, err := a.buildEnricher(ctx)
	if err != nil {
		return err
	}

	text, err := fetcher.Fetch(ctx, website)
	if err != nil {
		return err
	}
	res, err := enricher.Enrich(ctx, website, text)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Normalize())
}

func (a *App) buildFetcher() (*fetch.Fetcher, func(), error) {
	opts := fetch.Options{
		Timeout:    a.cfg.FetchTimeout,
		TextBudget: a.cfg.TextBudget,
	}
	closeFn := func() {}
	if a.cfg.CachePath != "" {
		cache, err := fetch.OpenCache(a.cfg.CachePath, a.cfg.CacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("open page cache: %w", err)
		}
		opts.Cache = cache
		closeFn = func() { _ = cache.Close() }
	}
	return fetch.New(opts), closeFn, nil
}

func (a *App) buildEnricher(ctx context.Context) (enrich.Enricher, error) {
	prof, err := a.loadProfile()
	if err != nil {
		return nil, err
	}

	switch a.cfg.Provider {
	case config.ProviderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:      a.cfg.APIKey(),
			Model:       a.cfg.ResolvedModel(),
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			Profile:     prof,
		})
	case config.ProviderGroq:
		baseURL := a.cfg.BaseURL
		if baseURL == "" {
			baseURL = openai.GroqBaseURL
		}
		return openai.New(openai.Config{
			APIKey:      a.cfg.APIKey(),
			Model:       a.cfg.ResolvedModel(),
			BaseURL:     baseURL,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			Profile:     prof,
		})
	default:
		return openai.New(openai.Config{
			APIKey:      a.cfg.APIKey(),
			Model:       a.cfg.ResolvedModel(),
			BaseURL:     a.cfg.BaseURL,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			Profile:     prof,
		})
	}
}

func (a *App) loadProfile() (*profile.Profile, error) {
	if a.cfg.ProfilePath == "" {
		return profile.Default(), nil
	}
	prof, err := profile.Load(a.cfg.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load tone profile: %w", err)
	}
	return prof, nil
}
