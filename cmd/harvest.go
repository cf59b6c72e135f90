package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/categorize"
	"github.com/canary-data/docharvester/internal/config"
	"github.com/canary-data/docharvester/internal/dedup"
	"github.com/canary-data/docharvester/internal/fetcher"
	"github.com/canary-data/docharvester/internal/harvest"
	"github.com/canary-data/docharvester/internal/logging"
	"github.com/canary-data/docharvester/internal/metrics"
	"github.com/canary-data/docharvester/internal/pipeline"
	"github.com/canary-data/docharvester/internal/retry"
	"github.com/canary-data/docharvester/internal/scraper"
	"github.com/canary-data/docharvester/internal/storage"
)

type harvestFlags struct {
	institutions []string
	docTypes     []string
	outputDir    string
	seedDedup    bool
}

// newHarvestCmd creates and configures the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	flags := &harvestFlags{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs a harvest across the configured institutions",
		Long: `Discovers and downloads documents from the selected institutions.
Without --institutions every registered source is harvested in priority
order. Interrupting the run still writes the summary for whatever completed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.institutions, "institutions", nil, "institution ids to harvest (default: all)")
	cmd.Flags().StringSliceVar(&flags.docTypes, "doc-types", nil, "declared document types to keep (default: all)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "override the configured output directory")
	cmd.Flags().BoolVar(&flags.seedDedup, "seed-dedup", false, "seed deduplication from prior metadata in the output directory")
	return cmd
}

func runHarvest(cmd *cobra.Command, flags *harvestFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.outputDir != "" {
		cfg.Storage.OutputDir = flags.outputDir
	}
	if flags.seedDedup {
		cfg.Harvester.SeedDedup = true
	}

	logger, err := logging.New(verbose || cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	summary, err := orch.Run(ctx, pipeline.Options{
		Institutions: flags.institutions,
		DocTypes:     flags.docTypes,
		Concurrency:  cfg.Harvester.Concurrency,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	cmd.Printf("Run %s: %d documents, %d duplicates skipped, %d error kinds\n",
		summary.RunID, summary.TotalDocuments, summary.DuplicatesSkipped, len(summary.Errors))
	return nil
}

func buildOrchestrator(cfg config.Config, logger *zap.Logger) (*pipeline.Orchestrator, error) {
	store, err := storage.New(cfg.Storage.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	index := dedup.NewIndex()
	if cfg.Harvester.SeedDedup {
		records, err := storage.LoadRecords(cfg.Storage.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("seed dedup index: %w", err)
		}
		index.Seed(records)
		logger.Info("dedup index seeded", zap.Int("digests", index.Len()))
	}

	fetch := fetcher.New(fetcher.Config{
		UserAgents:    cfg.Harvester.UserAgents,
		Timeout:       cfg.Timeout(),
		Delay:         cfg.Delay(),
		RespectRobots: cfg.Harvester.RespectRobots,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		HostDelays:    hostDelays(cfg.Sources),
	}, logger)

	registry, err := scraper.NewRegistry(cfg.Sources, scraper.Deps{
		Fetcher: fetch,
		Policy: retry.Policy{
			MaxAttempts: cfg.HTTP.MaxRetries,
			BaseDelay:   cfg.BackoffInitial(),
			MaxDelay:    cfg.BackoffMax(),
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init scrapers: %w", err)
	}

	categorizer := categorize.New(categorize.DefaultsFromSources(cfg.Sources))

	return pipeline.New(registry, index, categorizer, store, logger), nil
}

// hostDelays maps each source's host to its configured politeness delay.
// When sources share a host the largest delay wins, since the limiter is
// shared per host.
func hostDelays(sources map[string]harvest.SourceConfig) map[string]time.Duration {
	delays := make(map[string]time.Duration)
	for _, src := range sources {
		if src.Delay <= 0 {
			continue
		}
		u, err := url.Parse(src.BaseURL)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Host)
		if src.Delay > delays[host] {
			delays[host] = src.Delay
		}
	}
	return delays
}
