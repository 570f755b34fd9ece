// Package handlers wires the CLI commands to the processing pipelines.
package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"diario/internal/config"
	"diario/internal/core"
	"diario/internal/embedding"
	"diario/internal/extractor"
	"diario/internal/index"
	"diario/internal/logger"
	"diario/internal/monitoring"
	"diario/internal/persistence"
	"diario/internal/pipeline"
	"diario/internal/segmentation"
	"diario/internal/storage"
	"diario/internal/themes"
)

const (
	pipelineGazetteTexts = "gazette_texts"
	pipelineAggregates   = "aggregates"
)

var pipelineName string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "diario",
		Short: "Processes scraped official gazettes: text extraction, indexing and themed excerpts.",
		Long: `diario drains the pending gazettes from the scraper database, extracts
their text through Apache Tika, stores the text artifacts, indexes the
documents and derives themed excerpts enriched with embedding scores and
entity tags. The aggregates pipeline packages the text artifacts into
yearly ZIP archives per territory and state.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&pipelineName, "pipeline", pipelineGazetteTexts,
		fmt.Sprintf("pipeline to run: %s or %s", pipelineGazetteTexts, pipelineAggregates))
	return rootCmd
}

// Execute runs the root command. Per-document failures do not affect the exit
// code; only an orchestrator failure exits non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Gazette binaries can reach hundreds of megabytes; keep the runtime
	// from holding on to the processed ones.
	debug.SetMemoryLimit(1536 << 20)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Get()
	monitor := monitoring.NewMonitor(log)
	defer monitor.LogSummary()

	db, err := persistence.NewPostgresDB(cfg.Database.ConnectionString(), cfg.QueryPageSize)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := storage.NewS3Store(ctx, storage.Options{
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		AccessKey:    cfg.Storage.AccessKey,
		AccessSecret: cfg.Storage.AccessSecret,
		Bucket:       cfg.Storage.Bucket,
	}, log)
	if err != nil {
		return err
	}

	switch pipelineName {
	case pipelineGazetteTexts:
		return runGazetteTexts(ctx, cfg, db, store, monitor)
	case pipelineAggregates:
		return pipeline.NewAggregatesPipeline(db, store, log).Run(ctx)
	default:
		return fmt.Errorf("unknown pipeline %q", pipelineName)
	}
}

func runGazetteTexts(ctx context.Context, cfg *config.Config, db *persistence.PostgresDB, store *storage.S3Store, monitor *monitoring.Monitor) error {
	log := logger.Get()

	themeList, err := themes.Load(cfg.ThemesPath)
	if err != nil {
		return err
	}
	if cfg.Embedding.ServerURL == "" {
		return fmt.Errorf("missing required environment variables: EMBEDDING_SERVER_URL")
	}

	search, err := index.NewClient(index.Options{
		Host:     cfg.Index.Host,
		User:     cfg.Index.User,
		Password: cfg.Index.Password,
	}, monitor, log)
	if err != nil {
		return err
	}

	territories, err := db.Territories(ctx)
	if err != nil {
		return err
	}

	textPipeline := pipeline.NewTextPipeline(
		db,
		store,
		extractor.NewTikaExtractor(cfg.Tika.ServerURL, monitor),
		search,
		segmenterRegistry{segmentation.NewRegistry(territories)},
		pipeline.TextPipelineOptions{
			GazettesIndex:   cfg.Index.GazettesIndex,
			FilesEndpoint:   cfg.FilesEndpoint,
			MaxFileSizeByte: cfg.MaxFileSizeMB * 1024 * 1024,
		},
		log,
	)
	ids, err := textPipeline.Run(ctx, core.ExecutionMode(cfg.ExecutionMode))
	if err != nil {
		return err
	}

	encoder := embedding.NewClient(cfg.Embedding.ServerURL, cfg.Embedding.Model)
	excerpts := pipeline.NewExcerptPipeline(search, encoder, cfg.Index.GazettesIndex, log)
	return excerpts.Run(ctx, themeList, ids)
}

// segmenterRegistry adapts the segmentation registry to the pipeline's
// segmenter lookup.
type segmenterRegistry struct {
	reg *segmentation.Registry
}

func (s segmenterRegistry) ForTerritory(territoryID string) (pipeline.Segmenter, error) {
	return s.reg.ForTerritory(territoryID)
}
