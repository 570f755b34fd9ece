package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"diario/internal/core"
	"diario/internal/persistence"
	"diario/internal/segmentation"
	"diario/internal/storage"
)

// AggregatesSource is the slice of the database the aggregates pipeline uses.
type AggregatesSource interface {
	EnsureAggregatesTable(ctx context.Context) error
	IterateProcessedTextFiles(ctx context.Context, fn func(persistence.ProcessedTextFile) error) error
	AggregateNeedsUpsert(ctx context.Context, hash, zipPath string) (bool, error)
	UpsertAggregate(ctx context.Context, agg persistence.Aggregate) error
}

// ArchiveStore reads text artifacts and writes archive files in the object
// store.
type ArchiveStore interface {
	Download(ctx context.Context, key string, dst io.Writer) error
	UploadFileMultipart(ctx context.Context, key, path string) error
}

// AggregatesPipeline packages the text artifacts of processed gazettes into
// yearly ZIP archives, one per territory plus one state-wide, and records
// them in the aggregates table. Unchanged archives are not re-uploaded.
type AggregatesPipeline struct {
	db     AggregatesSource
	store  ArchiveStore
	logger *slog.Logger
}

// NewAggregatesPipeline wires the aggregates pipeline.
func NewAggregatesPipeline(db AggregatesSource, store ArchiveStore, logger *slog.Logger) *AggregatesPipeline {
	return &AggregatesPipeline{db: db, store: store, logger: logger}
}

// archiveGroup accumulates the text keys going into one ZIP.
type archiveGroup struct {
	stateCode   string
	territoryID string // empty for state-wide archives
	slug        string
	year        int
	txtKeys     []string
}

func (g *archiveGroup) zipPath() string {
	if g.territoryID == "" {
		return fmt.Sprintf("aggregates/%s/%s_%d.zip", g.stateCode, g.stateCode, g.year)
	}
	return fmt.Sprintf("aggregates/%s/%s_%s_%d.zip", g.stateCode, g.slug, g.territoryID, g.year)
}

// Run builds every archive. Failures on one archive are logged and the run
// moves on to the next.
func (p *AggregatesPipeline) Run(ctx context.Context) error {
	if err := p.db.EnsureAggregatesTable(ctx); err != nil {
		return err
	}

	groups, err := p.collectGroups(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("starting aggregates packaging", "archives", len(groups))

	failed := 0
	for _, group := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.buildArchive(ctx, group); err != nil {
			failed++
			p.logger.Warn("could not build aggregate archive",
				"file_path", group.zipPath(),
				"error", err)
		}
	}
	p.logger.Info("completed aggregates packaging", "archives", len(groups), "failed", failed)
	if failed == len(groups) && failed > 0 {
		return fmt.Errorf("all %d aggregate archives failed", failed)
	}
	return nil
}

// collectGroups streams the processed gazette rows and groups their text keys
// per (territory, year) and per (state, year). Only the keys are held in
// memory; the file bodies stream straight into the archives later.
func (p *AggregatesPipeline) collectGroups(ctx context.Context) ([]*archiveGroup, error) {
	var order []*archiveGroup
	byKey := map[string]*archiveGroup{}

	add := func(key string, make func() *archiveGroup, txtKey string) {
		group, ok := byKey[key]
		if !ok {
			group = make()
			byKey[key] = group
			order = append(order, group)
		}
		group.txtKeys = append(group.txtKeys, txtKey)
	}

	err := p.db.IterateProcessedTextFiles(ctx, func(f persistence.ProcessedTextFile) error {
		txtKey := txtPathFor(f.TxtPath)
		slug := segmentation.TerritorySlug(f.StateCode, f.TerritoryName)

		territoryKey := fmt.Sprintf("%s/%d", f.TerritoryID, f.Year)
		add(territoryKey, func() *archiveGroup {
			return &archiveGroup{
				stateCode:   f.StateCode,
				territoryID: f.TerritoryID,
				slug:        slug,
				year:        f.Year,
			}
		}, txtKey)

		stateKey := fmt.Sprintf("%s/%d", f.StateCode, f.Year)
		add(stateKey, func() *archiveGroup {
			return &archiveGroup{stateCode: f.StateCode, year: f.Year}
		}, txtKey)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// buildArchive writes one ZIP to a temp file, streaming each text artifact
// from the object store, then uploads it and records it when its content hash
// changed since the last run.
func (p *AggregatesPipeline) buildArchive(ctx context.Context, group *archiveGroup) error {
	f, err := os.CreateTemp("", "aggregate-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	zw := zip.NewWriter(f)
	entries := 0
	for _, txtKey := range group.txtKeys {
		entry, err := zw.Create(txtKey)
		if err != nil {
			return fmt.Errorf("failed to create archive entry %s: %w", txtKey, err)
		}
		if err := p.store.Download(ctx, txtKey, entry); err != nil {
			if storage.IsNotFound(err) {
				p.logger.Warn("text artifact missing from storage", "key", txtKey)
				continue
			}
			return err
		}
		entries++
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if entries == 0 {
		return fmt.Errorf("no text artifacts found for %s", group.zipPath())
	}

	hash, err := core.ChecksumFile(f.Name())
	if err != nil {
		return err
	}
	zipPath := group.zipPath()
	needed, err := p.db.AggregateNeedsUpsert(ctx, hash, zipPath)
	if err != nil {
		return err
	}
	if !needed {
		p.logger.Debug("archive unchanged, skipping upload", "file_path", zipPath)
		return nil
	}

	if err := p.store.UploadFileMultipart(ctx, zipPath, f.Name()); err != nil {
		return err
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	return p.db.UpsertAggregate(ctx, persistence.Aggregate{
		TerritoryID: group.territoryID,
		StateCode:   group.stateCode,
		Year:        group.year,
		FilePath:    zipPath,
		FileSizeMB:  float64(info.Size()) / 1024 / 1024,
		HashInfo:    hash,
		LastUpdated: time.Now().UTC(),
	})
}
