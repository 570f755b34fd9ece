package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"diario/internal/core"
	"diario/internal/extractor"
	"diario/internal/index"
	"diario/internal/storage"
)

// TextPipelineOptions carries the run-level knobs of the extraction pipeline.
type TextPipelineOptions struct {
	GazettesIndex   string
	FilesEndpoint   string
	MaxFileSizeByte int64
}

// TextPipeline extracts text from pending gazettes, uploads the text
// artifacts, segments association gazettes and indexes the results.
type TextPipeline struct {
	source     GazetteSource
	store      BinaryStore
	extractor  TextExtractor
	search     SearchIndex
	segmenters Segmenters
	opts       TextPipelineOptions
	logger     *slog.Logger
}

// NewTextPipeline wires the extraction pipeline.
func NewTextPipeline(
	source GazetteSource,
	store BinaryStore,
	textExtractor TextExtractor,
	search SearchIndex,
	segmenters Segmenters,
	opts TextPipelineOptions,
	logger *slog.Logger,
) *TextPipeline {
	return &TextPipeline{
		source:     source,
		store:      store,
		extractor:  textExtractor,
		search:     search,
		segmenters: segmenters,
		opts:       opts,
		logger:     logger,
	}
}

// Run processes every gazette selected by the execution mode and returns the
// ids of the indexed documents. A failure on one gazette is logged and the
// run moves on; only context cancellation stops it.
func (p *TextPipeline) Run(ctx context.Context, mode core.ExecutionMode) ([]string, error) {
	if err := p.search.CreateIndex(ctx, p.opts.GazettesIndex, index.GazettesIndexBody()); err != nil {
		return nil, err
	}

	p.logger.Info("starting text extraction", "mode", string(mode))

	var ids []string
	processed := 0
	failed := 0
	err := p.source.Iterate(ctx, mode, func(gazette core.Gazette) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		documentIDs, err := p.processGazette(ctx, gazette)
		if err != nil {
			failed++
			p.logger.Warn("could not process gazette",
				"file_path", gazette.FilePath,
				"gazette_id", gazette.ID,
				"error", err)
			return nil
		}
		ids = append(ids, documentIDs...)
		processed++

		if processed%10 == 0 {
			p.logger.Info("extraction progress", "processed", processed)
			runtime.GC()
		}
		return nil
	})
	if err != nil {
		return ids, err
	}

	p.logger.Info("completed text extraction", "processed", processed, "failed", failed)
	return ids, nil
}

// processGazette runs the full extraction flow for one gazette and returns
// the ids of the documents it indexed.
func (p *TextPipeline) processGazette(ctx context.Context, gazette core.Gazette) ([]string, error) {
	binaryPath, err := p.downloadBinary(ctx, gazette)
	if err != nil {
		if storage.IsNotFound(err) {
			p.logger.Warn("gazette binary not found in storage",
				"file_path", gazette.FilePath,
				"gazette_id", gazette.ID,
				"file_checksum", gazette.FileChecksum)
			return nil, nil
		}
		return nil, err
	}
	defer p.removeBinary(&binaryPath)

	info, err := os.Stat(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded binary: %w", err)
	}
	if info.Size() > p.opts.MaxFileSizeByte {
		return nil, fmt.Errorf("file too large (%.2fMB > %dMB): %s",
			float64(info.Size())/1024/1024, p.opts.MaxFileSizeByte/1024/1024, gazette.FilePath)
	}

	gazette.SourceText, err = p.extractor.ExtractText(ctx, binaryPath)
	if err != nil {
		if errors.Is(err, extractor.ErrUnsupportedFileType) {
			return nil, fmt.Errorf("skipping unsupported file %s: %w", gazette.FilePath, err)
		}
		return nil, err
	}

	// The binary is no longer needed once the text is out. Freeing the disk
	// before uploads matters when gazettes approach the size limit.
	p.removeBinary(&binaryPath)

	gazette.URL = p.fileURL(gazette.FilePath)
	txtPath := txtPathFor(gazette.FilePath)
	gazette.FileRawTxt = p.fileURL(txtPath)
	if err := p.store.UploadContent(ctx, txtPath, gazette.SourceText); err != nil {
		return nil, err
	}

	var ids []string
	if gazette.IsAggregated() {
		ids, err = p.indexSegments(ctx, gazette)
	} else {
		err = p.search.IndexDocument(ctx, p.opts.GazettesIndex, gazette, false)
		ids = []string{gazette.DocumentID()}
	}
	if err != nil {
		return nil, err
	}

	if err := p.source.MarkProcessed(ctx, gazette.ID, gazette.FileChecksum); err != nil {
		return nil, err
	}
	return ids, nil
}

// indexSegments splits an association gazette and indexes each segment as a
// first-class gazette. The parent itself is never indexed.
func (p *TextPipeline) indexSegments(ctx context.Context, gazette core.Gazette) ([]string, error) {
	segmenter, err := p.segmenters.ForTerritory(strings.TrimSpace(gazette.TerritoryID))
	if err != nil {
		return nil, err
	}
	segments, err := segmenter.Segments(gazette)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(segments))
	for _, segment := range segments {
		txtPath := segmentTxtPath(segment)
		segment.FileRawTxt = p.fileURL(txtPath)
		if err := p.store.UploadContent(ctx, txtPath, segment.SourceText); err != nil {
			return nil, err
		}
		if err := p.search.IndexDocument(ctx, p.opts.GazettesIndex, segment, false); err != nil {
			return nil, err
		}
		ids = append(ids, segment.DocumentID())
	}
	return ids, nil
}

// downloadBinary streams the gazette binary into a temp file and returns its
// path. The caller owns the file.
func (p *TextPipeline) downloadBinary(ctx context.Context, gazette core.Gazette) (string, error) {
	f, err := os.CreateTemp("", "gazette-*"+filepath.Ext(gazette.FilePath))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := p.store.Download(ctx, gazette.FilePath, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

func (p *TextPipeline) removeBinary(path *string) {
	if *path == "" {
		return
	}
	if err := os.Remove(*path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to remove temp file", "path", *path, "error", err)
	}
	*path = ""
}

func (p *TextPipeline) fileURL(key string) string {
	return strings.TrimRight(p.opts.FilesEndpoint, "/") + "/" + key
}

// txtPathFor swaps the storage key's extension for .txt.
func txtPathFor(filePath string) string {
	return strings.TrimSuffix(filePath, filepath.Ext(filePath)) + ".txt"
}

// segmentTxtPath is where a segment's text artifact lives in the bucket.
func segmentTxtPath(segment core.Segment) string {
	return fmt.Sprintf("%s/%s/%s.txt", segment.TerritoryID, segment.Date.Format(core.DateLayout), segment.FileChecksum)
}
