// Package pipeline orchestrates the gazette processing runs: text extraction,
// themed excerpt extraction and yearly aggregate packaging.
package pipeline

import (
	"context"
	"io"

	"diario/internal/core"
	"diario/internal/index"
)

// GazetteSource streams pending gazette rows out of the scraper database.
type GazetteSource interface {
	// Iterate calls fn for every gazette matching the execution mode, in id
	// order, one page at a time. A non-nil error from fn stops the iteration.
	Iterate(ctx context.Context, mode core.ExecutionMode, fn func(core.Gazette) error) error

	// Territories loads the full territory table.
	Territories(ctx context.Context) ([]core.Territory, error)

	// MarkProcessed flips the processed flag of the row identified by the
	// (id, checksum) pair.
	MarkProcessed(ctx context.Context, id int64, fileChecksum string) error
}

// BinaryStore reads and writes gazette artifacts in the object store.
type BinaryStore interface {
	// Download streams the object at key into dst. Missing objects surface
	// as storage.ErrNotFound.
	Download(ctx context.Context, key string, dst io.Writer) error

	// UploadContent writes a text artifact under key.
	UploadContent(ctx context.Context, key, content string) error
}

// TextExtractor turns one downloaded gazette binary into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// SearchIndex is the slice of the search cluster the pipelines use.
type SearchIndex interface {
	CreateIndex(ctx context.Context, name string, body []byte) error
	RefreshIndex(ctx context.Context, name string) error
	IndexDocument(ctx context.Context, indexName string, doc core.IndexableDocument, refresh bool) error
	Search(ctx context.Context, indexName string, query map[string]any) (*index.SearchResult, error)
	Analyze(ctx context.Context, indexName, field, text string) ([]string, error)
	PaginatedSearch(ctx context.Context, indexName string, query map[string]any, fn func(*index.SearchResult) error) error
}

// Segmenters resolves the per-association segmenter implementations.
type Segmenters interface {
	ForTerritory(territoryID string) (Segmenter, error)
}

// Segmenter splits one aggregated gazette into per-municipality segments.
type Segmenter interface {
	Segments(gazette core.Gazette) ([]core.Segment, error)
}

// Encoder embeds texts for the excerpt reranking step.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
	EncodeAll(ctx context.Context, texts []string) ([][]float64, error)
}
