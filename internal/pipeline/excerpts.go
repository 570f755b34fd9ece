package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"diario/internal/core"
	"diario/internal/index"
)

const (
	// gazetteIDBatchSize caps how many gazette ids go into one search
	// request's filter clause.
	gazetteIDBatchSize = 500

	// minExcerptLength drops tiny fragments. Fragments under 10% of the
	// configured fragment size account for under 1% of hits yet tend to
	// score spuriously high.
	minExcerptLength = 200

	// proximitySlop is the token distance allowed between term groups of
	// one proximity query.
	proximitySlop = 20

	highlightField = "source_text.with_stopwords"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ExcerptPipeline extracts themed excerpts from indexed gazettes and enriches
// them with embedding scores and entity tags.
type ExcerptPipeline struct {
	search        SearchIndex
	encoder       Encoder
	gazettesIndex string
	logger        *slog.Logger
}

// NewExcerptPipeline wires the themed excerpt pipeline.
func NewExcerptPipeline(search SearchIndex, encoder Encoder, gazettesIndex string, logger *slog.Logger) *ExcerptPipeline {
	return &ExcerptPipeline{
		search:        search,
		encoder:       encoder,
		gazettesIndex: gazettesIndex,
		logger:        logger,
	}
}

// Run extracts and enriches excerpts for each theme over the given gazette
// document ids.
func (p *ExcerptPipeline) Run(ctx context.Context, themes []core.Theme, gazetteIDs []string) error {
	if len(gazetteIDs) == 0 {
		p.logger.Info("no gazettes indexed in this run, skipping excerpt extraction")
		return nil
	}

	for _, theme := range themes {
		p.logger.Info("extracting themed excerpts", "theme", theme.Name, "index", theme.Index)
		if err := p.search.CreateIndex(ctx, theme.Index, index.ThemedExcerptsIndexBody()); err != nil {
			return err
		}

		excerptIDs, err := p.extractExcerpts(ctx, theme, gazetteIDs)
		if err != nil {
			return err
		}
		if len(excerptIDs) == 0 {
			continue
		}
		if err := p.search.RefreshIndex(ctx, theme.Index); err != nil {
			return err
		}

		if err := p.embeddingRerank(ctx, theme, excerptIDs); err != nil {
			return err
		}
		if err := p.tagEntities(ctx, theme, excerptIDs); err != nil {
			return err
		}
		p.logger.Info("theme done", "theme", theme.Name, "excerpts", len(excerptIDs))
	}
	return nil
}

// extractExcerpts runs every proximity query of the theme over the gazettes
// and indexes the surviving highlight fragments as excerpts.
func (p *ExcerptPipeline) extractExcerpts(ctx context.Context, theme core.Theme, gazetteIDs []string) ([]string, error) {
	var excerptIDs []string
	for _, query := range theme.Queries {
		macroBlock, err := p.buildMacroBlock(ctx, query)
		if err != nil {
			return nil, err
		}

		for _, batch := range batched(gazetteIDs, gazetteIDBatchSize) {
			esQuery := map[string]any{
				"query": map[string]any{
					"bool": map[string]any{
						"must":   []any{macroBlock},
						"filter": map[string]any{"ids": map[string]any{"values": batch}},
					},
				},
				"size": 10,
				"highlight": map[string]any{
					"fields": map[string]any{
						highlightField: map[string]any{
							"type":                "unified",
							"fragment_size":       2000,
							"number_of_fragments": 10,
							"pre_tags":            []string{""},
							"post_tags":           []string{""},
						},
					},
				},
			}

			err := p.search.PaginatedSearch(ctx, p.gazettesIndex, esQuery, func(result *index.SearchResult) error {
				for _, hit := range result.Hits.Hits {
					fragments := hit.Highlight[highlightField]
					if len(fragments) == 0 {
						continue
					}
					var gazette core.Gazette
					if err := hit.DecodeSource(&gazette); err != nil {
						return fmt.Errorf("failed to decode gazette %s: %w", hit.ID, err)
					}
					for _, fragment := range fragments {
						excerpt := buildExcerpt(query, gazette, fragment)
						if utf8.RuneCountInString(excerpt.Excerpt) < minExcerptLength {
							continue
						}
						if err := p.search.IndexDocument(ctx, theme.Index, excerpt, true); err != nil {
							return err
						}
						excerptIDs = append(excerptIDs, excerpt.ExcerptID)
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return excerptIDs, nil
}

// buildMacroBlock turns one theme query's nested term sets into a span query:
// an outer span_or of proximity groups, each a span_near of synonym span_ors,
// each synonym an in-order zero-slop span_near over its analyzed tokens.
func (p *ExcerptPipeline) buildMacroBlock(ctx context.Context, query core.ThemeQuery) (map[string]any, error) {
	macroClauses := make([]any, 0, len(query.TermSets))
	for _, macroSet := range query.TermSets {
		proximityClauses := make([]any, 0, len(macroSet))
		for _, termSet := range macroSet {
			synonymClauses := make([]any, 0, len(termSet))
			for _, term := range termSet {
				tokens, err := p.search.Analyze(ctx, p.gazettesIndex, highlightField, term)
				if err != nil {
					return nil, fmt.Errorf("failed to analyze term %q: %w", term, err)
				}
				phraseClauses := make([]any, 0, len(tokens))
				for _, token := range tokens {
					phraseClauses = append(phraseClauses, map[string]any{
						"span_term": map[string]any{highlightField: token},
					})
				}
				synonymClauses = append(synonymClauses, map[string]any{
					"span_near": map[string]any{
						"clauses":  phraseClauses,
						"slop":     0,
						"in_order": true,
					},
				})
			}
			proximityClauses = append(proximityClauses, map[string]any{
				"span_or": map[string]any{"clauses": synonymClauses},
			})
		}
		macroClauses = append(macroClauses, map[string]any{
			"span_near": map[string]any{
				"clauses":  proximityClauses,
				"slop":     proximitySlop,
				"in_order": false,
			},
		})
	}
	return map[string]any{"span_or": map[string]any{"clauses": macroClauses}}, nil
}

// buildExcerpt denormalizes the source gazette under an excerpt document. The
// id hashes the raw fragment so reprocessing overwrites instead of
// duplicating.
func buildExcerpt(query core.ThemeQuery, gazette core.Gazette, fragment string) core.Excerpt {
	return core.Excerpt{
		ExcerptID:            fmt.Sprintf("%s_%s", gazette.FileChecksum, core.Checksum(fragment)),
		Excerpt:              collapseWhitespace(fragment),
		Subthemes:            []string{query.Title},
		SourceIndexID:        gazette.FileChecksum,
		SourceDatabaseID:     gazette.ID,
		SourceCreatedAt:      gazette.CreatedAt,
		SourceDate:           gazette.Date,
		SourceEditionNumber:  gazette.EditionNumber,
		SourceFileRawTxt:     gazette.FileRawTxt,
		SourceIsExtraEdition: gazette.IsExtraEdition,
		SourceFileChecksum:   gazette.FileChecksum,
		SourceFilePath:       gazette.FilePath,
		SourceFileURL:        gazette.FileURL,
		SourcePower:          gazette.Power,
		SourceProcessed:      gazette.Processed,
		SourceScrapedAt:      gazette.ScrapedAt,
		SourceStateCode:      gazette.StateCode,
		SourceTerritoryID:    gazette.TerritoryID,
		SourceTerritoryName:  gazette.TerritoryName,
		SourceURL:            gazette.URL,
	}
}

func collapseWhitespace(text string) string {
	return whitespaceRun.ReplaceAllString(text, " ")
}

// batched splits items into consecutive chunks of at most size elements.
func batched(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
