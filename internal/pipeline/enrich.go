package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"diario/internal/core"
	"diario/internal/embedding"
	"diario/internal/index"
)

const excerptHighlightField = "excerpt.with_stopwords"

// cnpjPattern matches CNPJ identifiers with or without their usual
// punctuation, guarded on both sides so digits inside longer numbers do not
// match.
var cnpjPattern = regexp.MustCompile(
	`(^|[^\d])(\d\.?\d\.?\d\.?\d\.?\d\.?\d\.?\d\.?\d/?\d{4}-?\d{2})($|[^\d])`,
)

// embeddingRerank scores every excerpt of the theme with the max cosine
// similarity between its embedding and the embeddings of the theme's query
// titles, and stores the score as a rank feature.
func (p *ExcerptPipeline) embeddingRerank(ctx context.Context, theme core.Theme, excerptIDs []string) error {
	titles := make([]string, 0, len(theme.Queries))
	for _, q := range theme.Queries {
		titles = append(titles, q.Title)
	}
	queryVectors, err := p.encoder.EncodeAll(ctx, titles)
	if err != nil {
		return fmt.Errorf("failed to embed query titles of theme %s: %w", theme.Name, err)
	}

	return p.forEachExcerpt(ctx, theme.Index, excerptIDs, func(excerpt core.Excerpt) error {
		vector, err := p.encoder.Encode(ctx, excerpt.Excerpt)
		if err != nil {
			return fmt.Errorf("failed to embed excerpt %s: %w", excerpt.ExcerptID, err)
		}
		excerpt.EmbeddingScore = embedding.MaxSimilarity(vector, queryVectors)
		return p.search.IndexDocument(ctx, theme.Index, excerpt, true)
	})
}

// tagEntities wraps entity phrases and CNPJ identifiers found inside the
// theme's excerpts in markup tags and records the matched entity titles.
func (p *ExcerptPipeline) tagEntities(ctx context.Context, theme core.Theme, excerptIDs []string) error {
	for _, entityCase := range theme.Entities.Cases {
		if err := p.tagEntityCase(ctx, theme, entityCase, excerptIDs); err != nil {
			return err
		}
	}
	return p.tagCNPJs(ctx, theme, excerptIDs)
}

// tagEntityCase highlights the case's phrases inside matching excerpts. The
// fast-vector highlighter is the only one that tags whole phrases instead of
// individual words.
func (p *ExcerptPipeline) tagEntityCase(ctx context.Context, theme core.Theme, entityCase core.EntityCase, excerptIDs []string) error {
	should := make([]any, 0, len(entityCase.Values))
	for _, value := range entityCase.Values {
		should = append(should, map[string]any{
			"match_phrase": map[string]any{excerptHighlightField: value},
		})
	}

	for _, batch := range batched(excerptIDs, gazetteIDBatchSize) {
		esQuery := map[string]any{
			"query": map[string]any{
				"bool": map[string]any{
					"should": should,
					"filter": map[string]any{"ids": map[string]any{"values": batch}},
				},
			},
			"size": 100,
			"highlight": map[string]any{
				"fields": map[string]any{
					excerptHighlightField: map[string]any{
						"type":                "fvh",
						"matched_fields":      []string{"excerpt", excerptHighlightField},
						"fragment_size":       10000,
						"number_of_fragments": 1,
						"pre_tags":            []string{fmt.Sprintf("<%s>", entityCase.Category)},
						"post_tags":           []string{fmt.Sprintf("</%s>", entityCase.Category)},
					},
				},
			},
		}

		err := p.search.PaginatedSearch(ctx, theme.Index, esQuery, func(result *index.SearchResult) error {
			for _, hit := range result.Hits.Hits {
				tagged := hit.Highlight[excerptHighlightField]
				if len(tagged) == 0 {
					continue
				}
				var excerpt core.Excerpt
				if err := hit.DecodeSource(&excerpt); err != nil {
					return fmt.Errorf("failed to decode excerpt %s: %w", hit.ID, err)
				}
				excerpt.Excerpt = tagged[0]
				excerpt.Entities = appendUnique(excerpt.Entities, entityCase.Title)
				if err := p.search.IndexDocument(ctx, theme.Index, excerpt, true); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// tagCNPJs wraps every CNPJ identifier found in the excerpts.
func (p *ExcerptPipeline) tagCNPJs(ctx context.Context, theme core.Theme, excerptIDs []string) error {
	return p.forEachExcerpt(ctx, theme.Index, excerptIDs, func(excerpt core.Excerpt) error {
		tagged, found := TagCNPJ(excerpt.Excerpt)
		if !found {
			return nil
		}
		excerpt.Excerpt = tagged
		excerpt.Entities = appendUnique(excerpt.Entities, "CNPJ")
		return p.search.IndexDocument(ctx, theme.Index, excerpt, true)
	})
}

// TagCNPJ wraps each distinct CNPJ identifier in text with entidadecnpj tags
// and reports whether any was found.
func TagCNPJ(text string) (string, bool) {
	matches := cnpjPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, false
	}
	seen := map[string]bool{}
	for _, m := range matches {
		cnpj := m[2]
		if seen[cnpj] {
			continue
		}
		seen[cnpj] = true
		text = strings.ReplaceAll(text, cnpj, "<entidadecnpj>"+cnpj+"</entidadecnpj>")
	}
	return text, true
}

// forEachExcerpt fetches the excerpts by id in batches and calls fn on each.
func (p *ExcerptPipeline) forEachExcerpt(ctx context.Context, indexName string, excerptIDs []string, fn func(core.Excerpt) error) error {
	for _, batch := range batched(excerptIDs, gazetteIDBatchSize) {
		esQuery := map[string]any{
			"query": map[string]any{"ids": map[string]any{"values": batch}},
			"size":  100,
		}
		err := p.search.PaginatedSearch(ctx, indexName, esQuery, func(result *index.SearchResult) error {
			for _, hit := range result.Hits.Hits {
				var excerpt core.Excerpt
				if err := hit.DecodeSource(&excerpt); err != nil {
					return fmt.Errorf("failed to decode excerpt %s: %w", hit.ID, err)
				}
				if err := fn(excerpt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}
