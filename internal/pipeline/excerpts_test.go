package pipeline

import (
	"context"
	"strings"
	"testing"

	"diario/internal/core"
	"diario/internal/index"
)

func TestBuildMacroBlockSpanStructure(t *testing.T) {
	search := &fakeSearch{}
	p := NewExcerptPipeline(search, nil, "gazettes", testLogger())

	query := core.ThemeQuery{
		Title: "Dispensa de licitação",
		TermSets: [][][]string{
			{
				{"dispensa de licitação", "licitação dispensada"},
				{"emergência"},
			},
		},
	}

	block, err := p.buildMacroBlock(context.Background(), query)
	if err != nil {
		t.Fatalf("buildMacroBlock: %v", err)
	}

	macroClauses := block["span_or"].(map[string]any)["clauses"].([]any)
	if len(macroClauses) != 1 {
		t.Fatalf("got %d macro clauses, want 1", len(macroClauses))
	}

	proximity := macroClauses[0].(map[string]any)["span_near"].(map[string]any)
	if proximity["slop"] != proximitySlop || proximity["in_order"] != false {
		t.Errorf("proximity block = %v", proximity)
	}
	proximityClauses := proximity["clauses"].([]any)
	if len(proximityClauses) != 2 {
		t.Fatalf("got %d term-set clauses, want 2", len(proximityClauses))
	}

	synonyms := proximityClauses[0].(map[string]any)["span_or"].(map[string]any)["clauses"].([]any)
	if len(synonyms) != 2 {
		t.Fatalf("got %d synonym clauses, want 2", len(synonyms))
	}

	phrase := synonyms[0].(map[string]any)["span_near"].(map[string]any)
	if phrase["slop"] != 0 || phrase["in_order"] != true {
		t.Errorf("phrase block = %v", phrase)
	}
	words := phrase["clauses"].([]any)
	if len(words) != 3 {
		t.Fatalf("got %d span terms for a three-word phrase, want 3", len(words))
	}
	first := words[0].(map[string]any)["span_term"].(map[string]any)
	if first[highlightField] != "dispensa" {
		t.Errorf("first span term = %v", first)
	}
}

func TestExtractExcerptsBuildsStableIDsAndDropsShortFragments(t *testing.T) {
	gazette := core.Gazette{
		ID:           9,
		FileChecksum: "gaz-sum",
		TerritoryID:  "2909801",
		SourceText:   "irrelevant here",
	}
	longFragment := strings.Repeat("texto relevante ", 20) // > 200 chars
	shortFragment := "curto demais"

	search := &fakeSearch{
		pages: []*index.SearchResult{
			{Hits: index.Hits{Hits: []index.Hit{
				sourceHit(t, gazette, "gaz-sum", map[string][]string{
					highlightField: {longFragment, shortFragment},
				}),
			}}},
		},
	}
	p := NewExcerptPipeline(search, nil, "gazettes", testLogger())

	theme := core.Theme{
		Name:  "Licitações",
		Index: "licitacoes",
		Queries: []core.ThemeQuery{
			{Title: "Pregão", TermSets: [][][]string{{{"pregão"}}}},
		},
	}

	ids, err := p.extractExcerpts(context.Background(), theme, []string{"gaz-sum"})
	if err != nil {
		t.Fatalf("extractExcerpts: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d excerpt ids, want 1 (short fragment dropped)", len(ids))
	}

	wantID := "gaz-sum_" + core.Checksum(longFragment)
	if ids[0] != wantID {
		t.Errorf("excerpt id = %q, want %q", ids[0], wantID)
	}

	if len(search.indexed) != 1 {
		t.Fatalf("got %d indexed excerpts, want 1", len(search.indexed))
	}
	doc := search.indexed[0]
	if doc.index != "licitacoes" || !doc.refresh {
		t.Errorf("indexed into %s refresh=%v", doc.index, doc.refresh)
	}
	excerpt := doc.doc.(core.Excerpt)
	if excerpt.SourceFileChecksum != "gaz-sum" || excerpt.SourceDatabaseID != 9 {
		t.Errorf("excerpt source metadata: %+v", excerpt)
	}
	if len(excerpt.Subthemes) != 1 || excerpt.Subthemes[0] != "Pregão" {
		t.Errorf("excerpt subthemes: %v", excerpt.Subthemes)
	}
	if strings.Contains(excerpt.Excerpt, "  ") {
		t.Error("excerpt whitespace not collapsed")
	}
}

func TestExtractExcerptsSameFragmentSameID(t *testing.T) {
	gazette := core.Gazette{FileChecksum: "gaz-sum"}
	fragment := strings.Repeat("conteúdo repetido ", 15)

	run := func() string {
		search := &fakeSearch{
			pages: []*index.SearchResult{
				{Hits: index.Hits{Hits: []index.Hit{
					sourceHit(t, gazette, "gaz-sum", map[string][]string{highlightField: {fragment}}),
				}}},
			},
		}
		p := NewExcerptPipeline(search, nil, "gazettes", testLogger())
		theme := core.Theme{Name: "t", Index: "t", Queries: []core.ThemeQuery{
			{Title: "q", TermSets: [][][]string{{{"q"}}}},
		}}
		ids, err := p.extractExcerpts(context.Background(), theme, []string{"gaz-sum"})
		if err != nil {
			t.Fatalf("extractExcerpts: %v", err)
		}
		if len(ids) != 1 {
			t.Fatalf("got %d ids", len(ids))
		}
		return ids[0]
	}

	if first, second := run(), run(); first != second {
		t.Errorf("reprocessing produced different ids: %q vs %q", first, second)
	}
}

func TestBatched(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	batches := batched(items, 2)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[2]) != 1 {
		t.Errorf("batch sizes: %v", batches)
	}
	if batched(nil, 2) != nil {
		t.Error("batched(nil) should be nil")
	}
}
