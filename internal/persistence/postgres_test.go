package persistence

import (
	"strings"
	"testing"

	"diario/internal/core"
)

func TestSelectionSQLModes(t *testing.T) {
	tests := []struct {
		mode        core.ExecutionMode
		wantWhere   string
		forbidWhere bool
	}{
		{core.ModeDaily, "scraped_at > current_timestamp - interval '1 day'", false},
		{core.ModeUnprocessed, "processed IS FALSE", false},
		{core.ModeAll, "WHERE", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			query, err := selectionSQL(tt.mode, 1000, 0)
			if err != nil {
				t.Fatalf("selectionSQL: %v", err)
			}
			if tt.forbidWhere {
				if strings.Contains(query, tt.wantWhere) {
					t.Errorf("ALL mode should have no WHERE clause: %s", query)
				}
			} else if !strings.Contains(query, tt.wantWhere) {
				t.Errorf("query missing %q: %s", tt.wantWhere, query)
			}
			if !strings.Contains(query, "ORDER BY gazettes.id") {
				t.Errorf("query not ordered by primary key: %s", query)
			}
			if !strings.Contains(query, "INNER JOIN territories") {
				t.Errorf("query missing territory join: %s", query)
			}
		})
	}
}

func TestSelectionSQLLiteralPagination(t *testing.T) {
	query, err := selectionSQL(core.ModeAll, 500, 1500)
	if err != nil {
		t.Fatalf("selectionSQL: %v", err)
	}
	if !strings.Contains(query, "LIMIT 500 OFFSET 1500") {
		t.Errorf("pagination not embedded as literals: %s", query)
	}
	if strings.Contains(query, "$") {
		t.Errorf("selection query must not carry bound parameters: %s", query)
	}
}

func TestSelectionSQLRejectsBadInput(t *testing.T) {
	if _, err := selectionSQL(core.ModeAll, 0, 0); err == nil {
		t.Error("page size 0 accepted")
	}
	if _, err := selectionSQL(core.ModeAll, -5, 0); err == nil {
		t.Error("negative page size accepted")
	}
	if _, err := selectionSQL(core.ModeAll, 100, -1); err == nil {
		t.Error("negative offset accepted")
	}
	if _, err := selectionSQL(core.ExecutionMode("WEEKLY"), 100, 0); err == nil {
		t.Error("unknown execution mode accepted")
	}
}

func TestValidatePageSize(t *testing.T) {
	if err := validatePageSize(1000); err != nil {
		t.Errorf("validatePageSize(1000) = %v", err)
	}
	if err := validatePageSize(0); err == nil {
		t.Error("validatePageSize(0) accepted")
	}
}
