package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregate is one yearly ZIP archive of text artifacts, per territory or per
// state. Rows live in the aggregates table owned by the aggregates pipeline.
type Aggregate struct {
	TerritoryID string // empty for state-wide archives
	StateCode   string
	Year        int
	FilePath    string
	FileSizeMB  float64
	HashInfo    string
	LastUpdated time.Time
}

// EnsureAggregatesTable creates the aggregates table when it does not exist.
func (p *PostgresDB) EnsureAggregatesTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS aggregates (
			id SERIAL PRIMARY KEY,
			territory_id VARCHAR,
			state_code VARCHAR NOT NULL,
			year INTEGER,
			file_path VARCHAR(255) UNIQUE,
			file_size_mb REAL,
			hash_info VARCHAR(64),
			last_updated TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create aggregates table: %w", err)
	}
	return nil
}

// AggregateNeedsUpsert reports whether the archive at zipPath is absent or has
// a different content hash than the stored row.
func (p *PostgresDB) AggregateNeedsUpsert(ctx context.Context, hash, zipPath string) (bool, error) {
	var stored string
	err := p.db.QueryRowContext(ctx,
		"SELECT hash_info FROM aggregates WHERE file_path = $1", zipPath,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query aggregate %s: %w", zipPath, err)
	}
	return stored != hash, nil
}

// UpsertAggregate inserts or refreshes the row describing one archive.
func (p *PostgresDB) UpsertAggregate(ctx context.Context, agg Aggregate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO aggregates (territory_id, state_code, year, file_path, file_size_mb, hash_info, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (file_path) DO UPDATE SET
			file_size_mb = EXCLUDED.file_size_mb,
			hash_info = EXCLUDED.hash_info,
			last_updated = EXCLUDED.last_updated`,
		nullableString(agg.TerritoryID), agg.StateCode, agg.Year, agg.FilePath,
		agg.FileSizeMB, agg.HashInfo, agg.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate %s: %w", agg.FilePath, err)
	}
	return nil
}

// ProcessedTextFile locates one processed gazette's text artifact for the
// aggregates pipeline.
type ProcessedTextFile struct {
	TerritoryID   string
	TerritoryName string
	StateCode     string
	Year          int
	TxtPath       string
}

// IterateProcessedTextFiles streams the storage keys of every processed
// gazette's text artifact, ordered by state, territory and year so the
// aggregates pipeline can group them without buffering the full set.
func (p *PostgresDB) IterateProcessedTextFiles(ctx context.Context, fn func(ProcessedTextFile) error) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT
			gazettes.territory_id,
			territories.name,
			territories.state_code,
			EXTRACT(YEAR FROM gazettes.date)::int AS year,
			gazettes.file_path
		FROM gazettes
		INNER JOIN territories ON territories.id = gazettes.territory_id
		WHERE gazettes.processed IS TRUE
		ORDER BY territories.state_code, gazettes.territory_id, year`)
	if err != nil {
		return fmt.Errorf("failed to select processed gazettes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f ProcessedTextFile
		if err := rows.Scan(&f.TerritoryID, &f.TerritoryName, &f.StateCode, &f.Year, &f.TxtPath); err != nil {
			return fmt.Errorf("failed to scan processed gazette row: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
