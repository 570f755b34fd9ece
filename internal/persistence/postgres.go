// Package persistence provides the Postgres-backed gazette source.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"diario/internal/core"
)

// gazetteColumns is the projection shared by every gazette selection query.
const gazetteColumns = `
	gazettes.id,
	gazettes.source_text,
	gazettes.date,
	gazettes.edition_number,
	gazettes.is_extra_edition,
	gazettes.power,
	gazettes.file_checksum,
	gazettes.file_path,
	gazettes.file_url,
	gazettes.scraped_at,
	gazettes.created_at,
	gazettes.territory_id,
	gazettes.processed,
	territories.name AS territory_name,
	territories.state_code`

// PostgresDB is the relational source of pending gazettes and the territory
// lookup table. A single connection is used; queries are serialized.
type PostgresDB struct {
	db       *sql.DB
	pageSize int
}

// NewPostgresDB opens a connection to Postgres and verifies it. pageSize
// bounds how many rows each selection query fetches at a time.
func NewPostgresDB(connectionString string, pageSize int) (*PostgresDB, error) {
	if err := validatePageSize(pageSize); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection, one in-flight query.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db: db, pageSize: pageSize}, nil
}

// Close releases the database connection.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// validatePageSize rejects page sizes that cannot be embedded into the query
// text as a literal integer.
func validatePageSize(pageSize int) error {
	if pageSize <= 0 {
		return fmt.Errorf("invalid gazette query page size: %d", pageSize)
	}
	return nil
}

// selectionSQL builds the paginated selection query for the given mode. The
// LIMIT and OFFSET are rendered as literal integers: the pagination contract
// forbids extra bound parameters on the selection queries.
func selectionSQL(mode core.ExecutionMode, pageSize, offset int) (string, error) {
	if err := validatePageSize(pageSize); err != nil {
		return "", err
	}
	if offset < 0 {
		return "", fmt.Errorf("invalid gazette query offset: %d", offset)
	}

	var where string
	switch mode {
	case core.ModeDaily:
		where = "WHERE scraped_at > current_timestamp - interval '1 day'"
	case core.ModeAll:
		where = ""
	case core.ModeUnprocessed:
		where = "WHERE processed IS FALSE"
	default:
		return "", fmt.Errorf("execution mode %q is invalid", mode)
	}

	return fmt.Sprintf(`SELECT %s
FROM gazettes
INNER JOIN territories ON territories.id = gazettes.territory_id
%s
ORDER BY gazettes.id
LIMIT %d OFFSET %d`, gazetteColumns, where, pageSize, offset), nil
}

// Iterate streams the gazettes selected by mode, one page at a time, calling
// fn for each row. The full result set is never materialized; iteration stops
// when a page comes back short, or when fn returns an error.
func (p *PostgresDB) Iterate(ctx context.Context, mode core.ExecutionMode, fn func(core.Gazette) error) error {
	offset := 0
	for {
		query, err := selectionSQL(mode, p.pageSize, offset)
		if err != nil {
			return err
		}

		gazettes, err := p.selectGazettes(ctx, query)
		if err != nil {
			return err
		}
		if len(gazettes) == 0 {
			return nil
		}

		for _, gazette := range gazettes {
			if err := fn(gazette); err != nil {
				return err
			}
		}

		if len(gazettes) < p.pageSize {
			return nil
		}
		offset += p.pageSize
	}
}

// selectGazettes runs one page query and decodes the rows. The page is read
// fully before the caller processes it so the cursor is not held across the
// long per-gazette work.
func (p *PostgresDB) selectGazettes(ctx context.Context, query string) ([]core.Gazette, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select gazettes: %w", err)
	}
	defer rows.Close()

	var gazettes []core.Gazette
	for rows.Next() {
		gazette, err := scanGazette(rows)
		if err != nil {
			return nil, err
		}
		gazettes = append(gazettes, gazette)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gazette rows: %w", err)
	}
	return gazettes, nil
}

func scanGazette(rows *sql.Rows) (core.Gazette, error) {
	var (
		g             core.Gazette
		sourceText    sql.NullString
		editionNumber sql.NullString
		createdAt     sql.NullTime
	)
	err := rows.Scan(
		&g.ID,
		&sourceText,
		&g.Date,
		&editionNumber,
		&g.IsExtraEdition,
		&g.Power,
		&g.FileChecksum,
		&g.FilePath,
		&g.FileURL,
		&g.ScrapedAt,
		&createdAt,
		&g.TerritoryID,
		&g.Processed,
		&g.TerritoryName,
		&g.StateCode,
	)
	if err != nil {
		return core.Gazette{}, fmt.Errorf("failed to scan gazette row: %w", err)
	}
	g.SourceText = sourceText.String
	g.EditionNumber = editionNumber.String
	g.CreatedAt = createdAt.Time
	return g, nil
}

// Territories loads the territory lookup table. It is read once per run and
// threaded through the pipeline.
func (p *PostgresDB) Territories(ctx context.Context) ([]core.Territory, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT id, name, state_code, state FROM territories")
	if err != nil {
		return nil, fmt.Errorf("failed to select territories: %w", err)
	}
	defer rows.Close()

	var territories []core.Territory
	for rows.Next() {
		var t core.Territory
		if err := rows.Scan(&t.ID, &t.Name, &t.StateCode, &t.State); err != nil {
			return nil, fmt.Errorf("failed to scan territory row: %w", err)
		}
		territories = append(territories, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate territory rows: %w", err)
	}
	return territories, nil
}

// MarkProcessed flags one gazette row as processed, keyed by id and checksum.
func (p *PostgresDB) MarkProcessed(ctx context.Context, id int64, fileChecksum string) error {
	_, err := p.db.ExecContext(ctx,
		"UPDATE gazettes SET processed = true WHERE id = $1 AND file_checksum = $2",
		id, fileChecksum,
	)
	if err != nil {
		return fmt.Errorf("failed to mark gazette %d (%s) as processed: %w", id, fileChecksum, err)
	}
	return nil
}
