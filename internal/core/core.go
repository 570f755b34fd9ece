// Package core defines the entities shared by the gazette processing pipelines.
package core

import (
	"strings"
	"time"
)

// DateLayout is the layout used for publication dates in storage paths and
// indexed documents.
const DateLayout = "2006-01-02"

// ExecutionMode selects which gazettes a run picks up from the database.
type ExecutionMode string

const (
	ModeDaily       ExecutionMode = "DAILY"       // gazettes scraped within the last 24 hours
	ModeAll         ExecutionMode = "ALL"         // every gazette row
	ModeUnprocessed ExecutionMode = "UNPROCESSED" // rows with processed = false
)

// Gazette is one published issue of a municipal official journal, as stored by
// the scrapers. Text-extraction fields (SourceText, URL, FileRawTxt) are filled
// in by the pipeline before indexing.
type Gazette struct {
	ID             int64     `json:"id"`               // database identifier
	SourceText     string    `json:"source_text"`      // extracted plain text
	Date           time.Time `json:"date"`             // publication date
	EditionNumber  string    `json:"edition_number"`   // free-form, possibly empty
	IsExtraEdition bool      `json:"is_extra_edition"` // extra edition flag
	Power          string    `json:"power"`            // executive | legislative | executive_legislative
	FileChecksum   string    `json:"file_checksum"`    // md5 of the source text
	FilePath       string    `json:"file_path"`        // storage key of the scraped binary
	FileURL        string    `json:"file_url"`         // source-side URL
	ScrapedAt      time.Time `json:"scraped_at"`       // when the scraper fetched it
	CreatedAt      time.Time `json:"created_at"`       // when the row was inserted
	TerritoryID    string    `json:"territory_id"`     // 7-char IBGE-like code
	Processed      bool      `json:"processed"`        // text extraction completed
	TerritoryName  string    `json:"territory_name"`   // joined from territories
	StateCode      string    `json:"state_code"`       // joined from territories
	URL            string    `json:"url"`              // public URL of the binary
	FileRawTxt     string    `json:"file_raw_txt"`     // public URL of the text artifact
}

// IsAggregated reports whether this gazette covers an association of
// municipalities. Association publishers carry territory ids ending in
// "00000" (e.g. "2700000" for the Alagoas municipalities association).
func (g Gazette) IsAggregated() bool {
	return strings.HasSuffix(strings.TrimSpace(g.TerritoryID), "00000")
}

// DocumentID implements IndexableDocument.
func (g Gazette) DocumentID() string { return g.FileChecksum }

// IndexBody implements IndexableDocument.
func (g Gazette) IndexBody() any { return g }

// Territory identifies a municipality (or an association of municipalities).
// The territories table is read-only from the pipeline's perspective and is
// loaded once per run.
type Territory struct {
	ID        string `json:"id"`         // 7-char code
	Name      string `json:"name"`       // municipality name
	StateCode string `json:"state_code"` // two-letter state code
	State     string `json:"state"`      // state name
}

// Segment is a per-municipality slice of an aggregated gazette. It keeps the
// parent gazette's metadata but carries its own territory, text and checksum,
// and is indexed as a first-class gazette.
type Segment struct {
	Gazette
}

// IndexableDocument is the capability the search index needs from anything the
// pipeline indexes: plain gazettes, segments and excerpts alike.
type IndexableDocument interface {
	DocumentID() string
	IndexBody() any
}

// Theme is a named bundle of proximity queries and entity cases describing
// what the themed-excerpt pipeline looks for.
type Theme struct {
	Name      string        `json:"name"`
	Index     string        `json:"index"`     // destination index for excerpts
	Queries   []ThemeQuery  `json:"queries"`   // proximity queries
	Entities  ThemeEntities `json:"entities"`  // entity tagging cases
	Stopwords []string      `json:"stopwords"` // stopwords for optional tf-idf scoring
}

// ThemeQuery is one themed proximity query. TermSets nests three levels:
// macro-OR of proximity-AND groups of synonym-OR terms; a term may be a
// multi-word phrase matched in order.
type ThemeQuery struct {
	Title    string       `json:"title"`
	TermSets [][][]string `json:"term_sets"`
}

// ThemeEntities groups the entity categories and cases of a theme.
type ThemeEntities struct {
	Categories []string     `json:"categories"`
	Cases      []EntityCase `json:"cases"`
}

// EntityCase tags excerpts that contain any of its phrases with its title,
// wrapping the matched span in <category> tags.
type EntityCase struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Values   []string `json:"values"`
}

// Excerpt is a highlighted fragment of gazette text matching a theme query,
// indexed into the theme's index. Source gazette metadata is denormalized
// under source_* fields.
type Excerpt struct {
	ExcerptID            string    `json:"excerpt_id"`
	Excerpt              string    `json:"excerpt"`
	Subthemes            []string  `json:"excerpt_subthemes"`
	Entities             []string  `json:"excerpt_entities,omitempty"`
	EmbeddingScore       float64   `json:"excerpt_embedding_score,omitempty"`
	TFIDFScore           float64   `json:"excerpt_tfidf_score,omitempty"`
	SourceIndexID        string    `json:"source_index_id"`
	SourceDatabaseID     int64     `json:"source_database_id"`
	SourceCreatedAt      time.Time `json:"source_created_at"`
	SourceDate           time.Time `json:"source_date"`
	SourceEditionNumber  string    `json:"source_edition_number"`
	SourceFileRawTxt     string    `json:"source_file_raw_txt"`
	SourceIsExtraEdition bool      `json:"source_is_extra_edition"`
	SourceFileChecksum   string    `json:"source_file_checksum"`
	SourceFilePath       string    `json:"source_file_path"`
	SourceFileURL        string    `json:"source_file_url"`
	SourcePower          string    `json:"source_power"`
	SourceProcessed      bool      `json:"source_processed"`
	SourceScrapedAt      time.Time `json:"source_scraped_at"`
	SourceStateCode      string    `json:"source_state_code"`
	SourceTerritoryID    string    `json:"source_territory_id"`
	SourceTerritoryName  string    `json:"source_territory_name"`
	SourceURL            string    `json:"source_url"`
}

// DocumentID implements IndexableDocument.
func (e Excerpt) DocumentID() string { return e.ExcerptID }

// IndexBody implements IndexableDocument.
func (e Excerpt) IndexBody() any { return e }
