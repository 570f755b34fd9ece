package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"diario/internal/core"
	"diario/internal/monitoring"
)

const (
	// requestTimeout is the server-side timeout applied to searches and
	// index creation.
	requestTimeout = 60 * time.Second

	// scrollKeepAlive is how long the server keeps a pagination cursor
	// between page reads.
	scrollKeepAlive = 5 * time.Minute

	writeMaxRetries   = 3
	writeInitialDelay = time.Second
)

// Client is the OpenSearch client shared by the pipelines. It is safe for
// concurrent use; the underlying transport caps in-flight connections.
type Client struct {
	client  *opensearch.Client
	monitor *monitoring.Monitor
	logger  *slog.Logger
}

// Options configures the cluster connection.
type Options struct {
	Host     string
	User     string
	Password string
}

// NewClient connects to the OpenSearch cluster.
func NewClient(opts Options, monitor *monitoring.Monitor, logger *slog.Logger) (*Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{opts.Host},
		Username:  opts.User,
		Password:  opts.Password,
		Transport: &http.Transport{
			MaxConnsPerHost:     16,
			MaxIdleConnsPerHost: 16,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build opensearch client: %w", err)
	}
	return &Client{client: client, monitor: monitor, logger: logger}, nil
}

// IndexExists reports whether the named index exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{
		Index: []string{name},
	}.Do(ctx, c.client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// CreateIndex creates the named index with the given mappings and analyzers.
// It is idempotent: when the index already exists nothing happens.
func (c *Client) CreateIndex(ctx context.Context, name string, body []byte) error {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	start := time.Now()
	res, err := opensearchapi.IndicesCreateRequest{
		Index:   name,
		Body:    bytes.NewReader(body),
		Timeout: requestTimeout,
	}.Do(ctx, c.client)
	if err != nil {
		c.monitor.LogSearchError("create_index", name, "connection", err.Error(), time.Since(start), "")
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg := readBody(res.Body)
		c.monitor.LogSearchError("create_index", name, res.Status(), msg, time.Since(start), "")
		return fmt.Errorf("failed to create index %s: %s", name, msg)
	}
	c.monitor.LogSearchOperation("create_index", name, time.Since(start), "")
	return nil
}

// RefreshIndex makes recent writes visible to searches. It is called between
// excerpt extraction and enrichment to enforce read-your-writes.
func (c *Client) RefreshIndex(ctx context.Context, name string) error {
	res, err := opensearchapi.IndicesRefreshRequest{
		Index: []string{name},
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to refresh index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to refresh index %s: %s", name, readBody(res.Body))
	}
	return nil
}

// IndexDocument upserts one document by id, retrying transient failures with
// exponential backoff starting at one second.
func (c *Client) IndexDocument(ctx context.Context, indexName string, doc core.IndexableDocument, refresh bool) error {
	documentID := doc.DocumentID()
	body, err := json.Marshal(doc.IndexBody())
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", documentID, err)
	}

	start := time.Now()
	delay := writeInitialDelay
	var lastErr error
	for attempt := 0; attempt <= writeMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		lastErr = c.indexOnce(ctx, indexName, body, documentID, refresh)
		if lastErr == nil {
			c.monitor.LogSearchOperation("index", indexName, time.Since(start), documentID)
			return nil
		}
	}
	c.monitor.LogSearchError("index", indexName, "write_failed", lastErr.Error(), time.Since(start), documentID)
	return fmt.Errorf("failed to index document %s after %d attempts: %w", documentID, writeMaxRetries+1, lastErr)
}

func (c *Client) indexOnce(ctx context.Context, indexName string, body []byte, documentID string, refresh bool) error {
	refreshParam := "false"
	if refresh {
		refreshParam = "true"
	}
	res, err := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: documentID,
		Body:       bytes.NewReader(body),
		Refresh:    refreshParam,
	}.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index returned %s: %s", res.Status(), readBody(res.Body))
	}
	return nil
}

// Search runs one blocking search request against the named index.
func (c *Client) Search(ctx context.Context, indexName string, query map[string]any) (*SearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	start := time.Now()
	res, err := opensearchapi.SearchRequest{
		Index:   []string{indexName},
		Body:    bytes.NewReader(body),
		Timeout: requestTimeout,
	}.Do(ctx, c.client)
	if err != nil {
		c.monitor.LogSearchError("search", indexName, "connection", err.Error(), time.Since(start), "")
		return nil, fmt.Errorf("search on %s failed: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg := readBody(res.Body)
		c.monitor.LogSearchError("search", indexName, res.Status(), msg, time.Since(start), "")
		return nil, fmt.Errorf("search on %s failed: %s", indexName, msg)
	}

	var result SearchResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	c.monitor.LogSearchOperation("search", indexName, time.Since(start), "")
	return &result, nil
}

// Analyze runs text through the analyzer configured for field on the named
// index and returns the resulting tokens. Query phrases are pre-tokenized
// this way before span queries are built over them.
func (c *Client) Analyze(ctx context.Context, indexName, field, text string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"text": text, "field": field})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	res, err := opensearchapi.IndicesAnalyzeRequest{
		Index: indexName,
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("analyze on %s failed: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("analyze on %s failed: %s", indexName, readBody(res.Body))
	}

	var decoded struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode analyze response: %w", err)
	}
	tokens := make([]string, 0, len(decoded.Tokens))
	for _, t := range decoded.Tokens {
		tokens = append(tokens, t.Token)
	}
	return tokens, nil
}

// PaginatedSearch streams result pages through a server-side scroll cursor,
// calling fn for each non-empty page. The cursor is cleared when the pages
// run out or fn fails.
func (c *Client) PaginatedSearch(ctx context.Context, indexName string, query map[string]any, fn func(*SearchResult) error) error {
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := opensearchapi.SearchRequest{
		Index:   []string{indexName},
		Body:    bytes.NewReader(body),
		Scroll:  scrollKeepAlive,
		Timeout: requestTimeout,
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("scrolled search on %s failed: %w", indexName, err)
	}
	result, err := decodeSearch(res)
	if err != nil {
		return err
	}

	// The server may rotate the cursor id between pages; clear whichever id
	// is current when the scroll ends.
	scrollID := result.ScrollID
	defer func() { c.clearScroll(scrollID) }()

	for len(result.Hits.Hits) > 0 {
		if err := fn(result); err != nil {
			return err
		}

		res, err := opensearchapi.ScrollRequest{
			ScrollID: scrollID,
			Scroll:   scrollKeepAlive,
		}.Do(ctx, c.client)
		if err != nil {
			return fmt.Errorf("scroll on %s failed: %w", indexName, err)
		}
		result, err = decodeSearch(res)
		if err != nil {
			return err
		}
		scrollID = result.ScrollID
	}
	return nil
}

func (c *Client) clearScroll(scrollID string) {
	if scrollID == "" {
		return
	}
	res, err := opensearchapi.ClearScrollRequest{
		ScrollID: []string{scrollID},
	}.Do(context.Background(), c.client)
	if err != nil {
		c.logger.Warn("failed to clear scroll", "error", err)
		return
	}
	res.Body.Close()
}

func decodeSearch(res *opensearchapi.Response) (*SearchResult, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", readBody(res.Body))
	}
	var result SearchResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &result, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return strings.TrimSpace(string(b))
}
