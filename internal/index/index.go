// Package index wraps the OpenSearch cluster holding gazette full texts and
// themed excerpts.
package index

import (
	"encoding/json"
)

// SearchResult is the decoded body of a search or scroll response.
type SearchResult struct {
	ScrollID string `json:"_scroll_id,omitempty"`
	Hits     Hits   `json:"hits"`
}

// Hits is the hit envelope of a search response.
type Hits struct {
	Hits []Hit `json:"hits"`
}

// Hit is one matched document, with its optional highlight fragments.
type Hit struct {
	ID        string              `json:"_id"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// DecodeSource unmarshals the hit's _source into v.
func (h Hit) DecodeSource(v any) error {
	return json.Unmarshal(h.Source, v)
}
