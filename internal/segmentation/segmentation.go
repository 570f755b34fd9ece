// Package segmentation splits aggregated association gazettes into
// per-municipality segments.
package segmentation

import (
	"fmt"

	"diario/internal/core"
)

// Segmenter splits one aggregated gazette into per-municipality segments.
// There is one implementation per association publisher code.
type Segmenter interface {
	Segments(gazette core.Gazette) ([]core.Segment, error)
}

// Registry resolves segmenters by association territory id. Instances are
// built once per run and reused across gazettes.
type Registry struct {
	segmenters map[string]Segmenter
}

// NewRegistry builds the registry over the preloaded territory table.
func NewRegistry(territories []core.Territory) *Registry {
	return &Registry{
		segmenters: map[string]Segmenter{
			"2700000": newAlagoasSegmenter(territories),
		},
	}
}

// ForTerritory returns the segmenter registered for the association territory
// id, or an error when no implementation covers it.
func (r *Registry) ForTerritory(territoryID string) (Segmenter, error) {
	seg, ok := r.segmenters[territoryID]
	if !ok {
		return nil, fmt.Errorf("no segmenter registered for territory %s", territoryID)
	}
	return seg, nil
}
