// Package themes loads the themed-excerpt configuration file.
package themes

import (
	"encoding/json"
	"fmt"
	"os"

	"diario/internal/core"
)

// Load reads the theme configuration at path. A malformed or empty file is a
// fatal configuration error: the excerpt pipeline cannot run without themes.
func Load(path string) ([]core.Theme, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme config %s: %w", path, err)
	}

	var decoded struct {
		Themes []core.Theme `json:"themes"`
	}
	if err := json.Unmarshal(content, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse theme config %s: %w", path, err)
	}
	if len(decoded.Themes) == 0 {
		return nil, fmt.Errorf("theme config %s declares no themes", path)
	}

	for _, theme := range decoded.Themes {
		if err := validate(theme); err != nil {
			return nil, fmt.Errorf("theme config %s: %w", path, err)
		}
	}
	return decoded.Themes, nil
}

func validate(theme core.Theme) error {
	if theme.Name == "" {
		return fmt.Errorf("theme without a name")
	}
	if theme.Index == "" {
		return fmt.Errorf("theme %q has no destination index", theme.Name)
	}
	if len(theme.Queries) == 0 {
		return fmt.Errorf("theme %q has no queries", theme.Name)
	}
	for _, q := range theme.Queries {
		if q.Title == "" {
			return fmt.Errorf("theme %q has a query without a title", theme.Name)
		}
		if len(q.TermSets) == 0 {
			return fmt.Errorf("theme %q query %q has no term sets", theme.Name, q.Title)
		}
	}
	for _, c := range theme.Entities.Cases {
		if c.Category == "" || len(c.Values) == 0 {
			return fmt.Errorf("theme %q has an entity case without category or values", theme.Name)
		}
	}
	return nil
}
