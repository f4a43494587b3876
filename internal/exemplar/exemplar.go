// Package exemplar manages the labeled example set that nearest-neighbor
// classification retrieves against. The catalog is data, loaded once at
// startup and only ever replaced as a whole - request handling never
// mutates it.
package exemplar

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stacksbot/internal/logging"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Exemplar is a single labeled reference question. Immutable once loaded.
type Exemplar struct {
	Text        string `yaml:"text"`
	Category    string `yaml:"category"`
	ActionBased bool   `yaml:"action_based"` // Intent-to-act, not mere topic mention
	Priority    int    `yaml:"priority"`     // Higher wins among same-similarity matches
	InScope     bool   `yaml:"in_scope"`
}

// Catalog is a versioned set of exemplars. Reloading replaces the whole
// catalog, never individual entries.
type Catalog struct {
	Version   string     `yaml:"version"`
	Exemplars []Exemplar `yaml:"exemplars"`
}

// DefaultCatalog returns the built-in exemplar catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from a YAML file, falling back to the
// built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	cat, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	logging.Store("Loaded exemplar catalog from %s: version=%s entries=%d", path, cat.Version, len(cat.Exemplars))
	return cat, nil
}

func parseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("invalid catalog YAML: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks catalog integrity. An empty or malformed catalog is a
// fatal startup condition, not a per-request error.
func (c *Catalog) Validate() error {
	if len(c.Exemplars) == 0 {
		return fmt.Errorf("catalog contains no exemplars")
	}
	seen := make(map[string]bool, len(c.Exemplars))
	for i, ex := range c.Exemplars {
		if ex.Text == "" {
			return fmt.Errorf("exemplar %d has empty text", i)
		}
		if ex.Category == "" {
			return fmt.Errorf("exemplar %d (%q) has empty category", i, ex.Text)
		}
		if ex.Priority < 0 {
			return fmt.Errorf("exemplar %d (%q) has negative priority", i, ex.Text)
		}
		if seen[ex.Text] {
			return fmt.Errorf("duplicate exemplar text: %q", ex.Text)
		}
		seen[ex.Text] = true
	}
	return nil
}

// Categories returns the distinct categories present in the catalog.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ex := range c.Exemplars {
		if !seen[ex.Category] {
			seen[ex.Category] = true
			out = append(out, ex.Category)
		}
	}
	return out
}
