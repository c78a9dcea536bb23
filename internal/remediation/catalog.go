// Package remediation maps a root cause onto static fix guidance from an
// ordered keyword catalog.
package remediation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// ErrInvalidCatalog marks a catalog document that cannot be loaded.
var ErrInvalidCatalog = errors.New("invalid remediation catalog")

const catalogSchema = `{
  "type": "object",
  "required": ["entries"],
  "properties": {
    "entries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["category", "description", "priority", "estimated_resolution_time", "fix_steps", "keywords"],
        "additionalProperties": false,
        "properties": {
          "category": {"type": "string", "pattern": "^[a-z0-9_]+$"},
          "description": {"type": "string", "minLength": 1},
          "priority": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
          "estimated_resolution_time": {"type": "string", "minLength": 1},
          "fix_steps": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
          "keywords": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "fallback": {"type": "boolean"}
        }
      }
    }
  }
}`

type catalogFile struct {
	Entries []catalogEntry `yaml:"entries"`
}

type catalogEntry struct {
	Category                string   `yaml:"category"`
	Description             string   `yaml:"description"`
	Priority                string   `yaml:"priority"`
	EstimatedResolutionTime string   `yaml:"estimated_resolution_time"`
	FixSteps                []string `yaml:"fix_steps"`
	Keywords                []string `yaml:"keywords"`
	Fallback                bool     `yaml:"fallback"`
}

// Catalog is an ordered, read-only set of remediation entries with exactly
// one fallback. It is safe to share between goroutines.
type Catalog struct {
	entries  []models.RemediationEntry
	index    map[string]int
	fallback int
}

// DefaultCatalog parses the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates a YAML catalog document against the schema and
// builds the in-memory catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidCatalog, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(catalogSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: validate: %v", ErrInvalidCatalog, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(msgs, "; "))
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidCatalog, err)
	}
	return newCatalog(file.Entries)
}

func newCatalog(raw []catalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries:  make([]models.RemediationEntry, 0, len(raw)),
		index:    make(map[string]int, len(raw)),
		fallback: -1,
	}
	for _, e := range raw {
		if _, dup := c.index[e.Category]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidCatalog, e.Category)
		}
		priority, err := models.ParsePriority(e.Priority)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, e.Category, err)
		}
		keywords := make([]string, len(e.Keywords))
		for i, kw := range e.Keywords {
			keywords[i] = strings.ToLower(kw)
		}
		if e.Fallback {
			if c.fallback >= 0 {
				return nil, fmt.Errorf("%w: more than one fallback entry", ErrInvalidCatalog)
			}
			c.fallback = len(c.entries)
		}
		c.index[e.Category] = len(c.entries)
		c.entries = append(c.entries, models.RemediationEntry{
			Category:                e.Category,
			Description:             strings.TrimSpace(e.Description),
			FixSteps:                append([]string(nil), e.FixSteps...),
			Priority:                priority,
			EstimatedResolutionTime: e.EstimatedResolutionTime,
			Keywords:                keywords,
			Fallback:                e.Fallback,
		})
	}
	if c.fallback < 0 {
		return nil, fmt.Errorf("%w: no fallback entry", ErrInvalidCatalog)
	}
	return c, nil
}

// Categories lists category identifiers in declaration order.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Category
	}
	return out
}

// Lookup returns a copy of the entry for category.
func (c *Catalog) Lookup(category string) (models.RemediationEntry, bool) {
	i, ok := c.index[category]
	if !ok {
		return models.RemediationEntry{}, false
	}
	return copyEntry(c.entries[i]), true
}

// Len reports the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Fallback returns a copy of the fallback entry.
func (c *Catalog) Fallback() models.RemediationEntry {
	return copyEntry(c.entries[c.fallback])
}

func copyEntry(e models.RemediationEntry) models.RemediationEntry {
	e.FixSteps = append([]string(nil), e.FixSteps...)
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}
