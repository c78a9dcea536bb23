package remediation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func defaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	return NewMatcher(catalog)
}

func TestDefaultCatalogShape(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	categories := catalog.Categories()
	require.Len(t, categories, 16)
	assert.Equal(t, "database_connection_error", categories[0])
	assert.Equal(t, "unknown_error", categories[len(categories)-1])
	assert.Equal(t, "unknown_error", catalog.Fallback().Category)

	entry, ok := catalog.Lookup("dns_failure")
	require.True(t, ok)
	assert.Equal(t, "5-15 minutes", entry.EstimatedResolutionTime)
	assert.NotEmpty(t, entry.FixSteps)

	_, ok = catalog.Lookup("nope")
	assert.False(t, ok)
}

func TestMatchConnectionTimeout(t *testing.T) {
	m := defaultMatcher(t)
	res, err := m.Match(MatchRequest{Service: "db", Message: "Connection timeout after 30000ms"})
	require.NoError(t, err)
	assert.Equal(t, "database_connection_error", res.Category)
	assert.InDelta(t, 0.65, res.ConfidenceScore, 1e-12)
}

func TestMatchFallback(t *testing.T) {
	m := defaultMatcher(t)

	res, err := m.Match(MatchRequest{Service: "x", Message: "completely unrelated text"})
	require.NoError(t, err)
	assert.Equal(t, "unknown_error", res.Category)
	assert.Equal(t, 0.5, res.ConfidenceScore)

	res, err = m.Match(MatchRequest{Service: "x", Message: "completely unrelated text", RCAConfidence: ptr(0.9)})
	require.NoError(t, err)
	assert.Equal(t, "unknown_error", res.Category)
	assert.InDelta(t, 0.85, res.ConfidenceScore, 1e-12)
}

func TestMatchConfidenceBoosts(t *testing.T) {
	m := defaultMatcher(t)

	cases := []struct {
		name     string
		req      MatchRequest
		category string
		want     float64
	}{
		{"strong service", MatchRequest{Service: "mongodb-primary", Message: "connection pool exhausted"}, "database_connection_error", 0.75},
		{"rca medium", MatchRequest{Service: "db", Message: "connection timeout", RCAConfidence: ptr(0.7)}, "database_connection_error", 0.85},
		{"rca low band", MatchRequest{Service: "db", Message: "connection timeout", RCAConfidence: ptr(0.5)}, "database_connection_error", 0.75},
		{"rca below bands", MatchRequest{Service: "db", Message: "connection timeout", RCAConfidence: ptr(0.49)}, "database_connection_error", 0.65},
		{"saturates", MatchRequest{Service: "mongodb", Message: "connection timeout", RCAConfidence: ptr(0.95), ObservedPatterns: []string{"a"}}, "database_connection_error", 1.0},
		{"pattern cap", MatchRequest{Service: "x", Message: "nothing here", ObservedPatterns: []string{"a", "b", "c", "d", "e", "f", "g"}}, "unknown_error", 0.65},
		{"two patterns", MatchRequest{Service: "x", Message: "nothing here", ObservedPatterns: []string{"a", "b"}}, "unknown_error", 0.56},
		{"empty patterns", MatchRequest{Service: "x", Message: "nothing here", ObservedPatterns: []string{}}, "unknown_error", 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := m.Match(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.category, res.Category)
			assert.InDelta(t, tc.want, res.ConfidenceScore, 1e-9)
			assert.GreaterOrEqual(t, res.ConfidenceScore, 0.0)
			assert.LessOrEqual(t, res.ConfidenceScore, 1.0)
		})
	}
}

func TestMatchRejectsInvalidConfidence(t *testing.T) {
	m := defaultMatcher(t)
	_, err := m.Match(MatchRequest{Service: "db", Message: "x", RCAConfidence: ptr(1.5)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatchTieGoesToFirstEntry(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
entries:
  - category: first
    description: d
    priority: LOW
    estimated_resolution_time: 1m
    fix_steps: [a]
    keywords: [alpha]
  - category: second
    description: d
    priority: HIGH
    estimated_resolution_time: 1m
    fix_steps: [b]
    keywords: [beta]
  - category: fallback
    fallback: true
    description: d
    priority: MEDIUM
    estimated_resolution_time: 1m
    fix_steps: [c]
    keywords: []
`))
	require.NoError(t, err)
	m := NewMatcher(catalog)

	res, err := m.Match(MatchRequest{Service: "svc", Message: "beta and alpha"})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Category)

	res, err = m.Match(MatchRequest{Service: "svc", Message: "only beta"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Category)
}

func TestMatchResultDoesNotAliasCatalog(t *testing.T) {
	m := defaultMatcher(t)
	res, err := m.Match(MatchRequest{Service: "db", Message: "connection timeout"})
	require.NoError(t, err)
	res.FixSteps[0] = "mutated"

	again, err := m.Match(MatchRequest{Service: "db", Message: "connection timeout"})
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.FixSteps[0])
}

func TestMatchDeterministic(t *testing.T) {
	m := defaultMatcher(t)
	req := MatchRequest{Service: "checkout-api", Message: "Gateway timeout 504 from upstream", RCAConfidence: ptr(0.72), ObservedPatterns: []string{"p"}}
	first, err := m.Match(req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.Match(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "api_timeout", first.Category)
}

func TestParseCatalogRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown priority": `
entries:
  - category: a
    fallback: true
    description: d
    priority: URGENT
    estimated_resolution_time: 1m
    fix_steps: [x]
    keywords: []
`,
		"no fallback": `
entries:
  - category: a
    description: d
    priority: LOW
    estimated_resolution_time: 1m
    fix_steps: [x]
    keywords: [k]
`,
		"duplicate": `
entries:
  - category: a
    fallback: true
    description: d
    priority: LOW
    estimated_resolution_time: 1m
    fix_steps: [x]
    keywords: []
  - category: a
    description: d
    priority: LOW
    estimated_resolution_time: 1m
    fix_steps: [x]
    keywords: [k]
`,
		"missing steps": `
entries:
  - category: a
    fallback: true
    description: d
    priority: LOW
    estimated_resolution_time: 1m
    keywords: []
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - category: only
    fallback: true
    description: d
    priority: low
    estimated_resolution_time: 1m
    fix_steps: [x]
    keywords: []
`), 0o644))

	_, err := LoadCatalog(path)
	// lower-case priorities are rejected by the schema enum
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, 16, catalog.Len())
}
