package ratelimit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRulesInlineJSON(t *testing.T) {
	rules, err := ParseRules(`[
		{"pattern": "/search", "match_kind": "exact", "qps": 5, "burst": 10, "label": "search"},
		{"pattern": "/reindex", "match_kind": "prefix", "qps": 0.5, "burst": 1, "label": "reindex"}
	]`)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, MatchExact, rules[0].MatchKind)
	assert.Equal(t, "search", rules[0].Label)
	assert.Equal(t, MatchPrefix, rules[1].MatchKind)
	assert.Equal(t, 0.5, rules[1].QPS)
}

func TestParseRulesRejectsUnknownMatchKind(t *testing.T) {
	_, err := ParseRules(`[{"pattern": "/x", "match_kind": "glob", "qps": 1, "burst": 1}]`)
	assert.Error(t, err)
}

func TestParseRulesRejectsNonPositiveBudget(t *testing.T) {
	_, err := ParseRules(`[{"pattern": "/x", "match_kind": "exact", "qps": 0, "burst": 1}]`)
	assert.Error(t, err)
}

func TestLoadRulesFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := `
- pattern: /upload
  match_kind: prefix
  qps: 2
  burst: 4
  label: upload
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "/upload", rules[0].Pattern)
	assert.Equal(t, MatchPrefix, rules[0].MatchKind)
	assert.Equal(t, 4.0, rules[0].Burst)
}

func TestLoadRulesFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	doc := `[{"pattern": "/search", "match_kind": "exact", "qps": 10, "burst": 20, "label": "search"}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, MatchExact, rules[0].MatchKind)
}

func TestLoadRulesFileMissing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestOrderedRuleTableFirstMatchWins(t *testing.T) {
	l, err := New(Config{
		LRUCapacity: 8,
		Rules: []Rule{
			{Pattern: "/search/slow", MatchKind: MatchExact, QPS: 1, Burst: 1, Label: "slow"},
			{Pattern: "/search", MatchKind: MatchPrefix, QPS: 100, Burst: 100, Label: "fast"},
		},
		SearchClass: Class{QPS: 5, Burst: 5, Label: "search"},
		UploadClass: Class{QPS: 1, Burst: 1, Label: "upload"},
	})
	require.NoError(t, err)

	assert.Equal(t, "slow", l.Check("c", "GET", "/search/slow").Label)
	assert.Equal(t, "fast", l.Check("c", "GET", "/search/other").Label)
}
