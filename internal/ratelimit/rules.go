package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperr "ragengine/internal/errors"
)

// ruleDoc is the on-disk/inline shape of one routing rule. match_kind
// accepts "exact"/"prefix" case-insensitively.
type ruleDoc struct {
	Pattern   string  `json:"pattern" yaml:"pattern"`
	MatchKind string  `json:"match_kind" yaml:"match_kind"`
	QPS       float64 `json:"qps" yaml:"qps"`
	Burst     float64 `json:"burst" yaml:"burst"`
	Label     string  `json:"label" yaml:"label"`
}

// ParseRules decodes an inline RATE_LIMIT_ROUTES JSON array into the
// ordered rule table.
func ParseRules(raw string) ([]Rule, error) {
	var docs []ruleDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, apperr.Wrap(apperr.CodeConfig, "parse RATE_LIMIT_ROUTES", err)
	}
	return rulesFromDocs(docs)
}

// LoadRulesFile reads a RATE_LIMIT_ROUTES_FILE in JSON or YAML form,
// selected by file extension (.yaml/.yml -> YAML, anything else JSON).
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfig, "read rate-limit routes file", err)
	}

	var docs []ruleDoc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &docs); err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, "parse rate-limit routes YAML", err)
		}
	default:
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, "parse rate-limit routes JSON", err)
		}
	}
	return rulesFromDocs(docs)
}

func rulesFromDocs(docs []ruleDoc) ([]Rule, error) {
	rules := make([]Rule, 0, len(docs))
	for _, d := range docs {
		var kind MatchKind
		switch strings.ToLower(d.MatchKind) {
		case "exact":
			kind = MatchExact
		case "prefix":
			kind = MatchPrefix
		default:
			return nil, apperr.Newf(apperr.CodeConfig, "unknown match_kind %q for pattern %q", d.MatchKind, d.Pattern)
		}
		if d.Pattern == "" {
			return nil, apperr.New(apperr.CodeConfig, "rate-limit rule with empty pattern")
		}
		if d.QPS <= 0 || d.Burst <= 0 {
			return nil, apperr.Newf(apperr.CodeConfig, "rate-limit rule %q requires positive qps and burst", d.Pattern)
		}
		rules = append(rules, Rule{
			Pattern:   d.Pattern,
			MatchKind: kind,
			QPS:       d.QPS,
			Burst:     d.Burst,
			Label:     d.Label,
		})
	}
	return rules, nil
}
