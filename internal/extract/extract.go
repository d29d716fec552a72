// Package extract pulls authentication material and identifier-like values
// out of captured traffic. Both passes are pure; callers own where the
// results land in session state.
package extract

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/yourorg/tracegen/internal/config"
)

// ExtractConfig is an alias of config.ExtractConfig.
type ExtractConfig = config.ExtractConfig

// Extractor scans headers for credentials and response bodies for
// identifier-shaped values. MatchKey is replaceable so the identifier
// heuristic can be extended without touching the walk.
type Extractor struct {
	authHeaders []string
	maxDepth    int

	MatchKey func(key string) bool
}

// New builds an Extractor from config.
func New(cfg ExtractConfig) *Extractor {
	patterns := make([]string, 0, len(cfg.IDPatterns))
	for _, p := range cfg.IDPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	e := &Extractor{
		authHeaders: cfg.AuthHeaders,
		maxDepth:    cfg.MaxDepth,
	}
	e.MatchKey = func(key string) bool {
		lk := strings.ToLower(key)
		for _, p := range patterns {
			if strings.Contains(lk, p) {
				return true
			}
		}
		return false
	}
	return e
}

// Credential returns the first non-empty credential found in headers,
// checking the configured header names in priority order. A Bearer scheme
// prefix is stripped; anything else is taken verbatim.
func (e *Extractor) Credential(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	for _, name := range e.authHeaders {
		v := strings.TrimSpace(lowered[strings.ToLower(name)])
		if v == "" {
			continue
		}
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return v
	}
	return ""
}

// Variables walks a JSON body and invokes set for every identifier-like
// scalar leaf, keyed by its fully qualified path. Recursion stops at the
// configured depth; anything deeper is silently truncated. Bodies that are
// not JSON objects or arrays yield nothing.
func (e *Extractor) Variables(body string, set func(path, value string)) {
	if strings.TrimSpace(body) == "" {
		return
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return
	}
	e.walk(v, "", 0, set)
}

func (e *Extractor) walk(v any, prefix string, depth int, set func(path, value string)) {
	if depth >= e.maxDepth {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := joinPath(prefix, k)
			if s, ok := scalar(val[k]); ok {
				if e.MatchKey(k) {
					set(p, s)
				}
				continue
			}
			e.walk(val[k], p, depth+1, set)
		}
	case []any:
		for i, item := range val {
			e.walk(item, joinPath(prefix, strconv.Itoa(i)), depth+1, set)
		}
	}
}

func scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
