package synth

import (
	"encoding/json"
	"strconv"
	"strings"
)

type varRef struct {
	name  string
	value string
}

// substituter tracks which variable values are already known at each point
// of the trace and rewrites later request literals into {{name}} template
// references. The value-to-name mapping is first-wins so references stay
// stable when the same value shows up under several keys.
type substituter struct {
	order []varRef
	seen  map[string]string
}

func newSubstituter() *substituter {
	return &substituter{seen: make(map[string]string)}
}

// record is fed by the extractor after each resolved exchange.
func (s *substituter) record(name, value string) {
	if value == "" {
		return
	}
	if _, ok := s.seen[value]; ok {
		return
	}
	s.seen[value] = name
	s.order = append(s.order, varRef{name: name, value: value})
}

// path rewrites path segments and query values that exactly equal a known
// variable value.
func (s *substituter) path(p string) string {
	if len(s.order) == 0 {
		return p
	}
	pathPart, query, hasQuery := strings.Cut(p, "?")

	segs := strings.Split(pathPart, "/")
	for i, seg := range segs {
		if name, ok := s.seen[seg]; ok && seg != "" {
			segs[i] = "{{" + name + "}}"
		}
	}
	out := strings.Join(segs, "/")

	if hasQuery {
		pairs := strings.Split(query, "&")
		for i, pair := range pairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if name, ok := s.seen[v]; ok && v != "" {
				pairs[i] = k + "={{" + name + "}}"
			}
		}
		out += "?" + strings.Join(pairs, "&")
	}
	return out
}

// body rewrites known values inside a request body. JSON-declared bodies
// that fail to parse are embedded verbatim; the caller flags the fallback.
func (s *substituter) body(body string, isJSON bool) (string, bool) {
	if body == "" {
		return "", false
	}
	fallback := false
	if isJSON && !json.Valid([]byte(body)) {
		fallback = true
	}
	for _, v := range s.order {
		quoted, err := json.Marshal(v.value)
		if err == nil {
			body = strings.ReplaceAll(body, string(quoted), `"{{`+v.name+`}}"`)
		}
		if isNumeric(v.value) {
			body = replaceBareToken(body, v.value, "{{"+v.name+"}}")
		}
	}
	return body, fallback
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && s != ""
}

// replaceBareToken replaces tok only where it stands alone as a JSON value,
// bounded by structural characters or whitespace on both sides.
func replaceBareToken(s, tok, repl string) string {
	if tok == "" {
		return s
	}
	b := &strings.Builder{}
	for len(s) > 0 {
		i := strings.Index(s, tok)
		if i < 0 {
			b.WriteString(s)
			break
		}
		before := byte(0)
		if i > 0 {
			before = s[i-1]
		}
		afterIdx := i + len(tok)
		after := byte(0)
		if afterIdx < len(s) {
			after = s[afterIdx]
		}
		if boundaryBefore(before) && boundaryAfter(after) {
			b.WriteString(s[:i])
			b.WriteString(repl)
		} else {
			b.WriteString(s[:afterIdx])
		}
		s = s[afterIdx:]
	}
	return b.String()
}

func boundaryBefore(c byte) bool {
	switch c {
	case 0, ':', ',', '[', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func boundaryAfter(c byte) bool {
	switch c {
	case 0, ',', '}', ']', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
