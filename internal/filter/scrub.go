package filter

import "strings"

// ScrubHeaders returns a copy of headers with secrets-bearing and transport
// headers removed. Credential extraction must run before this; the stored
// trace never carries live tokens or hop-by-hop noise.
func ScrubHeaders(in map[string]string, drop []string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	set := toLowerSet(drop)
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := set[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
