package filter

import (
	"net/url"
	"path"
	"strings"

	"github.com/yourorg/tracegen/internal/config"
)

// FilterConfig is an alias of config.FilterConfig.
type FilterConfig = config.FilterConfig

// Filter decides which observed exchanges are worth capturing. It is pure:
// the same (method, url) pair always yields the same decision, and calls are
// cheap enough to sit on the interception path.
type Filter struct {
	cfg          FilterConfig
	allowUnknown bool
}

// New builds a Filter from config rules.
func New(cfg FilterConfig) *Filter {
	allow := true
	if cfg.AllowUnknown != nil {
		allow = *cfg.AllowUnknown
	}
	return &Filter{cfg: cfg, allowUnknown: allow}
}

// ShouldCapture reports whether an exchange with the given method and URL
// belongs in the trace. Mutating methods are always candidates; GET is an
// opt-in since it dominates traffic volume and rarely carries side effects.
func (f *Filter) ShouldCapture(method, rawURL string) bool {
	if !f.methodAllowed(method) {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	lower := strings.ToLower(rawURL)

	if hasIgnoredExtension(p, f.cfg.IgnoreExtensions) {
		return false
	}
	for _, frag := range f.cfg.IgnorePaths {
		frag = strings.ToLower(strings.TrimSpace(frag))
		if frag == "" {
			continue
		}
		if strings.Contains(lower, frag) {
			return false
		}
	}

	lp := strings.ToLower(p)
	for _, marker := range f.cfg.APIMarkers {
		if strings.Contains(lp, strings.ToLower(marker)) {
			return true
		}
	}
	if hasIgnoredExtension(p, f.cfg.DataExtensions) {
		// data-interchange extensions are API-shaped, not assets
		return true
	}
	return f.allowUnknown
}

func (f *Filter) methodAllowed(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	case "GET":
		return f.cfg.CaptureGet
	default:
		return false
	}
}

func hasIgnoredExtension(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(strings.TrimSpace(e)) == ext {
			return true
		}
	}
	return false
}
