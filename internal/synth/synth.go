// Package synth turns a finalized capture session into a standalone,
// browser-free Go program that replays the same HTTP sequence and reports
// pass/fail per step.
package synth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/tracegen/internal/config"
	"github.com/yourorg/tracegen/internal/extract"
	"github.com/yourorg/tracegen/pkg/types"
)

// credentialPlaceholder is emitted when no credential was captured; the
// generated program reads the real value from the environment.
const credentialPlaceholder = "REPLACE_ME"

// credentialEnvVar is the environment variable the generated program checks
// before falling back to the captured (or placeholder) credential.
const credentialEnvVar = "TRACEGEN_TOKEN"

// Synthesizer generates replay programs. Now is injectable so output is
// byte-identical under a fixed clock; the generation timestamp comment is
// the only non-deterministic content.
type Synthesizer struct {
	cfg config.SynthConfig
	ex  *extract.Extractor

	Now func() time.Time
}

// New builds a Synthesizer. The extractor is used to re-derive, step by
// step, which variables were available before each exchange.
func New(cfg config.SynthConfig, ex *extract.Extractor) *Synthesizer {
	return &Synthesizer{cfg: cfg, ex: ex, Now: time.Now}
}

// Filename derives the deterministic artifact name for a session.
func (s *Synthesizer) Filename(sessionName string) string {
	return slug(sessionName) + "_apitest.go"
}

// Generate renders the replay program for a finalized session.
func (s *Synthesizer) Generate(sess *types.Session) (string, error) {
	if sess == nil {
		return "", errors.New("session is nil")
	}
	if sess.Active() {
		return "", errors.New("session is still active")
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "// Code generated by tracegen from session %q. DO NOT EDIT.\n", sess.Name)
	fmt.Fprintf(b, "// Generated: %s\n", s.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "//\n// Replays the captured HTTP trace without a browser. Run with:\n//\n")
	fmt.Fprintf(b, "//\t%s=<credential> go run %s\n", credentialEnvVar, s.Filename(sess.Name))
	b.WriteString("package main\n\n")
	b.WriteString("import (\n\t\"fmt\"\n\t\"io\"\n\t\"net/http\"\n\t\"os\"\n\t\"strings\"\n\t\"time\"\n)\n\n")

	fmt.Fprintf(b, "const (\n\tbaseURL           = %q\n\tcaptureDurationMs = %d\n)\n\n", sess.BaseURL, sess.DurationMs())

	cred := sess.Credential
	if cred == "" {
		cred = credentialPlaceholder
	}
	fmt.Fprintf(b, "var authToken = envOr(%q, %q)\n\n", credentialEnvVar, cred)

	s.writeVars(b, sess)
	steps := s.writeSteps(b, sess)
	s.writeMain(b, steps)
	writeHelpers(b)

	return b.String(), nil
}

// writeVars emits the symbol table in capture insertion order.
func (s *Synthesizer) writeVars(b *strings.Builder, sess *types.Session) {
	if len(sess.Variables) == 0 {
		b.WriteString("var vars = map[string]string{}\n\n")
		return
	}
	b.WriteString("// vars holds values observed during capture; step bodies and paths\n")
	b.WriteString("// reference them as {{name}} templates.\n")
	b.WriteString("var vars = map[string]string{\n")
	for _, v := range sess.Variables {
		fmt.Fprintf(b, "\t%q: %q,\n", v.Name, v.Value)
	}
	b.WriteString("}\n\n")
}

type stepInfo struct {
	fn    string
	label string
}

// writeSteps emits one function per exchange in id order, substituting
// previously seen variable values with template references as it goes.
func (s *Synthesizer) writeSteps(b *strings.Builder, sess *types.Session) []stepInfo {
	sub := newSubstituter()
	steps := make([]stepInfo, 0, len(sess.Exchanges))

	for i, ex := range sess.Exchanges {
		fn := fmt.Sprintf("step%03d", i+1)
		reqPath := trimBase(ex.URL, sess.BaseURL)
		label := fmt.Sprintf("%s %s %s", fn, ex.Method, pathOnly(reqPath))
		steps = append(steps, stepInfo{fn: fn, label: label})

		body, fallback := sub.body(ex.RequestBody, ex.RequestJSON)
		wantStatus := 0
		wantBody := ""
		if ex.Response != nil {
			wantStatus = ex.Response.Status
			if s.cfg.AssertBodies && ex.Response.BodyJSON && ex.Response.Body != "" {
				wantBody = ex.Response.Body
			}
		}

		fmt.Fprintf(b, "// %s %s %s\n", fn, ex.Method, pathOnly(reqPath))
		if ex.Response == nil {
			b.WriteString("// never confirmed to complete during capture; call is not asserted\n")
		}
		if fallback {
			b.WriteString("// request body kept verbatim: captured payload was not valid JSON\n")
		}
		fmt.Fprintf(b, "func %s(c *http.Client) error {\n", fn)
		fmt.Fprintf(b, "\treturn call(c, %q, %q, %q, %q, %d, %q)\n",
			ex.Method, sub.path(reqPath), body, contentType(ex), wantStatus, wantBody)
		b.WriteString("}\n\n")

		if ex.Response != nil && ex.Response.BodyJSON {
			s.ex.Variables(ex.Response.Body, sub.record)
		}
	}
	return steps
}

func (s *Synthesizer) writeMain(b *strings.Builder, steps []stepInfo) {
	b.WriteString("func main() {\n")
	b.WriteString("\tclient := &http.Client{Timeout: 30 * time.Second}\n")
	b.WriteString("\tsteps := []struct {\n\t\tname string\n\t\tfn   func(*http.Client) error\n\t}{\n")
	for _, st := range steps {
		fmt.Fprintf(b, "\t\t{%q, %s},\n", st.label, st.fn)
	}
	b.WriteString("\t}\n\n")
	b.WriteString("\tpassed, failed := 0, 0\n")
	b.WriteString("\tstart := time.Now()\n")
	b.WriteString("\tfor _, s := range steps {\n")
	b.WriteString("\t\tif err := s.fn(client); err != nil {\n")
	b.WriteString("\t\t\tfailed++\n\t\t\tfmt.Printf(\"FAIL %s: %v\\n\", s.name, err)\n\t\t\tcontinue\n\t\t}\n")
	b.WriteString("\t\tpassed++\n\t\tfmt.Printf(\"PASS %s\\n\", s.name)\n")
	b.WriteString("\t}\n")
	b.WriteString("\telapsed := time.Since(start)\n")
	b.WriteString("\tfmt.Printf(\"\\n%d passed, %d failed in %s (capture took %dms)\\n\", passed, failed, elapsed.Round(time.Millisecond), captureDurationMs)\n")
	b.WriteString("\tif failed > 0 {\n\t\tos.Exit(1)\n\t}\n")
	b.WriteString("}\n\n")
}

func writeHelpers(b *strings.Builder) {
	b.WriteString(`func call(c *http.Client, method, path, body, contentType string, wantStatus int, wantBody string) error {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(subst(body))
	}
	// cross-origin steps carry their full URL and bypass the base
	url := subst(path)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = baseURL + url
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if wantStatus > 0 && resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d, want %d", resp.StatusCode, wantStatus)
	}
	if wantBody != "" && strings.TrimSpace(string(got)) != strings.TrimSpace(subst(wantBody)) {
		return fmt.Errorf("body mismatch: got %s", got)
	}
	return nil
}

func subst(s string) string {
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
`)
}

func contentType(ex types.CapturedExchange) string {
	if ex.RequestBody == "" {
		return ""
	}
	for k, v := range ex.RequestHeaders {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	if ex.RequestJSON {
		return "application/json"
	}
	return "text/plain"
}

// trimBase reduces a captured URL to its path?query portion relative to the
// session base URL. Cross-origin exchanges keep their absolute URL.
func trimBase(rawURL, base string) string {
	if base != "" && strings.HasPrefix(rawURL, base) {
		p := strings.TrimPrefix(rawURL, base)
		if p == "" || p[0] == '/' || p[0] == '?' {
			if p == "" {
				return "/"
			}
			return p
		}
	}
	return rawURL
}

func pathOnly(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}

func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	b := &strings.Builder{}
	prevUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		out = "session"
	}
	return out
}
