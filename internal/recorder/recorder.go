// Package recorder owns the capture session lifecycle: it accepts request
// and response notifications from the host driver, correlates them, feeds
// the extractor, and on stop hands the frozen session to the synthesizer.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/tracegen/internal/config"
	"github.com/yourorg/tracegen/internal/extract"
	"github.com/yourorg/tracegen/internal/filter"
	"github.com/yourorg/tracegen/internal/synth"
	"github.com/yourorg/tracegen/pkg/types"
)

var (
	// ErrAlreadyCapturing is returned by Start while a session is active.
	ErrAlreadyCapturing = errors.New("capture session already active")
	// ErrNotCapturing is returned by Stop when no session is active.
	ErrNotCapturing = errors.New("no capture session active")
)

// RequestEvent is one observed outgoing request. RequestID is optional; when
// the host supplies one, response correlation uses it instead of the URL.
type RequestEvent struct {
	RequestID string            `json:"request_id,omitempty"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// ResponseEvent is one observed response, delivered by the host whenever it
// resolves, in any order relative to other in-flight exchanges.
type ResponseEvent struct {
	RequestID string            `json:"request_id,omitempty"`
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// SessionSaver persists a finalized session. Nil disables persistence.
type SessionSaver interface {
	SaveSession(*types.Session) error
}

// Recorder serializes all session mutation behind one mutex; the host may
// call OnRequest and OnResponse concurrently from any goroutine.
type Recorder struct {
	mu sync.Mutex

	cfg    *config.Config
	filter *filter.Filter
	ex     *extract.Extractor
	synth  *synth.Synthesizer
	saver  SessionSaver

	sess   *types.Session
	nextID int64

	now func() time.Time
}

// New wires a Recorder. The extractor is shared with the synthesizer so the
// same identifier heuristic drives capture and generation.
func New(cfg *config.Config, ex *extract.Extractor, sy *synth.Synthesizer, saver SessionSaver) *Recorder {
	return &Recorder{
		cfg:    cfg,
		filter: filter.New(cfg.Filter),
		ex:     ex,
		synth:  sy,
		saver:  saver,
		now:    time.Now,
	}
}

// Start opens a fresh capture session.
func (r *Recorder) Start(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return ErrAlreadyCapturing
	}
	r.sess = &types.Session{Name: name, StartedAt: r.now().UTC()}
	r.nextID = 0
	log.Printf("[recorder] session %q started", name)
	return nil
}

// OnRequest records an accepted request as a new exchange. Insertion order
// is request initiation order; retries are separate exchanges.
func (r *Recorder) OnRequest(ev RequestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}
	if !r.filter.ShouldCapture(ev.Method, ev.URL) {
		return
	}

	if r.sess.BaseURL == "" {
		r.sess.BaseURL = origin(ev.URL)
	}
	if r.sess.Credential == "" {
		if c := r.ex.Credential(ev.Headers); c != "" {
			r.sess.Credential = c
		}
	}

	r.nextID++
	r.sess.Exchanges = append(r.sess.Exchanges, types.CapturedExchange{
		ID:             r.nextID,
		RequestID:      ev.RequestID,
		Timestamp:      r.now().UTC(),
		Method:         strings.ToUpper(ev.Method),
		URL:            ev.URL,
		RequestHeaders: filter.ScrubHeaders(ev.Headers, r.cfg.Filter.ScrubHeaders),
		RequestBody:    ev.Body,
		RequestJSON:    looksJSON(ev.Headers, ev.Body),
	})
}

// OnResponse attaches a response to the first not-yet-resolved exchange it
// matches. Matching prefers the host-supplied request id; when none matches
// (or the host sent no id) it falls back to the first unresolved exchange
// for the same URL, which is correct while request initiation order equals
// scan order and duplicate outstanding requests to one URL stay rare.
func (r *Recorder) OnResponse(ev ResponseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}

	idx := -1
	if ev.RequestID != "" {
		for i := range r.sess.Exchanges {
			ex := &r.sess.Exchanges[i]
			if ex.Response == nil && ex.RequestID == ev.RequestID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := range r.sess.Exchanges {
			ex := &r.sess.Exchanges[i]
			if ex.Response == nil && ex.URL == ev.URL {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return
	}

	resp := &types.Response{
		Status:   ev.Status,
		Headers:  filter.ScrubHeaders(ev.Headers, r.cfg.Filter.ScrubHeaders),
		Body:     ev.Body,
		BodyJSON: looksJSON(ev.Headers, ev.Body),
	}
	r.sess.Exchanges[idx].Response = resp

	if resp.BodyJSON {
		r.ex.Variables(resp.Body, r.sess.SetVariable)
	}
}

// Stop finalizes the session, synthesizes and writes the replay artifact,
// persists the session when a saver is configured, and returns summary
// statistics. The recorder is idle again afterwards.
func (r *Recorder) Stop() (*types.StopResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil, ErrNotCapturing
	}

	sess := r.sess
	sess.EndedAt = r.now().UTC()

	dangling := 0
	for i := range sess.Exchanges {
		if sess.Exchanges[i].Response == nil {
			dangling++
		}
	}
	if dangling > 0 {
		log.Printf("[recorder] session %q stopped with %d unresolved exchange(s)", sess.Name, dangling)
	}

	src, err := r.synth.Generate(sess)
	if err != nil {
		sess.EndedAt = time.Time{} // leave the session intact on failure
		return nil, fmt.Errorf("synthesize session: %w", err)
	}
	if err := os.MkdirAll(r.cfg.Synth.OutputDir, 0o755); err != nil {
		sess.EndedAt = time.Time{}
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	artifact := filepath.Join(r.cfg.Synth.OutputDir, r.synth.Filename(sess.Name))
	if err := os.WriteFile(artifact, []byte(src), 0o644); err != nil {
		sess.EndedAt = time.Time{}
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	if r.saver != nil {
		if err := r.saver.SaveSession(sess); err != nil {
			sess.EndedAt = time.Time{}
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	count := len(sess.Exchanges)
	speedup := 0.0
	if count > 0 && r.cfg.Synth.ReplayCostMs > 0 {
		speedup = float64(sess.DurationMs()) / float64(int64(count)*r.cfg.Synth.ReplayCostMs)
	}

	r.sess = nil
	log.Printf("[recorder] session %q finalized: %d exchange(s), artifact %s", sess.Name, count, artifact)
	return &types.StopResult{
		SessionID:         sess.ID,
		ArtifactPath:      artifact,
		ExchangeCount:     count,
		CaptureDurationMs: sess.DurationMs(),
		EstSpeedup:        speedup,
		Dangling:          dangling,
	}, nil
}

// Stats reports the live session view, or nil while idle.
func (r *Recorder) Stats() *types.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return &types.Stats{
		ExchangeCount: len(r.sess.Exchanges),
		HasCredential: r.sess.Credential != "",
		BaseURL:       r.sess.BaseURL,
	}
}

func origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func looksJSON(headers map[string]string, body string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.Contains(strings.ToLower(v), "json")
		}
	}
	return body != "" && json.Valid([]byte(body))
}
