package recorder

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/tracegen/internal/config"
	"github.com/yourorg/tracegen/internal/extract"
	"github.com/yourorg/tracegen/internal/synth"
	"github.com/yourorg/tracegen/pkg/types"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Filter.CaptureGet = true
	cfg.Synth.OutputDir = t.TempDir()
	ex := extract.New(cfg.Extract)
	sy := synth.New(cfg.Synth, ex)
	sy.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return New(cfg, ex, sy, nil)
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func TestLifecycleMisuse(t *testing.T) {
	r := newTestRecorder(t)
	if _, err := r.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
	if err := r.Start("s"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("other"); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing on second stop, got %v", err)
	}
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("ids"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		r.OnRequest(RequestEvent{Method: "POST", URL: fmt.Sprintf("https://a.io/api/x/%d", i)})
	}
	sess := r.sess
	if len(sess.Exchanges) != 10 {
		t.Fatalf("expected 10 exchanges, got %d", len(sess.Exchanges))
	}
	for i := 1; i < len(sess.Exchanges); i++ {
		if sess.Exchanges[i-1].ID >= sess.Exchanges[i].ID {
			t.Fatalf("ids not strictly increasing at %d", i)
		}
	}
}

func TestCorrelationOutOfOrder(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("corr"); err != nil {
		t.Fatal(err)
	}
	const n = 5
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = fmt.Sprintf("https://a.io/api/res/%d", i)
		r.OnRequest(RequestEvent{Method: "POST", URL: urls[i]})
	}
	// deliver responses in reverse completion order
	for i := n - 1; i >= 0; i-- {
		r.OnResponse(ResponseEvent{URL: urls[i], Status: 200 + i})
	}
	for i, ex := range r.sess.Exchanges {
		if ex.Response == nil {
			t.Fatalf("exchange %d has no response", i)
		}
		if ex.Response.Status != 200+i {
			t.Fatalf("exchange %d got status %d, want %d", i, ex.Response.Status, 200+i)
		}
	}
	// a duplicate response must not re-attach anywhere
	r.OnResponse(ResponseEvent{URL: urls[0], Status: 599})
	if r.sess.Exchanges[0].Response.Status != 200 {
		t.Fatalf("duplicate response overwrote correlation")
	}
}

func TestCorrelationFirstUnresolvedWins(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("retry"); err != nil {
		t.Fatal(err)
	}
	// two outstanding requests to the same URL: first response resolves the
	// earlier exchange
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/save"})
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/save"})
	r.OnResponse(ResponseEvent{URL: "https://a.io/api/save", Status: 500})
	r.OnResponse(ResponseEvent{URL: "https://a.io/api/save", Status: 201})
	if r.sess.Exchanges[0].Response.Status != 500 {
		t.Fatalf("expected first exchange resolved first, got %d", r.sess.Exchanges[0].Response.Status)
	}
	if r.sess.Exchanges[1].Response.Status != 201 {
		t.Fatalf("expected second exchange resolved second, got %d", r.sess.Exchanges[1].Response.Status)
	}
}

func TestCorrelationByRequestID(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("reqid"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{RequestID: "r1", Method: "POST", URL: "https://a.io/api/save"})
	r.OnRequest(RequestEvent{RequestID: "r2", Method: "POST", URL: "https://a.io/api/save"})
	// id-based correlation resolves the later request first
	r.OnResponse(ResponseEvent{RequestID: "r2", URL: "https://a.io/api/save", Status: 201})
	if r.sess.Exchanges[0].Response != nil {
		t.Fatalf("expected first exchange still unresolved")
	}
	if r.sess.Exchanges[1].Response == nil || r.sess.Exchanges[1].Response.Status != 201 {
		t.Fatalf("expected second exchange resolved by request id")
	}
}

func TestCorrelationIDFallsBackToURL(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("mixed"); err != nil {
		t.Fatal(err)
	}
	// the host tagged only the response; no exchange carries that id, so the
	// response must still attach by URL
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/save"})
	r.OnResponse(ResponseEvent{RequestID: "r9", URL: "https://a.io/api/save", Status: 201})
	if r.sess.Exchanges[0].Response == nil || r.sess.Exchanges[0].Response.Status != 201 {
		t.Fatalf("expected url fallback when no exchange matches the response id")
	}
	// an unknown id with an unknown url still attaches nowhere
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/other"})
	r.OnResponse(ResponseEvent{RequestID: "r10", URL: "https://a.io/api/missing", Status: 200})
	if r.sess.Exchanges[1].Response != nil {
		t.Fatalf("expected response with foreign id and url to be dropped")
	}
}

func TestCredentialFirstWins(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("cred"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/a",
		Headers: map[string]string{"Authorization": "Bearer first"}})
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/b",
		Headers: map[string]string{"Authorization": "Bearer second"}})
	if r.sess.Credential != "first" {
		t.Fatalf("expected first credential kept, got %q", r.sess.Credential)
	}
}

func TestVariablesLastWins(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("vars"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/a"})
	r.OnResponse(ResponseEvent{URL: "https://a.io/api/a", Status: 200,
		Headers: jsonHeaders(), Body: `{"sessionId":"one"}`})
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/b"})
	r.OnResponse(ResponseEvent{URL: "https://a.io/api/b", Status: 200,
		Headers: jsonHeaders(), Body: `{"sessionId":"two"}`})
	if len(r.sess.Variables) != 1 {
		t.Fatalf("expected 1 variable, got %v", r.sess.Variables)
	}
	if r.sess.Variables[0].Value != "two" {
		t.Fatalf("expected later value to win, got %q", r.sess.Variables[0].Value)
	}
}

func TestBaseURLLatchedOnce(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("base"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://first.io/api/a"})
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://second.io/api/b"})
	if r.sess.BaseURL != "https://first.io" {
		t.Fatalf("expected base url latched from first exchange, got %q", r.sess.BaseURL)
	}
}

func TestFilteredRequestsNotRecorded(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("filtered"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "GET", URL: "https://a.io/bundle.js"})
	r.OnRequest(RequestEvent{Method: "OPTIONS", URL: "https://a.io/api/a"})
	if st := r.Stats(); st.ExchangeCount != 0 {
		t.Fatalf("expected no exchanges, got %d", st.ExchangeCount)
	}
}

func TestStatsLifecycle(t *testing.T) {
	r := newTestRecorder(t)
	if r.Stats() != nil {
		t.Fatalf("expected nil stats while idle")
	}
	if err := r.Start("stats"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/a",
		Headers: map[string]string{"Authorization": "Bearer x"}})
	st := r.Stats()
	if st == nil || st.ExchangeCount != 1 || !st.HasCredential || st.BaseURL != "https://a.io" {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if r.Stats() != nil {
		t.Fatalf("expected nil stats after stop")
	}
}

func TestDanglingExchange(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("dangling"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/slow"})
	res, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if res.ExchangeCount != 1 {
		t.Fatalf("expected exchange count 1, got %d", res.ExchangeCount)
	}
	if res.Dangling != 1 {
		t.Fatalf("expected 1 dangling exchange, got %d", res.Dangling)
	}
	src, err := os.ReadFile(res.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(src), "never confirmed to complete") {
		t.Fatalf("expected dangling comment flag in artifact")
	}
}

func TestEndToEndScenario(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("checkout flow"); err != nil {
		t.Fatal(err)
	}

	r.OnRequest(RequestEvent{Method: "POST", URL: "https://app.example.com/login",
		Headers: jsonHeaders(), Body: `{"user":"u","pass":"p"}`})
	r.OnResponse(ResponseEvent{URL: "https://app.example.com/login", Status: 200,
		Headers: jsonHeaders(), Body: `{"token":"abc"}`})

	r.OnRequest(RequestEvent{Method: "GET", URL: "https://app.example.com/profile",
		Headers: map[string]string{"Authorization": "Bearer abc"}})
	r.OnResponse(ResponseEvent{URL: "https://app.example.com/profile", Status: 200,
		Headers: jsonHeaders(), Body: `{"id":42}`})

	r.OnRequest(RequestEvent{Method: "POST", URL: "https://app.example.com/orders",
		Headers: jsonHeaders(), Body: `{"userId":42}`})
	r.OnResponse(ResponseEvent{URL: "https://app.example.com/orders", Status: 201,
		Headers: jsonHeaders(), Body: `{"orderId":7}`})

	sess := r.sess
	if sess.Credential != "abc" {
		t.Fatalf("expected credential abc, got %q", sess.Credential)
	}
	values := map[string]bool{}
	for _, v := range sess.Variables {
		values[v.Value] = true
	}
	if !values["42"] || !values["7"] {
		t.Fatalf("expected variables with values 42 and 7, got %v", sess.Variables)
	}

	res, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(res.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	src := string(data)
	if !strings.Contains(src, "{{id}}") {
		t.Fatalf("expected orders step to reference the id variable")
	}
	if strings.Contains(src, `userId\":42`) {
		t.Fatalf("expected literal 42 replaced in orders body")
	}
	if !strings.Contains(src, `envOr("TRACEGEN_TOKEN", "abc")`) {
		t.Fatalf("expected credential wired into generated client")
	}
}

type flakySaver struct {
	calls int
}

func (s *flakySaver) SaveSession(sess *types.Session) error {
	s.calls++
	if s.calls == 1 {
		return errors.New("disk full")
	}
	sess.ID = "saved"
	return nil
}

func TestStopPersistFailureKeepsSessionLive(t *testing.T) {
	r := newTestRecorder(t)
	r.saver = &flakySaver{}
	if err := r.Start("flaky"); err != nil {
		t.Fatal(err)
	}
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/a"})
	if _, err := r.Stop(); err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	if r.sess == nil || !r.sess.Active() {
		t.Fatalf("expected session still live and not marked ended after failed persist")
	}
	// capture continues and a retry finalizes the full session
	r.OnRequest(RequestEvent{Method: "POST", URL: "https://a.io/api/b"})
	res, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if res.ExchangeCount != 2 {
		t.Fatalf("expected both exchanges in retried stop, got %d", res.ExchangeCount)
	}
	if res.SessionID != "saved" {
		t.Fatalf("expected session id from saver, got %q", res.SessionID)
	}
}

func TestConcurrentEvents(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start("concurrent"); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("https://a.io/api/item/%d", i)
			r.OnRequest(RequestEvent{RequestID: fmt.Sprintf("r%d", i), Method: "POST", URL: u})
			r.OnResponse(ResponseEvent{RequestID: fmt.Sprintf("r%d", i), URL: u, Status: 200})
		}(i)
	}
	wg.Wait()
	if st := r.Stats(); st.ExchangeCount != 20 {
		t.Fatalf("expected 20 exchanges, got %d", st.ExchangeCount)
	}
	for i, ex := range r.sess.Exchanges {
		if ex.Response == nil {
			t.Fatalf("exchange %d unresolved", i)
		}
	}
}
