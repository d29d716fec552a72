package types

import "time"

// Session is one capture run, from start to stop. It owns the ordered
// exchange list and the state derived from it: detected base URL, extracted
// credential and the symbol table of identifier-like response values.
type Session struct {
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at,omitempty"`
	BaseURL    string             `json:"base_url,omitempty"`
	Credential string             `json:"credential,omitempty"`
	Variables  []Variable         `json:"variables,omitempty"`
	Exchanges  []CapturedExchange `json:"exchanges,omitempty"`
}

// Variable is one entry of the session symbol table. The slice keeps
// insertion order; values are overwritten in place (last observation wins).
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetVariable records a value under name, preserving first-insertion order.
func (s *Session) SetVariable(name, value string) {
	for i := range s.Variables {
		if s.Variables[i].Name == name {
			s.Variables[i].Value = value
			return
		}
	}
	s.Variables = append(s.Variables, Variable{Name: name, Value: value})
}

// Active reports whether the session is still accepting exchanges.
func (s *Session) Active() bool {
	return s.EndedAt.IsZero()
}

// DurationMs is the wall time between start and end of the capture.
func (s *Session) DurationMs() int64 {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt).Milliseconds()
}

// CapturedExchange is one accepted HTTP exchange. Response stays nil until a
// matching response is observed; it remains nil for requests that never
// resolved before the session stopped.
type CapturedExchange struct {
	ID             int64             `json:"id"`
	RequestID      string            `json:"request_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body,omitempty"`
	RequestJSON    bool              `json:"request_json,omitempty"`
	Response       *Response         `json:"response,omitempty"`
}

// Response is the resolved half of an exchange. Body is empty when the host
// could not materialize it (stream consumed, binary payload, network error).
type Response struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	BodyJSON bool              `json:"body_json,omitempty"`
}
