package types

// Stats is the live view of a capture session.
type Stats struct {
	ExchangeCount int    `json:"exchange_count"`
	HasCredential bool   `json:"has_credential"`
	BaseURL       string `json:"base_url,omitempty"`
}

// StopResult summarizes a finalized capture session.
type StopResult struct {
	SessionID         string  `json:"session_id,omitempty"`
	ArtifactPath      string  `json:"artifact_path"`
	ExchangeCount     int     `json:"exchange_count"`
	CaptureDurationMs int64   `json:"capture_duration_ms"`
	EstSpeedup        float64 `json:"est_speedup"`
	Dangling          int     `json:"dangling,omitempty"`
}
