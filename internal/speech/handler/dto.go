package handler

// CreateSessionRequest carries per-session overrides. Every field is
// optional; absent fields fall back to the selected profile and then the
// service defaults.
type CreateSessionRequest struct {
	Profile   string `json:"profile,omitempty"`
	Transport string `json:"transport,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Model     string `json:"model,omitempty"`
	Language  string `json:"language,omitempty"`
	Translate *bool  `json:"translate,omitempty"`
}

// SessionResponse is the API view of a session, live or stored.
type SessionResponse struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Transport  string `json:"transport,omitempty"`
	Backend    string `json:"backend"`
	Profile    string `json:"profile,omitempty"`
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
	Translate  bool   `json:"translate,omitempty"`
	Level      int    `json:"level"`
	Utterances int    `json:"utterances"`
	Transcript string `json:"transcript,omitempty"`
	CreatedAt  string `json:"created_at"`
	StoppedAt  string `json:"stopped_at,omitempty"`
}

// UtteranceResponse is one finalized transcript segment.
type UtteranceResponse struct {
	Seq        int     `json:"seq"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// TranscriptResponse is the full transcript of a session.
type TranscriptResponse struct {
	SessionID  string              `json:"session_id"`
	Transcript string              `json:"transcript"`
	Utterances []UtteranceResponse `json:"utterances"`
}

// OfferRequest carries a WebRTC SDP offer.
type OfferRequest struct {
	SDP string `json:"sdp"`
}

// OfferResponse carries the SDP answer, gathering complete.
type OfferResponse struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// BackendResponse describes one registered transcription backend.
type BackendResponse struct {
	Name         string   `json:"name"`
	Models       []string `json:"models,omitempty"`
	DefaultModel string   `json:"default_model,omitempty"`
}

// ProfileResponse describes one loaded listening profile.
type ProfileResponse struct {
	Name      string `json:"name"`
	Backend   string `json:"backend,omitempty"`
	Model     string `json:"model,omitempty"`
	Language  string `json:"language,omitempty"`
	Translate bool   `json:"translate,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// controlFrame is the JSON frame exchanged on the ingest WebSocket. The
// server sends "start" and "stop" to drive the client recorder; the client
// sends "flushed" after delivering its final partial chunk.
type controlFrame struct {
	Type       string `json:"type"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}
