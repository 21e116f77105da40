package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionStarted    EventType = "session.started"
	SessionStopped    EventType = "session.stopped"
	UtteranceBoundary EventType = "utterance.boundary"
	TranscriptFinal   EventType = "transcript.final"
	EngineError       EventType = "engine.error"
	SystemError       EventType = "error"
	WebhookTest       EventType = "webhook.test"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionStartedData is the payload for session.started events.
type SessionStartedData struct {
	Transport string `json:"transport"` // "websocket" or "webrtc"
	Backend   string `json:"backend"`
	Profile   string `json:"profile,omitempty"`
}

// SessionStoppedData is the payload for session.stopped events.
type SessionStoppedData struct {
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
	Utterances int    `json:"utterances"`
}

// UtteranceBoundaryData is the payload for utterance.boundary events.
type UtteranceBoundaryData struct {
	Level int `json:"level"`
}

// TranscriptFinalData is the payload for transcript.final events.
type TranscriptFinalData struct {
	Seq        int     `json:"seq"`
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// EngineErrorData is the payload for engine.error events.
type EngineErrorData struct {
	Backend string `json:"backend"`
	Error   string `json:"error"`
}

// WebhookTestData is the payload for webhook.test events.
type WebhookTestData struct {
	SinkID  string `json:"sink_id"`
	Message string `json:"message"`
}
