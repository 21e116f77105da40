package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

// SpeechdConfig holds configuration for the speechd service.
type SpeechdConfig struct {
	config.ConfigurationDefault

	// Transcription backends.
	DefaultBackend   string `envDefault:"whisper"                   env:"ASR_BACKEND"`
	WhisperServerURL string `envDefault:"http://127.0.0.1:8080"     env:"WHISPER_SERVER_URL"`
	OpenAIAPIKey     string `envDefault:""                          env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `envDefault:"https://api.openai.com/v1" env:"OPENAI_BASE_URL"`
	DeepgramAPIKey   string `envDefault:""                          env:"DEEPGRAM_API_KEY"`
	GoogleAPIKey     string `envDefault:""                          env:"GOOGLE_API_KEY"`
	ElevenLabsAPIKey string `envDefault:""                          env:"ELEVENLABS_API_KEY"`

	// Listening profiles.
	ProfileDir     string `envDefault:"./profiles" env:"PROFILE_DIR"`
	DefaultProfile string `envDefault:""           env:"DEFAULT_PROFILE"`

	// Utterance detection defaults; a profile or request may override them.
	SilenceThreshold  int     `envDefault:"20"    env:"SILENCE_THRESHOLD"`
	SilenceDurationMs int     `envDefault:"1500"  env:"SILENCE_DURATION_MS"`
	BoundaryGraceMs   int     `envDefault:"100"   env:"BOUNDARY_GRACE_MS"`
	DataIntervalMs    int     `envDefault:"100"   env:"DATA_INTERVAL_MS"`
	MeterIntervalMs   int     `envDefault:"30"    env:"METER_INTERVAL_MS"`
	MinUtteranceMs    int     `envDefault:"500"   env:"MIN_UTTERANCE_MS"`
	SilenceFloorRMS   float64 `envDefault:"0.005" env:"SILENCE_FLOOR_RMS"`

	// Session lifecycle.
	CaptureAcquireTimeoutMs int `envDefault:"30000" env:"CAPTURE_ACQUIRE_TIMEOUT_MS"`
	SessionTTLMin           int `envDefault:"30"    env:"SESSION_TTL_MIN"`

	// WebRTC ingest.
	STUNServers string `envDefault:"stun:stun.l.google.com:19302" env:"STUN_SERVERS"`

	// Event sinks. NOTIFY_SINKS seeds sink rows at startup; the rest are
	// managed over the API.
	NotifySinks       string `envDefault:""    env:"NOTIFY_SINKS"`
	NotifySecret      string `envDefault:""    env:"NOTIFY_SECRET"`
	SinkMaxRetries    int    `envDefault:"5"   env:"SINK_MAX_RETRIES"`
	SinkTimeoutSec    int    `envDefault:"10"  env:"SINK_TIMEOUT_SEC"`
	SinkBackoffSec    int    `envDefault:"1"   env:"SINK_BACKOFF_INITIAL_SEC"`
	SinkBackoffMax    int    `envDefault:"300" env:"SINK_BACKOFF_MAX_SEC"`
	CBFailThreshold   int    `envDefault:"5"   env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec int    `envDefault:"60"  env:"CB_RESET_TIMEOUT_SEC"`
}

// StunURLs returns the configured STUN server URLs as a list.
func (c *SpeechdConfig) StunURLs() []string {
	return splitList(c.STUNServers)
}

// SinkURLs returns the env-seeded sink URLs as a list.
func (c *SpeechdConfig) SinkURLs() []string {
	return splitList(c.NotifySinks)
}

// AcquireTimeout returns the capture acquisition deadline.
func (c *SpeechdConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.CaptureAcquireTimeoutMs) * time.Millisecond
}

// SessionTTL returns the idle session reaping deadline.
func (c *SpeechdConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
