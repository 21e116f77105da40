package whisper

import (
	"context"
	"fmt"
	"strings"

	"github.com/itttm127/speech-to-text/internal/speech/backends/restutil"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
)

func init() {
	registry.Engines.Register("whisper", func(config map[string]string) (engine.Transcriber, error) {
		baseURL := config["whisper_url"]
		if baseURL == "" {
			baseURL = config["base_url"]
		}
		if baseURL == "" {
			baseURL = "http://127.0.0.1:8080"
		}
		return &WhisperEngine{
			baseURL:  strings.TrimRight(baseURL, "/"),
			language: config["language"],
		}, nil
	})
}

// WhisperEngine transcribes utterances against a local whisper.cpp server.
// The server answers "[BLANK_AUDIO]" for silence; callers scrub that
// placeholder.
type WhisperEngine struct {
	baseURL  string
	language string
}

func (w *WhisperEngine) Transcribe(ctx context.Context, pcm []byte, opts engine.Options) (engine.Result, error) {
	lang := opts.Language
	if lang == "" {
		lang = w.language
	}

	fields := map[string]string{"response_format": "json"}
	if lang != "" {
		fields["language"] = lang
	}
	if opts.Translate {
		fields["translate"] = "true"
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := restutil.PostWAV(ctx, w.baseURL+"/inference", nil, pcm, fields, &resp); err != nil {
		return engine.Result{}, fmt.Errorf("whisper: %w", err)
	}

	return engine.Result{Text: resp.Text, Confidence: 0.9, Language: lang}, nil
}

// Models returns the whisper.cpp model family; the server is loaded with one
// of them at startup.
func (w *WhisperEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{
		{ID: "ggml-base", DisplayName: "Whisper Base", IsDefault: true},
		{ID: "ggml-small", DisplayName: "Whisper Small"},
		{ID: "ggml-medium", DisplayName: "Whisper Medium"},
		{ID: "ggml-large-v3", DisplayName: "Whisper Large v3"},
	}
}

func (w *WhisperEngine) Close() error {
	return nil
}
