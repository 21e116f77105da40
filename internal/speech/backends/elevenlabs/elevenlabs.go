package elevenlabs

import (
	"context"
	"fmt"

	"github.com/itttm127/speech-to-text/internal/speech/backends/restutil"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
)

func init() {
	registry.Engines.Register("elevenlabs", func(config map[string]string) (engine.Transcriber, error) {
		apiKey := config["elevenlabs_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("elevenlabs API key required (set elevenlabs_api_key in config)")
		}
		model := config["model"]
		if model == "" {
			model = "scribe_v1"
		}
		return &ElevenLabsEngine{apiKey: apiKey, model: model, language: config["language"]}, nil
	})
}

type elevenLabsResponse struct {
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float32 `json:"language_probability"`
	Text                string  `json:"text"`
}

// ElevenLabsEngine transcribes utterances with the ElevenLabs Scribe API.
type ElevenLabsEngine struct {
	apiKey   string
	model    string
	language string
}

func (e *ElevenLabsEngine) Transcribe(ctx context.Context, pcm []byte, opts engine.Options) (engine.Result, error) {
	model := opts.Model
	if model == "" {
		model = e.model
	}
	lang := opts.Language
	if lang == "" {
		lang = e.language
	}

	fields := map[string]string{"model_id": model}
	if lang != "" {
		fields["language_code"] = lang
	}

	headers := map[string]string{"xi-api-key": e.apiKey}

	var resp elevenLabsResponse
	if err := restutil.PostWAV(ctx, "https://api.elevenlabs.io/v1/speech-to-text", headers, pcm, fields, &resp); err != nil {
		return engine.Result{}, fmt.Errorf("elevenlabs: %w", err)
	}

	return engine.Result{
		Text:       resp.Text,
		Confidence: resp.LanguageProbability,
		Language:   resp.LanguageCode,
	}, nil
}

func (e *ElevenLabsEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{
		{ID: "scribe_v1", DisplayName: "Scribe v1", IsDefault: true},
		{ID: "scribe_v1_experimental", DisplayName: "Scribe v1 Experimental"},
	}
}

func (e *ElevenLabsEngine) Close() error {
	return nil
}
