package openai

import (
	"context"
	"fmt"

	"github.com/itttm127/speech-to-text/internal/speech/backends/restutil"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
)

func init() {
	registry.Engines.Register("openai", func(config map[string]string) (engine.Transcriber, error) {
		apiKey := config["openai_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key required (set openai_api_key in config)")
		}
		baseURL := config["openai_base_url"]
		if baseURL == "" {
			baseURL = config["base_url"]
		}
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := config["model"]
		if model == "" {
			model = "whisper-1"
		}
		return &OpenAIEngine{
			apiKey:   apiKey,
			baseURL:  baseURL,
			model:    model,
			language: config["language"],
		}, nil
	})
}

// OpenAIEngine transcribes utterances with the OpenAI-compatible audio API.
type OpenAIEngine struct {
	apiKey   string
	baseURL  string
	model    string
	language string
}

func (o *OpenAIEngine) Transcribe(ctx context.Context, pcm []byte, opts engine.Options) (engine.Result, error) {
	model := opts.Model
	if model == "" {
		model = o.model
	}
	lang := opts.Language
	if lang == "" {
		lang = o.language
	}

	fields := map[string]string{"model": model, "response_format": "json"}
	if lang != "" && !opts.Translate {
		fields["language"] = lang
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}

	// Translation is a separate endpoint that always targets English.
	endpoint := "/audio/transcriptions"
	if opts.Translate {
		endpoint = "/audio/translations"
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := restutil.PostWAV(ctx, o.baseURL+endpoint, headers, pcm, fields, &resp); err != nil {
		return engine.Result{}, fmt.Errorf("openai: %w", err)
	}

	return engine.Result{Text: resp.Text, Confidence: 0.9, Language: lang}, nil
}

func (o *OpenAIEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{
		{ID: "whisper-1", DisplayName: "Whisper 1", IsDefault: true},
		{ID: "gpt-4o-transcribe", DisplayName: "GPT-4o Transcribe"},
		{ID: "gpt-4o-mini-transcribe", DisplayName: "GPT-4o Mini Transcribe"},
	}
}

func (o *OpenAIEngine) Close() error {
	return nil
}
