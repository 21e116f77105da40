package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/itttm127/speech-to-text/internal/speech/backends/restutil"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
)

func init() {
	registry.Engines.Register("deepgram", func(config map[string]string) (engine.Transcriber, error) {
		apiKey := config["deepgram_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("deepgram API key required (set deepgram_api_key in config)")
		}
		model := config["model"]
		if model == "" {
			model = "nova-2"
		}
		lang := config["language"]
		if lang == "" {
			lang = "en"
		}
		return &DeepgramEngine{apiKey: apiKey, model: model, language: lang}, nil
	})
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float32 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// DeepgramEngine transcribes utterances with the Deepgram REST API.
type DeepgramEngine struct {
	apiKey   string
	model    string
	language string
}

func (d *DeepgramEngine) Transcribe(ctx context.Context, pcm []byte, opts engine.Options) (engine.Result, error) {
	model := opts.Model
	if model == "" {
		model = d.model
	}
	lang := opts.Language
	if lang == "" {
		lang = d.language
	}

	params := url.Values{}
	params.Set("model", model)
	params.Set("language", lang)
	apiURL := "https://api.deepgram.com/v1/listen?" + params.Encode()

	headers := map[string]string{"Authorization": "Token " + d.apiKey}

	var resp deepgramResponse
	err := restutil.Post(ctx, apiURL, headers, "audio/l16;rate=16000;channels=1", bytes.NewReader(pcm), &resp)
	if err != nil {
		return engine.Result{}, fmt.Errorf("deepgram: %w", err)
	}

	if len(resp.Results.Channels) > 0 && len(resp.Results.Channels[0].Alternatives) > 0 {
		alt := resp.Results.Channels[0].Alternatives[0]
		return engine.Result{Text: alt.Transcript, Confidence: alt.Confidence, Language: lang}, nil
	}
	return engine.Result{Language: lang}, nil
}

func (d *DeepgramEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{
		{ID: "nova-2", DisplayName: "Nova 2", IsDefault: true},
		{ID: "nova-2-general", DisplayName: "Nova 2 General"},
		{ID: "nova-2-meeting", DisplayName: "Nova 2 Meeting"},
		{ID: "nova-2-phonecall", DisplayName: "Nova 2 Phone Call"},
		{ID: "enhanced", DisplayName: "Enhanced"},
		{ID: "base", DisplayName: "Base"},
	}
}

func (d *DeepgramEngine) Close() error {
	return nil
}
