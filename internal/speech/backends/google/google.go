package google

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/itttm127/speech-to-text/internal/speech/backends/restutil"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
)

func init() {
	registry.Engines.Register("google", func(config map[string]string) (engine.Transcriber, error) {
		apiKey := config["google_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("google API key required (set google_api_key in config)")
		}
		model := config["model"]
		if model == "" {
			model = "latest_long"
		}
		lang := config["language"]
		if lang == "" {
			lang = "en-US"
		}
		return &GoogleEngine{apiKey: apiKey, model: model, language: lang}, nil
	})
}

type googleRecognizeRequest struct {
	Config googleRecognizeConfig `json:"config"`
	Audio  googleRecognizeAudio  `json:"audio"`
}

type googleRecognizeConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
	Model           string `json:"model"`
}

type googleRecognizeAudio struct {
	Content string `json:"content"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float32 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// GoogleEngine transcribes utterances with the Google Cloud Speech-to-Text
// REST API.
type GoogleEngine struct {
	apiKey   string
	model    string
	language string
}

func (g *GoogleEngine) Transcribe(ctx context.Context, pcm []byte, opts engine.Options) (engine.Result, error) {
	model := opts.Model
	if model == "" {
		model = g.model
	}
	lang := opts.Language
	if lang == "" {
		lang = g.language
	}

	apiURL := "https://speech.googleapis.com/v1/speech:recognize?key=" + g.apiKey

	req := googleRecognizeRequest{
		Config: googleRecognizeConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: 16000,
			LanguageCode:    lang,
			Model:           model,
		},
		Audio: googleRecognizeAudio{
			Content: base64.StdEncoding.EncodeToString(pcm),
		},
	}

	var resp googleRecognizeResponse
	if err := restutil.PostJSON(ctx, apiURL, nil, req, &resp); err != nil {
		return engine.Result{}, fmt.Errorf("google: %w", err)
	}

	if len(resp.Results) > 0 && len(resp.Results[0].Alternatives) > 0 {
		alt := resp.Results[0].Alternatives[0]
		return engine.Result{Text: alt.Transcript, Confidence: alt.Confidence, Language: lang}, nil
	}
	return engine.Result{Language: lang}, nil
}

func (g *GoogleEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{
		{ID: "latest_long", DisplayName: "Latest Long", IsDefault: true},
		{ID: "latest_short", DisplayName: "Latest Short"},
		{ID: "chirp_2", DisplayName: "Chirp 2"},
		{ID: "chirp", DisplayName: "Chirp"},
	}
}

func (g *GoogleEngine) Close() error {
	return nil
}
