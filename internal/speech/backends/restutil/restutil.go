// Package restutil carries the HTTP plumbing shared by the REST
// transcription backends: one pooled client and the WAV multipart upload
// shape that whisper-style APIs accept.
package restutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/itttm127/speech-to-text/internal/audio"
)

var client = &http.Client{Timeout: 30 * time.Second}

// maxErrBody caps how much of an error response gets echoed into the error.
const maxErrBody = 4 << 10

// Post sends a raw request body with the given content type and decodes the
// JSON response into dest. A nil dest discards the response body.
func Post(ctx context.Context, url string, headers map[string]string, contentType string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// PostJSON sends body as JSON and decodes the JSON response into dest.
func PostJSON(ctx context.Context, url string, headers map[string]string, body, dest any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return Post(ctx, url, headers, "application/json", bytes.NewReader(b), dest)
}

// PostWAV wraps 16 kHz mono PCM as a WAV file part named "file" in a
// multipart form, adds the extra form fields, and decodes the JSON response
// into dest.
func PostWAV(ctx context.Context, url string, headers map[string]string, pcm []byte, fields map[string]string, dest any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if err := audio.WriteWAVHeader(part, len(pcm), 16000, 1); err != nil {
		return fmt.Errorf("write WAV header: %w", err)
	}
	if _, err := part.Write(pcm); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	writer.Close()

	return Post(ctx, url, headers, writer.FormDataContentType(), &body, dest)
}
