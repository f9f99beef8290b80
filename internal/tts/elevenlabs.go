package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsSynthesizer is the secondary TTS vendor, streaming PCM 48kHz
// over the HTTP streaming endpoint.
type ElevenLabsSynthesizer struct {
	APIKey     string
	VoiceID    string
	HTTPClient *http.Client
	baseURL    string
}

// NewElevenLabsSynthesizer constructs the fallback TTS vendor client.
func NewElevenLabsSynthesizer(apiKey, voiceID string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		HTTPClient: &http.Client{}, // no timeout: the body is a live stream
		baseURL:    "https://api.elevenlabs.io",
	}
}

// StreamPCM48k synthesizes text and streams raw PCM chunks as they arrive.
func (e *ElevenLabsSynthesizer) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.stream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()

	return pcmCh, errCh
}

func (e *ElevenLabsSynthesizer) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	endpoint, err := url.Parse(e.baseURL + "/v1/text-to-speech/" + e.VoiceID + "/stream")
	if err != nil {
		return err
	}
	q := endpoint.Query()
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	endpoint.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
	}
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case pcmCh <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("elevenlabs: read stream: %w", rerr)
		}
	}
}
