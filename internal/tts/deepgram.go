package tts

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/sirupsen/logrus"
)

const (
	deepgramIdleWindow = 400 * time.Millisecond
	deepgramDeadline   = 12 * time.Second
)

// DeepgramSynthesizer streams linear16 PCM at 48kHz from Deepgram's speak
// websocket, one connection per utterance.
type DeepgramSynthesizer struct {
	apiKey string
	model  string
}

// NewDeepgramSynthesizer constructs the primary TTS vendor client.
func NewDeepgramSynthesizer(apiKey, model string) *DeepgramSynthesizer {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramSynthesizer{apiKey: apiKey, model: model}
}

// StreamPCM48k synthesizes text and streams PCM chunks until the service
// goes idle or the context is canceled.
func (d *DeepgramSynthesizer) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: api key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   "linear16",
			SampleRate: 48000,
		}

		var lastRecvUnix int64
		var seenAudio int32
		cb := &binaryCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			chunk := make([]byte, len(data))
			copy(chunk, data)
			select {
			case pcmCh <- chunk:
			default:
			}
			return nil
		}}

		client, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create client: %w", err)
			return
		}

		stopped := false
		stopClient := func() {
			if !stopped {
				stopped = true
				client.Stop()
			}
		}
		defer stopClient()

		if ok := client.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := client.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak: %w", err)
			return
		}
		if err := client.Flush(); err != nil {
			logrus.WithError(err).Debug("deepgram flush")
		}

		// The speak socket has no explicit done signal per utterance: treat
		// a quiet gap after the first audio, or the hard deadline, as done.
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(deepgramDeadline)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > deepgramIdleWindow {
						return
					}
				}
				if time.Now().After(deadline) {
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type binaryCallback struct{ onBinary func([]byte) error }

func (c *binaryCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (c *binaryCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (c *binaryCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (c *binaryCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (c *binaryCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (c *binaryCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (c *binaryCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (c *binaryCallback) UnhandledEvent([]byte) error                    { return nil }
func (c *binaryCallback) Binary(data []byte) error {
	if c.onBinary != nil {
		return c.onBinary(data)
	}
	return nil
}
