// Package tts synthesizes AI utterances and plays them over the media
// session, asserting the speaking flag for the duration of playback.
package tts

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Synthesizer streams 48kHz PCM mono audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCMSink consumes 48kHz PCM bytes and delivers them (Opus-encoded, paced)
// to the candidate. Writes buffer ahead of real time; WaitPlayed blocks until
// everything written so far has actually been shipped.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	WaitPlayed(ctx context.Context)
}

// PlaybackError wraps a synthesis or delivery failure. The speaking flag is
// guaranteed cleared by the time it is returned.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return "playback: " + e.Err.Error() }
func (e *PlaybackError) Unwrap() error { return e.Err }

// Controller plays one utterance at a time. A second Speak while one is
// active queues behind it; concurrent playback is impossible by
// construction.
type Controller struct {
	synth Synthesizer
	sink  PCMSink
	gate  Gate
	mu    sync.Mutex
	log   *logrus.Entry
}

// NewController wires a synthesizer to a playback sink.
func NewController(synth Synthesizer, sink PCMSink) *Controller {
	return &Controller{
		synth: synth,
		sink:  sink,
		log:   logrus.WithField("component", "tts"),
	}
}

// Gate exposes the speaking flag for the transcription side.
func (c *Controller) Gate() *Gate { return &c.gate }

// Speaking implements the speaking reporter directly.
func (c *Controller) Speaking() bool { return c.gate.Speaking() }

// Speak synthesizes text and plays it to completion. The speaking flag is
// set before any audio is written and cleared on every exit path: a stuck
// flag would permanently mute the candidate.
func (c *Controller) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate.set(true)
	defer c.gate.set(false)

	pcmCh, errCh := c.synth.StreamPCM48k(ctx, text)
	var firstErr error
	var wrote int
	for pcmCh != nil || errCh != nil {
		select {
		case chunk, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			if len(chunk) > 0 {
				c.sink.WritePCM(chunk)
				wrote += len(chunk)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			pcmCh, errCh = nil, nil
		}
	}

	if wrote > 0 {
		c.sink.FlushTail()
		// Synthesis finishes well before the paced sink has played the
		// audio out. The speaking flag must outlive playout, not just the
		// stream: echoes of the reply's tail would otherwise be heard as
		// candidate speech.
		c.sink.WaitPlayed(ctx)
	}
	if firstErr != nil {
		c.log.WithError(firstErr).Warn("speech playback error")
		return &PlaybackError{Err: firstErr}
	}
	return nil
}
