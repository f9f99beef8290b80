// Package transcript streams candidate microphone audio to a realtime
// speech-to-text service and emits partial and finalized utterances.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/interview"
)

const (
	defaultSocketURL   = "wss://streaming.assemblyai.com/v3/ws"
	defaultSampleRate  = 16000
	defaultMaxFailures = 5
	redialBackoff      = time.Second
)

// Bridge is the transcription side of one interview session. While the
// playback flag reports speaking, finalized utterances are discarded before
// they can reach the turn engine: the stream keeps running (reconnects are
// slow), but the session must never hear its own synthesized voice.
type Bridge struct {
	apiKey      string
	socketURL   string
	sampleRate  int
	maxFailures int
	speaking    interview.SpeakingReporter
	log         *logrus.Entry

	events     chan interview.TranscriptEvent
	errs       chan error
	ready      chan struct{}
	readyOnce  sync.Once
	eventsOnce sync.Once

	mu       sync.Mutex
	conn     *websocket.Conn
	stopped  bool
	stopCh   chan struct{}
	language string
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithSocketURL overrides the streaming endpoint (used by tests).
func WithSocketURL(u string) Option {
	return func(b *Bridge) { b.socketURL = u }
}

// WithMaxFailures bounds consecutive reconnect attempts before the bridge
// gives up and the session continues blind.
func WithMaxFailures(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// NewBridge constructs a bridge. speaking may be nil, in which case no
// suppression is applied (tests).
func NewBridge(apiKey string, speaking interview.SpeakingReporter, opts ...Option) *Bridge {
	b := &Bridge{
		apiKey:      apiKey,
		socketURL:   defaultSocketURL,
		sampleRate:  defaultSampleRate,
		maxFailures: defaultMaxFailures,
		speaking:    speaking,
		log:         logrus.WithField("component", "transcript"),
		events:      make(chan interview.TranscriptEvent, 16),
		errs:        make(chan error, 4),
		ready:       make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// serverMessage covers the streaming protocol messages the bridge consumes.
type serverMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Start dials the streaming service and begins pumping audio. A returned
// error means transcription could not be established at all; the caller may
// still run the session blind.
func (b *Bridge) Start(ctx context.Context, audio <-chan []byte, language string) error {
	if b.apiKey == "" {
		return errors.New("transcription api key missing")
	}
	b.mu.Lock()
	b.language = language
	b.mu.Unlock()

	conn, err := b.dial()
	if err != nil {
		return fmt.Errorf("transcription connect: %w", err)
	}
	b.setConn(conn)

	go b.sendLoop(ctx, audio)
	go b.readLoop(ctx)
	return nil
}

func (b *Bridge) dial() (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(b.sampleRate))
	params.Set("encoding", "pcm_s16le")
	b.mu.Lock()
	if b.language != "" {
		params.Set("language", b.language)
	}
	b.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"Authorization": {b.apiKey}}
	conn, resp, err := dialer.Dial(b.socketURL+"?"+params.Encode(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial status=%d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// Ready is closed once the service has acknowledged the stream.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Events yields partial and finalized transcript events. The channel closes
// if the bridge gives up permanently.
func (b *Bridge) Events() <-chan interview.TranscriptEvent { return b.events }

// Errors reports recoverable transcription failures.
func (b *Bridge) Errors() <-chan error { return b.errs }

// sendLoop forwards microphone chunks to the current connection. Write
// errors are left for the read loop to handle.
func (b *Bridge) sendLoop(ctx context.Context, audio <-chan []byte) {
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			conn := b.currentConn()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				b.log.WithError(err).Debug("audio write failed")
			}
		}
	}
}

// readLoop consumes service messages, redialing a bounded number of times on
// failure. After maxFailures consecutive failures the bridge closes its
// events channel and the interview continues blind.
func (b *Bridge) readLoop(ctx context.Context) {
	failures := 0
	for {
		conn := b.currentConn()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if b.isStopped() || ctx.Err() != nil {
				return
			}
			failures++
			b.reportError(fmt.Errorf("transcription stream: %w", err))
			if failures >= b.maxFailures {
				b.log.WithField("failures", failures).Warn("transcription gave up, session continues blind")
				b.eventsOnce.Do(func() { close(b.events) })
				return
			}
			time.Sleep(redialBackoff)
			next, derr := b.dial()
			if derr != nil {
				b.log.WithError(derr).Warn("transcription redial failed")
				continue
			}
			b.setConn(next)
			continue
		}
		if b.processMessage(message) {
			failures = 0
		}
	}
}

// processMessage handles one service message; returns true when the message
// indicates a healthy stream.
func (b *Bridge) processMessage(message []byte) bool {
	var msg serverMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		b.log.WithError(err).Debug("unparseable transcription message")
		return false
	}
	switch msg.Type {
	case "Begin":
		b.log.WithField("stream", msg.ID).Info("transcription stream active")
		b.readyOnce.Do(func() { close(b.ready) })
		return true
	case "Turn":
		if msg.Transcript == "" {
			return true
		}
		if !msg.EndOfTurn {
			b.emit(interview.TranscriptEvent{Text: msg.Transcript})
			return true
		}
		if b.speaking != nil && b.speaking.Speaking() {
			// Echo suppression: the candidate did not say this, we did.
			b.log.WithField("text", msg.Transcript).Debug("dropping finalized text during playback")
			return true
		}
		b.emitFinal(interview.TranscriptEvent{IsFinal: true, Text: msg.Transcript})
		return true
	case "Termination":
		b.log.Info("transcription stream terminated by service")
		return true
	case "Error":
		b.reportError(fmt.Errorf("transcription service: %s", msg.Error))
		return false
	default:
		b.log.WithField("type", msg.Type).Debug("unknown transcription message")
		return true
	}
}

// emit delivers a partial event, dropping it if the consumer lags. Partials
// are ephemeral display state; the next one overwrites it.
func (b *Bridge) emit(ev interview.TranscriptEvent) {
	select {
	case b.events <- ev:
	default:
	}
}

// emitFinal delivers a finalized event without dropping: every surviving
// finalized utterance must reach the consumer in arrival order.
func (b *Bridge) emitFinal(ev interview.TranscriptEvent) {
	select {
	case b.events <- ev:
	case <-b.stopCh:
	}
}

func (b *Bridge) reportError(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *Bridge) currentConn() *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bridge) setConn(conn *websocket.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
}

func (b *Bridge) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Stop terminates the stream. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	conn := b.conn
	b.conn = nil
	close(b.stopCh)
	b.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
	b.log.Info("transcription stopped")
	return nil
}
