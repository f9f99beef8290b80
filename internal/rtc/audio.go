package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	frameSamples  = 960 // 20ms at 48kHz mono
	frameInterval = 20 * time.Millisecond
)

// sampleWriter is the track surface the pacer needs.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// PacedOpusWriter encodes 48kHz PCM mono into Opus frames and delivers them
// to the outgoing track at real-time pace, so synthesized speech arrives as
// a steady stream instead of a burst.
type PacedOpusWriter struct {
	enc   *opus.Encoder
	track sampleWriter

	mu      sync.Mutex
	pending []int16
	queue   chan []byte
	stop    chan struct{}
	stopped bool

	inFlight atomic.Int64 // frames queued but not yet shipped
}

// NewPacedOpusWriter constructs a paced writer emitting 20ms frames.
func NewPacedOpusWriter(track sampleWriter) (*PacedOpusWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &PacedOpusWriter{
		enc:   enc,
		track: track,
		queue: make(chan []byte, 512),
		stop:  make(chan struct{}),
	}
	go w.pace()
	return w, nil
}

// WritePCM buffers PCM 48kHz little-endian mono bytes and encodes every
// complete frame.
func (w *PacedOpusWriter) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := 0; i+1 < len(pcm); i += 2 {
		w.pending = append(w.pending, int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))
	}
	w.encodePendingLocked()
}

// encodePendingLocked drains all complete frames from the pending buffer.
func (w *PacedOpusWriter) encodePendingLocked() {
	out := make([]byte, 4000)
	for len(w.pending) >= frameSamples {
		n, err := w.enc.Encode(w.pending[:frameSamples], out)
		if err == nil && n > 0 {
			pkt := make([]byte, n)
			copy(pkt, out[:n])
			w.enqueue(pkt)
		}
		w.pending = w.pending[:copy(w.pending, w.pending[frameSamples:])]
	}
}

// FlushTail zero-pads the trailing partial frame and appends a short silence
// tail so playback does not clip the last syllable.
func (w *PacedOpusWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]byte, 4000)
	if len(w.pending) > 0 {
		padded := make([]int16, frameSamples)
		copy(padded, w.pending)
		if n, err := w.enc.Encode(padded, out); err == nil && n > 0 {
			pkt := make([]byte, n)
			copy(pkt, out[:n])
			w.enqueue(pkt)
		}
		w.pending = w.pending[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < 6; i++ { // ~120ms
		if n, err := w.enc.Encode(silence, out); err == nil && n > 0 {
			pkt := make([]byte, n)
			copy(pkt, out[:n])
			w.enqueue(pkt)
		}
	}
}

// enqueue blocks until there is room, unless the writer has been stopped.
func (w *PacedOpusWriter) enqueue(pkt []byte) {
	w.inFlight.Add(1)
	select {
	case <-w.stop:
		w.inFlight.Add(-1)
	case w.queue <- pkt:
	}
}

// pace ships one queued frame per frame interval.
func (w *PacedOpusWriter) pace() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			select {
			case pkt := <-w.queue:
				_ = w.track.WriteSample(media.Sample{Data: pkt, Duration: frameInterval})
				w.inFlight.Add(-1)
			default:
			}
		}
	}
}

// WaitPlayed blocks until every queued frame has been shipped. Encoding runs
// far ahead of the real-time pacer, so callers that must observe actual
// playout (the speaking flag lifetime depends on it) wait here. Returns early
// if the writer is closed or ctx is canceled.
func (w *PacedOpusWriter) WaitPlayed(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for w.inFlight.Load() > 0 {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the pacer. Idempotent.
func (w *PacedOpusWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
	}
	w.mu.Unlock()
}
