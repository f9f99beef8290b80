package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

type fakeTrack struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (f *fakeTrack) WriteSample(s media.Sample) error {
	f.mu.Lock()
	f.samples = append(f.samples, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeTrack) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func pcmFrames(frames int) []byte {
	return make([]byte, frames*frameSamples*2)
}

func TestPacedWriterDeliversFrames(t *testing.T) {
	track := &fakeTrack{}
	w, err := NewPacedOpusWriter(track)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	w.WritePCM(pcmFrames(3))

	deadline := time.Now().Add(2 * time.Second)
	for track.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d frames, want 3", track.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFlushTailPadsPartialFrame(t *testing.T) {
	track := &fakeTrack{}
	w, err := NewPacedOpusWriter(track)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	// Half a frame: nothing may be delivered until the tail flush pads it.
	w.WritePCM(make([]byte, frameSamples))
	time.Sleep(100 * time.Millisecond)
	if got := track.count(); got != 0 {
		t.Fatalf("partial frame delivered early: %d", got)
	}

	w.FlushTail()
	deadline := time.Now().Add(2 * time.Second)
	for track.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("flushed frame never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitPlayedBlocksUntilDelivered(t *testing.T) {
	track := &fakeTrack{}
	w, err := NewPacedOpusWriter(track)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	// Five frames land in the queue instantly; the pacer ships them one
	// frame interval apart, so WaitPlayed must not return early.
	w.WritePCM(pcmFrames(5))
	start := time.Now()
	w.WaitPlayed(context.Background())
	if got := track.count(); got < 5 {
		t.Fatalf("WaitPlayed returned with %d of 5 frames delivered", got)
	}
	if elapsed := time.Since(start); elapsed < 3*frameInterval {
		t.Fatalf("WaitPlayed returned after %v, faster than real-time pacing", elapsed)
	}
}

func TestWaitPlayedReturnsOnClose(t *testing.T) {
	track := &fakeTrack{}
	w, err := NewPacedOpusWriter(track)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.WritePCM(pcmFrames(50))
	w.Close()

	done := make(chan struct{})
	go func() { w.WaitPlayed(context.Background()); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitPlayed hung after Close")
	}
}

func TestPacedWriterCloseIsIdempotent(t *testing.T) {
	track := &fakeTrack{}
	w, err := NewPacedOpusWriter(track)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Close()
	w.Close()
	// Writes after close must not block or panic.
	w.WritePCM(pcmFrames(1))
	w.FlushTail()
}
