package tts

import "sync/atomic"

// Gate is the shared playback flag: the one piece of cross-component mutable
// state in a session. The controller is the only writer; the transcription
// side reads it to discard echoed utterances. Reads are always
// read-after-write consistent.
type Gate struct {
	speaking atomic.Bool
}

// Speaking reports whether synthesized audio is currently being played.
func (g *Gate) Speaking() bool { return g.speaking.Load() }

func (g *Gate) set(on bool) { g.speaking.Store(on) }
