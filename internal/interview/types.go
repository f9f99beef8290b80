package interview

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleCandidate Role = "candidate"
)

// Message is one entry of the append-only conversation log. Insertion order
// is the conversation order; messages are never mutated after append.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Ordinal int    `json:"ordinal"`
}

// Context is the immutable input bundle supplied at session start.
type Context struct {
	SessionID       string
	AuthToken       string
	JobContext      string
	ResumeSummary   string
	InitialQuestion string
}

// TranscriptEvent is a single speech-to-text result. Only finalized events
// are durable and may trigger a turn; non-final events are ephemeral
// display-only state overwritten by the next event.
type TranscriptEvent struct {
	IsFinal bool
	Text    string
}

// Turn is the dialogue backend's reply to one candidate answer.
type Turn struct {
	Text          string
	FollowupHints []string
}

// State is the session lifecycle state. Exactly one instance exists per
// session; all transitions go through the Session.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingTranscription
	StateGreeting
	StateActive
	StateEnding
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingTranscription:
		return "awaiting_transcription"
	case StateGreeting:
		return "greeting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

// EndReason records what triggered the transition into Ending.
type EndReason string

const (
	EndReasonTimeExpired EndReason = "time_expired"
	EndReasonManual      EndReason = "manual"
	EndReasonFatalError  EndReason = "fatal_error"
)

// Status is a point-in-time view of a running session for the HTTP surface.
type Status struct {
	State     State `json:"-"`
	Remaining int   `json:"remaining_seconds"`
}

// MediaConnector is the realtime media session. Join-level failure is fatal;
// camera and screen-share failures are not.
type MediaConnector interface {
	// WaitConnected blocks until the peer connection is established or has
	// failed. An error here aborts the session before activation.
	WaitConnected(ctx context.Context) error
	// Failed reports a fatal connection loss after establishment.
	Failed() <-chan error
	// PublishLocalVideo adds the interviewer video tile. Errors are
	// recoverable: the session continues audio-only.
	PublishLocalVideo() error
	// MicrophoneStream yields decoded candidate microphone audio as PCM
	// 16kHz little-endian mono chunks.
	MicrophoneStream() <-chan []byte
	StartScreenShare() error
	StopScreenShare() error
	// TeardownAll releases every media resource. It must be safe to call
	// after a partial join and more than once.
	TeardownAll()
}

// TranscriptionBridge streams microphone audio to a speech-to-text service.
type TranscriptionBridge interface {
	Start(ctx context.Context, audio <-chan []byte, language string) error
	// Ready is closed once the service has acknowledged the stream.
	Ready() <-chan struct{}
	Events() <-chan TranscriptEvent
	// Errors reports recoverable transcription failures.
	Errors() <-chan error
	Stop() error
}

// PlaybackController synthesizes and plays one utterance at a time. Speak
// returns after playback has completed (or failed).
type PlaybackController interface {
	Speak(ctx context.Context, text string) error
}

// SpeakingReporter exposes the shared playback flag. The transcript consumer
// reads it to discard finalized utterances captured from the session's own
// synthesized speech.
type SpeakingReporter interface {
	Speaking() bool
}

// TurnEngine exchanges one finalized candidate utterance for the next AI
// utterance, maintaining the conversation log.
type TurnEngine interface {
	SubmitAnswer(ctx context.Context, answer string) (Turn, error)
	History() []Message
}

// Finalizer marks the interview complete server-side. Called exactly once
// per session during teardown.
type Finalizer interface {
	FinalizeSession(ctx context.Context, sessionID, authToken string) error
}

// Archiver persists the full conversation log after the session ends.
// Failures are observed only via logging.
type Archiver interface {
	ArchiveConversation(ctx context.Context, sessionID string, history []Message) error
}

// EventSink receives user-visible session events. Implementations must be
// safe for concurrent use and must not block.
type EventSink interface {
	StateChanged(s State)
	CountdownTick(remaining int)
	PartialTranscript(text string)
	TurnExchanged(candidate, assistant string)
	SessionError(code ErrorCode, detail string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StateChanged(State)              {}
func (NopSink) CountdownTick(int)               {}
func (NopSink) PartialTranscript(string)        {}
func (NopSink) TurnExchanged(string, string)    {}
func (NopSink) SessionError(ErrorCode, string)  {}
