package interview

// ErrorCode classifies user-visible session errors so the UI can pick the
// right affordance (retry button, muted captions badge, inline notice).
type ErrorCode string

const (
	ErrorCodeConnection    ErrorCode = "connection"
	ErrorCodeCamera        ErrorCode = "camera"
	ErrorCodeScreenShare   ErrorCode = "screen_share"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeTurn          ErrorCode = "turn"
	ErrorCodePlayback      ErrorCode = "playback"
	ErrorCodeFinalize      ErrorCode = "finalize"
)

// FatalConnectionError aborts the session before activation. All other
// error categories degrade and continue.
type FatalConnectionError struct {
	Err error
}

func (e *FatalConnectionError) Error() string {
	return "media connection failed: " + e.Err.Error()
}

func (e *FatalConnectionError) Unwrap() error { return e.Err }
