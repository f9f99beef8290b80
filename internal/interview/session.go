package interview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/logging"
)

const defaultGreeting = "Welcome to your interview. To get us started, tell me about yourself."

// errEnded signals that an end request arrived while a pre-active phase was
// still in progress. It is internal: Run translates it to a clean return.
var errEnded = errors.New("session ended")

// Config tunes one session run. The tick interval exists so tests can run
// the countdown at a faster resolution; production uses one second.
type Config struct {
	Duration     time.Duration // allotted interview time once Active; default 7m30s
	TickInterval time.Duration
	ReadyTimeout time.Duration // max wait for the transcription bootstrap
	Language     string
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = 450 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.Language == "" {
		c.Language = "en"
	}
	return c
}

// Session sequences one live interview: connection, greeting, the active
// countdown and teardown. It owns the lifecycle state and the countdown
// timer; every other component is driven through its contract.
type Session struct {
	ictx Context
	cfg  Config

	conn     MediaConnector
	bridge   TranscriptionBridge
	speech   PlaybackController
	speaking SpeakingReporter
	turns    TurnEngine
	finalize Finalizer
	archive  Archiver
	sink     EventSink

	state     atomic.Int32
	remaining atomic.Int32

	endOnce   sync.Once
	endCh     chan struct{}
	endReason EndReason // written inside endOnce, read after endCh closes

	tearOnce sync.Once
	turnDone chan turnResult

	log *logrus.Entry
}

type turnResult struct {
	candidate   string
	assistant   string
	err         error
	playbackErr error
}

// Option customizes optional session collaborators.
type Option func(*Session)

// WithEventSink routes user-visible events to the given sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithArchiver enables end-of-session conversation archiving.
func WithArchiver(a Archiver) Option {
	return func(s *Session) { s.archive = a }
}

// New constructs a session. All required collaborators must be non-nil.
func New(ictx Context, cfg Config, conn MediaConnector, bridge TranscriptionBridge,
	speech PlaybackController, speaking SpeakingReporter, turns TurnEngine,
	finalize Finalizer, opts ...Option) *Session {
	s := &Session{
		ictx:     ictx,
		cfg:      cfg.withDefaults(),
		conn:     conn,
		bridge:   bridge,
		speech:   speech,
		speaking: speaking,
		turns:    turns,
		finalize: finalize,
		sink:     NopSink{},
		endCh:    make(chan struct{}),
		turnDone: make(chan turnResult, 1),
		log:      logging.ForSession(ictx.SessionID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the session to completion. It returns a FatalConnectionError
// when the media session could not be established or was lost; all other
// failure modes degrade and Run returns nil after teardown.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.setState(StateConnecting)
	if err := s.conn.WaitConnected(ctx); err != nil {
		ferr := &FatalConnectionError{Err: err}
		s.sink.SessionError(ErrorCodeConnection, ferr.Error())
		s.End(EndReasonFatalError)
		return ferr
	}

	if err := s.conn.PublishLocalVideo(); err != nil {
		// Audio-only session; the UI offers a camera retry affordance.
		s.log.WithError(err).Warn("camera publish failed, continuing audio-only")
		s.sink.SessionError(ErrorCodeCamera, err.Error())
	}

	s.setState(StateAwaitingTranscription)
	if err := s.bridge.Start(ctx, s.conn.MicrophoneStream(), s.cfg.Language); err != nil {
		s.log.WithError(err).Warn("transcription unavailable, continuing blind")
		s.sink.SessionError(ErrorCodeTranscription, "captions unavailable")
	} else if err := s.awaitTranscribing(ctx); err != nil {
		if errors.Is(err, errEnded) {
			return nil
		}
		return err
	}

	s.setState(StateGreeting)
	greeting := s.ictx.InitialQuestion
	if greeting == "" {
		greeting = defaultGreeting
	}
	if err := s.speakGreeting(ctx, greeting); err != nil {
		if errors.Is(err, errEnded) {
			return nil
		}
		return err
	}

	// The countdown starts only now: time spent connecting, bootstrapping
	// transcription and greeting does not count against the candidate.
	s.setState(StateActive)
	s.remaining.Store(int32(s.cfg.Duration / s.cfg.TickInterval))
	return s.loop(ctx)
}

// awaitTranscribing waits for the bridge to report its first active status.
// A timeout degrades to blind mode instead of failing the session.
func (s *Session) awaitTranscribing(ctx context.Context) error {
	timeout := time.NewTimer(s.cfg.ReadyTimeout)
	defer timeout.Stop()
	select {
	case <-s.bridge.Ready():
		return nil
	case <-timeout.C:
		s.log.Warn("transcription bootstrap timed out, continuing blind")
		s.sink.SessionError(ErrorCodeTranscription, "captions unavailable")
		return nil
	case err := <-s.conn.Failed():
		s.sink.SessionError(ErrorCodeConnection, err.Error())
		s.End(EndReasonFatalError)
		return &FatalConnectionError{Err: err}
	case <-s.endCh:
		return errEnded
	case <-ctx.Done():
		s.End(EndReasonManual)
		return errEnded
	}
}

// speakGreeting plays the opening question. Playback failure is reported but
// does not block activation.
func (s *Session) speakGreeting(ctx context.Context, text string) error {
	done := make(chan error, 1)
	go func() { done <- s.speech.Speak(ctx, text) }()

	select {
	case err := <-done:
		if err != nil {
			s.log.WithError(err).Warn("greeting playback failed")
			s.sink.SessionError(ErrorCodePlayback, err.Error())
		}
		return nil
	case err := <-s.conn.Failed():
		s.sink.SessionError(ErrorCodeConnection, err.Error())
		s.End(EndReasonFatalError)
		return &FatalConnectionError{Err: err}
	case <-s.endCh:
		return errEnded
	case <-ctx.Done():
		s.End(EndReasonManual)
		return errEnded
	}
}

// loop is the single event loop of the active phase. Timer ticks, transcript
// events, turn completions and end requests are serialized here; SubmitAnswer
// and Speak run in a detached goroutine so the countdown keeps ticking while
// they are in flight.
func (s *Session) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	events := s.bridge.Events()
	bridgeErrs := s.bridge.Errors()
	turnInFlight := false

	for {
		select {
		case <-ticker.C:
			left := s.remaining.Add(-1)
			s.sink.CountdownTick(int(left))
			if left <= 0 {
				s.End(EndReasonTimeExpired)
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				// Bridge gave up permanently; the interview continues blind.
				events = nil
				continue
			}
			if !ev.IsFinal {
				s.sink.PartialTranscript(ev.Text)
				continue
			}
			if ev.Text == "" {
				continue
			}
			if s.speaking.Speaking() {
				s.log.WithField("text", ev.Text).Debug("dropping utterance finalized during playback")
				continue
			}
			if turnInFlight {
				s.log.WithField("text", ev.Text).Debug("dropping utterance while turn exchange in flight")
				continue
			}
			turnInFlight = true
			go s.runTurn(ctx, ev.Text)

		case res := <-s.turnDone:
			turnInFlight = false
			if res.err != nil {
				s.log.WithError(res.err).Warn("turn exchange failed")
				s.sink.SessionError(ErrorCodeTurn, "could not process your answer")
				continue
			}
			if res.playbackErr != nil {
				s.log.WithError(res.playbackErr).Warn("reply playback failed")
				s.sink.SessionError(ErrorCodePlayback, res.playbackErr.Error())
			}
			s.sink.TurnExchanged(res.candidate, res.assistant)

		case err, ok := <-bridgeErrs:
			if !ok {
				bridgeErrs = nil
				continue
			}
			s.log.WithError(err).Warn("transcription degraded")
			s.sink.SessionError(ErrorCodeTranscription, "captions unavailable")

		case err := <-s.conn.Failed():
			s.sink.SessionError(ErrorCodeConnection, err.Error())
			s.End(EndReasonFatalError)
			return &FatalConnectionError{Err: err}

		case <-s.endCh:
			return nil

		case <-ctx.Done():
			s.End(EndReasonManual)
			return nil
		}
	}
}

// runTurn performs one candidate/AI exchange off the event loop.
func (s *Session) runTurn(ctx context.Context, answer string) {
	turn, err := s.turns.SubmitAnswer(ctx, answer)
	if err != nil {
		s.deliverTurn(turnResult{candidate: answer, err: err})
		return
	}
	res := turnResult{candidate: answer, assistant: turn.Text}
	if err := s.speech.Speak(ctx, turn.Text); err != nil {
		res.playbackErr = err
	}
	s.deliverTurn(res)
}

// deliverTurn hands the result back to the event loop. A result resolving
// after the session has ended is dropped.
func (s *Session) deliverTurn(res turnResult) {
	select {
	case s.turnDone <- res:
	case <-s.endCh:
	}
}

// StartScreenShare publishes the screen tile. Failure is recoverable and
// surfaces as a user-visible notice; the interview never pauses for it.
func (s *Session) StartScreenShare() {
	if err := s.conn.StartScreenShare(); err != nil {
		s.log.WithError(err).Warn("screen share start failed")
		s.sink.SessionError(ErrorCodeScreenShare, err.Error())
	}
}

// StopScreenShare removes the screen tile if present.
func (s *Session) StopScreenShare() {
	if err := s.conn.StopScreenShare(); err != nil {
		s.log.WithError(err).Warn("screen share stop failed")
		s.sink.SessionError(ErrorCodeScreenShare, err.Error())
	}
}

// End triggers the transition into Ending. It is idempotent: racing triggers
// (timer expiry versus a manual end click) collapse into the first one.
func (s *Session) End(reason EndReason) {
	s.endOnce.Do(func() {
		s.endReason = reason
		close(s.endCh)
	})
}

// Ended is closed once an end trigger has fired.
func (s *Session) Ended() <-chan struct{} { return s.endCh }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Status reports the lifecycle state and remaining time in ticks.
func (s *Session) Status() Status {
	st := s.State()
	remaining := 0
	if st == StateActive {
		if left := s.remaining.Load(); left > 0 {
			remaining = int(left)
		}
	}
	return Status{State: st, Remaining: remaining}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.WithField("state", st.String()).Info("session state changed")
	s.sink.StateChanged(st)
}

// teardown releases every session resource exactly once. Every step runs
// even when an earlier one fails or panics, so a failing finalize call can
// never leave the camera held.
func (s *Session) teardown() {
	s.tearOnce.Do(func() {
		s.End(EndReasonManual) // ensure late turn results see a closed channel
		s.setState(StateEnding)
		s.log.WithField("reason", string(s.endReason)).Info("tearing down session")

		s.step("stop transcription", s.bridge.Stop)
		s.step("stop screen share", s.conn.StopScreenShare)
		s.step("stop media", func() error {
			s.conn.TeardownAll()
			return nil
		})
		s.step("finalize", func() error {
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.finalize.FinalizeSession(fctx, s.ictx.SessionID, s.ictx.AuthToken); err != nil {
				s.sink.SessionError(ErrorCodeFinalize, err.Error())
				return err
			}
			return nil
		})
		if s.archive != nil {
			history := s.turns.History()
			go func() {
				actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := s.archive.ArchiveConversation(actx, s.ictx.SessionID, history); err != nil {
					s.log.WithError(err).Warn("conversation archive failed")
				}
			}()
		}

		s.setState(StateFinalized)
	})
}

// step runs one teardown action, containing both errors and panics.
func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("step", name).Errorf("teardown step panicked: %v", r)
		}
	}()
	if err := fn(); err != nil {
		s.log.WithField("step", name).WithError(err).Error("teardown step failed")
	}
}
