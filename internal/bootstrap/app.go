// Package bootstrap assembles the collaborators of one interview session and
// tracks the sessions currently running in this process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/archive"
	"github.com/talentloop/interviewd/internal/backend"
	"github.com/talentloop/interviewd/internal/config"
	"github.com/talentloop/interviewd/internal/dialog"
	"github.com/talentloop/interviewd/internal/interview"
	"github.com/talentloop/interviewd/internal/rtc"
	"github.com/talentloop/interviewd/internal/transcript"
	"github.com/talentloop/interviewd/internal/tts"
)

// ErrSessionExists is returned when an offer arrives for a session ID that is
// already live in this process.
var ErrSessionExists = errors.New("session already running")

// ErrShuttingDown is returned for offers arriving during process shutdown.
var ErrShuttingDown = errors.New("server shutting down")

type runningSession struct {
	sess *interview.Session
	done chan struct{}
}

// App owns the live session registry.
type App struct {
	cfg     config.Config
	client  *backend.Client
	archive interview.Archiver

	mu       sync.Mutex
	sessions map[string]*runningSession
	closed   bool
}

// New prepares the application. Archiving is enabled only when Supabase
// credentials are configured.
func New(cfg config.Config) *App {
	app := &App{
		cfg:      cfg,
		client:   backend.NewClient(cfg.BackendBaseURL),
		sessions: make(map[string]*runningSession),
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		store, err := archive.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
		if err != nil {
			logrus.WithError(err).Warn("archive client init failed, archiving disabled")
		} else {
			app.archive = store
		}
	}
	return app
}

// StartSession bootstraps the meeting, joins the media session and launches
// the session loop. It returns the SDP answer for the candidate's browser.
func (a *App) StartSession(ctx context.Context, sessionID, authToken string, offer rtc.SessionDescription) (rtc.SessionDescription, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return rtc.SessionDescription{}, ErrShuttingDown
	}
	if _, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		return rtc.SessionDescription{}, ErrSessionExists
	}
	a.mu.Unlock()

	creds, err := a.client.Bootstrap(ctx, sessionID, authToken)
	if err != nil {
		return rtc.SessionDescription{}, err
	}

	conn := rtc.NewConnector(rtc.Config{
		SessionID:  sessionID,
		ICEServers: toICEServers(creds.ICEServers),
	})
	answer, err := conn.Join(ctx, offer)
	if err != nil {
		return rtc.SessionDescription{}, fmt.Errorf("media join: %w", err)
	}

	ictx := interview.Context{
		SessionID:       sessionID,
		AuthToken:       authToken,
		JobContext:      creds.JobContext,
		ResumeSummary:   creds.ResumeSummary,
		InitialQuestion: creds.InitialQuestion,
	}

	speech := tts.NewController(a.buildSynthesizer(), conn.PlaybackSink())

	var bridgeOpts []transcript.Option
	if a.cfg.STTSocketURL != "" {
		bridgeOpts = append(bridgeOpts, transcript.WithSocketURL(a.cfg.STTSocketURL))
	}
	bridge := transcript.NewBridge(a.cfg.STTAPIKey, speech.Gate(), bridgeOpts...)

	engine := dialog.NewEngine(a.client, ictx)

	opts := []interview.Option{interview.WithEventSink(newDataChannelSink(conn))}
	if a.archive != nil {
		opts = append(opts, interview.WithArchiver(a.archive))
	}
	sess := interview.New(ictx,
		interview.Config{Duration: a.cfg.InterviewDuration, Language: a.cfg.Language},
		conn, bridge, speech, speech, engine, a.client, opts...)

	conn.HandleControl(func(cmd string) {
		switch cmd {
		case "end":
			sess.End(interview.EndReasonManual)
		case "screenshare-start":
			sess.StartScreenShare()
		case "screenshare-stop":
			sess.StopScreenShare()
		}
	})

	run := &runningSession{sess: sess, done: make(chan struct{})}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.TeardownAll()
		return rtc.SessionDescription{}, ErrShuttingDown
	}
	a.sessions[sessionID] = run
	a.mu.Unlock()

	go func() {
		defer close(run.done)
		defer a.remove(sessionID)
		if err := sess.Run(context.Background()); err != nil {
			logrus.WithError(err).WithField("session", sessionID).Error("session ended with error")
		}
	}()

	return answer, nil
}

// EndSession requests a graceful end. Reports whether the session was known.
func (a *App) EndSession(sessionID string) bool {
	a.mu.Lock()
	run, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	run.sess.End(interview.EndReasonManual)
	return true
}

// SessionStatus reports the live status of a session.
func (a *App) SessionStatus(sessionID string) (interview.Status, bool) {
	a.mu.Lock()
	run, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return interview.Status{}, false
	}
	return run.sess.Status(), true
}

// Shutdown ends every live session and waits for their teardown, bounded by
// ctx.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.closed = true
	running := make([]*runningSession, 0, len(a.sessions))
	for _, run := range a.sessions {
		running = append(running, run)
	}
	a.mu.Unlock()

	for _, run := range running {
		run.sess.End(interview.EndReasonManual)
	}
	for _, run := range running {
		select {
		case <-run.done:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) remove(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

func (a *App) buildSynthesizer() tts.Synthesizer {
	if a.cfg.TTSVendor == "elevenlabs" {
		return tts.NewElevenLabsSynthesizer(a.cfg.ElevenLabsAPIKey, a.cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramSynthesizer(a.cfg.DeepgramAPIKey, a.cfg.DeepgramModel)
}

func toICEServers(servers []backend.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
