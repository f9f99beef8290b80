// Package dialog exchanges finalized candidate utterances for the next AI
// utterance and owns the append-only conversation log.
package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/backend"
	"github.com/talentloop/interviewd/internal/interview"
	"github.com/talentloop/interviewd/internal/logging"
)

// TurnClient is the slice of the backend the engine needs.
type TurnClient interface {
	NextTurn(ctx context.Context, req backend.TurnRequest) (backend.Turn, error)
	AppendTranscript(ctx context.Context, entry backend.TranscriptEntry) error
}

// Engine implements the turn exchange for one session.
type Engine struct {
	client TurnClient
	ictx   interview.Context
	log    *logrus.Entry

	mu      sync.Mutex
	history []interview.Message
}

// NewEngine constructs a turn engine bound to one session context.
func NewEngine(client TurnClient, ictx interview.Context) *Engine {
	return &Engine{
		client: client,
		ictx:   ictx,
		log:    logging.ForSession(ictx.SessionID),
	}
}

// SubmitAnswer appends the candidate utterance locally first, so the log
// stays consistent even when the call fails, then asks the backend for the
// next AI utterance and records it.
func (e *Engine) SubmitAnswer(ctx context.Context, answer string) (interview.Turn, error) {
	priorHistory := e.snapshotAsWire()
	e.append(interview.RoleCandidate, answer)
	e.persistDetached(answer, "", string(interview.RoleCandidate))

	reply, err := e.client.NextTurn(ctx, backend.TurnRequest{
		SessionID:     e.ictx.SessionID,
		AuthToken:     e.ictx.AuthToken,
		JobContext:    e.ictx.JobContext,
		ResumeSummary: e.ictx.ResumeSummary,
		History:       priorHistory,
		Answer:        answer,
	})
	if err != nil {
		return interview.Turn{}, fmt.Errorf("submit answer: %w", err)
	}

	e.append(interview.RoleAssistant, reply.Text)
	hint := ""
	if len(reply.FollowupHints) > 0 {
		hint = reply.FollowupHints[0]
	}
	e.persistDetached(reply.Text, hint, string(interview.RoleAssistant))

	return interview.Turn{Text: reply.Text, FollowupHints: reply.FollowupHints}, nil
}

// History returns a copy of the conversation log in insertion order.
func (e *Engine) History() []interview.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]interview.Message, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) append(role interview.Role, content string) {
	e.mu.Lock()
	e.history = append(e.history, interview.Message{
		Role:    role,
		Content: content,
		Ordinal: len(e.history),
	})
	e.mu.Unlock()
}

func (e *Engine) snapshotAsWire() []backend.TurnMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]backend.TurnMessage, 0, len(e.history))
	for _, m := range e.history {
		out = append(out, backend.TurnMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// persistDetached appends one step to the remote transcript without blocking
// the live conversation; a failed append is logged, never surfaced.
func (e *Engine) persistDetached(text, hint, source string) {
	entry := backend.TranscriptEntry{
		SessionID:    e.ictx.SessionID,
		AuthToken:    e.ictx.AuthToken,
		StepID:       uuid.NewString(),
		Text:         text,
		FollowupHint: hint,
		Source:       source,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.AppendTranscript(ctx, entry); err != nil {
			e.log.WithError(err).WithField("source", source).Warn("transcript append failed")
		}
	}()
}
