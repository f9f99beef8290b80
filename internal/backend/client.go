// Package backend is the typed client for the surrounding product API: the
// meeting bootstrap, turn-dialogue, transcript-append and session-finalize
// endpoints consumed by the interview orchestrator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the product backend. HTTPClient is exported so tests can
// inject a transport.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient constructs a backend client with a bounded default timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// ICEServer mirrors the WebRTC ICE server description returned by the
// bootstrap endpoint.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// MeetingCredentials is the bootstrap response: connection credentials plus
// the immutable interview context the dialogue needs.
type MeetingCredentials struct {
	ICEServers      []ICEServer `json:"ice_servers"`
	JobContext      string      `json:"job_context"`
	ResumeSummary   string      `json:"resume_summary"`
	InitialQuestion string      `json:"initial_question"`
}

// TurnMessage is one conversation entry in a turn-dialogue request.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest asks the dialogue backend for the next AI utterance.
type TurnRequest struct {
	SessionID     string        `json:"session_id"`
	AuthToken     string        `json:"-"`
	JobContext    string        `json:"job_context"`
	ResumeSummary string        `json:"resume_summary"`
	History       []TurnMessage `json:"history"`
	Answer        string        `json:"answer"`
}

// Turn is the dialogue backend's reply.
type Turn struct {
	Text          string   `json:"text"`
	FollowupHints []string `json:"followup_hints"`
}

// TranscriptEntry persists one conversation step. Appends are fire-and-forget
// from the caller's perspective.
type TranscriptEntry struct {
	SessionID    string `json:"session_id"`
	AuthToken    string `json:"-"`
	StepID       string `json:"step_id"`
	Text         string `json:"text"`
	FollowupHint string `json:"followup_hint,omitempty"`
	Source       string `json:"source"`
}

// Bootstrap exchanges the session ID and auth token for meeting credentials.
func (c *Client) Bootstrap(ctx context.Context, sessionID, authToken string) (MeetingCredentials, error) {
	var creds MeetingCredentials
	err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/meeting", sessionID), authToken, struct{}{}, &creds)
	if err != nil {
		return MeetingCredentials{}, fmt.Errorf("meeting bootstrap: %w", err)
	}
	return creds, nil
}

// NextTurn submits a finalized candidate answer and returns the next AI
// utterance.
func (c *Client) NextTurn(ctx context.Context, req TurnRequest) (Turn, error) {
	var turn Turn
	err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/turns", req.SessionID), req.AuthToken, req, &turn)
	if err != nil {
		return Turn{}, fmt.Errorf("turn dialogue: %w", err)
	}
	if turn.Text == "" {
		return Turn{}, fmt.Errorf("turn dialogue: empty reply")
	}
	return turn, nil
}

// AppendTranscript persists one conversation step.
func (c *Client) AppendTranscript(ctx context.Context, entry TranscriptEntry) error {
	err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/transcript", entry.SessionID), entry.AuthToken, entry, nil)
	if err != nil {
		return fmt.Errorf("transcript append: %w", err)
	}
	return nil
}

// FinalizeSession marks the interview complete server-side.
func (c *Client) FinalizeSession(ctx context.Context, sessionID, authToken string) error {
	err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/finalize", sessionID), authToken, struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("session finalize: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, authToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
