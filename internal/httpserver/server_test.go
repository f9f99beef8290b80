package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talentloop/interviewd/internal/bootstrap"
	"github.com/talentloop/interviewd/internal/interview"
	"github.com/talentloop/interviewd/internal/rtc"
)

type fakeApp struct {
	startErr error
	answer   rtc.SessionDescription
	known    map[string]interview.Status

	lastSessionID string
	lastToken     string
	endedIDs      []string
}

func (f *fakeApp) StartSession(ctx context.Context, sessionID, authToken string, offer rtc.SessionDescription) (rtc.SessionDescription, error) {
	f.lastSessionID = sessionID
	f.lastToken = authToken
	if f.startErr != nil {
		return rtc.SessionDescription{}, f.startErr
	}
	return f.answer, nil
}

func (f *fakeApp) EndSession(sessionID string) bool {
	f.endedIDs = append(f.endedIDs, sessionID)
	_, ok := f.known[sessionID]
	return ok
}

func (f *fakeApp) SessionStatus(sessionID string) (interview.Status, bool) {
	status, ok := f.known[sessionID]
	return status, ok
}

func doRequest(t *testing.T, app *fakeApp, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := New(app)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, &fakeApp{}, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOfferHappyPath(t *testing.T) {
	app := &fakeApp{answer: rtc.SessionDescription{Type: "answer", SDP: "v=0 answer"}}
	rec := doRequest(t, app, http.MethodPost, "/api/interviews/s1/offer",
		`{"type":"offer","sdp":"v=0 offer","token":"tok"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if app.lastSessionID != "s1" || app.lastToken != "tok" {
		t.Fatalf("session = %q token = %q", app.lastSessionID, app.lastToken)
	}
	var answer rtc.SessionDescription
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Type != "answer" || answer.SDP != "v=0 answer" {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestOfferValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"wrong type", `{"type":"answer","sdp":"x","token":"tok"}`},
		{"missing sdp", `{"type":"offer","token":"tok"}`},
		{"missing token", `{"type":"offer","sdp":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, &fakeApp{}, http.MethodPost, "/api/interviews/s1/offer", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestOfferConflict(t *testing.T) {
	app := &fakeApp{startErr: bootstrap.ErrSessionExists}
	rec := doRequest(t, app, http.MethodPost, "/api/interviews/s1/offer",
		`{"type":"offer","sdp":"x","token":"tok"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestOfferUpstreamFailure(t *testing.T) {
	app := &fakeApp{startErr: errors.New("media join: ice failure")}
	rec := doRequest(t, app, http.MethodPost, "/api/interviews/s1/offer",
		`{"type":"offer","sdp":"x","token":"tok"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestEndUnknownSession(t *testing.T) {
	rec := doRequest(t, &fakeApp{known: map[string]interview.Status{}}, http.MethodPost, "/api/interviews/nope/end", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEndKnownSession(t *testing.T) {
	app := &fakeApp{known: map[string]interview.Status{"s1": {}}}
	rec := doRequest(t, app, http.MethodPost, "/api/interviews/s1/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(app.endedIDs) != 1 || app.endedIDs[0] != "s1" {
		t.Fatalf("ended = %v", app.endedIDs)
	}
}

func TestStatusEndpoint(t *testing.T) {
	app := &fakeApp{known: map[string]interview.Status{
		"s1": {State: interview.StateActive, Remaining: 123},
	}}
	rec := doRequest(t, app, http.MethodGet, "/api/interviews/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "active" || resp.Remaining != 123 || resp.SessionID != "s1" {
		t.Fatalf("response = %+v", resp)
	}

	rec = doRequest(t, app, http.MethodGet, "/api/interviews/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
