package bootstrap

import (
	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/interview"
	"github.com/talentloop/interviewd/internal/rtc"
)

// dataChannelSink pushes session events to the candidate's browser over the
// control data channel. Send failures are expected while the channel is not
// yet open and are only logged at debug level.
type dataChannelSink struct {
	conn *rtc.Connector
	log  *logrus.Entry
}

func newDataChannelSink(conn *rtc.Connector) *dataChannelSink {
	return &dataChannelSink{conn: conn, log: logrus.WithField("component", "events")}
}

type wireEvent struct {
	Event     string `json:"event"`
	State     string `json:"state,omitempty"`
	Remaining int    `json:"remaining_seconds,omitempty"`
	Text      string `json:"text,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Assistant string `json:"assistant,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (d *dataChannelSink) send(ev wireEvent) {
	if err := d.conn.SendEvent(ev); err != nil {
		d.log.WithError(err).WithField("event", ev.Event).Debug("event delivery skipped")
	}
}

func (d *dataChannelSink) StateChanged(s interview.State) {
	d.send(wireEvent{Event: "state", State: s.String()})
}

func (d *dataChannelSink) CountdownTick(remaining int) {
	d.send(wireEvent{Event: "countdown", Remaining: remaining})
}

func (d *dataChannelSink) PartialTranscript(text string) {
	d.send(wireEvent{Event: "caption", Text: text})
}

func (d *dataChannelSink) TurnExchanged(candidate, assistant string) {
	d.send(wireEvent{Event: "turn", Candidate: candidate, Assistant: assistant})
}

func (d *dataChannelSink) SessionError(code interview.ErrorCode, detail string) {
	d.send(wireEvent{Event: "error", Code: string(code), Detail: detail})
}
