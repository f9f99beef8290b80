package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/logging"
)

// SessionDescription is a small DTO so transports do not depend on webrtc
// types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CameraError marks a failed local video publish. It is recoverable: the
// session continues audio-only.
type CameraError struct {
	Err error
}

func (e *CameraError) Error() string { return "camera unavailable: " + e.Err.Error() }
func (e *CameraError) Unwrap() error { return e.Err }

const (
	micSampleRate  = 16000
	micChunkBytes  = 3200 // 100ms of PCM16 at 16kHz
	connectTimeout = 15 * time.Second
)

// Config describes one peer connection.
type Config struct {
	SessionID  string
	ICEServers []webrtc.ICEServer
}

// Connector owns the realtime media session with the candidate's browser:
// the peer connection, the outgoing interviewer audio/video tracks, the
// decoded microphone stream and the control data channel.
type Connector struct {
	cfg Config
	log *logrus.Entry

	pc    *webrtc.PeerConnection
	paced *PacedOpusWriter
	micCh chan []byte

	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan error

	control   atomic.Pointer[webrtc.DataChannel]
	onControl atomic.Pointer[func(cmd string)]

	shareMu     sync.Mutex
	shareSender *webrtc.RTPSender

	closeOnce sync.Once
}

// NewConnector prepares a connector; Join performs the actual SDP exchange.
func NewConnector(cfg Config) *Connector {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &Connector{
		cfg:       cfg,
		log:       logging.ForSession(cfg.SessionID),
		micCh:     make(chan []byte, 64),
		connected: make(chan struct{}),
		failed:    make(chan error, 2),
	}
}

// HandleControl registers the callback for inbound control-channel commands.
// Must be set before the data channel opens to be effective.
func (c *Connector) HandleControl(fn func(cmd string)) {
	c.onControl.Store(&fn)
}

// Join accepts the candidate's SDP offer and returns the answer. Any error
// here is fatal to the session.
func (c *Connector) Join(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return SessionDescription{}, fmt.Errorf("peer connection: %w", err)
	}
	c.pc = pc

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"interviewer-audio", "interviewer")
	if err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("audio track: %w", err)
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("add audio track: %w", err)
	}
	paced, err := NewPacedOpusWriter(outTrack)
	if err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("opus encoder: %w", err)
	}
	c.paced = paced

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.WithField("state", state.String()).Info("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.connectedOnce.Do(func() { close(c.connected) })
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			select {
			case c.failed <- fmt.Errorf("peer connection %s", state.String()):
			default:
			}
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		c.control.Store(dc)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			if fn := c.onControl.Load(); fn != nil && cmd != "" {
				(*fn)(cmd)
			}
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.log.WithField("codec", remote.Codec().MimeType).Info("candidate audio track received")
		go c.pumpMicrophone(remote)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		c.TeardownAll()
		return SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		c.TeardownAll()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		c.TeardownAll()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// pumpMicrophone decodes remote Opus RTP into PCM16k chunks for the
// transcription bridge. It exits when the peer connection closes.
func (c *Connector) pumpMicrophone(remote *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(micSampleRate, 1)
	if err != nil {
		c.log.WithError(err).Error("opus decoder init failed")
		return
	}

	samples := make([]int16, 1920)
	buf := make([]byte, 0, micChunkBytes*4)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			c.log.WithError(err).Debug("microphone RTP stream ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			c.log.WithError(err).Debug("opus decode error")
			continue
		}
		start := len(buf)
		buf = append(buf, make([]byte, n*2)...)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[start+i*2:start+(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= micChunkBytes {
			chunk := make([]byte, micChunkBytes)
			copy(chunk, buf[:micChunkBytes])
			select {
			case c.micCh <- chunk:
			default:
				// transcription cannot keep up; drop rather than stall RTP
			}
			buf = buf[:copy(buf, buf[micChunkBytes:])]
		}
	}
}

// WaitConnected blocks until the peer connection is established.
func (c *Connector) WaitConnected(ctx context.Context) error {
	timeout := time.NewTimer(connectTimeout)
	defer timeout.Stop()
	select {
	case <-c.connected:
		return nil
	case err := <-c.failed:
		return err
	case <-timeout.C:
		return errors.New("peer connection timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed reports a fatal connection loss after establishment.
func (c *Connector) Failed() <-chan error { return c.failed }

// MicrophoneStream yields decoded candidate microphone audio as PCM 16kHz
// little-endian mono chunks.
func (c *Connector) MicrophoneStream() <-chan []byte { return c.micCh }

// PlaybackSink exposes the paced playback writer for the speech controller.
func (c *Connector) PlaybackSink() *PacedOpusWriter { return c.paced }

// PublishLocalVideo adds the interviewer video tile to the session. Failure
// is recoverable: the session continues audio-only.
func (c *Connector) PublishLocalVideo() error {
	if c.pc == nil {
		return &CameraError{Err: errors.New("not joined")}
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"interviewer-video", "interviewer")
	if err != nil {
		return &CameraError{Err: err}
	}
	if _, err := c.pc.AddTrack(track); err != nil {
		return &CameraError{Err: err}
	}
	return nil
}

// StartScreenShare publishes the secondary screen tile. Independent of all
// other session state; failure never pauses the interview.
func (c *Connector) StartScreenShare() error {
	c.shareMu.Lock()
	defer c.shareMu.Unlock()
	if c.shareSender != nil {
		return nil
	}
	if c.pc == nil {
		return errors.New("screen share: not joined")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"screen-share", "interviewer")
	if err != nil {
		return fmt.Errorf("screen share track: %w", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("screen share publish: %w", err)
	}
	c.shareSender = sender
	return nil
}

// StopScreenShare removes the screen tile if present.
func (c *Connector) StopScreenShare() error {
	c.shareMu.Lock()
	defer c.shareMu.Unlock()
	if c.shareSender == nil {
		return nil
	}
	sender := c.shareSender
	c.shareSender = nil
	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("screen share stop: %w", err)
	}
	return nil
}

// SendEvent marshals v and pushes it over the control data channel.
func (c *Connector) SendEvent(v any) error {
	dc := c.control.Load()
	if dc == nil {
		return errors.New("control channel not open")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(payload))
}

// TeardownAll releases every media resource. Safe after a partial join and
// safe to call more than once.
func (c *Connector) TeardownAll() {
	c.closeOnce.Do(func() {
		if c.paced != nil {
			c.paced.Close()
		}
		c.shareMu.Lock()
		c.shareSender = nil
		c.shareMu.Unlock()
		if c.pc != nil {
			if err := c.pc.Close(); err != nil {
				c.log.WithError(err).Debug("peer connection close")
			}
		}
	})
}
