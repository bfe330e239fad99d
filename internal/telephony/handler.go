// Package telephony bridges Twilio Media Streams WebSocket connections to
// call sessions. Each connection carries one phone call: inbound frames hold
// base64 mu-law audio from the caller, outbound frames hold synthesized audio.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxline/internal/call"
	"github.com/gorilla/websocket"
)

// Session is the subset of a call session the handler drives.
type Session interface {
	Start(ctx context.Context) error
	HandleAudio(chunk []byte) error
	End(reason string)
	Ended() <-chan struct{}
}

var _ Session = (*call.Session)(nil)

// StartInfo carries the identifiers Twilio sends in the stream start message.
type StartInfo struct {
	StreamSID  string
	CallSID    string
	AccountSID string
}

// SessionFactory builds a session for a freshly started media stream. The
// sink is already bound to the connection; wire it as the pipeline audio
// sink and its Clear method as the barge-in hook.
type SessionFactory func(r *http.Request, sink *Sink, start StartInfo) (Session, error)

// Handler upgrades incoming Media Streams connections and pumps audio
// between Twilio and a session.
type Handler struct {
	factory  SessionFactory
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. The factory must not be nil.
func NewHandler(factory SessionFactory, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		factory: factory,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Twilio Media Streams message types.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID   string      `json:"streamSid"`
	AccountSID  string      `json:"accountSid"`
	CallSID     string      `json:"callSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat mediaFormat `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // Base64 encoded audio
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	if err := h.serve(r, wsConn); err != nil {
		h.log.Warn("media stream ended with error", "error", err)
	}
}

func (h *Handler) serve(r *http.Request, wsConn *websocket.Conn) error {
	start, err := awaitStart(wsConn)
	if err != nil {
		return err
	}

	sink := newSink(wsConn, start.StreamSID)
	sess, err := h.factory(r, sink, start)
	if err != nil {
		return fmt.Errorf("telephony: create session: %w", err)
	}
	if err := sess.Start(r.Context()); err != nil {
		return fmt.Errorf("telephony: start session: %w", err)
	}
	defer sess.End(call.EndReasonHangup)

	h.log.Info("media stream started",
		"stream_sid", start.StreamSID, "call_sid", start.CallSID)

	for {
		select {
		case <-sess.Ended():
			return nil
		default:
		}

		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("telephony: read: %w", err)
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.log.Debug("discarding undecodable media frame", "error", err)
				continue
			}
			if err := sess.HandleAudio(audio); err != nil {
				return fmt.Errorf("telephony: forward audio: %w", err)
			}
		case "stop":
			return nil
		case "connected", "mark":
			// Connection handshake and playback synchronization markers.
		}
	}
}

// awaitStart reads messages until the start event arrives. Twilio sends
// "connected" first, then "start" with the stream identifiers.
func awaitStart(wsConn *websocket.Conn) (StartInfo, error) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return StartInfo{}, fmt.Errorf("telephony: read start: %w", err)
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event != "start" || msg.Start == nil {
			continue
		}
		return StartInfo{
			StreamSID:  msg.Start.StreamSID,
			CallSID:    msg.Start.CallSID,
			AccountSID: msg.Start.AccountSID,
		}, nil
	}
}
