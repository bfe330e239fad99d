package telephony

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/MrWong99/voxline/internal/pipeline"
	"github.com/gorilla/websocket"
)

var _ pipeline.AudioSink = (*Sink)(nil)

// Sink writes synthesized audio back to Twilio as media frames. It owns the
// write side of the connection; gorilla/websocket allows a single concurrent
// writer, so all outbound frames go through the sink's mutex.
type Sink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSID string
}

func newSink(conn *websocket.Conn, streamSID string) *Sink {
	return &Sink{conn: conn, streamSID: streamSID}
}

// WriteAudio sends one chunk of synthesized audio to the caller.
func (s *Sink) WriteAudio(chunk []byte) error {
	msg := map[string]any{
		"event":     "media",
		"streamSid": s.streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(chunk),
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("telephony: write media: %w", err)
	}
	return nil
}

// Clear tells Twilio to drop any audio it has buffered but not yet played.
// Wired as the session barge-in hook so a cancelled reply stops mid-word
// instead of draining the playback buffer.
func (s *Sink) Clear() {
	msg := map[string]any{
		"event":     "clear",
		"streamSid": s.streamSID,
	}
	_ = s.writeJSON(msg)
}

// SendMark sends a mark frame Twilio echoes back after the preceding media
// has been played.
func (s *Sink) SendMark(name string) error {
	msg := map[string]any{
		"event":     "mark",
		"streamSid": s.streamSID,
		"mark": map[string]string{
			"name": name,
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("telephony: write mark: %w", err)
	}
	return nil
}

func (s *Sink) writeJSON(msg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}
