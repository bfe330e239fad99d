// Package elevenlabs provides an ElevenLabs-backed synthesis provider using
// the ElevenLabs streaming WebSocket API. It implements synthesize.Provider.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	connectTimeout = 10 * time.Second
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements synthesize.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
}

var _ synthesize.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text with Flush set forces generation of any buffered text; the
// closing message is an empty Text without Flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// OpenStream implements synthesize.Provider. It dials the streaming endpoint,
// performs the BOI handshake, and starts draining audio in the background.
func (p *Provider) OpenStream(ctx context.Context, voice types.VoiceProfile) (synthesize.Stream, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.ID, p.model, p.outputFormat)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	streamCtx, streamCancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:   conn,
		ctx:    streamCtx,
		cancel: streamCancel,
		audio:  make(chan []byte, 256),
	}
	s.readDone = make(chan struct{})
	go s.readLoop()

	return s, nil
}

// stream is a single ElevenLabs synthesis session.
type stream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	audio    chan []byte
	readDone chan struct{}

	writeMu sync.Mutex
	flushed bool

	closeOnce sync.Once
}

var _ synthesize.Stream = (*stream)(nil)

// readLoop drains audio messages until the server signals isFinal or the
// connection drops, then closes the audio channel.
func (s *stream) readLoop() {
	defer close(s.readDone)
	defer close(s.audio)

	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				select {
				case s.audio <- pcm:
				case <-s.ctx.Done():
					return
				}
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// AddText implements synthesize.Stream.
func (s *stream) AddText(text string) error {
	if text == "" {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.flushed {
		return errors.New("elevenlabs: AddText after Flush")
	}

	msgBytes, _ := json.Marshal(textMessage{Text: text})
	if err := s.conn.Write(s.ctx, websocket.MessageText, msgBytes); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	return nil
}

// Flush implements synthesize.Stream. It sends the end-of-input message; the
// audio channel closes once the server finishes synthesizing.
func (s *stream) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.flushed {
		return nil
	}
	s.flushed = true

	// An empty text value tells ElevenLabs no more input is coming.
	eos, _ := json.Marshal(textMessage{Text: ""})
	if err := s.conn.Write(s.ctx, websocket.MessageText, eos); err != nil {
		return fmt.Errorf("elevenlabs: send EOS: %w", err)
	}
	return nil
}

// Abandon implements synthesize.Stream. It drops the connection without
// waiting for in-flight audio.
func (s *stream) Abandon() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "abandoned")
		<-s.readDone
	})
	return nil
}

// Audio implements synthesize.Stream.
func (s *stream) Audio() <-chan []byte {
	return s.audio
}

// Close implements synthesize.Stream. After a Flush it waits for the reader
// to drain remaining audio before tearing the connection down.
func (s *stream) Close() error {
	s.writeMu.Lock()
	flushed := s.flushed
	s.writeMu.Unlock()

	s.closeOnce.Do(func() {
		if flushed {
			<-s.readDone
		}
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "done")
		<-s.readDone
	})
	return nil
}
