// Package converse implements the conversation backend over a
// websocket turn stream: binary PCM frames up, tagged JSON events down.
package converse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deskassist/internal/domain"
	"deskassist/internal/ports"
)

// Config controls the backend connection.
type Config struct {
	BaseURL     string
	AccessToken string
	Model       string
	Language    string
}

// Backend implements ports.ConversationBackend.
type Backend struct {
	cfg Config
	log zerolog.Logger
}

func NewBackend(cfg Config, log zerolog.Logger) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.converse.dev/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "assistant-v2"
	}
	return &Backend{cfg: cfg, log: log.With().Str("component", "converse").Logger()}
}

func (b *Backend) StartTurn(ctx context.Context, opts ports.TurnOptions) (ports.TurnStream, error) {
	if strings.TrimSpace(b.cfg.AccessToken) == "" {
		return nil, &domain.BackendError{Code: 14, Message: "No access or refresh token is set"}
	}

	wsURL, err := buildConverseURL(b.cfg, opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+b.cfg.AccessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to conversation backend: %w", err)
	}

	b.log.Debug().Str("url", wsURL).Bool("text", opts.IsText()).Msg("turn stream opened")

	stream := &turnStream{
		conn:    conn,
		events:  make(chan domain.BackendEvent, 64),
		audio:   make(chan []byte, 32),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		log:     b.log,
	}

	stream.wg.Add(2)
	go stream.readLoop()
	go stream.writeLoop()
	go func() {
		stream.wg.Wait()
		close(stream.events)
		close(stream.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()

	return stream, nil
}

type turnStream struct {
	conn *websocket.Conn

	events  chan domain.BackendEvent
	audio   chan []byte
	done    chan struct{}
	closing chan struct{}

	wg sync.WaitGroup

	log zerolog.Logger

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *turnStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	closed := s.sendClosed
	s.sendMu.RUnlock()
	if closed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("turn stream closed")
	}
}

func (s *turnStream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *turnStream) Events() <-chan domain.BackendEvent {
	return s.events
}

func (s *turnStream) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *turnStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *turnStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *turnStream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *turnStream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *turnStream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read backend event: %w", err))
			return
		}

		var wire wireEvent
		if err := json.Unmarshal(payload, &wire); err != nil {
			s.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		event, terminal, ok := decodeEvent(wire)
		if !ok {
			continue
		}
		s.emit(event)
		if terminal {
			return
		}
	}
}

func (s *turnStream) emit(event domain.BackendEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

type wireEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Data    string `json:"data"`

	Suggestions []struct {
		Label         string `json:"label"`
		FollowUpQuery string `json:"follow_up_query"`
	} `json:"suggestions"`

	DeviceAction json.RawMessage `json:"device_action"`

	ContinueConversation bool `json:"continue_conversation"`

	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeEvent maps one wire frame to a backend event. terminal marks
// frames after which the server sends nothing further.
func decodeEvent(wire wireEvent) (domain.BackendEvent, bool, bool) {
	switch strings.ToLower(wire.Type) {
	case "transcription":
		return domain.BackendEvent{
			Kind:    domain.BackendEventTranscription,
			Text:    wire.Text,
			IsFinal: wire.IsFinal,
		}, false, true

	case "audio":
		audio, err := base64.StdEncoding.DecodeString(wire.Data)
		if err != nil || len(audio) == 0 {
			return domain.BackendEvent{}, false, false
		}
		return domain.BackendEvent{Kind: domain.BackendEventAudio, Audio: audio}, false, true

	case "end_of_utterance":
		return domain.BackendEvent{Kind: domain.BackendEventEndOfUtterance}, false, true

	case "response":
		payload := &domain.ResponsePayload{Text: wire.Text}
		for _, s := range wire.Suggestions {
			payload.Suggestions = append(payload.Suggestions, domain.Suggestion{
				Label: s.Label,
				Query: s.FollowUpQuery,
			})
		}
		return domain.BackendEvent{Kind: domain.BackendEventResponse, Payload: payload}, false, true

	case "device_action":
		return domain.BackendEvent{
			Kind:         domain.BackendEventDeviceAction,
			DeviceAction: string(wire.DeviceAction),
		}, false, true

	case "ended":
		return domain.BackendEvent{
			Kind:             domain.BackendEventEnded,
			ContinueExpected: wire.ContinueConversation,
		}, true, true

	case "error":
		message := strings.TrimSpace(wire.Message)
		if message == "" {
			message = "backend returned an unknown error"
		}
		return domain.BackendEvent{
			Kind: domain.BackendEventError,
			Err:  &domain.BackendError{Code: wire.Code, Message: message},
		}, true, true

	default:
		return domain.BackendEvent{}, false, false
	}
}

func buildConverseURL(cfg Config, opts ports.TurnOptions) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "https://api.converse.dev/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	converseURL, err := url.Parse(base + "/converse")
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}

	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}

	query := converseURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", opts.Channels))
	query.Set("new_conversation", fmt.Sprintf("%t", opts.NewConversation))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	if opts.IsText() {
		query.Set("text_query", opts.TextQuery)
	}
	converseURL.RawQuery = query.Encode()
	return converseURL.String(), nil
}
