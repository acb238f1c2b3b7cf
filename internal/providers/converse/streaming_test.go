package converse

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deskassist/internal/domain"
	"deskassist/internal/ports"
)

func TestNewBackendDefaults(t *testing.T) {
	t.Parallel()

	b := NewBackend(Config{}, zerolog.Nop())
	if b.cfg.BaseURL != "https://api.converse.dev/v1" {
		t.Fatalf("unexpected base url: %q", b.cfg.BaseURL)
	}
	if b.cfg.Model != "assistant-v2" {
		t.Fatalf("unexpected model: %q", b.cfg.Model)
	}
}

func TestStartTurnRequiresAccessToken(t *testing.T) {
	t.Parallel()

	b := NewBackend(Config{AccessToken: ""}, zerolog.Nop())
	_, err := b.StartTurn(context.Background(), ports.TurnOptions{})
	if err == nil {
		t.Fatalf("expected missing token error")
	}

	var backendErr *domain.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected a backend error, got %v", err)
	}
	if backendErr.Code != 14 || !strings.Contains(backendErr.Message, "No access or refresh token is set") {
		t.Fatalf("unexpected backend error: %+v", backendErr)
	}
}

func TestBuildConverseURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildConverseURL(Config{BaseURL: "https://api.converse.dev/v1", Model: "assistant-v2"}, ports.TurnOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "wss://api.converse.dev/v1/converse") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "encoding=linear16") {
		t.Fatalf("expected default encoding in url: %s", url)
	}
	if !strings.Contains(url, "sample_rate=16000") {
		t.Fatalf("expected default sample_rate in url: %s", url)
	}
	if !strings.Contains(url, "channels=1") {
		t.Fatalf("expected default channels in url: %s", url)
	}
}

func TestBuildConverseURLTextQuery(t *testing.T) {
	t.Parallel()

	url, err := buildConverseURL(
		Config{BaseURL: "http://localhost:9090/v1", Model: "m", Language: "en-US"},
		ports.TurnOptions{TextQuery: "what time is it", NewConversation: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "ws://localhost:9090/v1/converse") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "text_query=what+time+is+it") {
		t.Fatalf("expected text query in url: %s", url)
	}
	if !strings.Contains(url, "language=en-US") {
		t.Fatalf("expected language in url: %s", url)
	}
	if !strings.Contains(url, "new_conversation=true") {
		t.Fatalf("expected new_conversation in url: %s", url)
	}
}

func TestBuildConverseURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildConverseURL(Config{BaseURL: ":// bad"}, ports.TurnOptions{})
	if err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestDecodeEventKinds(t *testing.T) {
	t.Parallel()

	event, terminal, ok := decodeEvent(wireEvent{Type: "transcription", Text: "hello", IsFinal: true})
	if !ok || terminal || event.Kind != domain.BackendEventTranscription || !event.IsFinal {
		t.Fatalf("unexpected transcription decode: %+v", event)
	}

	event, _, ok = decodeEvent(wireEvent{Type: "audio", Data: base64.StdEncoding.EncodeToString([]byte("pcm"))})
	if !ok || string(event.Audio) != "pcm" {
		t.Fatalf("unexpected audio decode: %+v", event)
	}

	if _, _, ok = decodeEvent(wireEvent{Type: "audio", Data: "!!not-base64!!"}); ok {
		t.Fatalf("expected invalid audio frame to be dropped")
	}

	event, terminal, ok = decodeEvent(wireEvent{Type: "ended", ContinueConversation: true})
	if !ok || !terminal || !event.ContinueExpected {
		t.Fatalf("unexpected ended decode: %+v", event)
	}

	event, terminal, ok = decodeEvent(wireEvent{Type: "error", Code: 14, Message: "boom"})
	if !ok || !terminal || event.Err == nil || event.Err.Code != 14 {
		t.Fatalf("unexpected error decode: %+v", event)
	}

	event, _, ok = decodeEvent(wireEvent{Type: "error"})
	if !ok || event.Err.Message == "" {
		t.Fatalf("expected placeholder message for empty error")
	}

	if _, _, ok = decodeEvent(wireEvent{Type: "unknown"}); ok {
		t.Fatalf("expected unknown frame to be dropped")
	}
}

func TestDecodeResponseSuggestions(t *testing.T) {
	t.Parallel()

	wire := wireEvent{Type: "response", Text: "answer"}
	wire.Suggestions = append(wire.Suggestions, struct {
		Label         string `json:"label"`
		FollowUpQuery string `json:"follow_up_query"`
	}{Label: "More", FollowUpQuery: "tell me more"})

	event, _, ok := decodeEvent(wire)
	if !ok || event.Payload == nil {
		t.Fatalf("expected response payload")
	}
	if event.Payload.Text != "answer" {
		t.Fatalf("unexpected payload text: %q", event.Payload.Text)
	}
	if len(event.Payload.Suggestions) != 1 || event.Payload.Suggestions[0].Query != "tell me more" {
		t.Fatalf("unexpected suggestions: %+v", event.Payload.Suggestions)
	}
}

func TestTurnStreamSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &turnStream{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestTurnStreamCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &turnStream{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestTurnStreamSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &turnStream{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.waitErr() == nil || s.waitErr().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}
}

func TestStartTurnRoundTrip(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected auth header: %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Read one audio frame, then the close-stream marker.
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				received <- payload
				continue
			}
			break
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcription","text":"hi","is_final":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end_of_utterance"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response","text":"hello there"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ended","continue_conversation":false}`))
	}))
	defer server.Close()

	backend := NewBackend(Config{BaseURL: server.URL, AccessToken: "token"}, zerolog.Nop())
	stream, err := backend.StartTurn(context.Background(), ports.TurnOptions{})
	if err != nil {
		t.Fatalf("start turn failed: %v", err)
	}

	if err := stream.SendAudio([]byte("pcm-data")); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send failed: %v", err)
	}

	var kinds []domain.BackendEventKind
	for event := range stream.Events() {
		kinds = append(kinds, event.Kind)
	}

	want := []domain.BackendEventKind{
		domain.BackendEventTranscription,
		domain.BackendEventEndOfUtterance,
		domain.BackendEventResponse,
		domain.BackendEventEnded,
	}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], kinds[i])
		}
	}

	if got := <-received; string(got) != "pcm-data" {
		t.Fatalf("server received unexpected audio: %q", got)
	}

	if err := stream.Wait(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
}
