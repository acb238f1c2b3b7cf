package ports

import (
	"context"
	"io"

	"deskassist/internal/domain"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// CaptureSession is a live capture session. Stop is idempotent and safe
// to call from any state.
type CaptureSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions. Each Start after a
// prior Stop yields a fresh stream.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// PlaybackConfig describes the encoding of response audio.
type PlaybackConfig struct {
	SampleRate int
	Channels   int
}

// PlaybackSession is a streaming FIFO playback session for one turn.
type PlaybackSession interface {
	// Enqueue appends audio to the playback queue. Calls after Stop are
	// a no-op: the turn has moved on.
	Enqueue(chunk []byte)
	// Finish marks the end of input; Done fires once the queue drains.
	Finish()
	// Stop immediately halts playback and clears the queue. Idempotent.
	Stop()
	// Done is closed exactly once, when playback drains after Finish or
	// when Stop is called.
	Done() <-chan struct{}
}

// AudioPlayback creates playback sessions.
type AudioPlayback interface {
	Start(ctx context.Context, cfg PlaybackConfig) (PlaybackSession, error)
}

// TurnOptions configures one conversation turn with the backend.
type TurnOptions struct {
	// TextQuery, when non-empty, makes this a text turn with no audio
	// capture.
	TextQuery       string
	Language        string
	NewConversation bool
	SampleRate      int
	Channels        int
}

// IsText reports whether the turn carries a typed query instead of audio.
func (o TurnOptions) IsText() bool { return o.TextQuery != "" }

// TurnStream is an active conversation turn with the backend.
type TurnStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.BackendEvent
	Wait() error
	Close() error
}

// ConversationBackend starts conversation turns.
type ConversationBackend interface {
	StartTurn(ctx context.Context, opts TurnOptions) (TurnStream, error)
}

// EventSink receives session state and results, one-way, for display.
// The core never reads anything back from it.
type EventSink interface {
	StatusChanged(state domain.SessionState, reason domain.StateReason)
	TranscriptionUpdate(text string, isFinal bool)
	ResultReady(result domain.Result, suggestions []domain.Suggestion)
	AmplitudeUpdate(level float64)
	ErrorRaised(category domain.ErrorCategory, detail string)
	HistoryChanged(head int, length int)
}
