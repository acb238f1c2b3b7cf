package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"deskassist/internal/audio"
	"deskassist/internal/domain"
	"deskassist/internal/history"
	"deskassist/internal/ports"
)

var (
	ErrTurnInProgress = errors.New("a conversation turn is already in progress")
	ErrMicDisabled    = errors.New("audio capture is unavailable")
	ErrNothingToRetry = errors.New("no previous query to retry")
)

// Config controls turn behavior.
type Config struct {
	Capture  ports.CaptureConfig
	Playback ports.PlaybackConfig

	ChunkSize int

	Language        string
	NewConversation bool

	// ContinueConversation reopens the mic when the backend expects a
	// follow-up after playback drains.
	ContinueConversation bool
	PlaybackEnabled      bool
}

// Session owns the lifecycle of conversation turns: it is the only
// component that mutates turn state, talks to the backend, and commits
// to history. At most one turn is in flight at a time.
type Session struct {
	backend  ports.ConversationBackend
	capture  ports.AudioCapture
	playback ports.AudioPlayback
	events   ports.EventSink
	history  *history.Log
	meter    *audio.Meter
	log      zerolog.Logger
	cfg      Config

	mu          sync.Mutex
	state       domain.SessionState
	generation  uint64
	active      *activeTurn
	lastQuery   string
	micDisabled bool

	meterDone chan struct{}
	closeOnce sync.Once
}

func NewSession(
	backend ports.ConversationBackend,
	capture ports.AudioCapture,
	playback ports.AudioPlayback,
	events ports.EventSink,
	log zerolog.Logger,
	cfg Config,
) *Session {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	s := &Session{
		backend:   backend,
		capture:   capture,
		playback:  playback,
		events:    events,
		history:   history.NewLog(),
		meter:     audio.NewMeter(),
		log:       log.With().Str("component", "session").Logger(),
		cfg:       cfg,
		state:     domain.SessionStateIdle,
		meterDone: make(chan struct{}),
	}
	go s.forwardAmplitude()
	return s
}

// Close stops the amplitude forwarder. The session is not reusable
// afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.meterDone) })
}

// BeginTurn starts a new conversation turn. A non-empty query makes it
// a text turn; otherwise the microphone is armed and the spoken
// utterance becomes the query. Rejected while another turn is active.
func (s *Session) BeginTurn(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	isText := query != ""

	s.mu.Lock()
	if s.state != domain.SessionStateIdle {
		s.mu.Unlock()
		s.events.ErrorRaised(domain.ErrorAlreadyInProgress, "a conversation turn is already in progress")
		return ErrTurnInProgress
	}
	if !isText && s.micDisabled {
		s.mu.Unlock()
		s.events.ErrorRaised(domain.ErrorDevice, "microphone is unavailable; type your query instead")
		return ErrMicDisabled
	}
	s.generation++
	gen := s.generation
	s.state = domain.SessionStateStarting
	if isText {
		s.lastQuery = query
	}
	s.mu.Unlock()

	// A new query dismisses any transient screen.
	if err := s.history.PopOverlay(); err == nil {
		s.events.HistoryChanged(s.history.Head(), s.history.Len())
	}

	s.events.StatusChanged(domain.SessionStateStarting, domain.ReasonTurnStarted)
	s.log.Info().Uint64("generation", gen).Bool("text", isText).Msg("turn started")

	turnCtx, cancel := context.WithCancel(ctx)

	stream, err := s.backend.StartTurn(turnCtx, ports.TurnOptions{
		TextQuery:       query,
		Language:        s.cfg.Language,
		NewConversation: s.cfg.NewConversation,
		SampleRate:      s.cfg.Capture.SampleRate,
		Channels:        s.cfg.Capture.Channels,
	})
	if err != nil {
		cancel()
		category, detail := classifyTurnError(err)
		s.surfaceFailure(gen, category, detail)
		return err
	}

	active := newActiveTurn(gen, ctx, cancel, stream)
	active.turn.Query = query

	if isText {
		close(active.captureDone)
		_ = stream.CloseSend()
	} else {
		capSession, capErr := s.capture.Start(turnCtx, s.cfg.Capture)
		if capErr != nil {
			go func() { _ = stream.Close() }()
			cancel()
			s.disableMic(gen, capErr)
			return fmt.Errorf("start capture: %w", capErr)
		}
		active.capture = capSession
	}

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	if isText {
		s.setState(gen, domain.SessionStateProcessing, domain.ReasonQuerySubmitted)
	} else {
		s.setState(gen, domain.SessionStateListening, domain.ReasonListening)
		go s.pumpCapture(active)
	}
	go s.consumeEvents(active)
	return nil
}

// CancelListening stops the microphone mid-utterance. Audio already
// sent still produces a response; the turn moves on under a fresh
// generation so chunks still in flight from the old capture stream are
// dropped at delivery.
func (s *Session) CancelListening() {
	s.mu.Lock()
	active := s.active
	if active == nil || s.state != domain.SessionStateListening {
		s.mu.Unlock()
		return
	}
	s.generation++
	active.gen.Store(s.generation)
	s.state = domain.SessionStateProcessing
	s.mu.Unlock()

	active.stopCapture()
	go func() {
		<-active.captureDone
		_ = active.stream.CloseSend()
	}()

	s.events.StatusChanged(domain.SessionStateProcessing, domain.ReasonListeningCancelled)
	s.log.Info().Msg("listening cancelled, awaiting response for audio sent so far")
}

// Retry re-issues the most recent query as a fresh turn.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	query := s.lastQuery
	s.mu.Unlock()

	if query == "" {
		return ErrNothingToRetry
	}
	return s.BeginTurn(ctx, query)
}

// Previous replays the prior committed turn. Replays never commit.
func (s *Session) Previous() (domain.Turn, error) {
	turn, err := s.history.Previous()
	if err != nil {
		return domain.Turn{}, err
	}
	s.replay(turn)
	return turn, nil
}

// Next replays the following committed turn.
func (s *Session) Next() (domain.Turn, error) {
	turn, err := s.history.Next()
	if err != nil {
		return domain.Turn{}, err
	}
	s.replay(turn)
	return turn, nil
}

func (s *Session) replay(turn domain.Turn) {
	s.events.ResultReady(turn.Result, turn.Suggestions)
	s.events.HistoryChanged(s.history.Head(), s.history.Len())
}

// OpenOverlay suspends history navigation around a transient screen.
func (s *Session) OpenOverlay() error {
	return s.history.PushOverlay()
}

// CloseOverlay dismisses the transient screen and restores the cursor.
func (s *Session) CloseOverlay() error {
	if err := s.history.PopOverlay(); err != nil {
		return err
	}
	s.events.HistoryChanged(s.history.Head(), s.history.Len())
	return nil
}

// History exposes the navigator for direct seeks.
func (s *Session) History() *history.Log {
	return s.history
}

// Status returns a snapshot of the session.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	state := s.state
	mic := s.micDisabled
	s.mu.Unlock()

	return domain.Status{
		State:         state,
		Active:        state != domain.SessionStateIdle,
		MicDisabled:   mic,
		HistoryHead:   s.history.Head(),
		HistoryLength: s.history.Len(),
	}
}

// MicDisabled reports whether audio turns are disabled for the rest of
// the process lifetime.
func (s *Session) MicDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micDisabled
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// setState applies a transition only if gen is still the live turn.
func (s *Session) setState(gen uint64, state domain.SessionState, reason domain.StateReason) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.mu.Unlock()

	s.events.StatusChanged(state, reason)
	return true
}

// surfaceFailure maps a failed turn through the Error state and back to
// Idle, raising the error category exactly once.
func (s *Session) surfaceFailure(gen uint64, category domain.ErrorCategory, detail string) {
	if !s.setState(gen, domain.SessionStateError, domain.ReasonTurnFailed) {
		return
	}
	s.events.ErrorRaised(category, detail)
	s.log.Error().Str("category", string(category)).Str("detail", detail).Msg("turn failed")

	applied := false
	s.mu.Lock()
	if s.generation == gen {
		s.state = domain.SessionStateIdle
		s.active = nil
		// Stragglers from the failed turn must not resurface.
		s.generation++
		applied = true
	}
	s.mu.Unlock()
	if applied {
		s.events.StatusChanged(domain.SessionStateIdle, domain.ReasonTurnFailed)
	}
}

func (s *Session) disableMic(gen uint64, err error) {
	s.mu.Lock()
	s.micDisabled = true
	s.mu.Unlock()

	s.log.Error().Err(err).Msg("capture device unavailable, audio turns disabled")
	s.surfaceFailure(gen, domain.ErrorDevice, err.Error())
}

func (s *Session) forwardAmplitude() {
	for {
		select {
		case level := <-s.meter.Samples():
			s.events.AmplitudeUpdate(level)
		case <-s.meterDone:
			return
		}
	}
}
