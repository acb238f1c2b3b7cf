package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"deskassist/internal/classify"
	"deskassist/internal/domain"
	"deskassist/internal/ports"
)

// activeTurn tracks one in-flight turn. Fields other than gen are
// touched only from BeginTurn before the worker goroutines start, or
// from the event consumer itself.
type activeTurn struct {
	turn      *domain.Turn
	gen       atomic.Uint64
	parentCtx context.Context
	cancel    context.CancelFunc
	stream    ports.TurnStream
	capture   ports.CaptureSession
	play      ports.PlaybackSession

	captureDone chan struct{}

	sawEnded         bool
	continueExpected bool
	failed           bool
	playFailed       bool

	stopCaptureOnce sync.Once
}

func newActiveTurn(gen uint64, parentCtx context.Context, cancel context.CancelFunc, stream ports.TurnStream) *activeTurn {
	t := &activeTurn{
		turn:        &domain.Turn{ID: uuid.NewString(), Generation: gen},
		parentCtx:   parentCtx,
		cancel:      cancel,
		stream:      stream,
		captureDone: make(chan struct{}),
	}
	t.gen.Store(gen)
	return t
}

// stopCapture asks the device session to wind down. Stop unblocks the
// pending Read, so the pump exits and closes captureDone.
func (t *activeTurn) stopCapture() {
	t.stopCaptureOnce.Do(func() {
		if t.capture != nil {
			go func() { _ = t.capture.Stop() }()
		}
	})
}

// pumpCapture forwards microphone chunks to the backend until the
// device session ends. The generation is snapshotted at entry: after
// CancelListening re-tags the turn, leftover chunks are dropped here.
func (s *Session) pumpCapture(active *activeTurn) {
	defer close(active.captureDone)

	gen := active.gen.Load()
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := active.capture.Read(buf)
		if n > 0 {
			if !s.isCurrent(gen) {
				return
			}
			s.meter.Push(buf[:n])
			if sendErr := active.stream.SendAudio(buf[:n]); sendErr != nil {
				if s.isCurrent(gen) {
					s.log.Warn().Err(sendErr).Msg("failed to stream capture chunk")
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.isCurrent(gen) {
				s.log.Warn().Err(err).Msg("capture read error")
			}
			return
		}
	}
}

// consumeEvents drains the backend stream and drives the turn state
// machine. Events for a superseded generation are discarded.
func (s *Session) consumeEvents(active *activeTurn) {
	for event := range active.stream.Events() {
		if active.failed || !s.isCurrent(active.gen.Load()) {
			continue
		}
		switch event.Kind {
		case domain.BackendEventTranscription:
			s.handleTranscription(active, event)
		case domain.BackendEventAudio:
			s.handleAudio(active, event)
		case domain.BackendEventEndOfUtterance:
			s.handleEndOfUtterance(active)
		case domain.BackendEventResponse:
			s.handleResponse(active, event)
		case domain.BackendEventDeviceAction:
			active.turn.Payload.DeviceAction = event.DeviceAction
			s.log.Info().Str("action", event.DeviceAction).Msg("device action received")
		case domain.BackendEventEnded:
			active.sawEnded = true
			active.continueExpected = event.ContinueExpected
		case domain.BackendEventError:
			s.handleBackendError(active, event.Err)
		}
	}
	s.completeTurn(active)
}

func (s *Session) handleTranscription(active *activeTurn, event domain.BackendEvent) {
	s.events.TranscriptionUpdate(event.Text, event.IsFinal)
	if !event.IsFinal {
		return
	}
	active.turn.Query = event.Text

	s.mu.Lock()
	if s.generation == active.gen.Load() && event.Text != "" {
		s.lastQuery = event.Text
	}
	s.mu.Unlock()
}

func (s *Session) handleAudio(active *activeTurn, event domain.BackendEvent) {
	if !s.cfg.PlaybackEnabled || active.playFailed {
		return
	}
	if active.play == nil {
		play, err := s.playback.Start(active.parentCtx, s.cfg.Playback)
		if err != nil {
			active.playFailed = true
			s.log.Warn().Err(err).Msg("playback unavailable, muting response audio")
			return
		}
		active.play = play
	}
	active.play.Enqueue(event.Audio)
}

func (s *Session) handleEndOfUtterance(active *activeTurn) {
	active.stopCapture()
	go func() {
		<-active.captureDone
		_ = active.stream.CloseSend()
	}()
	s.setState(active.gen.Load(), domain.SessionStateProcessing, domain.ReasonUtteranceEnded)
}

func (s *Session) handleResponse(active *activeTurn, event domain.BackendEvent) {
	payload := domain.ResponsePayload{}
	if event.Payload != nil {
		payload = *event.Payload
	}
	if payload.DeviceAction == "" {
		payload.DeviceAction = active.turn.Payload.DeviceAction
	}
	result, suggestions := classify.Classify(payload)
	active.turn.Payload = payload
	active.turn.Result = result
	active.turn.Suggestions = suggestions

	if !s.setState(active.gen.Load(), domain.SessionStateResponding, domain.ReasonResponseReceived) {
		return
	}
	if err := s.history.Commit(*active.turn); err != nil {
		s.log.Warn().Err(err).Msg("response arrived while a transient screen was up, not recorded")
	} else {
		active.turn.Committed = true
		s.events.HistoryChanged(s.history.Head(), s.history.Len())
	}
	s.events.ResultReady(result, suggestions)
}

func (s *Session) handleBackendError(active *activeTurn, berr *domain.BackendError) {
	active.failed = true
	active.stopCapture()
	if active.play != nil {
		active.play.Stop()
	}

	code, message := 0, "backend reported an unspecified error"
	if berr != nil {
		code, message = berr.Code, berr.Message
	}
	category, detail := classifyBackendError(code, message)
	s.log.Error().Int("code", code).Str("category", string(category)).Msg("backend reported an error")
	s.surfaceFailure(active.gen.Load(), category, detail)
	active.cancel()
}

// completeTurn runs after the backend stream is fully drained. It waits
// for capture and playback to wind down, then settles the session back
// to Idle, optionally reopening the mic for an expected follow-up.
func (s *Session) completeTurn(active *activeTurn) {
	active.stopCapture()
	<-active.captureDone
	_ = active.stream.CloseSend()

	if active.failed {
		active.cancel()
		return
	}

	if !active.sawEnded {
		err := active.stream.Wait()
		if err == nil {
			err = errors.New("conversation stream closed unexpectedly")
		}
		if active.play != nil {
			active.play.Stop()
		}
		category, detail := classifyTurnError(err)
		s.surfaceFailure(active.gen.Load(), category, detail)
		active.cancel()
		return
	}

	if active.play != nil {
		active.play.Finish()
		<-active.play.Done()
	}

	gen := active.gen.Load()
	if !s.setState(gen, domain.SessionStateEnded, domain.ReasonPlaybackDone) {
		active.cancel()
		return
	}

	continueNext := active.continueExpected && s.cfg.ContinueConversation && !s.MicDisabled()

	s.mu.Lock()
	if s.generation == gen {
		s.state = domain.SessionStateIdle
		s.active = nil
	} else {
		continueNext = false
	}
	s.mu.Unlock()
	active.cancel()

	if continueNext {
		s.log.Info().Msg("backend expects a follow-up, reopening mic")
		s.events.StatusChanged(domain.SessionStateIdle, domain.ReasonContinueConversation)
		if err := s.BeginTurn(active.parentCtx, ""); err == nil {
			return
		}
	}
	s.events.StatusChanged(domain.SessionStateIdle, domain.ReasonTurnComplete)
}
