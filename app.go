package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"deskassist/internal/bootstrap"
	"deskassist/internal/config"
	"deskassist/internal/domain"
	"deskassist/internal/history"
	"deskassist/internal/usecase"
)

const (
	eventStatus        = "deskassist:status"
	eventTranscription = "deskassist:transcription"
	eventResult        = "deskassist:result"
	eventAmplitude     = "deskassist:amplitude"
	eventError         = "deskassist:error"
	eventHistory       = "deskassist:history"
)

// App is the Wails application root.
type App struct {
	ctx context.Context
	log zerolog.Logger

	session *usecase.Session
	cfg     config.Config
	bootErr error
}

func NewApp(log zerolog.Logger) *App {
	return &App{log: log}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a.log)
	if err != nil {
		a.bootErr = err
		a.ErrorRaised(domain.ErrorBackendUnexpected, err.Error())
		return
	}

	a.cfg = services.Config
	a.session = services.Session
	a.StatusChanged(domain.SessionStateIdle, domain.ReasonStartup)
}

func (a *App) shutdown(_ context.Context) {
	if a.session != nil {
		a.session.Close()
	}
}

// StartVoiceQuery opens the microphone for a spoken turn.
func (a *App) StartVoiceQuery() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.session.BeginTurn(a.ctx, ""); err != nil {
		return domain.Status{}, err
	}
	return a.session.Status(), nil
}

// SubmitTextQuery runs a typed query as a turn.
func (a *App) SubmitTextQuery(query string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.session.BeginTurn(a.ctx, query); err != nil {
		return domain.Status{}, err
	}
	return a.session.Status(), nil
}

// StopVoiceQuery closes the mic early; audio sent so far still answers.
func (a *App) StopVoiceQuery() domain.Status {
	if err := a.requireReady(); err != nil {
		return a.GetStatus()
	}
	a.session.CancelListening()
	return a.session.Status()
}

// RetryQuery re-runs the most recent query.
func (a *App) RetryQuery() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.session.Retry(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrNothingToRetry) {
			return nil
		}
		return err
	}
	return nil
}

// PreviousResponse replays the prior turn without re-running it.
func (a *App) PreviousResponse() (domain.Turn, error) {
	if err := a.requireReady(); err != nil {
		return domain.Turn{}, err
	}
	turn, err := a.session.Previous()
	if err != nil {
		if errors.Is(err, history.ErrNoSuchEntry) {
			return domain.Turn{}, nil
		}
		return domain.Turn{}, err
	}
	return turn, nil
}

// NextResponse replays the following turn.
func (a *App) NextResponse() (domain.Turn, error) {
	if err := a.requireReady(); err != nil {
		return domain.Turn{}, err
	}
	turn, err := a.session.Next()
	if err != nil {
		if errors.Is(err, history.ErrNoSuchEntry) {
			return domain.Turn{}, nil
		}
		return domain.Turn{}, err
	}
	return turn, nil
}

// OpenSettings suspends history navigation while the settings screen is up.
func (a *App) OpenSettings() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.session.OpenOverlay()
}

// CloseSettings restores the history cursor.
func (a *App) CloseSettings() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.session.CloseOverlay(); err != nil {
		if errors.Is(err, history.ErrNoOverlay) {
			return nil
		}
		return err
	}
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.session == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.session.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":          a.cfg.Converse.BaseURL,
		"model":            a.cfg.Converse.Model,
		"language":         a.cfg.Converse.Language,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.session == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StatusChanged emits session lifecycle updates to the frontend.
func (a *App) StatusChanged(state domain.SessionState, reason domain.StateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// TranscriptionUpdate emits live transcription text.
func (a *App) TranscriptionUpdate(text string, isFinal bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscription, map[string]any{
		"text":  text,
		"final": isFinal,
	})
}

// ResultReady emits a classified response for rendering.
func (a *App) ResultReady(result domain.Result, suggestions []domain.Suggestion) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventResult, map[string]any{
		"result":      result,
		"suggestions": suggestions,
	})
}

// AmplitudeUpdate emits the current microphone level for the UI meter.
func (a *App) AmplitudeUpdate(level float64) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAmplitude, level)
}

// ErrorRaised emits turn failures to the UI.
func (a *App) ErrorRaised(category domain.ErrorCategory, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"category": string(category),
		"message":  errorMessage(category, detail),
		"detail":   detail,
	})
}

// HistoryChanged emits the history cursor for the navigation arrows.
func (a *App) HistoryChanged(head int, length int) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventHistory, map[string]int{
		"head":   head,
		"length": length,
	})
}

func stateReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonStartup:
		return "Ready"
	case domain.ReasonTurnStarted:
		return "Starting..."
	case domain.ReasonListening:
		return "Listening..."
	case domain.ReasonQuerySubmitted:
		return "Thinking..."
	case domain.ReasonUtteranceEnded:
		return "Thinking..."
	case domain.ReasonListeningCancelled:
		return "Mic closed. Thinking..."
	case domain.ReasonResponseReceived:
		return "Here is what I found"
	case domain.ReasonPlaybackDone:
		return "Done"
	case domain.ReasonTurnComplete:
		return ""
	case domain.ReasonContinueConversation:
		return "Go ahead, I'm listening"
	case domain.ReasonTurnFailed:
		return "Something went wrong"
	default:
		return ""
	}
}

func errorMessage(category domain.ErrorCategory, detail string) string {
	switch category {
	case domain.ErrorAlreadyInProgress:
		return "Hold on, still working on the last one"
	case domain.ErrorDevice:
		return "Microphone unavailable. Use the keyboard instead"
	case domain.ErrorBackendOffline:
		return "You are offline"
	case domain.ErrorAuthInvalid:
		return "Sign-in required. Check your access token"
	case domain.ErrorBackendUnexpected:
		return "Assistant error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
