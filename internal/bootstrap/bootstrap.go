package bootstrap

import (
	"github.com/rs/zerolog"

	"deskassist/internal/audio"
	"deskassist/internal/config"
	"deskassist/internal/ports"
	"deskassist/internal/providers/converse"
	"deskassist/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Session *usecase.Session
	Config  config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, log zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	session := usecase.NewSession(
		converse.NewBackend(converse.Config{
			BaseURL:     cfg.Converse.BaseURL,
			AccessToken: cfg.Converse.AccessToken,
			Model:       cfg.Converse.Model,
			Language:    cfg.Converse.Language,
		}, log),
		audio.NewCapture(cfg.Audio.RecorderCommand),
		audio.NewPlayer(),
		eventSink,
		log,
		usecase.Config{
			Capture: ports.CaptureConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Playback: ports.PlaybackConfig{
				SampleRate: cfg.Playback.SampleRate,
				Channels:   cfg.Playback.Channels,
			},
			ChunkSize:            cfg.Session.ChunkSize,
			Language:             cfg.Converse.Language,
			NewConversation:      cfg.Session.NewConversation,
			ContinueConversation: cfg.Session.ContinueConversation,
			PlaybackEnabled:      cfg.Playback.Enabled,
		},
	)

	return Services{Session: session, Config: cfg}, nil
}
