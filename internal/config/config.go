package config

import (
	"os"
	"strconv"
	"strings"
)

// Config stores runtime configuration for the assistant client.
type Config struct {
	Converse ConverseConfig
	Audio    AudioConfig
	Playback PlaybackConfig
	Session  SessionConfig
}

type ConverseConfig struct {
	AccessToken string
	BaseURL     string
	Model       string
	Language    string
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type PlaybackConfig struct {
	Enabled    bool
	SampleRate int
	Channels   int
}

type SessionConfig struct {
	ChunkSize            int
	NewConversation      bool
	ContinueConversation bool
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Converse: ConverseConfig{
			AccessToken: firstNonEmpty(
				os.Getenv("CONVERSE_ACCESS_TOKEN"),
				os.Getenv("DESKASSIST_ACCESS_TOKEN"),
			),
			BaseURL:  envOrDefault("CONVERSE_API_BASE", "https://api.converse.dev/v1"),
			Model:    envOrDefault("CONVERSE_MODEL", "assistant-v2"),
			Language: envOrDefault("DESKASSIST_LANGUAGE", "en-US"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("DESKASSIST_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("DESKASSIST_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("DESKASSIST_AUDIO_INPUT_DEVICE"),
				os.Getenv("DESKASSIST_PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("DESKASSIST_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("DESKASSIST_CHANNELS", 1),
		},
		Playback: PlaybackConfig{
			Enabled:    envOrDefaultBool("DESKASSIST_PLAYBACK", true),
			SampleRate: envOrDefaultInt("DESKASSIST_PLAYBACK_SAMPLE_RATE", 24000),
			Channels:   envOrDefaultInt("DESKASSIST_PLAYBACK_CHANNELS", 1),
		},
		Session: SessionConfig{
			ChunkSize:            envOrDefaultInt("DESKASSIST_AUDIO_CHUNK_SIZE", 4096),
			NewConversation:      envOrDefaultBool("DESKASSIST_NEW_CONVERSATION", false),
			ContinueConversation: envOrDefaultBool("DESKASSIST_CONTINUE_CONVERSATION", true),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Playback.SampleRate <= 0 {
		cfg.Playback.SampleRate = 24000
	}
	if cfg.Playback.Channels <= 0 {
		cfg.Playback.Channels = 1
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
