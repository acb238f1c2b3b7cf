package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"deskassist/internal/ports"
)

// Player creates streaming speaker sessions on top of oto. The oto
// context is process-wide and created on first use with the encoding of
// the first session; the backend keeps one encoding for the process
// lifetime.
type Player struct {
	mu   sync.Mutex
	octx *oto.Context
}

func NewPlayer() *Player {
	return &Player{}
}

func (p *Player) Start(_ context.Context, cfg ports.PlaybackConfig) (ports.PlaybackSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	octx, err := p.context(cfg)
	if err != nil {
		return nil, err
	}

	s := &playbackSession{
		octx:  octx,
		queue: newPlayQueue(),
		done:  make(chan struct{}),
	}
	return s, nil
}

func (p *Player) context(cfg ports.PlaybackConfig) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.octx != nil {
		return p.octx, nil
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms at 24kHz mono 16-bit; keeps latency low while audio
		// streams in.
		BufferSize: 4800,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open speaker: %w", err)
	}
	<-ready

	p.octx = octx
	return octx, nil
}

// playbackSession plays audio as it is enqueued. The oto player pulls
// from the queue; it is created on the first chunk so an audio-less
// turn never touches the device.
type playbackSession struct {
	octx  *oto.Context
	queue *playQueue

	mu      sync.Mutex
	player  *oto.Player
	started bool
	stopped bool

	doneOnce sync.Once
	done     chan struct{}
}

func (s *playbackSession) Enqueue(chunk []byte) {
	if !s.queue.append(chunk) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.player = s.octx.NewPlayer(s.queue)
	s.player.Play()
}

func (s *playbackSession) Finish() {
	s.queue.finish()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		s.signalDone()
		return
	}
	go s.awaitDrain()
}

// awaitDrain waits for the player to consume the queue and empty its
// own buffer before declaring the session idle.
func (s *playbackSession) awaitDrain() {
	for {
		s.mu.Lock()
		player, stopped := s.player, s.stopped
		s.mu.Unlock()

		if stopped || player == nil || !player.IsPlaying() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.closePlayer()
	s.signalDone()
}

func (s *playbackSession) Stop() {
	s.queue.stop()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.closePlayer()
	s.signalDone()
}

func (s *playbackSession) Done() <-chan struct{} {
	return s.done
}

func (s *playbackSession) closePlayer() {
	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
}

func (s *playbackSession) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
