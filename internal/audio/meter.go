package audio

import (
	"encoding/binary"
	"math"
)

// Meter is the amplitude side channel for mic visualization. It holds a
// single slot: a sample that was never read is overwritten by the next
// one, and a missed sample is never an error.
type Meter struct {
	samples chan float64
}

func NewMeter() *Meter {
	return &Meter{samples: make(chan float64, 1)}
}

// Push derives one normalized amplitude sample from a chunk of 16-bit
// little-endian PCM and offers it to the slot, dropping the previous
// unread sample if there is one. Never blocks.
func (m *Meter) Push(chunk []byte) {
	level := Level(chunk)

	select {
	case m.samples <- level:
		return
	default:
	}

	select {
	case <-m.samples:
	default:
	}
	select {
	case m.samples <- level:
	default:
	}
}

// Samples exposes the slot for a subscriber to drain.
func (m *Meter) Samples() <-chan float64 {
	return m.samples
}

// Level computes the RMS amplitude of a 16-bit LE PCM chunk, normalized
// to [0,1]. A short or empty chunk yields 0.
func Level(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}

	var sum float64
	count := len(chunk) / 2
	for i := 0; i < count; i++ {
		sample := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		v := float64(sample) / math.MaxInt16
		sum += v * v
	}

	level := math.Sqrt(sum / float64(count))
	if level > 1 {
		level = 1
	}
	return level
}
