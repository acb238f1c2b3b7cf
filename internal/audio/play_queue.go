package audio

import (
	"io"
	"sync"
)

// playQueue is the FIFO behind a playback session. The speaker pulls
// from it via Read; Read blocks while the queue is open and empty, and
// returns io.EOF once the queue is finished and drained, or stopped.
type playQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	finished bool
	stopped  bool
}

func newPlayQueue() *playQueue {
	q := &playQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// append adds a chunk to the queue. Chunks arriving after finish or
// stop are dropped; the turn has moved on.
func (q *playQueue) append(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished || q.stopped {
		return false
	}
	q.buf = append(q.buf, chunk...)
	q.cond.Broadcast()
	return true
}

// finish marks the end of input; Read drains what is buffered and then
// reports io.EOF.
func (q *playQueue) finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// stop discards buffered audio immediately.
func (q *playQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.buf = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *playQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 {
		if q.stopped || q.finished {
			return 0, io.EOF
		}
		q.cond.Wait()
	}

	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}
