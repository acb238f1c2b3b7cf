// Package history keeps the append-only log of committed conversation
// turns and the cursor used for back/forward navigation. A single
// optional overlay slot represents a transient screen (settings, error)
// that suspends navigation without consuming a history entry.
package history

import (
	"errors"
	"sync"

	"deskassist/internal/domain"
)

var (
	ErrNoSuchEntry   = errors.New("history: no such entry")
	ErrOverlayActive = errors.New("history: overlay already active")
	ErrNoOverlay     = errors.New("history: no overlay active")
)

// Log is the navigable record of committed turns. head is -1 while the
// log is empty and always points at the newest entry right after a
// commit.
type Log struct {
	mu        sync.Mutex
	entries   []domain.Turn
	head      int
	overlay   bool
	savedHead int
}

func NewLog() *Log {
	return &Log{head: -1}
}

// Commit appends a turn and moves the cursor to it. Committing while an
// overlay is active is a programming error in the caller.
func (l *Log) Commit(turn domain.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.overlay {
		return ErrOverlayActive
	}

	turn.Committed = true
	l.entries = append(l.entries, turn)
	l.head = len(l.entries) - 1
	return nil
}

// Seek moves the cursor to index and returns the turn there. The log
// itself is never mutated.
func (l *Log) Seek(index int) (domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seekLocked(index)
}

func (l *Log) seekLocked(index int) (domain.Turn, error) {
	if l.overlay {
		return domain.Turn{}, ErrOverlayActive
	}
	if index < 0 || index >= len(l.entries) {
		return domain.Turn{}, ErrNoSuchEntry
	}
	l.head = index
	return l.entries[index], nil
}

// Previous moves the cursor one entry back. At the oldest entry it
// fails with ErrNoSuchEntry and leaves the cursor unchanged.
func (l *Log) Previous() (domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seekLocked(l.head - 1)
}

// Next moves the cursor one entry forward. At the newest entry it fails
// with ErrNoSuchEntry and leaves the cursor unchanged.
func (l *Log) Next() (domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seekLocked(l.head + 1)
}

// PushOverlay saves the cursor around a transient screen. Nested
// overlays are unsupported.
func (l *Log) PushOverlay() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.overlay {
		return ErrOverlayActive
	}
	l.overlay = true
	l.savedHead = l.head
	return nil
}

// PopOverlay dismisses the transient screen and restores the cursor.
func (l *Log) PopOverlay() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.overlay {
		return ErrNoOverlay
	}
	l.overlay = false
	l.head = l.savedHead
	return nil
}

// OverlayActive reports whether a transient screen is showing.
func (l *Log) OverlayActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlay
}

// Head returns the cursor position, -1 when the log is empty.
func (l *Log) Head() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Len returns the number of committed turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
