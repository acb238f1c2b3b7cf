package audio

import (
	"errors"
	"io"
	"testing"
)

func TestPlayQueueReadsInOrder(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	if !q.append([]byte("abc")) {
		t.Fatalf("append rejected on open queue")
	}
	if !q.append([]byte("def")) {
		t.Fatalf("append rejected on open queue")
	}
	q.finish()

	buf := make([]byte, 4)
	n, err := q.Read(buf)
	if err != nil || string(buf[:n]) != "abcd" {
		t.Fatalf("unexpected read: %q %v", buf[:n], err)
	}
	n, err = q.Read(buf)
	if err != nil || string(buf[:n]) != "ef" {
		t.Fatalf("unexpected read: %q %v", buf[:n], err)
	}
	if _, err := q.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after drain, got %v", err)
	}
}

func TestPlayQueueStopClearsBuffered(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	q.append([]byte("pending"))
	q.stop()

	if _, err := q.Read(make([]byte, 8)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stop, got %v", err)
	}
}

func TestPlayQueueAppendAfterStopIsNoop(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	q.stop()
	if q.append([]byte("late")) {
		t.Fatalf("expected append to be rejected after stop")
	}
}

func TestPlayQueueAppendAfterFinishIsNoop(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	q.finish()
	if q.append([]byte("late")) {
		t.Fatalf("expected append to be rejected after finish")
	}
}

func TestPlayQueueReadBlocksUntilData(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, err := q.Read(buf)
		if err != nil {
			got <- nil
			return
		}
		got <- buf[:n]
	}()

	q.append([]byte("later"))
	if data := <-got; string(data) != "later" {
		t.Fatalf("unexpected blocked read result: %q", data)
	}
}

func TestPlayQueueEmptyAppendAccepted(t *testing.T) {
	t.Parallel()

	q := newPlayQueue()
	if !q.append(nil) {
		t.Fatalf("empty append should be accepted")
	}
}
