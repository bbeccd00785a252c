package sconcomm

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRecvQueue_ReadsWhenEmpty(t *testing.T) {
	q := newRecvQueue(strings.NewReader("hello world"), 5)

	for _, want := range []string{"hello", " worl", "d"} {
		chunk, err := q.next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if string(chunk) != want {
			t.Errorf("chunk = %q, want %q", chunk, want)
		}
	}

	if _, err := q.next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestRecvQueue_PushFrontGoesFirst(t *testing.T) {
	q := newRecvQueue(strings.NewReader("stream"), 16)

	q.pushFront([]byte("second"))
	q.pushFront([]byte("first"))
	q.pushFront(nil)

	if len(q.chunks) != 2 {
		t.Fatalf("queued chunks = %d, want 2", len(q.chunks))
	}

	for _, want := range []string{"first", "second", "stream"} {
		chunk, err := q.next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if string(chunk) != want {
			t.Errorf("chunk = %q, want %q", chunk, want)
		}
	}
}

type errReader struct {
	calls int
	err   error
}

func (r *errReader) Read([]byte) (int, error) {
	r.calls++
	return 0, r.err
}

func TestRecvQueue_StickyError(t *testing.T) {
	fault := errors.New("broken")
	r := &errReader{err: fault}
	q := newRecvQueue(r, 8)

	for i := 0; i < 3; i++ {
		if _, err := q.next(); err != fault {
			t.Fatalf("next error = %v, want %v", err, fault)
		}
	}
	if r.calls != 1 {
		t.Errorf("reader called %d times, want 1", r.calls)
	}

	// Queued bytes are still served after the stream failed.
	q.pushFront([]byte("tail"))
	chunk, err := q.next()
	if err != nil || string(chunk) != "tail" {
		t.Errorf("next = %q, %v; want %q, nil", chunk, err, "tail")
	}
}
