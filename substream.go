package sconcomm

import (
	"io"
)

// zeros backs Finalize padding. It is never written to.
var zeros [32 << 10]byte

// Substream republishes exactly Len() bytes of an unbounded sequence of chunks to
// a downstream writer, whatever the alignment between chunk boundaries and the
// declared length. Short input is zero padded by Finalize; bytes beyond the
// boundary are kept aside and reported by Leftover.
//
// A Substream is written by one goroutine at a time. Leftover may be called from
// any goroutine.
type Substream struct {
	total    int64
	consumed int64
	dst      io.Writer
	end      func(error)

	finished bool
	leftover []byte
	fault    error
	done     chan struct{}
}

// NewSubstream returns a framer that forwards total bytes to dst. end is called
// once when the substream finishes, with nil on success or the fault passed to
// Abort; it may be nil.
func NewSubstream(total int64, dst io.Writer, end func(error)) *Substream {
	if end == nil {
		end = func(error) {}
	}
	return &Substream{
		total: total,
		dst:   dst,
		end:   end,
		done:  make(chan struct{}),
	}
}

// Len returns the declared length.
func (s *Substream) Len() int64 { return s.total }

// Consumed returns the number of bytes forwarded downstream so far, padding included.
func (s *Substream) Consumed() int64 { return s.consumed }

// Finished reports whether the declared length has been reached or the substream aborted.
func (s *Substream) Finished() bool { return s.finished }

// Write accepts one chunk. It always reports the whole chunk as consumed; the
// part beyond the declared length becomes the leftover. Writes after the
// substream finished are dropped. Write blocks while dst applies backpressure.
func (s *Substream) Write(chunk []byte) (int, error) {
	if s.finished {
		return len(chunk), nil
	}

	remaining := s.total - s.consumed
	if int64(len(chunk)) < remaining {
		if err := s.forward(chunk); err != nil {
			return 0, err
		}
		return len(chunk), nil
	}

	if err := s.forward(chunk[:remaining]); err != nil {
		return 0, err
	}

	var rest []byte
	if int64(len(chunk)) > remaining {
		rest = chunk[remaining:]
	}
	s.finish(rest)
	return len(chunk), nil
}

// Finalize ends the input. Missing bytes are replaced by zeros so that the
// downstream still receives exactly the declared length.
func (s *Substream) Finalize() error {
	if s.finished {
		return nil
	}

	for pad := s.total - s.consumed; pad > 0; pad = s.total - s.consumed {
		n := min(pad, int64(len(zeros)))
		if err := s.forward(zeros[:n]); err != nil {
			return err
		}
	}

	s.finish(nil)
	return nil
}

// Abort terminates the substream with err. Leftover returns err and the
// downstream is ended with it. Abort after the substream finished does nothing.
func (s *Substream) Abort(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.fault = err
	close(s.done)
	s.end(err)
}

// Leftover waits for the substream to finish and returns the bytes of the last
// chunk that lay beyond the declared length, or nil when there were none.
func (s *Substream) Leftover() ([]byte, error) {
	<-s.done
	return s.leftover, s.fault
}

func (s *Substream) forward(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := s.dst.Write(p); err != nil {
		s.Abort(err)
		return err
	}
	s.consumed += int64(len(p))
	return nil
}

func (s *Substream) finish(rest []byte) {
	s.finished = true
	s.leftover = rest
	close(s.done)
	s.end(nil)
}
