package sconcomm

import (
	"io"

	"github.com/pkg/errors"
)

// Payload is the receiving end of an inbound substream. It yields exactly Len()
// bytes followed by io.EOF, or the connection fault if the connection dies
// before the payload is complete.
//
// The decode loop blocks while a payload is not being read, so every Payload
// must be drained or closed. Closing discards whatever has not been read yet.
type Payload struct {
	r *io.PipeReader
	w *io.PipeWriter
	n int64
}

// Len returns the declared payload length.
func (p *Payload) Len() int64 { return p.n }

// Read reads payload bytes.
func (p *Payload) Read(b []byte) (int, error) { return p.r.Read(b) }

// Close stops reading. Remaining payload bytes are dropped by the decode loop.
func (p *Payload) Close() error { return p.r.Close() }

// Bytes reads the whole payload into memory.
func (p *Payload) Bytes() ([]byte, error) {
	return io.ReadAll(p)
}

// newInbound returns the decode-side framer for a payload of n bytes and the
// Payload the application reads it from.
func newInbound(n int64) (*Substream, *Payload) {
	pr, pw := io.Pipe()
	s := NewSubstream(n, &pipeSink{pw: pw}, func(err error) {
		_ = pw.CloseWithError(err)
	})
	return s, &Payload{r: pr, w: pw, n: n}
}

// pipeSink feeds a Payload. Once the reader is closed it drops bytes instead of
// failing, so the framer still consumes the declared length.
type pipeSink struct {
	pw      *io.PipeWriter
	dropped bool
}

func (s *pipeSink) Write(b []byte) (int, error) {
	if s.dropped {
		return len(b), nil
	}
	n, err := s.pw.Write(b)
	if errors.Is(err, io.ErrClosedPipe) {
		s.dropped = true
		return len(b), nil
	}
	return n, err
}

// discardSink consumes and drops bytes.
type discardSink struct {
	n int64
}

func (d *discardSink) Write(b []byte) (int, error) {
	d.n += int64(len(b))
	return len(b), nil
}

// Discard drains r in the background and drops every byte. The returned
// channel receives the number of bytes dropped once r is exhausted.
func Discard(r io.Reader) <-chan int64 {
	dropped := make(chan int64, 1)
	go func() {
		sink := &discardSink{}
		_, _ = io.Copy(sink, r)
		dropped <- sink.n
	}()
	return dropped
}
