package sconcomm

import (
	"io"
)

// recvQueue is the receive queue: raw chunks waiting to be decoded, head first.
// When it runs dry, next pulls a fresh chunk from the reader, so a decode that
// needs more bytes simply waits on the next inbound chunk.
//
// It is owned by the decode loop.
type recvQueue struct {
	r       io.Reader
	size    int
	chunks  [][]byte
	readErr error
}

func newRecvQueue(r io.Reader, size int) *recvQueue {
	return &recvQueue{r: r, size: size}
}

// next returns the head chunk, reading from the stream when the queue is empty.
// Read errors are sticky.
func (q *recvQueue) next() ([]byte, error) {
	if len(q.chunks) > 0 {
		chunk := q.chunks[0]
		q.chunks[0] = nil
		q.chunks = q.chunks[1:]
		return chunk, nil
	}
	return q.read()
}

// pushFront puts bytes back at the head so they are processed before anything
// else, including chunks not yet read from the stream.
func (q *recvQueue) pushFront(b []byte) {
	if len(b) == 0 {
		return
	}
	q.chunks = append([][]byte{b}, q.chunks...)
}

func (q *recvQueue) read() ([]byte, error) {
	if q.readErr != nil {
		return nil, q.readErr
	}
	for {
		// Chunks outlive the call: they sit in the queue or in a payload pipe.
		buf := make([]byte, q.size)
		n, err := q.r.Read(buf)
		if err != nil {
			q.readErr = err
		}
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
