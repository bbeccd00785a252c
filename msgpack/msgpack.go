// Package msgpack provides a sconcomm codec for encoding and decoding
// envelopes using MessagePack.
package msgpack

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	impl "github.com/vmihailenco/msgpack/v5"

	"github.com/Zereker/sconcomm"
)

type msgpackCodec struct{}

// Codec returns a codec that encodes envelopes as MessagePack maps.
//
// Integers decode as int64 or uint64 and floats as float64, whatever width was
// used on the wire.
func Codec() sconcomm.Codec {
	return msgpackCodec{}
}

func (msgpackCodec) Encode(env sconcomm.Envelope, opts sconcomm.EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	enc := impl.NewEncoder(&buf)
	enc.SetSortMapKeys(opts.Canonical)
	enc.UseCompactInts(opts.CompactInts)

	if err := enc.Encode(map[string]any(env)); err != nil {
		return nil, errors.Wrap(err, "msgpack: encode")
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(first []byte, more func() ([]byte, error)) (sconcomm.Envelope, []byte, error) {
	r := &chunkReader{buf: first, more: more}
	dec := impl.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var env map[string]any
	if err := dec.Decode(&env); err != nil {
		return nil, nil, err
	}
	if env == nil {
		return nil, nil, errors.New("msgpack: envelope is nil")
	}
	return sconcomm.Envelope(env), r.leftover(), nil
}

// chunkReader presents the first chunk, and whatever more supplies after it,
// as one io.ByteScanner. The decoder reads it directly without buffering, so
// every byte it did not consume is still available as leftover.
type chunkReader struct {
	buf  []byte
	pos  int
	more func() ([]byte, error)
	err  error
}

func (r *chunkReader) fill() error {
	if r.err != nil {
		return r.err
	}
	chunk, err := r.more()
	if err != nil {
		r.err = err
		return err
	}
	// Keep consumed bytes so UnreadByte keeps working across chunk boundaries.
	r.buf = append(r.buf[:len(r.buf):len(r.buf)], chunk...)
	return nil
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.pos == len(r.buf) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

func (r *chunkReader) ReadByte() (byte, error) {
	for r.pos == len(r.buf) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *chunkReader) UnreadByte() error {
	if r.pos == 0 {
		return io.ErrNoProgress
	}
	r.pos--
	return nil
}

func (r *chunkReader) leftover() []byte {
	if r.pos == len(r.buf) {
		return nil
	}
	return r.buf[r.pos:]
}
