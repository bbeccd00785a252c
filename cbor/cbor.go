// Package cbor provides a sconcomm codec for encoding and decoding envelopes
// using CBOR (RFC 8949).
package cbor

import (
	"io"
	"reflect"

	impl "github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/Zereker/sconcomm"
)

type cborCodec struct {
	enc       impl.EncMode
	canonical impl.EncMode
	dec       impl.DecMode
}

// Codec returns a codec that encodes envelopes as CBOR maps.
//
// Nested maps decode as map[string]any, unsigned integers as uint64 and
// negative integers as int64.
func Codec() (sconcomm.Codec, error) {
	enc, err := impl.EncOptions{}.EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor: encode mode")
	}

	canonical, err := impl.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor: canonical encode mode")
	}

	dec, err := impl.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor: decode mode")
	}

	return &cborCodec{enc: enc, canonical: canonical, dec: dec}, nil
}

// MustCodec is like Codec but panics on error.
func MustCodec() sconcomm.Codec {
	c, err := Codec()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *cborCodec) Encode(env sconcomm.Envelope, opts sconcomm.EncodeOptions) ([]byte, error) {
	mode := c.enc
	if opts.Canonical {
		mode = c.canonical
	}

	data, err := mode.Marshal(map[string]any(env))
	if err != nil {
		return nil, errors.Wrap(err, "cbor: encode")
	}
	return data, nil
}

// Decode retries on truncated input, each time with one more chunk appended.
func (c *cborCodec) Decode(first []byte, more func() ([]byte, error)) (sconcomm.Envelope, []byte, error) {
	buf := first
	for {
		var env map[string]any
		rest, err := c.dec.UnmarshalFirst(buf, &env)
		if err == nil {
			if env == nil {
				return nil, nil, errors.New("cbor: envelope is nil")
			}
			if len(rest) == 0 {
				rest = nil
			}
			return sconcomm.Envelope(env), rest, nil
		}

		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, nil, err
		}

		chunk, err := more()
		if err != nil {
			return nil, nil, err
		}
		buf = append(buf[:len(buf):len(buf)], chunk...)
	}
}
