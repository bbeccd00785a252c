package sconcomm

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Reserved envelope keys.
const (
	// KeyID carries the correlation id of a request and its response.
	KeyID = "__id"
	// KeyData declares the length of the payload following an envelope on the wire.
	KeyData = "__data"
	// KeyStream is reserved for the attached payload stream and never sent.
	KeyStream = "_stream"
)

// Envelope is one structured message exchanged between peers.
type Envelope map[string]any

// Message is a decoded envelope together with its payload, if any.
type Message struct {
	Envelope Envelope
	// Payload is nil when the envelope declared no payload. Otherwise it yields
	// exactly Payload.Len() bytes and must be drained or closed by the receiver.
	Payload *Payload
}

// checkReserved returns ErrReservedField if env uses any reserved key.
func checkReserved(env Envelope) error {
	for _, k := range [...]string{KeyID, KeyData, KeyStream} {
		if _, ok := env[k]; ok {
			return errors.Wrapf(ErrReservedField, "key %q", k)
		}
	}
	return nil
}

// clone returns a shallow copy of env with room for the reserved fields.
func (env Envelope) clone() Envelope {
	out := make(Envelope, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	return out
}

// uintField reads a non-negative integer field. ok is false when the key is
// absent; err is set when the value is present but not a non-negative integer.
func uintField(env Envelope, key string) (n uint64, ok bool, err error) {
	v, ok := env[key]
	if !ok || v == nil {
		return 0, false, nil
	}

	switch x := v.(type) {
	case uint64:
		return x, true, nil
	case uint:
		return uint64(x), true, nil
	case uint32:
		return uint64(x), true, nil
	case uint16:
		return uint64(x), true, nil
	case uint8:
		return uint64(x), true, nil
	case int:
		return signed(key, int64(x))
	case int64:
		return signed(key, x)
	case int32:
		return signed(key, int64(x))
	case int16:
		return signed(key, int64(x))
	case int8:
		return signed(key, int64(x))
	case float64:
		if x < 0 || x != math.Trunc(x) || x >= 1<<64 {
			return 0, true, errors.Errorf("field %q: %v is not a non-negative integer", key, x)
		}
		return uint64(x), true, nil
	case json.Number:
		i, perr := x.Int64()
		if perr != nil {
			return 0, true, errors.Wrapf(perr, "field %q", key)
		}
		return signed(key, i)
	default:
		return 0, true, errors.Errorf("field %q: unexpected type %T", key, v)
	}
}

func signed(key string, i int64) (uint64, bool, error) {
	if i < 0 {
		return 0, true, errors.Errorf("field %q: negative value %d", key, i)
	}
	return uint64(i), true, nil
}
