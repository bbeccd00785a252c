package sconcomm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by connection operations.
var (
	// ErrInvalidCodec is returned when no codec is provided.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrInvalidOnRequest is returned when a server is created without a request handler.
	ErrInvalidOnRequest = errors.New("invalid on request callback")
	// ErrInvalidDispatcher is returned when a transcoder is created without a dispatcher.
	ErrInvalidDispatcher = errors.New("invalid dispatcher")
	// ErrConnectionClosed is returned when sending on a connection that is dead or half-closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrReservedField is returned when an application envelope uses a reserved key.
	ErrReservedField = errors.New("reserved field in envelope")
	// ErrPayloadTooLarge is returned when a peer declares a payload above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnexpectedResponse is returned when a response carries an id with no pending request.
	ErrUnexpectedResponse = errors.New("response for unknown request id")
	// ErrInvalidPayloadLength is returned when a send declares a negative payload length.
	ErrInvalidPayloadLength = errors.New("invalid payload length")
)

// errStreamEnded marks a peaceful shutdown: our own writer was ended.
var errStreamEnded = errors.New("stream ended peacefully")

// CommError reports a fault raised by the underlying reader or writer.
// It is always fatal to the connection.
type CommError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("sconcomm: %s stream failed: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// DecodeError reports inbound bytes that could not be interpreted as an envelope.
// It is always fatal to the connection.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "sconcomm: decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PayloadError reports a payload source that failed while it was being sent.
// The envelope was delivered and the payload zero padded to its declared
// length, so the connection is unaffected.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return "sconcomm: payload source failed: " + e.Err.Error()
}

func (e *PayloadError) Unwrap() error { return e.Err }

// IsCommError reports whether err is, or wraps, a communication fault.
func IsCommError(err error) bool {
	var ce *CommError
	return errors.As(err, &ce)
}

// IsDecodeError reports whether err is, or wraps, a decode fault.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
