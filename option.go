package sconcomm

import (
	"io"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	// defaultBufferSize is the default depth of the dispatch queue.
	defaultBufferSize = 16
	// defaultReadBufferSize is the default size of a chunk read from the stream (32KB).
	defaultReadBufferSize = 32 * 1024
)

// options holds the configuration for a connection.
type options struct {
	codec  Codec
	logger Logger

	// onPush receives envelopes without a correlation id (client role).
	onPush func(Message)
	// onRequest receives requests together with their responder (server role).
	onRequest func(Message, Responder)
	// onError is called once with the fault that killed the connection.
	onError func(error)
	// onDisconnect is called once when the connection is gone, after onError.
	onDisconnect func()

	bufferSize       int           // depth of the dispatch queue
	readBufferSize   int           // size of a chunk read from the stream
	maxPayloadLength int64         // largest accepted inbound payload, 0 for no limit
	sendLimiter      *rate.Limiter // paces outbound envelopes, nil for no pacing
}

// Option is a function that configures connection options.
type Option func(*options)

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.codec == nil {
		return ErrInvalidCodec
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxPayloadLength < 0 {
		opts.maxPayloadLength = 0
	}

	if opts.onPush == nil {
		opts.onPush = func(m Message) {
			if m.Payload != nil {
				Discard(m.Payload)
			}
		}
	}

	if opts.onError == nil {
		opts.onError = func(error) {}
	}

	if opts.onDisconnect == nil {
		opts.onDisconnect = func() {}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// CustomCodecOption returns an Option that sets the envelope codec.
// The codec is required.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// BufferSizeOption returns an Option that sets how many decoded envelopes may
// wait for dispatch before the decode loop stops reading.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets the size of each read from
// the inbound stream.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// MaxPayloadLengthOption returns an Option that limits the payload length a peer
// may declare. A larger declaration is a decode fault and kills the connection.
func MaxPayloadLengthOption(n int64) Option {
	return func(o *options) {
		o.maxPayloadLength = n
	}
}

// SendRateOption returns an Option that paces outbound envelopes to at most
// limit per second with the given burst.
func SendRateOption(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.sendLimiter = rate.NewLimiter(limit, burst)
	}
}

// OnPushOption returns an Option that sets the handler for envelopes the server
// sends without a request. Without it, pushed envelopes are dropped.
func OnPushOption(cb func(Message)) Option {
	return func(o *options) {
		o.onPush = cb
	}
}

// OnRequestOption returns an Option that sets the request handler.
// It is required for servers and runs on the connection's dispatch goroutine.
func OnRequestOption(cb func(Message, Responder)) Option {
	return func(o *options) {
		o.onRequest = cb
	}
}

// OnErrorOption returns an Option that sets the fatal error callback.
// It is not called when the connection ends peacefully.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnDisconnectOption returns an Option that sets the disconnect callback.
func OnDisconnectOption(cb func()) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}

// SendOption configures a single send.
type SendOption func(*sendRequest)

// WithPayload attaches n bytes read from r to the envelope. If r ends early the
// payload is zero padded; bytes of r past n are never read.
func WithPayload(r io.Reader, n int64) SendOption {
	return func(req *sendRequest) {
		req.payload = r
		req.length = n
	}
}

// WithCanonical asks the codec for a deterministic encoding.
func WithCanonical() SendOption {
	return func(req *sendRequest) {
		req.encode.Canonical = true
	}
}

// WithCompactInts asks the codec for the smallest integer encoding.
func WithCompactInts() SendOption {
	return func(req *sendRequest) {
		req.encode.CompactInts = true
	}
}
