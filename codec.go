package sconcomm

// EncodeOptions tune how a codec serializes one envelope.
type EncodeOptions struct {
	// Canonical requests a deterministic encoding (sorted map keys).
	Canonical bool
	// CompactInts requests the smallest integer representation the format allows.
	CompactInts bool
}

// Codec is the interface for envelope encoding and decoding.
//
// Encodings must be self-delimiting: the wire carries no length prefix around an
// envelope, so Decode alone decides where one envelope ends.
type Codec interface {
	// Encode serializes env into bytes for transmission.
	Encode(env Envelope, opts EncodeOptions) ([]byte, error)

	// Decode decodes exactly one envelope starting at first. When first does not
	// hold the whole envelope, the codec calls more to obtain the next chunk of
	// raw bytes; more blocks until one is available and returns an error once the
	// stream can no longer supply any. Bytes beyond the decoded envelope are
	// returned as leftover.
	Decode(first []byte, more func() ([]byte, error)) (env Envelope, leftover []byte, err error)
}
