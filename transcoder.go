// Package sconcomm multiplexes structured envelopes and exact-length binary
// payloads over a pair of raw byte streams, with a request/response layer
// (Client and Server) on top.
//
// Every envelope is encoded by a self-delimiting Codec. An envelope that
// declares a payload of N bytes is immediately followed on the wire by exactly
// N raw bytes, before the next envelope begins.
package sconcomm

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dispatcher receives every decoded envelope of a connection, in arrival order,
// on the connection's dispatch goroutine.
type Dispatcher interface {
	OnEnvelope(msg Message)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(msg Message)

// OnEnvelope calls f(msg).
func (f DispatcherFunc) OnEnvelope(msg Message) { f(msg) }

// sendRequest is one entry of the send queue.
type sendRequest struct {
	env     Envelope
	encode  EncodeOptions
	payload io.Reader
	length  int64
	done    chan error
}

// inbound is one entry of the dispatch queue. eof marks the end of the
// inbound stream, after every envelope decoded before it.
type inbound struct {
	msg Message
	eof bool
}

// Transcoder frames envelopes and payloads over a reader/writer pair.
//
// It runs three goroutines once Run is called: a decode loop that owns the
// receive queue, a dispatch loop that hands envelopes to the Dispatcher, and a
// send loop that drains the send queue one request at a time. Any fault other
// than a rejected send is fatal to the connection.
type Transcoder struct {
	r          io.Reader
	w          io.Writer
	role       string
	opts       options
	logger     Logger
	dispatcher Dispatcher

	// decode loop state
	recv   *recvQueue
	active *Substream
	inbox  chan inbound

	mu       sync.Mutex
	queue    []*sendRequest
	inflight *Payload
	stopping bool
	dead     bool
	err      error

	wake      chan struct{}
	deadCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTranscoder creates a transcoder that hands decoded envelopes to d.
// Client and Server are built on it; use it directly for custom roles.
func NewTranscoder(r io.Reader, w io.Writer, d Dispatcher, opt ...Option) (*Transcoder, error) {
	if d == nil {
		return nil, ErrInvalidDispatcher
	}

	opts := buildOptions(opt)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newTranscoder("custom", r, w, d, opts), nil
}

func newTranscoder(role string, r io.Reader, w io.Writer, d Dispatcher, opts options) *Transcoder {
	return &Transcoder{
		r:          r,
		w:          w,
		role:       role,
		opts:       opts,
		logger:     opts.logger,
		dispatcher: d,
		recv:       newRecvQueue(r, opts.readBufferSize),
		inbox:      make(chan inbound, opts.bufferSize),
		wake:       make(chan struct{}, 1),
		deadCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run starts the decode, dispatch and send loops and blocks until all of them
// have exited. It returns nil when the connection ended peacefully, ctx.Err()
// when ctx was canceled, and the fatal fault otherwise. The streams are closed
// when Run returns.
func (t *Transcoder) Run(ctx context.Context) error {
	t.logger.Info("connection established", "role", t.role)
	t.logger.Debug("connection options", "role", t.role,
		"buffer_size", t.opts.bufferSize,
		"read_buffer_size", t.opts.readBufferSize,
		"max_payload_length", t.opts.maxPayloadLength)

	group, child := errgroup.WithContext(ctx)

	group.Go(t.readLoop)

	group.Go(func() error {
		return t.writeLoop(child)
	})

	group.Go(t.dispatchLoop)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.bail(ctx.Err(), true)
			t.closeStreams()
		case <-stop:
		}
	}()

	_ = group.Wait()
	close(stop)
	t.closeStreams()

	err := t.Err()
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Info("connection closed with error", "role", t.role, "error", err)
	} else {
		t.logger.Info("connection closed", "role", t.role)
	}

	return err
}

// Send queues env for transmission and waits until it, and its payload if one
// is attached, has been written. env must not use reserved keys; it is copied,
// never modified. If ctx ends first Send stops waiting, but the envelope stays
// queued.
func (t *Transcoder) Send(ctx context.Context, env Envelope, opt ...SendOption) error {
	if err := checkReserved(env); err != nil {
		return err
	}
	return t.send(ctx, env.clone(), opt)
}

// Disconnect ends the outbound stream once every queued send has been written
// and waits until the connection is gone.
func (t *Transcoder) Disconnect(ctx context.Context) error {
	t.requestHalfClose()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the connection is gone and the disconnect
// callback has returned.
func (t *Transcoder) Done() <-chan struct{} {
	return t.done
}

// Err returns the fault that killed the connection. It is nil while the
// connection is alive and after a peaceful disconnect.
func (t *Transcoder) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if errors.Is(t.err, errStreamEnded) {
		return nil
	}
	return t.err
}

// IsClosed returns true once the connection is dead.
func (t *Transcoder) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dead
}

// closedErr is what a caller waiting on a dead connection gets back.
func (t *Transcoder) closedErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return ErrConnectionClosed
}

// readLoop is the decode loop. Queued chunks always go before a new read, so
// one inbound chunk is fully drained, every envelope and payload boundary in
// it, before the stream is read again.
func (t *Transcoder) readLoop() error {
	for {
		chunk, err := t.recv.next()
		if err != nil {
			return t.readFailed(err)
		}

		if t.IsClosed() {
			t.abortActive(ErrConnectionClosed)
			continue
		}

		if err = t.process(chunk); err != nil {
			return err
		}
	}
}

// process handles one chunk: it feeds the active payload or decodes the next
// envelope from it.
func (t *Transcoder) process(chunk []byte) error {
	if t.active != nil {
		if _, err := t.active.Write(chunk); err != nil {
			return t.fail(errors.Wrap(err, "deliver payload"))
		}
		if t.active.Finished() {
			leftover, _ := t.active.Leftover()
			t.recv.pushFront(leftover)
			t.active = nil
			t.untrack()
		}
		return nil
	}

	env, leftover, err := t.opts.codec.Decode(chunk, t.more)
	if err != nil {
		if IsCommError(err) {
			return t.fail(err)
		}
		return t.fail(&DecodeError{Err: err})
	}
	t.recv.pushFront(leftover)

	return t.deliver(env)
}

// more supplies the codec with the next chunk while it decodes an envelope.
func (t *Transcoder) more() ([]byte, error) {
	chunk, err := t.recv.next()
	switch {
	case err == nil:
		return chunk, nil
	case errors.Is(err, io.EOF):
		return nil, io.ErrUnexpectedEOF
	default:
		return nil, &CommError{Op: "read", Err: err}
	}
}

// deliver strips the payload declaration from env, opens the inbound payload
// if there is one, and queues the envelope for dispatch. Dispatch happens
// before the payload is filled, since its bytes follow in later chunks.
func (t *Transcoder) deliver(env Envelope) error {
	n, _, err := uintField(env, KeyData)
	if err != nil {
		return t.fail(&DecodeError{Err: err})
	}
	delete(env, KeyData)

	if n > math.MaxInt64 || (t.opts.maxPayloadLength > 0 && n > uint64(t.opts.maxPayloadLength)) {
		return t.fail(&DecodeError{Err: errors.Wrapf(ErrPayloadTooLarge, "%d bytes declared", n)})
	}

	msg := Message{Envelope: env}
	if n > 0 {
		t.active, msg.Payload = newInbound(int64(n))
		if !t.track(msg.Payload) {
			t.abortActive(ErrConnectionClosed)
			return nil
		}
	}

	t.logger.Debug("envelope received", "role", t.role, "payload_length", n)

	select {
	case t.inbox <- inbound{msg: msg}:
	case <-t.deadCh:
		t.abortActive(ErrConnectionClosed)
	}
	return nil
}

// readFailed handles the end of the inbound stream.
func (t *Transcoder) readFailed(err error) error {
	if errors.Is(err, io.EOF) {
		t.abortActive(io.ErrUnexpectedEOF)
		t.logger.Debug("inbound stream ended", "role", t.role)

		select {
		case t.inbox <- inbound{eof: true}:
		case <-t.deadCh:
		}
		return nil
	}

	t.abortActive(err)
	if t.IsClosed() {
		return nil
	}
	return t.fail(&CommError{Op: "read", Err: err})
}

func (t *Transcoder) abortActive(err error) {
	if t.active == nil {
		return
	}
	t.active.Abort(err)
	t.active = nil
	t.untrack()
}

// track records the payload being filled so that a fatal error can unblock it.
func (t *Transcoder) track(p *Payload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return false
	}
	t.inflight = p
	return true
}

func (t *Transcoder) untrack() {
	t.mu.Lock()
	t.inflight = nil
	t.mu.Unlock()
}

// dispatchLoop hands queued envelopes to the dispatcher in arrival order.
func (t *Transcoder) dispatchLoop() error {
	for {
		select {
		case in := <-t.inbox:
			if in.eof {
				t.requestHalfClose()
				continue
			}
			if t.IsClosed() {
				if in.msg.Payload != nil {
					_ = in.msg.Payload.Close()
				}
				continue
			}
			t.dispatcher.OnEnvelope(in.msg)
		case <-t.deadCh:
			return nil
		}
	}
}

// send queues a prepared envelope and waits for its completion.
func (t *Transcoder) send(ctx context.Context, env Envelope, opt []SendOption) error {
	req := &sendRequest{env: env, done: make(chan error, 1)}
	for _, o := range opt {
		o(req)
	}

	if req.payload == nil {
		req.length = 0
	} else if req.length < 0 {
		return errors.Wrapf(ErrInvalidPayloadLength, "%d", req.length)
	}

	if err := t.enqueue(req); err != nil {
		return err
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transcoder) enqueue(req *sendRequest) error {
	t.mu.Lock()
	if t.dead || t.stopping {
		t.mu.Unlock()
		return ErrConnectionClosed
	}
	t.queue = append(t.queue, req)
	t.mu.Unlock()

	t.signal()
	return nil
}

func (t *Transcoder) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// writeLoop is the send loop. Requests are written strictly one after the
// other so that an envelope is always immediately followed by its payload.
// Once the queue is drained after a half-close request, the writer is ended.
func (t *Transcoder) writeLoop(ctx context.Context) error {
	for {
		req, ok := t.nextSend()
		if !ok {
			break
		}
		req.done <- t.transmit(ctx, req)
	}

	if t.IsClosed() {
		return nil
	}
	t.halfClose()
	return nil
}

// nextSend waits for the next queued request. ok is false when the connection
// is dead, or when a half-close was requested and nothing is left to send.
func (t *Transcoder) nextSend() (req *sendRequest, ok bool) {
	for {
		t.mu.Lock()
		switch {
		case t.dead:
			t.mu.Unlock()
			return nil, false
		case len(t.queue) > 0:
			req = t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return req, true
		case t.stopping:
			t.mu.Unlock()
			return nil, false
		}
		t.mu.Unlock()

		select {
		case <-t.wake:
		case <-t.deadCh:
		}
	}
}

// transmit writes one envelope and its payload.
func (t *Transcoder) transmit(ctx context.Context, req *sendRequest) error {
	if t.opts.sendLimiter != nil {
		if err := t.opts.sendLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	if req.payload != nil {
		req.env[KeyData] = req.length
	}

	data, err := t.opts.codec.Encode(req.env, req.encode)
	if err != nil {
		// Nothing was written: only this send fails.
		return errors.Wrap(err, "encode envelope")
	}

	if _, err = t.w.Write(data); err != nil {
		return t.fail(&CommError{Op: "write", Err: err})
	}

	t.logger.Debug("envelope sent", "role", t.role, "payload_length", req.length)

	if req.payload == nil || req.length == 0 {
		return nil
	}
	return t.writePayload(req)
}

// writePayload copies exactly req.length bytes of the payload source through a
// substream. The source is never read past the declared length; a short or
// failing source is zero padded so the framing stays intact.
func (t *Transcoder) writePayload(req *sendRequest) error {
	s := NewSubstream(req.length, t.w, nil)
	buf := make([]byte, min(req.length, int64(t.opts.readBufferSize)))

	var srcErr error
	for !s.Finished() {
		want := min(int64(len(buf)), s.Len()-s.Consumed())
		n, err := req.payload.Read(buf[:want])
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return t.fail(&CommError{Op: "write", Err: werr})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			srcErr = err
			break
		}
	}

	if err := s.Finalize(); err != nil {
		return t.fail(&CommError{Op: "write", Err: err})
	}

	if srcErr != nil {
		t.logger.Debug("payload source failed", "role", t.role, "error", srcErr)
		return &PayloadError{Err: srcErr}
	}
	return nil
}

// requestHalfClose ends the outbound stream once the send queue is drained.
func (t *Transcoder) requestHalfClose() {
	t.mu.Lock()
	if t.stopping || t.dead {
		t.mu.Unlock()
		return
	}
	t.stopping = true
	t.mu.Unlock()

	t.signal()
}

// halfClose ends the writer and lets the connection die peacefully. Writers
// that cannot be ended are left open.
func (t *Transcoder) halfClose() {
	var err error
	switch w := t.w.(type) {
	case interface{ CloseWrite() error }:
		err = w.CloseWrite()
	case io.Closer:
		err = w.Close()
	}
	if err != nil {
		t.logger.Debug("half-close failed", "role", t.role, "error", err)
	}

	t.bail(errStreamEnded, true)
}

// fail kills the connection with err and returns err.
func (t *Transcoder) fail(err error) error {
	t.bail(err, false)
	return err
}

// bail marks the connection dead and rejects every queued send with err. Only
// the first call has any effect. Unless peaceful, the streams are closed and
// the error callback is raised; the disconnect callback is always raised last.
func (t *Transcoder) bail(err error, peaceful bool) bool {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return false
	}
	t.dead = true
	t.err = err
	queued := t.queue
	t.queue = nil
	inflight := t.inflight
	t.inflight = nil
	t.mu.Unlock()

	close(t.deadCh)

	reject := err
	if errors.Is(err, errStreamEnded) {
		reject = ErrConnectionClosed
	}
	for _, req := range queued {
		req.done <- reject
	}
	if inflight != nil {
		_ = inflight.w.CloseWithError(reject)
	}

	if peaceful {
		t.logger.Debug("connection ended", "role", t.role, "reason", err)
	} else {
		t.closeStreams()
		t.logger.Debug("connection failed", "role", t.role, "error", err)
		t.opts.onError(err)
	}

	t.opts.onDisconnect()
	close(t.done)
	return true
}

// closeStreams closes the reader and the writer if they can be closed.
func (t *Transcoder) closeStreams() {
	t.closeOnce.Do(func() {
		if c, ok := t.r.(io.Closer); ok {
			_ = c.Close()
		}
		if c, ok := t.w.(io.Closer); ok {
			_ = c.Close()
		}
	})
}
