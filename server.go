package sconcomm

import (
	"context"
	"io"
)

// Responder sends the reply to one request. It attaches the request's
// correlation id to env, which must not use reserved keys.
type Responder func(ctx context.Context, env Envelope, opt ...SendOption) error

// Server is the answering side of a connection. Each request is handed to the
// OnRequestOption callback together with its Responder.
type Server struct {
	t         *Transcoder
	logger    Logger
	onRequest func(Message, Responder)
}

// NewServer creates a server reading requests from r and writing responses to w.
// Call Run to start it.
func NewServer(r io.Reader, w io.Writer, opt ...Option) (*Server, error) {
	opts := buildOptions(opt)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	if opts.onRequest == nil {
		return nil, ErrInvalidOnRequest
	}

	s := &Server{
		logger:    opts.logger,
		onRequest: opts.onRequest,
	}
	s.t = newTranscoder("server", r, w, DispatcherFunc(s.dispatch), opts)
	return s, nil
}

// Run runs the connection until it dies. See Transcoder.Run.
func (s *Server) Run(ctx context.Context) error {
	return s.t.Run(ctx)
}

// Send pushes env to the client without a correlation id.
func (s *Server) Send(ctx context.Context, env Envelope, opt ...SendOption) error {
	return s.t.Send(ctx, env, opt...)
}

// Disconnect ends the outbound stream after pending sends and waits for the
// connection to go away.
func (s *Server) Disconnect(ctx context.Context) error {
	return s.t.Disconnect(ctx)
}

// Done returns a channel closed once the connection is gone.
func (s *Server) Done() <-chan struct{} {
	return s.t.Done()
}

// Err returns the fault that killed the connection, if any.
func (s *Server) Err() error {
	return s.t.Err()
}

func (s *Server) dispatch(msg Message) {
	id, ok, err := uintField(msg.Envelope, KeyID)
	if err != nil {
		s.t.bail(&DecodeError{Err: err}, false)
		return
	}

	// Clients always send an id; anything else is ignored.
	if !ok {
		s.logger.Debug("dropping envelope without id", "role", s.t.role)
		if msg.Payload != nil {
			Discard(msg.Payload)
		}
		return
	}
	delete(msg.Envelope, KeyID)

	s.onRequest(msg, s.responder(id))
}

func (s *Server) responder(id uint64) Responder {
	return func(ctx context.Context, env Envelope, opt ...SendOption) error {
		if err := checkReserved(env); err != nil {
			return err
		}
		out := env.clone()
		out[KeyID] = id
		return s.t.send(ctx, out, opt)
	}
}
