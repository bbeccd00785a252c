package sconcomm

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Client is the requesting side of a connection. Every request carries a
// correlation id; the response with the same id completes it. Envelopes the
// server sends without an id are handed to the OnPushOption callback.
type Client struct {
	t      *Transcoder
	onPush func(Message)

	mu      sync.Mutex
	ids     *idPool
	pending map[uint64]*call
}

// call is one request waiting for its response.
type call struct {
	resp chan Message
	// abandoned calls have nobody waiting: their response is dropped.
	abandoned bool
}

// NewClient creates a client reading responses from r and writing requests to w.
// Call Run to start it.
func NewClient(r io.Reader, w io.Writer, opt ...Option) (*Client, error) {
	opts := buildOptions(opt)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	c := &Client{
		onPush:  opts.onPush,
		ids:     newIDPool(),
		pending: make(map[uint64]*call),
	}
	c.t = newTranscoder("client", r, w, DispatcherFunc(c.dispatch), opts)
	return c, nil
}

// Run runs the connection until it dies. See Transcoder.Run.
func (c *Client) Run(ctx context.Context) error {
	return c.t.Run(ctx)
}

// Request sends env with a fresh correlation id and waits for the matching
// response. The response envelope has the id removed; its Payload, if any,
// must be drained or closed.
//
// If ctx ends first Request returns ctx.Err() and the response is dropped when
// it arrives.
func (c *Client) Request(ctx context.Context, env Envelope, opt ...SendOption) (Message, error) {
	if err := checkReserved(env); err != nil {
		return Message{}, err
	}

	id, pc := c.register()
	out := env.clone()
	out[KeyID] = id

	if err := c.t.send(ctx, out, opt); err != nil {
		// The envelope is on the wire in these cases and a response will
		// arrive for id.
		var pe *PayloadError
		if errors.As(err, &pe) || ctx.Err() != nil {
			c.abandon(id, pc)
		} else {
			c.unregister(id, pc)
		}
		return Message{}, err
	}

	select {
	case msg := <-pc.resp:
		return msg, nil
	case <-c.t.deadCh:
		select {
		case msg := <-pc.resp:
			return msg, nil
		default:
		}
		c.unregister(id, pc)
		return Message{}, c.t.closedErr()
	case <-ctx.Done():
		c.abandon(id, pc)
		return Message{}, ctx.Err()
	}
}

// Disconnect ends the outbound stream after pending sends and waits for the
// connection to go away.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.t.Disconnect(ctx)
}

// Done returns a channel closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.t.Done()
}

// Err returns the fault that killed the connection, if any.
func (c *Client) Err() error {
	return c.t.Err()
}

// Outstanding returns the number of requests waiting for a response.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.len()
}

func (c *Client) register() (uint64, *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.ids.acquire()
	pc := &call{resp: make(chan Message, 1)}
	c.pending[id] = pc
	return id, pc
}

// unregister frees id if it still belongs to pc.
func (c *Client) unregister(id uint64, pc *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[id] == pc {
		delete(c.pending, id)
		c.ids.release(id)
	}
}

// abandon leaves id allocated until its response arrives, then drops the
// response. A response that already arrived is dropped right away.
func (c *Client) abandon(id uint64, pc *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[id] == pc {
		pc.abandoned = true
		return
	}
	select {
	case msg := <-pc.resp:
		drop(msg)
	default:
	}
}

// dispatch routes a decoded envelope: pushes go to the push callback,
// responses to the request waiting on their id.
func (c *Client) dispatch(msg Message) {
	id, ok, err := uintField(msg.Envelope, KeyID)
	if err != nil {
		c.t.bail(&DecodeError{Err: err}, false)
		return
	}
	if !ok {
		c.onPush(msg)
		return
	}
	delete(msg.Envelope, KeyID)

	c.mu.Lock()
	pc, found := c.pending[id]
	if found {
		delete(c.pending, id)
		c.ids.release(id)
		if !pc.abandoned {
			// Buffered and only ever sent once: never blocks.
			pc.resp <- msg
		}
	}
	c.mu.Unlock()

	switch {
	case !found:
		drop(msg)
		c.t.bail(errors.Wrapf(ErrUnexpectedResponse, "id %d", id), false)
	case pc.abandoned:
		drop(msg)
	}
}

// drop discards the payload of a message nobody will read.
func drop(msg Message) {
	if msg.Payload != nil {
		_ = msg.Payload.Close()
	}
}
