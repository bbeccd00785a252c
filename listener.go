package sconcomm

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is the interface for handling incoming TCP connections.
type Handler interface {
	// Handle is called in its own goroutine for each new connection.
	// The implementation owns the connection.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) { f(ctx, conn) }

// Listener accepts TCP connections and hands them to a Handler.
type Listener struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// ListenerLoggerOption sets the logger for the listener.
func ListenerLoggerOption(logger Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// ListenerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the listener waits up to this duration before
// closing, giving connections started by Serve time to disconnect.
// Default is 0 (immediate shutdown).
func ListenerShutdownTimeoutOption(timeout time.Duration) ListenerOption {
	return func(l *Listener) {
		l.shutdownTimeout = timeout
	}
}

// Listen creates a listener bound to the specified address.
func Listen(addr *net.TCPAddr, opts ...ListenerOption) (*Listener, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	l := &Listener{
		listener:    listener,
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Serve accepts connections and dispatches them to the handler until the
// context is canceled or accepting fails. Handlers receive ctx and should end
// their connection when it is canceled.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	l.logger.Info("listener started", "addr", l.listener.Addr())

	go func() {
		<-ctx.Done()

		if l.shutdownTimeout > 0 {
			l.logger.Info("graceful shutdown initiated", "timeout", l.shutdownTimeout)
			select {
			case <-time.After(l.shutdownTimeout):
			case <-l.shutdownNow:
				l.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		l.mu.Lock()
		l.shutdown = true
		l.mu.Unlock()
		// Unblock Accept.
		_ = l.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := l.listener.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown := l.shutdown
			l.mu.Unlock()

			if isShutdown {
				l.logger.Info("listener stopped", "addr", l.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Error("accept error", "error", err)
			return err
		}

		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		go handler.Handle(ctx, conn)
	}
}

// Close stops the listener. It bypasses any remaining shutdown timeout.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()

	select {
	case l.shutdownNow <- struct{}{}:
	default:
	}

	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// ServeServers returns a Handler that runs a Server with opts on every
// accepted connection. Each connection is half-closed when ctx is canceled.
func ServeServers(opts ...Option) Handler {
	return HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		logger := buildOptions(opts).logger
		if logger == nil {
			logger = defaultLogger()
		}

		s, err := NewServer(conn, conn, opts...)
		if err != nil {
			logger.Error("failed to create server", "remote_addr", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			return
		}

		go func() {
			select {
			case <-ctx.Done():
				_ = s.t.Disconnect(context.Background())
			case <-s.Done():
			}
		}()

		if err = s.Run(context.Background()); err != nil {
			logger.Debug("server connection ended", "remote_addr", conn.RemoteAddr(), "error", err)
		}
	})
}

// Dial connects to addr and returns a Client for the connection. The caller
// must call Run.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	c, err := NewClient(conn, conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}
