// Package notify forwards completion signals to a remote compositor over
// socket.io.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event is the socket.io event every signal is emitted under.
const Event = "raster_signal"

// DefaultDialTimeout bounds how long Dial waits for the connection.
const DefaultDialTimeout = 15 * time.Second

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("notifier is closed")

// Emitter is the part of a socket.io client the forwarder needs.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Options configures Dial.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Message is the payload of one emitted signal.
type Message struct {
	Round  uint64 `json:"round"`
	Signal string `json:"signal"`
	At     string `json:"at"`
}

// Forwarder publishes signals to a connected emitter.
type Forwarder struct {
	mu     sync.Mutex
	emit   Emitter
	close  func()
	logger *slog.Logger
	sent   int
}

// New wraps an already connected emitter. closeFn may be nil.
func New(ctx context.Context, e Emitter, closeFn func()) *Forwarder {
	return &Forwarder{
		emit:   e,
		close:  closeFn,
		logger: ctxlog.FromContext(ctx).With("component", "notify"),
	}
}

// Dial connects to a socket.io server and returns a forwarder for it.
func Dial(ctx context.Context, o Options) (*Forwarder, error) {
	logger := ctxlog.FromContext(ctx).With("component", "notify", "url", o.URL)
	logger.Info("Connecting to compositor...")

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to compositor.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return New(ctx, io, func() { io.Disconnect() }), nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Publish emits one signal. Errors are returned, never retried.
func (f *Forwarder) Publish(round uint64, signal string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emit == nil {
		return ErrClosed
	}
	msg := Message{Round: round, Signal: signal, At: at.UTC().Format(time.RFC3339Nano)}
	if err := f.emit.Emit(Event, msg); err != nil {
		return fmt.Errorf("emitting %s for round %d: %w", signal, round, err)
	}
	f.sent++
	f.logger.Debug("Signal forwarded.", "round", round, "signal", signal)
	return nil
}

// Sent returns the number of signals emitted.
func (f *Forwarder) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// Close disconnects. Further Publish calls fail with ErrClosed.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emit == nil {
		return nil
	}
	f.emit = nil
	if f.close != nil {
		f.close()
	}
	f.logger.Debug("Notifier closed.", "sent", f.sent)
	return nil
}
