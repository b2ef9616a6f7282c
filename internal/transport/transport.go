package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
)

const (
	KindSSE       = "sse"
	KindWebSocket = "websocket"

	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// ErrReconnectExhausted is reported with CLOSED when every reconnect attempt failed
var ErrReconnectExhausted = errors.New("stream reconnect attempts exhausted")

// interruptedError marks a connection that failed abnormally after it was
// open. The lifecycle reports it with OPEN before reconnecting.
type interruptedError struct {
	err error
}

func (e *interruptedError) Error() string {
	return e.err.Error()
}

func (e *interruptedError) Unwrap() error {
	return e.err
}

// Options configure reconnect behaviour shared by all transports
type Options struct {
	// MaxReconnectAttempts bounds consecutive failed reconnects. Zero closes
	// the transport on the first failure.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// OptionsFromConfig maps the stream section of the configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxReconnectAttempts: cfg.Stream.ReconnectAttempts,
		ReconnectDelay:       time.Duration(cfg.Stream.ReconnectDelayMs) * time.Millisecond,
	}
}

// NewFactory returns a factory building the transport kind named in cfg
func NewFactory(cfg *config.Config) (domain.TransportFactory, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.Stream.Transport {
	case "", KindSSE:
		return func() domain.StreamTransport { return NewSSETransport(nil, opts) }, nil
	case KindWebSocket:
		return func() domain.StreamTransport { return NewWebSocketTransport(nil, opts) }, nil
	default:
		return nil, fmt.Errorf("unsupported stream transport: %s", cfg.Stream.Transport)
	}
}

// connectFunc runs one connection attempt. It calls opened once the stream
// is established and returns when the connection ends. permanent reports
// that no reconnect should be attempted.
type connectFunc func(ctx context.Context, handler domain.StreamHandler, opened func()) (permanent bool, err error)

// lifecycle implements the readyState machine and reconnect loop shared by
// the SSE and WebSocket transports.
type lifecycle struct {
	opts  Options
	state atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	done    chan struct{}

	// delay is only touched from the run goroutine
	delay time.Duration
}

func newLifecycle(opts Options) *lifecycle {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	l := &lifecycle{opts: opts, delay: opts.ReconnectDelay, done: make(chan struct{})}
	l.state.Store(int32(domain.ReadyStateClosed))
	return l
}

func (l *lifecycle) ReadyState() domain.ReadyState {
	return domain.ReadyState(l.state.Load())
}

func (l *lifecycle) setState(s domain.ReadyState) {
	l.state.Store(int32(s))
}

func (l *lifecycle) start(ctx context.Context, url string, handler domain.StreamHandler, connect connectFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return domain.ErrTransportClosed
	}
	if l.started {
		return fmt.Errorf("transport already opened")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.started = true
	l.setState(domain.ReadyStateConnecting)

	go l.run(runCtx, url, handler, connect)
	return nil
}

// Close stops the transport without waiting for the run goroutine
func (l *lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.setState(domain.ReadyStateClosed)
	if l.cancel != nil {
		l.cancel()
	} else {
		close(l.done)
	}
	return nil
}

// Done is closed when the run goroutine has exited
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *lifecycle) run(ctx context.Context, url string, handler domain.StreamHandler, connect connectFunc) {
	defer close(l.done)
	defer l.setState(domain.ReadyStateClosed)

	failures := 0
	for {
		l.setState(domain.ReadyStateConnecting)
		wasOpened := false

		permanent, err := connect(ctx, handler, func() {
			if ctx.Err() != nil {
				return
			}
			wasOpened = true
			failures = 0
			l.delay = l.opts.ReconnectDelay
			l.setState(domain.ReadyStateOpen)
			handler.OnOpen()
		})

		if ctx.Err() != nil {
			return
		}

		if permanent {
			logger.Debug("stream closed by server", "url", url, "error", err)
			l.setState(domain.ReadyStateClosed)
			handler.OnError(domain.ReadyStateClosed, err)
			return
		}

		var interrupted *interruptedError
		if wasOpened && errors.As(err, &interrupted) {
			logger.Debug("stream interrupted while open", "url", url, "error", interrupted.err)
			handler.OnError(domain.ReadyStateOpen, interrupted.err)
		}

		if !wasOpened {
			failures++
		}
		if failures > l.opts.MaxReconnectAttempts {
			l.setState(domain.ReadyStateClosed)
			handler.OnError(domain.ReadyStateClosed, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, err))
			return
		}

		l.setState(domain.ReadyStateConnecting)
		handler.OnError(domain.ReadyStateConnecting, err)

		wait := l.delay
		if !wasOpened && failures > 1 {
			wait = backoff(l.delay, failures-1)
		}
		logger.Debug("stream reconnecting", "url", url, "attempt", failures, "delay", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// backoff doubles base per attempt up to maxReconnectDelay
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return d
}
