package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// DefaultEventQueueSize bounds the reactor's pending event queue.
const DefaultEventQueueSize = 256

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventWritable
	eventDisconnect
	eventError
)

type event struct {
	kind    eventKind
	id      int
	info    ConnectInfo
	message string
	err     error

	// accepted carries the handler's OnConnect verdict back to the
	// poster. Only set for eventConnect.
	accepted chan error
}

// Reactor serializes transport events onto a single goroutine and
// dispatches them to a Handler. Socket read pumps and tickers post events
// concurrently; the handler only ever runs on the reactor goroutine.
type Reactor struct {
	handler Handler
	events  chan event
	done    chan struct{}
	logger  *slog.Logger

	// tick receives a token after each dispatched event, for Wait.
	tick chan struct{}
}

// NewReactor creates a reactor dispatching to the given handler.
func NewReactor(handler Handler, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{
		handler: handler,
		events:  make(chan event, DefaultEventQueueSize),
		done:    make(chan struct{}),
		logger:  logger.With("component", "transport.reactor"),
		tick:    make(chan struct{}, 1),
	}
}

// Run dispatches events until ctx is cancelled. It owns the handler: no
// callback fires after Run returns.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

// drain rejects queued connects so their posters are not left blocked.
// Other queued events are discarded.
func (r *Reactor) drain() {
	for {
		select {
		case ev := <-r.events:
			if ev.kind == eventConnect {
				r.logger.Debug("rejecting queued connect during shutdown", "client_id", ev.info.ID)
				ev.accepted <- errors.WrapInvalid(errors.ErrShuttingDown,
					"reactor", "drain", "accept connection")
			}
		default:
			return
		}
	}
}

func (r *Reactor) dispatch(ev event) {
	switch ev.kind {
	case eventConnect:
		ev.accepted <- r.handler.OnConnect(ev.info)
	case eventMessage:
		r.handler.OnMessage(ev.id, ev.message)
	case eventWritable:
		r.handler.OnWritable(ev.id)
	case eventDisconnect:
		r.handler.OnDisconnect(ev.id)
	case eventError:
		r.handler.OnError(ev.id, ev.err)
	}
	select {
	case r.tick <- struct{}{}:
	default:
	}
}

// Connect posts a connect event and blocks for the handler's verdict.
func (r *Reactor) Connect(info ConnectInfo) error {
	accepted := make(chan error, 1)
	select {
	case r.events <- event{kind: eventConnect, info: info, accepted: accepted}:
	case <-r.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "reactor", "Connect", "accept connection")
	}
	// The loop may exit between the post and the verdict; do not block on
	// a verdict that will never come.
	select {
	case err := <-accepted:
		return err
	case <-r.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "reactor", "Connect", "accept connection")
	}
}

// Message posts an inbound text message.
func (r *Reactor) Message(id int, message string) {
	r.post(event{kind: eventMessage, id: id, message: message})
}

// Writable posts a writable notification for one client.
func (r *Reactor) Writable(id int) {
	r.post(event{kind: eventWritable, id: id})
}

// Disconnect posts an orderly close notification.
func (r *Reactor) Disconnect(id int) {
	r.post(event{kind: eventDisconnect, id: id})
}

// Error posts a transport failure notification.
func (r *Reactor) Error(id int, err error) {
	r.post(event{kind: eventError, id: id, err: err})
}

func (r *Reactor) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Wait blocks until the reactor dispatches at least one event or the
// timeout elapses, reporting which happened. Useful to pace callers that
// poll reactor-driven state.
func (r *Reactor) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.tick:
		return true
	case <-timer.C:
		return false
	case <-r.done:
		return false
	}
}

// Done returns a channel closed once Run has returned.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}
