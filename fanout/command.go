package fanout

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
)

// Command is one parsed inbound client message: a name and an integer
// parameter.
type Command struct {
	Name  string
	Param int
}

// ParseCommand splits a raw inbound message at the first colon into a
// command name and integer parameter. A message with no colon is a bare
// command with parameter 0.
func ParseCommand(raw string) (Command, error) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return Command{Name: raw}, nil
	}
	param, err := strconv.Atoi(raw[idx+1:])
	if err != nil {
		return Command{}, errors.WrapInvalid(errors.ErrCommandParse,
			"dispatcher", "ParseCommand", fmt.Sprintf("parse parameter %q", raw))
	}
	return Command{Name: raw[:idx], Param: param}, nil
}

// CommandHandler reacts to one parsed command from one client.
type CommandHandler func(clientID, param int)

// Dispatcher routes parsed commands to registered handlers. Malformed
// messages are counted and dropped; they never disturb the connection.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler

	logger  *slog.Logger
	metrics *metric.Core
}

// NewDispatcher creates an empty command dispatcher.
func NewDispatcher(logger *slog.Logger, metrics *metric.Core) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]CommandHandler),
		logger:   logger.With("component", "fanout.dispatcher"),
		metrics:  metrics,
	}
}

// Register binds a handler to a command name, replacing any previous
// binding.
func (d *Dispatcher) Register(name string, handler CommandHandler) {
	d.mu.Lock()
	d.handlers[name] = handler
	d.mu.Unlock()
}

// Dispatch parses a raw inbound message and invokes the matching handler.
// Unknown commands and parse failures are logged and dropped.
func (d *Dispatcher) Dispatch(clientID int, raw string) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CommandErrors.Inc()
		}
		d.logger.Warn("malformed command dropped", "client_id", clientID, "raw", raw)
		return err
	}
	if d.metrics != nil {
		d.metrics.CommandsReceived.WithLabelValues(cmd.Name).Inc()
	}

	d.mu.RLock()
	handler, ok := d.handlers[cmd.Name]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("unhandled command", "client_id", clientID, "command", cmd.Name, "param", cmd.Param)
		return nil
	}
	handler(clientID, cmd.Param)
	return nil
}
