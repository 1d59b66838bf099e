// Package iqstream subscribes to the receiver's IQ sample stream over
// NATS and feeds decoded batches into the spectral pipeline.
package iqstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
	"github.com/WRAN-OEVSV/IEEE802.22/spectrum"
)

// Sink consumes decoded sample batches. The spectrum worker implements
// it.
type Sink interface {
	Push(batch spectrum.SampleBatch)
}

// Config holds the NATS subscription settings.
type Config struct {
	// URL is the NATS server address. Empty disables the source.
	URL string `json:"url"`

	// Subject carries the raw IQ payloads.
	Subject string `json:"subject"`

	// Name identifies this client to the server.
	Name string `json:"name"`

	// ReconnectWait paces reconnect attempts.
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

// DefaultConfig returns the default subscription settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "rpx.iq.samples",
		Name:          "rpx-spectrum",
		ReconnectWait: 2 * time.Second,
	}
}

// Source is the NATS-backed IQ sample input. Payloads are interleaved
// little-endian float32 I/Q pairs; each message becomes one SampleBatch.
type Source struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	conn    *nats.Conn
	sub     *nats.Subscription
	running bool

	received atomic.Int64
	rejected atomic.Int64
}

// NewSource creates an IQ sample source feeding sink.
func NewSource(cfg Config, sink Sink, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "input.iqstream"),
	}
}

// Initialize validates the configuration.
func (s *Source) Initialize() error {
	if s.sink == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "iqstream", "Initialize", "sink cannot be nil")
	}
	if s.cfg.URL != "" && s.cfg.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "iqstream", "Initialize", "subject cannot be empty")
	}
	return nil
}

// Start connects to NATS and subscribes to the sample subject. With no
// URL configured the source stays idle; the rest of the service does not
// depend on it.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "iqstream", "Start", "start sample source")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "iqstream", "Start", "context cannot be nil")
	}
	if s.cfg.URL == "" {
		s.logger.Info("no NATS url configured, sample source disabled")
		return nil
	}

	conn, err := nats.Connect(s.cfg.URL,
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "iqstream", "Start",
			fmt.Sprintf("connect to %s", s.cfg.URL))
	}

	sub, err := conn.Subscribe(s.cfg.Subject, s.handleMessage)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "iqstream", "Start",
			fmt.Sprintf("subscribe to %s", s.cfg.Subject))
	}

	s.conn = conn
	s.sub = sub
	s.running = true
	s.logger.Info("sample source subscribed", "url", s.cfg.URL, "subject", s.cfg.Subject)
	return nil
}

// Stop drains the subscription and closes the connection.
func (s *Source) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.conn != nil {
		s.conn.SetClosedHandler(nil)
		done := make(chan struct{})
		go func() {
			s.conn.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.logger.Warn("nats connection did not close within timeout")
		}
		s.conn = nil
	}
	return nil
}

func (s *Source) handleMessage(msg *nats.Msg) {
	batch, err := DecodeBatch(msg.Data)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("malformed sample payload dropped",
			"subject", msg.Subject, "bytes", len(msg.Data), "error", err)
		return
	}
	s.received.Add(1)
	s.sink.Push(batch)
}

// Stats returns how many payloads were decoded and rejected.
func (s *Source) Stats() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

// DecodeBatch parses interleaved little-endian float32 I/Q pairs.
func DecodeBatch(data []byte) (spectrum.SampleBatch, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.New("empty payload"),
			"iqstream", "DecodeBatch", "decode samples")
	}
	if len(data)%8 != 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("payload length %d is not a whole number of IQ pairs", len(data)),
			"iqstream", "DecodeBatch", "decode samples")
	}

	batch := make(spectrum.SampleBatch, len(data)/8)
	for i := range batch {
		re := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
		batch[i] = complex(re, im)
	}
	return batch, nil
}

// EncodeBatch renders a batch in wire form. The inverse of DecodeBatch,
// used by tests and diagnostic publishers.
func EncodeBatch(batch spectrum.SampleBatch) []byte {
	data := make([]byte, len(batch)*8)
	for i, sample := range batch {
		binary.LittleEndian.PutUint32(data[i*8:], math.Float32bits(real(sample)))
		binary.LittleEndian.PutUint32(data[i*8+4:], math.Float32bits(imag(sample)))
	}
	return data
}
