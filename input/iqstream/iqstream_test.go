package iqstream

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WRAN-OEVSV/IEEE802.22/spectrum"
)

type collectSink struct {
	batches []spectrum.SampleBatch
}

func (c *collectSink) Push(batch spectrum.SampleBatch) {
	c.batches = append(c.batches, batch)
}

func TestDecodeBatchRoundTrip(t *testing.T) {
	want := spectrum.SampleBatch{
		complex(0.5, -0.25),
		complex(-1, 1),
		complex(0, 0.125),
	}

	got, err := DecodeBatch(EncodeBatch(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeBatchRejectsRaggedPayload(t *testing.T) {
	_, err := DecodeBatch(make([]byte, 7))
	assert.Error(t, err)

	_, err = DecodeBatch(make([]byte, 12))
	assert.Error(t, err)

	_, err = DecodeBatch(nil)
	assert.Error(t, err)
}

func TestDecodeBatchSampleCount(t *testing.T) {
	got, err := DecodeBatch(make([]byte, 512*8))
	require.NoError(t, err)
	assert.Len(t, got, 512)
}

func TestSourceInitializeValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewSource(DefaultConfig(), nil, logger)
	assert.Error(t, s.Initialize())

	cfg := DefaultConfig()
	cfg.Subject = ""
	s = NewSource(cfg, &collectSink{}, logger)
	assert.Error(t, s.Initialize())

	s = NewSource(DefaultConfig(), &collectSink{}, logger)
	assert.NoError(t, s.Initialize())
}

func TestSourceDisabledWithoutURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.URL = ""

	s := NewSource(cfg, &collectSink{}, logger)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(0))
}
