package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodogramDCLandsInCenterBin(t *testing.T) {
	const n = 8
	samples := make(SampleBatch, n)
	for i := range samples {
		samples[i] = 1
	}

	out := make([]float64, n)
	p := NewPeriodogram()
	require.NoError(t, p.Estimate(samples, out))

	// unit DC normalizes to 0 dB, shifted to the middle bin
	assert.InDelta(t, 0, out[n/2], 1e-9)
	for i, db := range out {
		if i == n/2 {
			continue
		}
		assert.InDelta(t, p.Floor, db, 1e-9, "bin %d should sit on the floor", i)
	}
}

func TestPeriodogramToneBinPlacement(t *testing.T) {
	const n = 8
	samples := make(SampleBatch, n)
	for i := range samples {
		angle := 2 * math.Pi * float64(i) / n
		samples[i] = complex(float32(math.Cos(angle)), float32(math.Sin(angle)))
	}

	out := make([]float64, n)
	p := NewPeriodogram()
	require.NoError(t, p.Estimate(samples, out))

	// one cycle per block is bin 1, displayed just above center
	peak := 0
	for i := range out {
		if out[i] > out[peak] {
			peak = i
		}
	}
	assert.Equal(t, n/2+1, peak)
	assert.InDelta(t, 0, out[peak], 1e-4)
}

func TestPeriodogramUsesLeadingSamples(t *testing.T) {
	samples := make(SampleBatch, 32)
	for i := range samples {
		samples[i] = 1
	}

	out := make([]float64, 8)
	require.NoError(t, NewPeriodogram().Estimate(samples, out))
	assert.InDelta(t, 0, out[4], 1e-9)
}

func TestPeriodogramRejectsShortInput(t *testing.T) {
	p := NewPeriodogram()
	out := make([]float64, 16)
	assert.Error(t, p.Estimate(make(SampleBatch, 8), out))
	assert.Error(t, p.Estimate(nil, out))
	assert.Error(t, p.Estimate(make(SampleBatch, 8), nil))
}

func TestPeriodogramSilenceClampsToFloor(t *testing.T) {
	out := make([]float64, 4)
	p := NewPeriodogram()
	require.NoError(t, p.Estimate(make(SampleBatch, 4), out))
	for _, db := range out {
		assert.Equal(t, p.Floor, db)
	}
}
