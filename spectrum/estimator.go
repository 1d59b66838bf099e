package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// Estimator computes a power spectrum from one block of samples. The
// output is ordered for display: lowest frequency first, center frequency
// in the middle bin. Implementations are not required to be safe for
// concurrent use; the worker serializes calls.
type Estimator interface {
	// Estimate fills out with per-bin power in dB. len(out) determines
	// the transform size; samples must hold at least that many values.
	Estimate(samples []complex64, out []float64) error
}

// Periodogram is the default estimator: a direct DFT of the first
// len(out) samples with magnitude-squared detection and a dB scale. Slow
// next to an FFT but dependency-free and exact at any transform size.
type Periodogram struct {
	// Floor clamps bins with no energy so the log scale stays finite.
	Floor float64
}

// NewPeriodogram creates a periodogram estimator with a -120 dB floor.
func NewPeriodogram() *Periodogram {
	return &Periodogram{Floor: -120}
}

// Estimate computes the periodogram of the first len(out) samples.
func (p *Periodogram) Estimate(samples []complex64, out []float64) error {
	n := len(out)
	if n == 0 {
		return errors.WrapInvalid(errors.New("transform size must be positive"),
			"periodogram", "Estimate", "check output buffer")
	}
	if len(samples) < n {
		return errors.WrapInvalid(
			fmt.Errorf("need %d samples, got %d", n, len(samples)),
			"periodogram", "Estimate", "check input block")
	}

	norm := 1 / float64(n*n)
	for k := 0; k < n; k++ {
		var sum complex128
		for i := 0; i < n; i++ {
			angle := -2 * math.Pi * float64(k) * float64(i) / float64(n)
			sum += complex128(samples[i]) * cmplx.Exp(complex(0, angle))
		}
		power := real(sum)*real(sum) + imag(sum)*imag(sum)
		db := 10 * math.Log10(power*norm)
		if math.IsNaN(db) || db < p.Floor {
			db = p.Floor
		}

		// reorder so the center frequency lands in the middle bin
		out[(k+n/2)%n] = db
	}
	return nil
}
