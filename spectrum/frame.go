package spectrum

import (
	"encoding/json"
	"fmt"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// Frame is one computed spectrum ready for the browser. Center and Span
// are single-element arrays and S holds exactly one power value per
// transform bin, truncated to integer dB. The field order is part of the
// client protocol.
type Frame struct {
	Center []float64 `json:"center"`
	Span   []float64 `json:"span"`
	S      []int     `json:"s"`
}

// NewFrame builds a frame from a computed power spectrum, truncating each
// bin toward zero.
func NewFrame(center, span float64, power []float64) Frame {
	s := make([]int, len(power))
	for i, p := range power {
		s[i] = int(p)
	}
	return Frame{
		Center: []float64{center},
		Span:   []float64{span},
		S:      s,
	}
}

// Encode renders the frame as its JSON wire form.
func (f Frame) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", errors.Wrap(err, "frame", "Encode", "marshal spectrum frame")
	}
	return string(data), nil
}

// Validate checks the frame against the wire contract.
func (f Frame) Validate(bins int) error {
	if len(f.Center) != 1 || len(f.Span) != 1 {
		return errors.WrapInvalid(errors.New("center and span must hold one value"),
			"frame", "Validate", "check frame shape")
	}
	if len(f.S) != bins {
		return errors.WrapInvalid(
			fmt.Errorf("expected %d bins, got %d", bins, len(f.S)),
			"frame", "Validate", "check frame shape")
	}
	return nil
}
