package storage

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEmptyWindow is returned when extrema are requested for no samples.
var ErrEmptyWindow = errors.New("storage: empty window")

// Extrema holds the lowest and highest price of a window.
type Extrema struct {
	Min   decimal.Decimal
	Max   decimal.Decimal
	Count int
}

// Evaluate computes min and max over samples.
func Evaluate(samples []Sample) (Extrema, error) {
	if len(samples) == 0 {
		return Extrema{}, ErrEmptyWindow
	}

	ext := Extrema{Min: samples[0].Gwei, Max: samples[0].Gwei, Count: len(samples)}
	for _, s := range samples[1:] {
		if s.Gwei.LessThan(ext.Min) {
			ext.Min = s.Gwei
		}
		if s.Gwei.GreaterThan(ext.Max) {
			ext.Max = s.Gwei
		}
	}
	return ext, nil
}
