package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// GweiPlaces is the precision prices are kept at.
const GweiPlaces = 3

// TimeLayout is the persisted timestamp format (UTC, millisecond precision).
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Sample is one gas price observation.
type Sample struct {
	Time time.Time
	Gwei decimal.Decimal
}

// NewSample normalises a reading to persisted precision.
func NewSample(at time.Time, gwei decimal.Decimal) Sample {
	return Sample{
		Time: at.UTC().Truncate(time.Millisecond),
		Gwei: gwei.Round(GweiPlaces),
	}
}

// History is an insertion-ordered sequence of samples.
type History []Sample

// Prune keeps samples with Time >= now-window. Order is preserved.
func Prune(h History, now time.Time, window time.Duration) History {
	return Since(h, now.Add(-window))
}

// Since returns the samples at or after cutoff. Out-of-order input is fine.
func Since(h History, cutoff time.Time) History {
	kept := make(History, 0, len(h))
	for _, s := range h {
		if !s.Time.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

// Between returns samples with from <= Time < to.
func Between(h History, from, to time.Time) History {
	kept := make(History, 0, len(h))
	for _, s := range h {
		if !s.Time.Before(from) && s.Time.Before(to) {
			kept = append(kept, s)
		}
	}
	return kept
}
