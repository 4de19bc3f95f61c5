package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"gaswatch/internal/alerting"
	"gaswatch/internal/storage"
)

// Show prints the newest samples followed by the retained and daily extrema.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	history, err := a.openStore().Peek(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}

	recent := history
	if opts.Limit > 0 && len(recent) > opts.Limit {
		recent = recent[len(recent)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tGwei")
	for i := len(recent) - 1; i >= 0; i-- {
		fmt.Fprintf(writer, "%s\t%s\n", alerting.FormatTime(recent[i].Time, loc), recent[i].Gwei.StringFixed(storage.GweiPlaces))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	now := time.Now()
	fmt.Fprintln(a.Out)
	a.printExtrema("7d", storage.Prune(history, now, a.Config.History.Retention))
	a.printExtrema("24h", storage.Prune(history, now, a.Config.History.DailyWindow))
	return nil
}

func (a *App) printExtrema(label string, window storage.History) {
	ext, err := storage.Evaluate(window)
	if errors.Is(err, storage.ErrEmptyWindow) {
		fmt.Fprintf(a.Out, "%s: no samples\n", label)
		return
	}
	fmt.Fprintf(a.Out, "%s: low %s gwei, high %s gwei (%d samples)\n", label, ext.Min.String(), ext.Max.String(), ext.Count)
}
