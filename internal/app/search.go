package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/offers"
)

// Search runs one cycle now. A dry run only fetches and filters: nothing is
// decided, stored or sent.
func (a *App) Search(ctx context.Context, w io.Writer, opts SearchOptions) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.DryRun {
		candidates, err := rt.svc.Preview(ctx)
		if err != nil {
			return err
		}
		return writeCandidates(w, candidates)
	}

	if err := rt.svc.Prime(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("could not restore today's best price")
	}
	report, err := rt.svc.RunSearch(ctx)
	fmt.Fprintln(w, alerting.FormatSearchOutcome(report.Outcome(err)))
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Fprintln(w, "cycle skipped: another search holds the lock")
	}
	if report.StorageErr != nil {
		fmt.Fprintf(w, "warning: history not saved: %s\n", sanitizeInline(report.StorageErr.Error()))
	}
	return nil
}

func writeCandidates(w io.Writer, candidates []offers.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "no offers matched the departure windows")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Per person\tTotal\tCarriers\tOutbound\tInbound")
	for _, c := range candidates {
		fmt.Fprintf(writer, "%s %s\t%s %s\t%v\t%s\t%s\n",
			c.PricePerPerson.StringFixed(2), c.Currency,
			c.TotalPrice.StringFixed(2), c.Currency,
			c.Carriers,
			legTime(c.OutboundDeparture),
			legTime(c.InboundDeparture),
		)
	}
	return writer.Flush()
}
