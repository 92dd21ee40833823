package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Show prints recent runs and the opportunities they stored.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show opportunities")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tRun\tBrand\tObs\tUsable\tOpps\tSkipped\tStatus\tError")
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.ID.String()[:8],
			run.Brand,
			run.Observations,
			run.Usable,
			run.Opportunities,
			run.SkippedGroups,
			run.Status,
			errMsg,
		)
	}
	writer.Flush()

	opps, err := store.ListRecentOpportunities(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(opps) == 0 {
		return nil
	}

	ref := a.Config.FX.ReferenceCurrency
	fmt.Fprintln(a.Out)
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tReference\tDirection\tBuy\tSell\tRate\tProfit\tProfit%")
	for _, o := range opps {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s %s\t%s %s\t%s\t%s\t%s\n",
			model.DateKey(o.Date),
			o.ProductID,
			o.Direction.Label(ref),
			formatDecimal(o.BuyPriceLocal, 2), o.BuyCurrency,
			formatDecimal(o.SellPriceLocal, 2), o.SellCurrency,
			formatDecimal(o.ImpliedRate, 4),
			formatDecimal(o.ProfitReference, 2),
			formatDecimal(o.ProfitPct, 1),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
