package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"watch-arbitrage/internal/export"
	"watch-arbitrage/internal/model"
)

// Forecast projects a product's reference price and optionally renders the trend chart.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	productID := strings.TrimSpace(opts.ProductID)
	if productID == "" {
		return errors.New("product reference is required")
	}

	rt, err := a.build(ctx, false, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.svc.Forecast(ctx, productID, opts.Currency)
	if err != nil {
		return fmt.Errorf("forecast %s: %w", productID, err)
	}

	ref := a.Config.FX.ReferenceCurrency
	fmt.Fprintf(a.Out, "Forecast for %s quoted in %s\n", res.ProductID, res.Currency)
	fmt.Fprintf(a.Out, "Points: %d\n", len(res.Points))
	fmt.Fprintf(a.Out, "Last price (%s): %s %s\n", model.DateKey(res.LastDate), formatDecimal(res.LastPrice, 2), ref)
	fmt.Fprintf(a.Out, "Forecast (%s): %s %s\n", model.DateKey(res.ForecastDate), formatDecimal(res.ForecastPrice, 2), ref)
	fmt.Fprintf(a.Out, "Expected benefit: %s %s\n", formatDecimal(res.Benefit, 2), ref)

	if opts.PNGPath != "" {
		if err := export.WriteForecastChart(opts.PNGPath, res); err != nil {
			return fmt.Errorf("write forecast chart: %w", err)
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("forecast chart written")
	}
	return nil
}
