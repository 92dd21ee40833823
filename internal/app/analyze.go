package app

import (
	"context"
	"fmt"

	"watch-arbitrage/internal/report"
	"watch-arbitrage/internal/service"
)

// Analyze runs the pipeline once and prints the report followed by dataset insights.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	rt, err := a.build(ctx, true, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.svc.Analyze(ctx, opts.runOptions())
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, res.Report)
	fmt.Fprintln(a.Out)
	fmt.Fprintln(a.Out, report.RenderInsights(res.Insights, a.Config.FX.ReferenceCurrency))
	if len(res.StablePairs) > 0 {
		fmt.Fprintln(a.Out)
		fmt.Fprintln(a.Out, "STABLE CURRENCY PAIRS")
		for _, p := range res.StablePairs {
			fmt.Fprintf(a.Out, "- %s: %d occurrences, mean %s%%, success %.0f%%\n",
				p.Currency, p.Occurrences, formatDecimal(p.MeanProfitPct, 1), p.SuccessRate*100)
		}
	}

	log := a.Logger.Info().
		Str("run_id", res.RunID.String()).
		Int("opportunities", len(res.Scan.Opportunities)).
		Strs("artifacts", res.Artifacts).
		Strs("uploaded", res.Uploaded).
		Bool("alerted", res.Alerted)
	if len(res.SinkErrors) > 0 {
		log = log.Int("sink_errors", len(res.SinkErrors))
	}
	log.Msg("analysis finished")
	return nil
}

func (o AnalyzeOptions) runOptions() service.RunOptions {
	return service.RunOptions{CSVDir: o.CSVDir, PNGDir: o.PNGDir, NoPersist: o.NoPersist}
}
