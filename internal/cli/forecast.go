package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"watch-arbitrage/internal/app"
)

var (
	forecastProduct  string
	forecastCurrency string
	forecastPNGPath  string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project a reference price 30 days ahead",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(forecastProduct) == "" {
			return fmt.Errorf("--product is required")
		}

		opts := app.ForecastOptions{
			ProductID: forecastProduct,
			Currency:  forecastCurrency,
			PNGPath:   forecastPNGPath,
		}
		return getApp().Forecast(cmd.Context(), opts)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastProduct, "product", "", "Watch reference to forecast")
	forecastCmd.Flags().StringVar(&forecastCurrency, "currency", "", "Quote currency (defaults to the most profitable one)")
	forecastCmd.Flags().StringVar(&forecastPNGPath, "png", "", "Path to write the trend chart")
}
