package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradebot/internal/market"
	"tradebot/internal/models"
	"tradebot/internal/store"
	"tradebot/internal/strategy"
	"tradebot/pkg/utils"
)

func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStrategiesCmd())
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newMarketCmd(app))
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List available strategies and their parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			catalog := strategy.Catalog()
			if output.IsJSON() {
				return output.JSON(catalog)
			}

			for i, def := range catalog {
				if i > 0 {
					output.Println()
				}
				output.Bold("%s (%s)", def.DisplayName, def.Name)
				output.Dim("  %s", def.Description)
				table := NewTable(output, "  Parameter", "Default", "Range", "Description")
				for _, p := range def.Params {
					table.AddRow("  "+p.Name, formatParam(p.Default),
						formatParam(p.Min)+" - "+formatParam(p.Max), p.Description)
				}
				table.Render()
			}
			return nil
		},
	}
}

func formatParam(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// accountKey resolves the account addressed by --user and --mode.
func accountKey(cmd *cobra.Command, app *App, mode string) (models.AccountKey, error) {
	if mode == "" {
		mode = app.Config.Trading.Mode
	}
	m := models.TradingMode(mode)
	if !m.Valid() {
		return models.AccountKey{}, fmt.Errorf("invalid mode %q: must be paper or live", mode)
	}
	return models.AccountKey{UserID: app.UserID(cmd), Mode: m}, nil
}

func newPortfolioCmd(app *App) *cobra.Command {
	var (
		mode    string
		reset   bool
		capital float64
	)

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show or reset an account's portfolio",
		Long: `Show cash, open positions and P&L of an account valued at current prices.

With --reset the account returns to its initial capital (or --capital).
The trade history is kept. An account with a running session cannot be reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			output := NewOutput(cmd)

			key, err := accountKey(cmd, app, mode)
			if err != nil {
				return err
			}

			if reset {
				snap, err := app.Controller.ResetPortfolio(ctx, key, decimal.NewFromFloat(capital))
				if err != nil {
					return err
				}
				if !output.IsJSON() {
					output.Success("✓ Portfolio %s reset to %s", key, utils.FormatINR(snap.InitialCapital))
					output.Println()
				}
			}

			summary, err := app.Controller.PortfolioSummary(ctx, key)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			printPortfolio(output, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "account mode: paper or live (default: trading.mode)")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the account to its starting capital")
	cmd.Flags().Float64Var(&capital, "capital", 0, "new starting capital when resetting")
	return cmd
}

func printPortfolio(output *Output, s models.PortfolioSummary) {
	output.Box("Portfolio "+s.Key.String(), []string{
		fmt.Sprintf("Initial capital:  %s", utils.FormatINR(s.InitialCapital)),
		fmt.Sprintf("Available cash:   %s", utils.FormatINR(s.AvailableCash)),
		fmt.Sprintf("Invested:         %s", utils.FormatINR(s.InvestedAmount)),
		fmt.Sprintf("Positions value:  %s", utils.FormatINR(s.PositionsValue)),
		fmt.Sprintf("Portfolio value:  %s", utils.FormatINR(s.PortfolioValue)),
		fmt.Sprintf("Net P&L:          %s (%s)", output.FormatPnL(s.NetPnL), output.FormatPercent(s.ReturnPercent)),
		fmt.Sprintf("Capital used:     %s%%", s.CapitalUsagePercent.StringFixed(2)),
		fmt.Sprintf("Fees paid:        %s", utils.FormatINR(s.TotalBrokerage)),
		fmt.Sprintf("Trades:           %d", s.TradeCount),
	})

	if len(s.Positions) == 0 {
		output.Dim("No open positions")
		return
	}
	output.Println()
	table := NewTable(output, "Symbol", "Qty", "Avg Price", "LTP", "Value", "P&L", "P&L %")
	for _, p := range s.Positions {
		table.AddRow(p.Symbol, utils.FormatQuantity(int64(p.Quantity)),
			p.AveragePrice.StringFixed(2), p.CurrentPrice.StringFixed(2),
			utils.FormatINR(p.CurrentValue), output.FormatPnL(p.UnrealizedPnL),
			output.FormatPercent(p.PnLPercent))
	}
	table.Render()
}

func newTradesCmd(app *App) *cobra.Command {
	var (
		mode      string
		sessionID string
		symbol    string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List executed trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			output := NewOutput(cmd)

			filter := store.TradeFilter{
				UserID:      app.UserID(cmd),
				SessionID:   sessionID,
				Symbol:      strings.ToUpper(symbol),
				NewestFirst: true,
				Limit:       limit,
			}
			if mode != "" {
				key, err := accountKey(cmd, app, mode)
				if err != nil {
					return err
				}
				filter.Mode = key.Mode
			}

			trades, err := app.Store.ListTrades(ctx, filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades found")
				return nil
			}

			table := NewTable(output, "Time", "Mode", "Symbol", "Side", "Qty", "Price", "Value", "Fees", "Realized", "Order")
			for _, t := range trades {
				realized := "-"
				if t.Side == models.OrderSideSell {
					realized = output.FormatPnL(t.RealizedPnL)
				}
				table.AddRow(FormatDateTime(t.Timestamp), string(t.Account.Mode), t.Symbol, output.Side(t.Side),
					utils.FormatQuantity(int64(t.Quantity)), t.Price.StringFixed(2),
					utils.FormatINR(t.Value), t.Fees.StringFixed(2), realized, t.OrderID)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "filter by account mode: paper or live")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trades to list")
	return cmd
}

func newMarketCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show NSE market status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cal, err := market.NewCalendar(app.Config.Market.Holidays)
			if err != nil {
				return err
			}

			now := cal.Now()
			status := cal.StatusAt(now)
			next := cal.NextOpen(now)
			closeAt := market.CloseAt(now)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"status":    status,
					"message":   cal.Message(now),
					"time":      now.In(market.IndiaLocation),
					"next_open": next,
					"close_at":  closeAt,
				})
			}

			output.Printf("%s  %s\n", output.MarketStatus(status), cal.Message(now))
			output.Printf("  Time (IST):  %s\n", FormatDateTime(now))
			if status == models.MarketOpen {
				output.Printf("  Closes in:   %s\n", FormatDuration(closeAt.Sub(now).Truncate(time.Second)))
			} else {
				output.Printf("  Next open:   %s (in %s)\n", FormatDateTime(next), FormatDuration(next.Sub(now)))
			}
			return nil
		},
	}
}
