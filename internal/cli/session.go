package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradebot/internal/models"
	"tradebot/internal/store"
	"tradebot/internal/stream"
	"tradebot/pkg/utils"
)

func addSessionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStopCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))
}

type runFlags struct {
	strategy string
	capital  float64
	target   float64
	hours    float64
	product  string
	mode     string
	params   map[string]string
}

func newRunCmd(app *App) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session and follow it until it ends",
		Long: `Start a trading session and stream its trades until it ends.

The session ends when its profit target is reached, when its maximum
duration elapses, or on Ctrl-C. Open positions are sold when the session
is stopped unless bot.exit_positions_on_stop is false.`,
		Example: `  tradebot run
  tradebot run --strategy breakout --capital 500000 --target 2500 --hours 2
  tradebot run --param quantity=3 --param max_positions=4
  tradebot run --mode live --product MIS`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Open(ctx); err != nil {
				return err
			}
			sc, err := sessionConfig(cmd, app, f)
			if err != nil {
				return err
			}
			return runSession(ctx, cmd, app, sc)
		},
	}

	cmd.Flags().StringVar(&f.strategy, "strategy", "", "strategy name (default: bot.strategy)")
	cmd.Flags().Float64Var(&f.capital, "capital", 0, "initial capital in rupees (default: trading.initial_capital)")
	cmd.Flags().Float64Var(&f.target, "target", 0, "net profit target in rupees, 0 for none (default: bot.target_profit)")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "maximum session duration in hours (default: bot.max_duration_hours)")
	cmd.Flags().StringVar(&f.product, "product", "", "product type: CNC or MIS (default: trading.product)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "trading mode: paper or live (default: trading.mode)")
	cmd.Flags().StringToStringVar(&f.params, "param", nil, "strategy parameter as name=value (repeatable)")

	return cmd
}

// sessionConfig merges run flags over configured defaults.
func sessionConfig(cmd *cobra.Command, app *App, f runFlags) (models.SessionConfig, error) {
	cfg := app.Config
	sc := models.SessionConfig{
		UserID:         app.UserID(cmd),
		Mode:           models.TradingMode(cfg.Trading.Mode),
		StrategyName:   cfg.Bot.Strategy,
		InitialCapital: decimal.NewFromFloat(cfg.Trading.InitialCapital),
		TargetProfit:   decimal.NewFromFloat(cfg.Bot.TargetProfit),
		MaxDuration:    cfg.MaxDuration(),
		Product:        models.ProductType(cfg.Trading.Product),
		Parameters:     make(map[string]float64, len(f.params)),
	}

	flags := cmd.Flags()
	if f.strategy != "" {
		sc.StrategyName = f.strategy
	}
	if flags.Changed("capital") {
		sc.InitialCapital = decimal.NewFromFloat(f.capital)
	}
	if flags.Changed("target") {
		sc.TargetProfit = decimal.NewFromFloat(f.target)
	}
	if flags.Changed("hours") {
		sc.MaxDuration = time.Duration(f.hours * float64(time.Hour))
	}
	if f.product != "" {
		sc.Product = models.ProductType(f.product)
	}
	if f.mode != "" {
		sc.Mode = models.TradingMode(f.mode)
	}

	for name, raw := range f.params {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sc, fmt.Errorf("invalid value for parameter %s: %q", name, raw)
		}
		sc.Parameters[name] = v
	}
	return sc, nil
}

// runSession starts a session and follows its events until it ends or ctx
// is cancelled, in which case the session is stopped.
func runSession(ctx context.Context, cmd *cobra.Command, app *App, sc models.SessionConfig) error {
	output := NewOutput(cmd)

	events := app.Hub.Subscribe()
	defer app.Hub.Unsubscribe(events)

	if addr := app.Config.Stream.ListenAddr; addr != "" {
		ws := stream.NewWSServer(app.Hub)
		go func() {
			if err := ws.ListenAndServe(ctx, addr); err != nil {
				app.Logger.Error().Err(err).Str("addr", addr).Msg("Event stream server failed")
			}
		}()
		if !output.IsJSON() {
			output.Dim("Streaming events on ws://%s/ws", addr)
		}
	}

	session, err := app.Controller.Start(ctx, sc)
	if err != nil {
		return err
	}
	if !output.IsJSON() {
		printSessionStarted(output, session)
	}

	done := app.Controller.Done(session.ID)
follow:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.SessionID == session.ID {
				printEvent(output, ev)
			}
		case <-done:
			break follow
		case <-ctx.Done():
			if !output.IsJSON() {
				output.Warning("\nStopping session %s...", session.ID)
			}
			if _, err := app.Controller.Stop(context.Background(), sc.UserID, session.ID); err != nil {
				return err
			}
			break follow
		}
	}
	drainEvents(output, events, session.ID)

	perf, err := app.Controller.Performance(context.Background(), sc.UserID, session.ID)
	if err != nil {
		return err
	}
	final, err := app.Controller.Wait(context.Background(), session.ID)
	if err != nil {
		return err
	}
	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"session":     final,
			"performance": perf,
		})
	}
	output.Println()
	printPerformance(output, perf, final.StatusMessage)
	return nil
}

// drainEvents prints events already queued for the session when its loop
// exited.
func drainEvents(output *Output, events <-chan models.Event, sessionID string) {
	if events == nil {
		return
	}
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SessionID == sessionID {
				printEvent(output, ev)
			}
		case <-timeout:
			return
		}
	}
}

func printSessionStarted(output *Output, s *models.BotSession) {
	target := "none"
	if s.TargetProfit.IsPositive() {
		target = utils.FormatINR(s.TargetProfit)
	}
	output.Box("Session "+s.ID, []string{
		fmt.Sprintf("Strategy:  %s", s.StrategyName),
		fmt.Sprintf("Mode:      %s (%s)", s.Mode, s.Product),
		fmt.Sprintf("Capital:   %s", utils.FormatINR(s.InitialCapital)),
		fmt.Sprintf("Target:    %s", target),
		fmt.Sprintf("Duration:  %s", FormatDuration(s.MaxDuration)),
	})
	output.Dim("Press Ctrl-C to stop.")
}

func printEvent(output *Output, ev models.Event) {
	if output.IsJSON() {
		_ = output.JSON(ev)
		return
	}
	ts := FormatTime(ev.Timestamp)
	switch data := ev.Data.(type) {
	case models.TradeExecutedData:
		side := fmt.Sprintf("%-4s", data.Action)
		if data.Action == models.OrderSideBuy {
			side = output.Green(side)
		} else {
			side = output.Red(side)
		}
		output.Printf("%s  %s %5d %-12s @ %s  fees %s\n", ts, side, data.Quantity,
			data.Symbol, data.Price, data.Brokerage)
	case models.PortfolioUpdateData:
		net, _ := decimal.NewFromString(data.NetPnL)
		output.Printf("%s  cash %s  value %s  net %s  positions %d\n", ts, data.AvailableCash,
			data.PortfolioValue, output.FormatPnL(net), data.OpenPositions)
	case models.StatusUpdateData:
		output.Printf("%s  %s  %s\n", ts, output.Status(data.Status), data.Message)
	}
}

func printPerformance(output *Output, p *models.SessionPerformance, message string) {
	lines := []string{
		fmt.Sprintf("Status:        %s", output.Status(p.Status)),
	}
	if message != "" {
		lines = append(lines, fmt.Sprintf("Reason:        %s", message))
	}
	lines = append(lines,
		fmt.Sprintf("Strategy:      %s", p.Strategy),
		fmt.Sprintf("Running time:  %s", FormatHours(p.RunningTimeHours)),
		fmt.Sprintf("Remaining:     %s", FormatHours(p.TimeRemainingHours)),
		fmt.Sprintf("Trades:        %d (fees %s)", p.TradeCount, utils.FormatINR(p.SessionFees)),
		fmt.Sprintf("Positions:     %d", p.PositionsCount),
		fmt.Sprintf("Capital used:  %s%%", p.CapitalUsagePercent.StringFixed(2)),
		fmt.Sprintf("Realized:      %s", output.FormatPnL(p.PnL.RealizedPnL)),
		fmt.Sprintf("Unrealized:    %s", output.FormatPnL(p.PnL.UnrealizedPnL)),
		fmt.Sprintf("Net P&L:       %s (%s)", output.FormatPnL(p.PnL.NetPnL), output.FormatPercent(p.PnL.ReturnPercent)),
	)
	if p.TargetProfit.IsPositive() {
		achieved := output.Yellow("not reached")
		if p.ProfitTargetAchieved {
			achieved = output.Green("reached")
		}
		lines = append(lines, fmt.Sprintf("Target:        %s (%s)", utils.FormatINR(p.TargetProfit), achieved))
	}
	output.Box("Session "+p.SessionID, lines)
}

func newStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a running session",
		Long: `Stop a running session. A session running in another tradebot process
sees the request at its next cycle and closes itself out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			output := NewOutput(cmd)

			net, err := app.Controller.Stop(ctx, app.UserID(cmd), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"session_id": args[0], "net_pnl": net.StringFixed(2)})
			}
			output.Success("✓ Stop requested for session %s", args[0])
			output.Printf("  Net P&L: %s\n", output.FormatPnL(net))
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	var logLimit int

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's performance and recent log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			output := NewOutput(cmd)

			perf, err := app.Controller.Performance(ctx, app.UserID(cmd), args[0])
			if err != nil {
				return err
			}
			session, err := app.Store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			logs, err := app.Store.ListLogs(ctx, args[0], logLimit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"performance": perf,
					"logs":        logs,
				})
			}
			printPerformance(output, perf, session.StatusMessage)
			if len(logs) > 0 {
				output.Println()
				output.Bold("Recent log")
				for _, l := range logs {
					line := fmt.Sprintf("  %s  %-7s %s", FormatDateTime(l.CreatedAt), l.Level, l.Message)
					switch l.Level {
					case "error":
						output.Error("%s", line)
					case "warning":
						output.Warning("%s", line)
					default:
						output.Println(line)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&logLimit, "logs", 20, "number of log lines to show")
	return cmd
}

func newSessionsCmd(app *App) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List trading sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			output := NewOutput(cmd)

			sessions, err := app.Store.ListSessions(ctx, store.SessionFilter{
				UserID: app.UserID(cmd),
				Status: models.SessionStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			sort.SliceStable(sessions, func(i, j int) bool {
				return sessions[i].StartedAt.After(sessions[j].StartedAt)
			})

			if output.IsJSON() {
				return output.JSON(sessions)
			}
			if len(sessions) == 0 {
				output.Dim("No sessions found")
				return nil
			}

			table := NewTable(output, "ID", "Strategy", "Mode", "Status", "Started", "Capital", "Final P&L", "Message")
			for _, s := range sessions {
				final := "-"
				if s.Status.Finished() && s.StoppedAt != nil {
					final = output.FormatPnL(s.FinalPnL)
				}
				table.AddRow(s.ID, s.StrategyName, string(s.Mode), output.Status(s.Status),
					FormatDateTime(s.StartedAt), utils.FormatCompact(s.InitialCapital), final,
					TruncateString(s.StatusMessage, 40))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, stopping, stopped, completed, error)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}
