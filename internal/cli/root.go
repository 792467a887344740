// Package cli provides the command-line interface for the trading bot.
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradebot/internal/bot"
	"tradebot/internal/broker"
	"tradebot/internal/config"
	"tradebot/internal/ledger"
	"tradebot/internal/logging"
	"tradebot/internal/market"
	"tradebot/internal/resilience"
	"tradebot/internal/risk"
	"tradebot/internal/store"
	"tradebot/internal/stream"
	"tradebot/internal/telemetry"
	"tradebot/internal/universe"
	"tradebot/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Services are opened on first use
// so that commands such as version and config never touch the database.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store      store.Store
	Ledger     *ledger.Ledger
	Calendar   *market.Calendar
	Universe   *universe.Universe
	Hub        *stream.Hub
	Controller *bot.Controller

	closers []func(context.Context) error
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "tradebot",
		Short: "Automated paper and live trading bot for NSE equities",
		Long: `tradebot runs automated trading sessions against a paper ledger or a
Zerodha Kite account.

A session scans a symbol universe every cycle, turns strategy signals into
orders that pass the capital and position limits, and stops on Ctrl-C, on
reaching its profit target or when its time runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Logging.Level = "debug"
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close(context.Background())
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradebot)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("user", "", "user id owning sessions and accounts (default: trading.user_id)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addSessionCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)

	return rootCmd
}

// Open wires the store, ledger, brokers, event hub and controller.
func (a *App) Open(ctx context.Context) error {
	if a.Controller != nil {
		return nil
	}
	cfg := a.Config

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	if a.Calendar, err = market.NewCalendar(cfg.Market.Holidays); err != nil {
		return err
	}
	if a.Universe, err = universe.Load(cfg.Universe.Path); err != nil {
		return err
	}

	a.Ledger = ledger.New(cfg.LedgerConfig())
	gate := risk.NewGate(cfg.RiskGateConfig(), a.Ledger.Fees())

	paper := broker.NewSimulatedBroker(broker.SimulatedConfig{
		Cash:    decimal.NewFromFloat(cfg.Trading.InitialCapital),
		IsIndex: a.Universe.IsIndex,
		Seed:    time.Now().UnixNano(),
	})

	hubCfg := stream.DefaultHubConfig()
	if cfg.Stream.BufferSize > 0 {
		hubCfg.BufferSize = cfg.Stream.BufferSize
	}
	a.Hub = stream.NewHubWithConfig(hubCfg)
	a.Hub.Start(context.Background())
	a.closers = append(a.closers, func(context.Context) error {
		a.Hub.Stop()
		return nil
	})

	deps := bot.Deps{
		Ledger:      a.Ledger,
		Gate:        gate,
		Store:       st,
		PaperBroker: paper,
		Publisher:   a.Hub,
		Calendar:    a.Calendar,
		Universe:    a.Universe,
		Logger:      a.Logger,
	}
	if live := a.liveBroker(); live != nil {
		deps.LiveBroker = live
	}

	ctrl, err := bot.NewController(cfg.ControllerConfig(), deps)
	if err != nil {
		return err
	}
	a.Controller = ctrl
	// Runs before the hub and store close.
	a.closers = append(a.closers, func(ctx context.Context) error {
		ctrl.Shutdown(ctx)
		return nil
	})

	a.Logger.Debug().
		Str("store", cfg.Store.Path).
		Bool("live_broker", deps.LiveBroker != nil).
		Msg("Services initialized")
	return nil
}

// UserID returns the --user flag or the configured user.
func (a *App) UserID(cmd *cobra.Command) string {
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		return user
	}
	return a.Config.Trading.UserID
}

// liveBroker returns the Kite adapter behind the resilient wrapper, or nil
// when no credentials are configured.
func (a *App) liveBroker() broker.Broker {
	bc := a.Config.Broker
	kite, err := broker.NewKiteBroker(broker.KiteConfig{
		APIKey:      bc.APIKey,
		AccessToken: bc.AccessToken,
		BatchSize:   bc.QuoteBatchSize,
		Instrument:  a.Universe.Instrument,
	})
	if err != nil {
		a.Logger.Debug().Err(err).Msg("Live broker unavailable")
		return nil
	}

	rc := broker.DefaultResilientConfig()
	if bc.Timeout > 0 {
		rc.Timeout = bc.Timeout
	}
	if bc.MaxRetries > 0 {
		rc.Retry.MaxAttempts = bc.MaxRetries
	}
	if bc.BreakerFailures > 0 {
		rc.Breaker.FailureThreshold = bc.BreakerFailures
	}
	if bc.BreakerTimeout > 0 {
		rc.Breaker.Timeout = bc.BreakerTimeout
	}
	rc.RateLimit = bc.RateLimit
	log := a.Logger
	rc.Breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		log.Warn().Str("broker", name).Str("from", string(from)).Str("to", string(to)).Msg("Circuit breaker state changed")
	}
	return broker.NewResilientBroker(kite, rc)
}

// Close releases services in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("tradebot v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View the effective configuration and where it lives.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg without broker secrets.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Broker.APIKey = logging.MaskSecret(c.Broker.APIKey)
	c.Broker.APISecret = logging.MaskSecret(c.Broker.APISecret)
	c.Broker.AccessToken = logging.MaskSecret(c.Broker.AccessToken)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  User:             %s\n", cfg.Trading.UserID)
	output.Printf("  Initial Capital:  %s\n", utils.FormatINR(decimal.NewFromFloat(cfg.Trading.InitialCapital)))
	output.Printf("  Product:          %s\n", cfg.Trading.Product)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Max Capital Use:  %.0f%%\n", cfg.Risk.MaxCapitalUsage*100)
	output.Printf("  Max Positions:    %d\n", cfg.Risk.MaxPositions)
	output.Printf("  Signals/Cycle:    %d\n", cfg.Risk.MaxSignalsPerCycle)
	output.Printf("  Order Cash Limit: %.0f%%\n", cfg.Risk.MaxOrderCashFraction*100)
	output.Println()

	output.Bold("Bot Configuration")
	output.Printf("  Strategy:         %s\n", cfg.Bot.Strategy)
	output.Printf("  Target Profit:    %s\n", utils.FormatINR(decimal.NewFromFloat(cfg.Bot.TargetProfit)))
	output.Printf("  Max Duration:     %s\n", FormatHours(cfg.Bot.MaxDurationHours))
	output.Printf("  Cycle Interval:   %s\n", cfg.Bot.CycleInterval)
	output.Printf("  Exit On Stop:     %v\n", cfg.Bot.ExitPositionsOnStop)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:         %s\n", cfg.Store.Path)
	output.Printf("  Log File:         %s\n", cfg.Logging.FilePath)
	if cfg.Stream.ListenAddr != "" {
		output.Printf("  Event Stream:     ws://%s/ws\n", cfg.Stream.ListenAddr)
	}
	output.Printf("  Broker:           %s\n", credentialState(cfg))
}

func credentialState(cfg *config.Config) string {
	if cfg.Broker.APIKey == "" || cfg.Broker.AccessToken == "" {
		return "not configured (paper only)"
	}
	return "Kite credentials configured"
}
