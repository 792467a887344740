package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trading bot configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Owner of sessions started from this machine
user_id = "local"
# Starting capital of the virtual account in INR
initial_capital = 1000000.0
# Product type: MIS (intraday) or CNC (delivery)
product = "CNC"

[risk]
# Fraction of initial capital that may be committed, fees included
max_capital_usage = 0.8
# Maximum number of distinct open positions
max_positions = 5
# Strategies may emit at most this many signals per cycle
max_signals_per_cycle = 10
# A single buy may spend at most this fraction of available cash
max_order_cash_fraction = 0.1

[bot]
strategy = "mean_reversion"
# Stop when net P&L reaches this amount in INR
target_profit = 5000.0
max_duration_hours = 8.0
cycle_interval = "3s"
sleep_slice = "100ms"
# Sell every open position when a session is stopped
exit_positions_on_stop = true
# Log a status line every N cycles
status_log_every = 10

[fees]
intraday_brokerage_rate = 0.0003
brokerage_cap = 20.0
delivery_brokerage_rate = 0.0
stt_rate = 0.00025
transaction_charge_rate = 0.0000345
gst_rate = 0.18
sebi_rate = 0.000001
stamp_duty_rate = 0.00003
# Exit-all sells this fraction below the quote
exit_discount = 0.005

[broker]
timeout = "10s"
max_retries = 3
# Consecutive failures before the circuit opens
breaker_failures = 5
breaker_timeout = "30s"
quote_batch_size = 200
# Requests per second to Kite; 0 disables the limiter
rate_limit = 3.0

[store]
# path = "~/.config/tradebot/tradebot.db"

[stream]
# Websocket event stream, e.g. ":8090". Empty disables it.
listen_addr = ""
buffer_size = 1000

[market]
# Exchange holidays, YYYY-MM-DD
holidays = []

[universe]
# YAML symbol universe. Empty uses the built-in list.
path = ""

[logging]
level = "info"
console = true
file = true
max_size = 10
max_backups = 5
max_age = 30
json = false

[telemetry]
tracing = false
service_name = "tradebot"
`

const credentialsTemplate = `# Kite Connect credentials
# Environment variables KITE_API_KEY, KITE_API_SECRET and KITE_ACCESS_TOKEN
# take precedence over this file.

[broker]
api_key = ""
api_secret = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
