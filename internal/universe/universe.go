// Package universe defines which symbols the bot scans.
package universe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tradebot/internal/models"
	"tradebot/internal/risk"
)

// Universe is the candidate symbol list.
type Universe struct {
	Stocks  []string `yaml:"stocks"`
	Indices []string `yaml:"indices"`
	// IndexSymbols maps an index to its exchange trading symbol.
	IndexSymbols map[string]string `yaml:"index_symbols"`
	// IntradayExcluded cannot be squared off intraday and is dropped for MIS.
	IntradayExcluded []string `yaml:"intraday_excluded"`
}

// Default returns the built-in NSE large-cap universe.
func Default() *Universe {
	return &Universe{
		Stocks: []string{
			"RELIANCE", "TCS", "HDFCBANK", "INFY", "HINDUNILVR", "SBIN", "BHARTIARTL",
			"ITC", "KOTAKBANK", "ICICIBANK", "LT", "AXISBANK", "ASIANPAINT", "MARUTI",
			"SUNPHARMA", "TITAN", "ULTRACEMCO", "WIPRO", "NESTLEIND", "HCLTECH",
		},
		Indices: []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY"},
		IndexSymbols: map[string]string{
			"NIFTY":      "NIFTY 50",
			"BANKNIFTY":  "NIFTY BANK",
			"FINNIFTY":   "NIFTY FIN SERVICE",
			"MIDCPNIFTY": "NIFTY MID SELECT",
		},
	}
}

// Load reads a universe from a YAML file. An empty path returns Default.
func Load(path string) (*Universe, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML universe.
func Parse(data []byte) (*Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse universe: %w", err)
	}
	if len(u.Stocks) == 0 {
		return nil, fmt.Errorf("universe has no stocks")
	}
	if u.IndexSymbols == nil {
		u.IndexSymbols = Default().IndexSymbols
	}
	return &u, nil
}

// Candidates returns the tradeable stocks for the product type.
func (u *Universe) Candidates(product models.ProductType) []string {
	if product != models.ProductMIS {
		out := make([]string, len(u.Stocks))
		copy(out, u.Stocks)
		return out
	}
	excluded := make(map[string]struct{}, len(u.IntradayExcluded))
	for _, s := range u.IntradayExcluded {
		excluded[s] = struct{}{}
	}
	return risk.FilterUniverse(u.Stocks, excluded)
}

// IsIndex reports whether symbol is an index rather than a stock.
func (u *Universe) IsIndex(symbol string) bool {
	for _, s := range u.Indices {
		if s == symbol {
			return true
		}
	}
	return false
}

// Instrument returns the exchange-qualified instrument for symbol,
// e.g. "NSE:TCS" or "INDICES:NIFTY 50".
func (u *Universe) Instrument(symbol string) string {
	if u.IsIndex(symbol) {
		name := symbol
		if mapped, ok := u.IndexSymbols[symbol]; ok {
			name = mapped
		}
		return string(models.Indices) + ":" + name
	}
	return string(models.NSE) + ":" + symbol
}
