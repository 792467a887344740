// Package strategy produces trade intents from market prices.
//
// Strategies are pluggable behind Generator. Whatever a generator returns is
// passed through Contract.Enforce before it reaches the risk gate.
package strategy

import (
	"fmt"
	"sort"

	apperrors "tradebot/internal/errors"
)

// ParamSpec describes one numeric strategy parameter.
type ParamSpec struct {
	Name        string
	Default     float64
	Min         float64
	Max         float64
	Description string
}

// Definition describes a selectable strategy.
type Definition struct {
	Name        string
	DisplayName string
	Description string
	Params      []ParamSpec
}

var catalog = []Definition{
	{
		Name:        "moving_average_crossover",
		DisplayName: "Moving Average Crossover",
		Description: "Generates signals when short-term MA crosses long-term MA",
		Params: []ParamSpec{
			{Name: "short_window", Default: 5, Min: 1, Max: 50, Description: "Short moving average window"},
			{Name: "long_window", Default: 20, Min: 5, Max: 100, Description: "Long moving average window"},
			{Name: "quantity", Default: 10, Min: 1, Max: 100, Description: "Quantity to trade per signal"},
			{Name: "max_positions", Default: 5, Min: 1, Max: 20, Description: "Maximum number of simultaneous positions"},
		},
	},
	{
		Name:        "mean_reversion",
		DisplayName: "Mean Reversion",
		Description: "Trades based on price deviations from historical mean",
		Params: []ParamSpec{
			{Name: "lookback_period", Default: 10, Min: 5, Max: 50, Description: "Lookback period for mean calculation"},
			{Name: "deviation_threshold", Default: 2.0, Min: 1.0, Max: 5.0, Description: "Standard deviation threshold"},
			{Name: "quantity", Default: 5, Min: 1, Max: 50, Description: "Quantity to trade per signal"},
			{Name: "max_positions", Default: 5, Min: 1, Max: 20, Description: "Maximum number of simultaneous positions"},
		},
	},
	{
		Name:        "breakout",
		DisplayName: "Breakout Strategy",
		Description: "Trades when price breaks through support/resistance levels",
		Params: []ParamSpec{
			{Name: "resistance_level", Default: 1.02, Min: 1.01, Max: 1.10, Description: "Resistance level multiplier"},
			{Name: "support_level", Default: 0.98, Min: 0.90, Max: 0.99, Description: "Support level multiplier"},
			{Name: "quantity", Default: 8, Min: 1, Max: 50, Description: "Quantity to trade per signal"},
			{Name: "max_positions", Default: 5, Min: 1, Max: 20, Description: "Maximum number of simultaneous positions"},
		},
	},
}

// Catalog returns every selectable strategy.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a strategy by name.
func Lookup(name string) (Definition, bool) {
	for _, def := range catalog {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Validate checks params against the named strategy. Unknown parameter
// names are rejected.
func Validate(name string, params map[string]float64) error {
	def, ok := Lookup(name)
	if !ok {
		return apperrors.NewValidationError("strategy", name, "unknown strategy")
	}

	specs := make(map[string]ParamSpec, len(def.Params))
	for _, p := range def.Params {
		specs[p.Name] = p
	}

	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		spec, ok := specs[n]
		if !ok {
			return apperrors.NewValidationError(n, params[n], fmt.Sprintf("not a parameter of %s", name))
		}
		v := params[n]
		if v < spec.Min {
			return apperrors.NewValidationError(n, v, fmt.Sprintf("below minimum %g", spec.Min))
		}
		if v > spec.Max {
			return apperrors.NewValidationError(n, v, fmt.Sprintf("above maximum %g", spec.Max))
		}
	}
	return nil
}

// Resolve returns params with defaults filled in for missing names.
func Resolve(name string, params map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	if def, ok := Lookup(name); ok {
		for _, p := range def.Params {
			out[p.Name] = p.Default
		}
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
