package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradebot/internal/errors"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("breakout", map[string]float64{"quantity": 8, "support_level": 0.95}))
	require.NoError(t, Validate("mean_reversion", nil))

	err := Validate("martingale", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameters)

	err = Validate("moving_average_crossover", map[string]float64{"quantity": 101})
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameters)
	assert.Contains(t, apperrors.Reason(err), "above maximum 100")

	err = Validate("breakout", map[string]float64{"support_level": 0.5})
	assert.Contains(t, apperrors.Reason(err), "below minimum 0.9")

	err = Validate("breakout", map[string]float64{"leverage": 3})
	assert.Contains(t, apperrors.Reason(err), "not a parameter of breakout")
}

func TestResolveFillsDefaults(t *testing.T) {
	p := Resolve("mean_reversion", map[string]float64{"quantity": 7})
	assert.Equal(t, 7.0, p["quantity"])
	assert.Equal(t, 5.0, p["max_positions"])
	assert.Equal(t, 10.0, p["lookback_period"])
}

func TestCatalogIsACopy(t *testing.T) {
	c := Catalog()
	require.Len(t, c, 3)
	c[0].Name = "changed"
	_, ok := Lookup("moving_average_crossover")
	assert.True(t, ok)
}
