package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/models"
)

func TestDefault(t *testing.T) {
	u := Default()
	assert.Len(t, u.Stocks, 20)
	assert.Equal(t, "NSE:RELIANCE", u.Instrument("RELIANCE"))
	assert.Equal(t, "INDICES:NIFTY BANK", u.Instrument("BANKNIFTY"))
	assert.True(t, u.IsIndex("NIFTY"))
	assert.False(t, u.IsIndex("TCS"))
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stocks: [TCS, INFY, IDEA]
indices: [NIFTY]
intraday_excluded: [IDEA]
`), 0o600))

	u, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"TCS", "INFY", "IDEA"}, u.Candidates(models.ProductCNC))
	assert.Equal(t, []string{"TCS", "INFY"}, u.Candidates(models.ProductMIS))
	assert.Equal(t, "INDICES:NIFTY 50", u.Instrument("NIFTY"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("indices: [NIFTY]"))
	assert.ErrorContains(t, err, "no stocks")

	_, err = Parse([]byte("stocks: {"))
	assert.Error(t, err)

	u, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, u.Stocks)
}
