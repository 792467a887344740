package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[trading]
user_id = "tester"
initial_capital = 100000.0

[bot]
cycle_interval = "10ms"
sleep_slice = "2ms"
target_profit = 0.0

[logging]
console = false
file = false
`

func configDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0644))
	return dir
}

func execute(t *testing.T, dir string, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", dir))
	require.NoError(t, cmd.Execute())
	return out.Bytes()
}

func TestStrategiesJSON(t *testing.T) {
	var defs []struct {
		Name   string
		Params []struct{ Name string }
	}
	require.NoError(t, json.Unmarshal(execute(t, configDir(t), "strategies", "--json"), &defs))

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Params)
	}
	assert.ElementsMatch(t, []string{"moving_average_crossover", "mean_reversion", "breakout"}, names)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	t.Setenv("KITE_API_KEY", "kiteapikey123")
	t.Setenv("KITE_ACCESS_TOKEN", "accesstoken456")

	out := execute(t, configDir(t), "config", "show", "--json")
	assert.NotContains(t, string(out), "kiteapikey123")
	assert.NotContains(t, string(out), "accesstoken456")
	assert.Contains(t, string(out), "kite*****y123")
}

func TestRunPaperSessionToCompletion(t *testing.T) {
	dir := configDir(t)
	out := execute(t, dir, "run", "--json", "--hours", "0.00001", "--strategy", "breakout")

	dec := json.NewDecoder(bytes.NewReader(out))
	var last map[string]json.RawMessage
	for dec.More() {
		var doc map[string]json.RawMessage
		require.NoError(t, dec.Decode(&doc))
		last = doc
	}
	require.Contains(t, last, "session")

	var session struct {
		ID            string
		UserID        string
		StrategyName  string
		Status        string
		StatusMessage string
	}
	require.NoError(t, json.Unmarshal(last["session"], &session))
	assert.Equal(t, "tester", session.UserID)
	assert.Equal(t, "breakout", session.StrategyName)
	assert.Equal(t, "completed", session.Status)
	assert.Equal(t, "max duration reached", session.StatusMessage)

	var sessions []struct{ ID string }
	require.NoError(t, json.Unmarshal(execute(t, dir, "sessions", "--json"), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)

	var summary struct{ TradeCount int }
	require.NoError(t, json.Unmarshal(execute(t, dir, "portfolio", "--json"), &summary))
	var trades []json.RawMessage
	require.NoError(t, json.Unmarshal(execute(t, dir, "trades", "--json", "--limit", "0"), &trades))
	assert.Equal(t, len(trades), summary.TradeCount)
}

func TestPortfolioReset(t *testing.T) {
	var summary struct {
		InitialCapital string
		AvailableCash  string
	}
	out := execute(t, configDir(t), "portfolio", "--reset", "--capital", "50000", "--json")
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, "50000", summary.InitialCapital)
	assert.Equal(t, "50000", summary.AvailableCash)
}
