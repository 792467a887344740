package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/models"
)

func jsonLogger(buf *bytes.Buffer, level string) zerolog.Logger {
	return NewLoggerWithConfig(LogConfig{Level: level, Console: true, JSON: true, Out: buf})
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestLogTrade(t *testing.T) {
	var buf bytes.Buffer
	logger := WithAccount(jsonLogger(&buf, "info"), models.AccountKey{UserID: "u1", Mode: models.ModePaper})

	LogTrade(logger, models.Trade{
		Symbol: "TCS", Side: models.OrderSideBuy, Quantity: 3,
		Price: decimal.RequireFromString("3501.5"), Fees: decimal.RequireFromString("0.3"), OrderID: "PAPER_1",
	})

	m := lastLine(t, &buf)
	assert.Equal(t, "trade", m["event"])
	assert.Equal(t, "TCS", m["symbol"])
	assert.Equal(t, "3501.50", m["price"])
	assert.Equal(t, "0.30", m["fees"])
	assert.Equal(t, "u1/paper", m["account"])
}

func TestWithSessionAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSession(jsonLogger(&buf, "debug"), &models.BotSession{ID: "s1", StrategyName: "breakout", Mode: models.ModeLive})

	LogSessionStatus(logger, models.SessionCompleted, "max duration reached")
	m := lastLine(t, &buf)
	assert.Equal(t, "s1", m["session_id"])
	assert.Equal(t, "breakout", m["strategy"])
	assert.Equal(t, "completed", m["status"])
	assert.Equal(t, "max duration reached", m["message"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, "warn")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())

	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	logger.Info().Msg("to file")
	assert.FileExists(t, path)
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), jsonLogger(&buf, "info"))
	logger := FromContext(ctx)
	logger.Info().Msg("via ctx")
	assert.Contains(t, buf.String(), "via ctx")

	// No logger stored: Nop, never panics.
	nop := FromContext(context.Background())
	nop.Info().Msg("dropped")
}

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"api_key=abcdefghijkl failed":                   "api_key=abcd****ijkl failed",
		`{"access_token": "0123456789abcdef"}`:          `{"access_token": "0123********cdef"}`,
		"Authorization: token myapikey:mytoken12345":    "Authorization: token my******:myto****2345",
		"quote NSE:RELIANCE failed: connection refused": "quote NSE:RELIANCE failed: connection refused",
	}
	for in, want := range cases {
		assert.Equal(t, want, Redact(in), in)
	}
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
}
