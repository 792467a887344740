package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpansAreExported(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := Init(ctx, Config{Enabled: true, ServiceName: "tradebot-test", Output: &buf})
	require.NoError(t, err)

	spanCtx, span := StartSpan(ctx, "bot.cycle", attribute.String("session_id", "s1"))
	assert.NotEmpty(t, TraceID(spanCtx))
	End(span, errors.New("quote timeout"))

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "bot.cycle")
	assert.Contains(t, buf.String(), "quote timeout")
	assert.Empty(t, TraceID(ctx))
}
