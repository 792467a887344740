package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatINR(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "₹0.00"},
		{"999.5", "₹999.50"},
		{"1000", "₹1,000.00"},
		{"100000", "₹1,00,000.00"},
		{"12345678.9", "₹1,23,45,678.90"},
		{"-98999.93", "-₹98,999.93"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatINR(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestFormatPnLAndPercent(t *testing.T) {
	assert.Equal(t, "+₹100.00", FormatPnL(decimal.NewFromInt(100)))
	assert.Equal(t, "-₹5.25", FormatPnL(decimal.RequireFromString("-5.25")))
	assert.Equal(t, "+1.50%", FormatPercent(decimal.RequireFromString("1.5")))
	assert.Equal(t, "0.00%", FormatPercent(decimal.Zero))
}

func TestFormatCompact(t *testing.T) {
	assert.Equal(t, "10.00 L", FormatCompact(decimal.NewFromInt(1000000)))
	assert.Equal(t, "1.50 Cr", FormatCompact(decimal.NewFromInt(15000000)))
	assert.Equal(t, "₹5,000.00", FormatCompact(decimal.NewFromInt(5000)))
	assert.Equal(t, "12,34,567", FormatQuantity(1234567))
}
