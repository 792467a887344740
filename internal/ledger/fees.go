package ledger

import (
	"github.com/shopspring/decimal"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
)

// FeeSchedule is the table of brokerage and statutory charges applied to
// every trade. All rates are fractions of trade value except BrokerageCap,
// which is a rupee amount per order.
type FeeSchedule struct {
	IntradayBrokerageRate decimal.Decimal
	BrokerageCap          decimal.Decimal
	DeliveryBrokerageRate decimal.Decimal
	STTRate               decimal.Decimal // sell side only
	TransactionChargeRate decimal.Decimal
	GSTRate               decimal.Decimal // on brokerage + transaction charge
	SEBIRate              decimal.Decimal
	StampDutyRate         decimal.Decimal // buy side only
}

// DefaultFeeSchedule returns discount-broker equity charges.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		IntradayBrokerageRate: decimal.RequireFromString("0.0003"),
		BrokerageCap:          decimal.NewFromInt(20),
		DeliveryBrokerageRate: decimal.Zero,
		STTRate:               decimal.RequireFromString("0.00025"),
		TransactionChargeRate: decimal.RequireFromString("0.0000345"),
		GSTRate:               decimal.RequireFromString("0.18"),
		SEBIRate:              decimal.RequireFromString("0.000001"),
		StampDutyRate:         decimal.RequireFromString("0.00003"),
	}
}

// FeeBreakdown itemises the charges on one trade. Each component is rounded
// to paise and Total is their sum.
type FeeBreakdown struct {
	Brokerage         decimal.Decimal
	STT               decimal.Decimal
	TransactionCharge decimal.Decimal
	GST               decimal.Decimal
	SEBI              decimal.Decimal
	StampDuty         decimal.Decimal
	Total             decimal.Decimal
}

// Compute returns the charges for a trade of the given value.
func (f FeeSchedule) Compute(value decimal.Decimal, side models.OrderSide, product models.ProductType) FeeBreakdown {
	var b FeeBreakdown

	switch product {
	case models.ProductMIS:
		b.Brokerage = decimal.Min(value.Mul(f.IntradayBrokerageRate), f.BrokerageCap)
	default:
		b.Brokerage = value.Mul(f.DeliveryBrokerageRate)
	}
	b.Brokerage = paise(b.Brokerage)

	if side == models.OrderSideSell {
		b.STT = paise(value.Mul(f.STTRate))
	}
	b.TransactionCharge = paise(value.Mul(f.TransactionChargeRate))
	b.GST = paise(b.Brokerage.Add(b.TransactionCharge).Mul(f.GSTRate))
	b.SEBI = paise(value.Mul(f.SEBIRate))
	if side == models.OrderSideBuy {
		b.StampDuty = paise(value.Mul(f.StampDutyRate))
	}

	b.Total = b.Brokerage.Add(b.STT).Add(b.TransactionCharge).Add(b.GST).Add(b.SEBI).Add(b.StampDuty)
	return b
}

// Total is shorthand for Compute(...).Total.
func (f FeeSchedule) Total(value decimal.Decimal, side models.OrderSide, product models.ProductType) decimal.Decimal {
	return f.Compute(value, side, product).Total
}

// Validate rejects negative rates.
func (f FeeSchedule) Validate() error {
	rates := map[string]decimal.Decimal{
		"intraday_brokerage_rate": f.IntradayBrokerageRate,
		"brokerage_cap":           f.BrokerageCap,
		"delivery_brokerage_rate": f.DeliveryBrokerageRate,
		"stt_rate":                f.STTRate,
		"transaction_charge_rate": f.TransactionChargeRate,
		"gst_rate":                f.GSTRate,
		"sebi_rate":               f.SEBIRate,
		"stamp_duty_rate":         f.StampDutyRate,
	}
	for name, r := range rates {
		if r.IsNegative() {
			return apperrors.NewValidationError(name, r.String(), "must not be negative")
		}
	}
	return nil
}

func paise(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
