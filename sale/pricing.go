package sale

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultTaxRatePercent is the single flat tax rate applied to every sale
// unless the engine is configured otherwise.
const DefaultTaxRatePercent = 10

// CurrencyPlaces is the rounding precision for every money amount.
const CurrencyPlaces = 2

// DefaultTaxRate is DefaultTaxRatePercent as a fraction (0.10).
var DefaultTaxRate = decimal.New(DefaultTaxRatePercent, -2)

// Calculator computes line and sale totals. It is pure: no I/O, no state
// beyond the injected tax rate.
type Calculator struct {
	taxRate decimal.Decimal
}

// Totals is the sale-level result of SaleTotals.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
}

func NewCalculator(taxRate decimal.Decimal) (*Calculator, error) {
	if taxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative, got %s", taxRate)
	}
	return &Calculator{taxRate: taxRate}, nil
}

func (c *Calculator) TaxRate() decimal.Decimal { return c.taxRate }

// round applies banker's rounding (half to even) at currency precision.
func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CurrencyPlaces)
}

// IsCurrencyAmount reports whether d has no more than CurrencyPlaces decimals.
func IsCurrencyAmount(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(CurrencyPlaces))
}

// LineTotal returns unitPrice*quantity - discount, rounded. A discount must be
// a whole number of cents.
func (c *Calculator) LineTotal(unitPrice decimal.Decimal, quantity int, discount decimal.Decimal) (decimal.Decimal, error) {
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if discount.IsNegative() || !IsCurrencyAmount(discount) || discount.GreaterThan(gross) {
		return decimal.Zero, &InvalidDiscountError{Discount: discount, Limit: gross}
	}
	return round(gross.Sub(discount)), nil
}

// SaleTotals sums already-rounded line totals, applies tax and the
// sale-level discount.
func (c *Calculator) SaleTotals(lineTotals []decimal.Decimal, saleDiscount decimal.Decimal) (Totals, error) {
	subtotal := decimal.Zero
	for _, lt := range lineTotals {
		subtotal = subtotal.Add(lt)
	}
	tax := round(subtotal.Mul(c.taxRate))

	limit := subtotal.Add(tax)
	if saleDiscount.IsNegative() || !IsCurrencyAmount(saleDiscount) || saleDiscount.GreaterThan(limit) {
		return Totals{}, &InvalidDiscountError{Discount: saleDiscount, Limit: limit}
	}

	return Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Discount:   saleDiscount,
		GrandTotal: limit.Sub(saleDiscount),
	}, nil
}
