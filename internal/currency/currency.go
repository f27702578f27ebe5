// Package currency converts amounts between currencies for the ledger.
package currency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Rhymond/go-money"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// Settlement is the currency every transaction is normalized into.
const Settlement = "EUR"

// Converter converts an amount from one currency to another.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return f(ctx, amount, from, to)
}

// DefaultRates are units of EUR per unit of currency.
var DefaultRates = map[string]string{
	"EUR": "1",
	"USD": "0.92",
	"GBP": "1.17",
	"CHF": "1.04",
	"JPY": "0.0062",
	"CAD": "0.68",
	"AUD": "0.60",
}

// StaticConverter converts through EUR using a fixed rate table.
// Unknown currencies fail with domain.ErrConversion unless Lenient is set,
// in which case they convert 1:1 and a warning is logged.
type StaticConverter struct {
	mu      sync.RWMutex
	rates   map[string]decimal.Decimal
	Lenient bool
}

// NewStaticConverter builds a converter from a code -> EUR rate table.
func NewStaticConverter(rates map[string]string) (*StaticConverter, error) {
	c := &StaticConverter{rates: make(map[string]decimal.Decimal, len(rates))}
	for code, raw := range rates {
		if err := c.SetRate(code, raw); err != nil {
			return nil, err
		}
	}
	if _, ok := c.rates[Settlement]; !ok {
		c.rates[Settlement] = decimal.NewFromInt(1)
	}
	return c, nil
}

// SetRate sets the EUR rate for a currency.
func (c *StaticConverter) SetRate(code, raw string) error {
	code, err := Normalize(code)
	if err != nil {
		return err
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("SetRate: rate for %s: %w", code, err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("SetRate: rate for %s must be positive", code)
	}
	c.mu.Lock()
	c.rates[code] = rate
	c.mu.Unlock()
	return nil
}

// Currencies returns the supported codes, sorted.
func (c *StaticConverter) Currencies() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rates))
	for code := range c.rates {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Convert implements Converter.
func (c *StaticConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, nil
	}

	fromRate, err := c.rate(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := c.rate(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(fromRate).DivRound(toRate, 8), nil
}

func (c *StaticConverter) rate(ctx context.Context, code string) (decimal.Decimal, error) {
	c.mu.RLock()
	r, ok := c.rates[code]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}
	if c.Lenient {
		log := logger.FromContext(ctx)
		log.Warn().Str("currency", code).Msg("Unknown currency, using 1:1 rate")
		return decimal.NewFromInt(1), nil
	}
	return decimal.Zero, fmt.Errorf("%w: no rate for %s", domain.ErrConversion, code)
}

// Normalize upper-cases an ISO 4217 code and rejects unknown ones.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Settlement, nil
	}
	if money.GetCurrency(code) == nil {
		return "", domain.Invalid("unknown currency %q", code)
	}
	return code, nil
}

// Format renders an amount with the currency's symbol and fraction digits.
func Format(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
