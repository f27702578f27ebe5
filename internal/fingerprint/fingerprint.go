// Package fingerprint computes the dedup key for imported transactions.
package fingerprint

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Compute returns "YYYY-MM-DD|amount|description" where amount has two
// decimals and description is lower-cased and trimmed.
func Compute(date time.Time, amount decimal.Decimal, description string) string {
	var b strings.Builder
	b.WriteString(date.UTC().Format("2006-01-02"))
	b.WriteByte('|')
	b.WriteString(amount.StringFixed(2))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(description)))
	return b.String()
}
