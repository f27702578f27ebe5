package statement

import (
	"regexp"
	"strings"
)

const maxMerchantLen = 100

var (
	bankPrefix   = regexp.MustCompile(`(?i)^(PAGAMENTO|POS|CARTA|BONIFICO|PRELIEVO|ADDEBITO)\s*`)
	dateSuffix   = regexp.MustCompile(`(?i)\s*(DEL|IN DATA)\s*\d{2}/\d{2}/\d{4}.*$`)
	merchantSeps = []string{" - ", " / ", " | ", "  "}
)

// ExtractMerchant guesses a merchant name from a bank description.
// It returns "" when nothing is left.
func ExtractMerchant(description string) string {
	if description == "" {
		return ""
	}
	m := bankPrefix.ReplaceAllString(description, "")
	m = strings.TrimSpace(dateSuffix.ReplaceAllString(m, ""))

	for _, sep := range merchantSeps {
		if i := strings.Index(m, sep); i >= 0 {
			m = strings.TrimSpace(m[:i])
			break
		}
	}

	if r := []rune(m); len(r) > maxMerchantLen {
		m = string(r[:maxMerchantLen])
	}
	return m
}
