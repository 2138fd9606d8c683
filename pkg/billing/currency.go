package billing

import (
	"fmt"
	"strings"

	"steward/pkg/config"
)

const (
	defaultCurrencyEnv      = "BILLING_CURRENCY"
	defaultCurrencyFallback = "usd"
)

// DefaultCurrency returns the ledger currency used for every charge, lower-cased
// the way Stripe expects it.
func DefaultCurrency() string {
	return NormalizeCurrency(config.GetEnv(defaultCurrencyEnv, defaultCurrencyFallback))
}

// NormalizeCurrency lower-cases and trims an ISO 4217 code, falling back to usd.
func NormalizeCurrency(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return defaultCurrencyFallback
	}
	return code
}

// FormatCents renders an amount in minor units, e.g. 500 usd -> "5.00 USD".
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(NormalizeCurrency(currency)))
}
