package billing

import "testing"

func TestDefaultCurrency(t *testing.T) {
	t.Setenv("BILLING_CURRENCY", "")
	if got := DefaultCurrency(); got != "usd" {
		t.Fatalf("expected usd fallback, got %q", got)
	}

	t.Setenv("BILLING_CURRENCY", " EUR ")
	if got := DefaultCurrency(); got != "eur" {
		t.Fatalf("expected eur, got %q", got)
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{500, "usd", "5.00 USD"},
		{2000, "eur", "20.00 EUR"},
		{5, "", "0.05 USD"},
		{-1250, "usd", "-12.50 USD"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.cents, tc.currency); got != tc.want {
			t.Errorf("FormatCents(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
