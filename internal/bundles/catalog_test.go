package bundles

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogLookup(t *testing.T) {
	c := Default("usd")

	b, err := c.Lookup(TypeSMS, "starter")
	if err != nil {
		t.Fatalf("lookup starter: %v", err)
	}
	if b.Quantity != 100 || b.PriceCents != 500 || b.Currency != "usd" {
		t.Fatalf("unexpected starter bundle: %+v", b)
	}

	m, err := c.Lookup(TypeMinutes, "scale")
	if err != nil {
		t.Fatalf("lookup minutes scale: %v", err)
	}
	if m.Quantity != 10000 || m.PriceCents != 30000 {
		t.Fatalf("unexpected minutes bundle: %+v", m)
	}

	if _, err := c.Lookup(TypeSMS, "enterprise"); !errors.Is(err, ErrUnknownBundle) {
		t.Fatalf("expected ErrUnknownBundle, got %v", err)
	}
	if _, err := c.Lookup(Type("fax"), "starter"); !errors.Is(err, ErrUnknownBundle) {
		t.Fatalf("expected ErrUnknownBundle for unknown type, got %v", err)
	}
}

func TestListOrdersByPrice(t *testing.T) {
	list := Default("usd").List(TypeMinutes)
	var ids []string
	for _, b := range list {
		ids = append(ids, b.ID)
	}
	if got := strings.Join(ids, ","); got != "starter,growth,pro,scale" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	cases := map[string][]Bundle{
		"missing id":     {{Type: TypeSMS, Quantity: 1, PriceCents: 1}},
		"bad type":       {{ID: "a", Type: "fax", Quantity: 1, PriceCents: 1}},
		"zero quantity":  {{ID: "a", Type: TypeSMS, PriceCents: 1}},
		"negative price": {{ID: "a", Type: TypeSMS, Quantity: 1, PriceCents: -5}},
		"duplicate": {
			{ID: "a", Type: TypeSMS, Quantity: 1, PriceCents: 1},
			{ID: "a", Type: TypeSMS, Quantity: 2, PriceCents: 2},
		},
	}
	for name, list := range cases {
		if _, err := NewCatalog(list, "usd"); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	// The same id under different types is fine.
	_, err := NewCatalog([]Bundle{
		{ID: "a", Type: TypeSMS, Quantity: 1, PriceCents: 1},
		{ID: "a", Type: TypeMinutes, Quantity: 1, PriceCents: 1},
	}, "usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	content := `currency: EUR
bundles:
  - id: mini
    type: sms
    name: Mini
    quantity: 50
    price_cents: 300
  - id: mini
    type: minutes
    quantity: 30
    price_cents: 400
    currency: gbp
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path, "usd")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	sms, err := c.Lookup(TypeSMS, "mini")
	if err != nil {
		t.Fatal(err)
	}
	if sms.Currency != "eur" || sms.Name != "Mini" {
		t.Fatalf("unexpected sms bundle: %+v", sms)
	}

	minutes, err := c.Lookup(TypeMinutes, "mini")
	if err != nil {
		t.Fatal(err)
	}
	if minutes.Currency != "gbp" || minutes.Name != "mini" {
		t.Fatalf("unexpected minutes bundle: %+v", minutes)
	}

	if _, err := c.Lookup(TypeSMS, "starter"); !errors.Is(err, ErrUnknownBundle) {
		t.Fatal("file catalog should replace the built-in bundles")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("bundles:\n  - id: a\n    type: sms\n    qty: 1\n"), "usd")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Parse([]byte("currency: usd\n"), "usd"); err == nil {
		t.Fatal("expected error for empty bundle list")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "usd"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
