package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"steward/internal/bundles"
	"steward/pkg/logging"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "run", "migrate", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %q subcommand, got %v (%v)", name, cmd, err)
		}
	}
}

func TestVersionCommandPrintsBuildInfo(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "steward dev") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLoadCatalogDefaults(t *testing.T) {
	t.Setenv("BUNDLES_FILE", "")
	t.Setenv("BILLING_CURRENCY", "EUR")

	catalog, err := loadCatalog(logging.NewTestLogger())
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	b, err := catalog.Lookup(bundles.TypeSMS, "starter")
	if err != nil {
		t.Fatalf("lookup starter: %v", err)
	}
	if b.Currency != "eur" {
		t.Fatalf("expected eur, got %s", b.Currency)
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	data := []byte(`currency: usd
bundles:
  - id: tiny
    type: sms
    quantity: 10
    price_cents: 99
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BUNDLES_FILE", path)

	catalog, err := loadCatalog(logging.NewTestLogger())
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if _, err := catalog.Lookup(bundles.TypeSMS, "starter"); err == nil {
		t.Fatal("file catalog should replace the defaults")
	}
	b, err := catalog.Lookup(bundles.TypeSMS, "tiny")
	if err != nil || b.PriceCents != 99 {
		t.Fatalf("unexpected bundle %+v (%v)", b, err)
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	t.Setenv("BUNDLES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := loadCatalog(logging.NewTestLogger()); err == nil {
		t.Fatal("expected error for a missing bundles file")
	}
}
