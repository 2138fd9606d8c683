package bundles

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Currency string   `yaml:"currency"`
	Bundles  []Bundle `yaml:"bundles"`
}

// LoadFile reads a YAML catalog that replaces the built-in bundles:
//
//	currency: usd
//	bundles:
//	  - id: starter
//	    type: sms
//	    quantity: 100
//	    price_cents: 500
func LoadFile(path, defaultCurrency string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundles file: %w", err)
	}
	return Parse(data, defaultCurrency)
}

// Parse decodes a YAML catalog. Unknown keys are rejected.
func Parse(data []byte, defaultCurrency string) (*Catalog, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse bundles file: %w", err)
	}
	if len(f.Bundles) == 0 {
		return nil, fmt.Errorf("bundles file defines no bundles")
	}
	if f.Currency != "" {
		defaultCurrency = f.Currency
	}
	return NewCatalog(f.Bundles, defaultCurrency)
}
