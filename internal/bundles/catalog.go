// Package bundles holds the fixed-price credit and minute packages a workspace
// can pick for auto-replenish.
package bundles

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type is the balance a bundle tops up.
type Type string

const (
	TypeSMS     Type = "sms"
	TypeMinutes Type = "minutes"
)

// Valid reports whether t is a known balance type.
func (t Type) Valid() bool {
	return t == TypeSMS || t == TypeMinutes
}

// ErrUnknownBundle is returned by Lookup when no bundle matches.
var ErrUnknownBundle = errors.New("unknown bundle")

// Bundle is a fixed package of SMS credits or call minutes.
type Bundle struct {
	ID         string `yaml:"id" json:"id"`
	Type       Type   `yaml:"type" json:"type"`
	Name       string `yaml:"name" json:"name"`
	Quantity   int64  `yaml:"quantity" json:"quantity"`
	PriceCents int64  `yaml:"price_cents" json:"price_cents"`
	Currency   string `yaml:"currency,omitempty" json:"currency"`
}

// Catalog indexes bundles by type and id. It is read-only after construction.
type Catalog struct {
	bundles map[Type]map[string]Bundle
}

// NewCatalog validates the bundles and builds a catalog. Bundles without a
// currency inherit defaultCurrency.
func NewCatalog(list []Bundle, defaultCurrency string) (*Catalog, error) {
	c := &Catalog{bundles: make(map[Type]map[string]Bundle)}
	for i, b := range list {
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return nil, fmt.Errorf("bundle %d: missing id", i)
		}
		if !b.Type.Valid() {
			return nil, fmt.Errorf("bundle %q: unknown type %q", b.ID, b.Type)
		}
		if b.Quantity <= 0 {
			return nil, fmt.Errorf("bundle %s/%s: quantity must be positive", b.Type, b.ID)
		}
		if b.PriceCents <= 0 {
			return nil, fmt.Errorf("bundle %s/%s: price_cents must be positive", b.Type, b.ID)
		}
		if b.Currency == "" {
			b.Currency = defaultCurrency
		}
		b.Currency = strings.ToLower(b.Currency)
		if b.Name == "" {
			b.Name = b.ID
		}

		byID, ok := c.bundles[b.Type]
		if !ok {
			byID = make(map[string]Bundle)
			c.bundles[b.Type] = byID
		}
		if _, dup := byID[b.ID]; dup {
			return nil, fmt.Errorf("bundle %s/%s: duplicate id", b.Type, b.ID)
		}
		byID[b.ID] = b
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default(currency string) *Catalog {
	c, err := NewCatalog(builtin(), currency)
	if err != nil {
		panic(fmt.Sprintf("built-in bundle catalog is invalid: %v", err))
	}
	return c
}

func builtin() []Bundle {
	tiers := []struct {
		id         string
		name       string
		quantity   int64
		priceCents int64
	}{
		{"starter", "Starter", 100, 500},
		{"growth", "Growth", 500, 2000},
		{"pro", "Pro", 2000, 7000},
		{"scale", "Scale", 10000, 30000},
	}

	var out []Bundle
	for _, typ := range []Type{TypeSMS, TypeMinutes} {
		for _, tier := range tiers {
			out = append(out, Bundle{
				ID:         tier.id,
				Type:       typ,
				Name:       tier.name,
				Quantity:   tier.quantity,
				PriceCents: tier.priceCents,
			})
		}
	}
	return out
}

// Lookup returns the bundle for a type and id.
func (c *Catalog) Lookup(typ Type, id string) (Bundle, error) {
	b, ok := c.bundles[typ][strings.TrimSpace(id)]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: %s/%s", ErrUnknownBundle, typ, id)
	}
	return b, nil
}

// List returns the bundles of one type ordered by price.
func (c *Catalog) List(typ Type) []Bundle {
	out := make([]Bundle, 0, len(c.bundles[typ]))
	for _, b := range c.bundles[typ] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceCents != out[j].PriceCents {
			return out[i].PriceCents < out[j].PriceCents
		}
		return out[i].ID < out[j].ID
	})
	return out
}
