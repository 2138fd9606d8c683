package payments

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultMethodTTL bounds how long a customer's Stripe default card is
// reused. One run checks and then charges the same customer, so a short
// window is enough to halve the Customer reads.
const defaultMethodTTL = time.Minute

type cachedMethod struct {
	paymentMethodID string
	expiresAt       time.Time
}

// methodCache memoizes DefaultPaymentMethod per customer. An empty result
// (no default card) is cached too; errors never are.
type methodCache struct {
	mu    sync.Mutex
	items map[string]cachedMethod
	ttl   time.Duration
	sf    singleflight.Group
	now   func() time.Time
}

func newMethodCache(ttl time.Duration) *methodCache {
	return &methodCache{
		items: make(map[string]cachedMethod),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *methodCache) get(ctx context.Context, customerID string, load func(context.Context, string) (string, error)) (string, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.items[customerID]; ok {
		if now.Before(e.expiresAt) {
			c.mu.Unlock()
			return e.paymentMethodID, nil
		}
		delete(c.items, customerID)
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(customerID, func() (interface{}, error) {
		pm, err := load(ctx, customerID)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.items[customerID] = cachedMethod{paymentMethodID: pm, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return pm, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
