package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMethodCacheExpires(t *testing.T) {
	c := newMethodCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	calls := 0
	load := func(context.Context, string) (string, error) {
		calls++
		return "pm_1", nil
	}

	for i := 0; i < 3; i++ {
		pm, err := c.get(context.Background(), "cus_1", load)
		if err != nil || pm != "pm_1" {
			t.Fatalf("unexpected result %q (%v)", pm, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 load within ttl, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.get(context.Background(), "cus_1", load); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", calls)
	}
}

func TestMethodCacheCachesEmptyButNotErrors(t *testing.T) {
	c := newMethodCache(time.Minute)

	calls := 0
	empty := func(context.Context, string) (string, error) {
		calls++
		return "", nil
	}
	_, _ = c.get(context.Background(), "cus_none", empty)
	_, _ = c.get(context.Background(), "cus_none", empty)
	if calls != 1 {
		t.Fatalf("expected empty result cached, got %d loads", calls)
	}

	failures := 0
	failing := func(context.Context, string) (string, error) {
		failures++
		return "", errors.New("stripe down")
	}
	if _, err := c.get(context.Background(), "cus_err", failing); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.get(context.Background(), "cus_err", failing); err == nil {
		t.Fatal("expected error")
	}
	if failures != 2 {
		t.Fatalf("errors must not be cached, got %d loads", failures)
	}
}
