package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"steward/internal/replenish"
	stripeapi "steward/internal/stripe"
	"steward/pkg/logging"
)

type fakeStripe struct {
	defaultPM    string
	defaultErr   error
	outcome      *stripeapi.ChargeOutcome
	chargeErr    error
	charges      []stripeapi.OffSessionCharge
	lookedUpCust []string
}

func (f *fakeStripe) CreateOffSessionCharge(_ context.Context, charge stripeapi.OffSessionCharge) (*stripeapi.ChargeOutcome, error) {
	f.charges = append(f.charges, charge)
	return f.outcome, f.chargeErr
}

func (f *fakeStripe) DefaultPaymentMethod(_ context.Context, customerID string) (string, error) {
	f.lookedUpCust = append(f.lookedUpCust, customerID)
	return f.defaultPM, f.defaultErr
}

func profileRows(customerID, pm string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"workspace_name", "billing_email", "stripe_customer_id", "default_payment_method_id"}).
		AddRow("Acme", "billing@acme.test", customerID, pm)
}

func newTestCharger(t *testing.T, api StripeAPI) (*DirectCharger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewDirectCharger(db, api, logging.NewTestLogger()), mock
}

func TestHasSavedPaymentMethod(t *testing.T) {
	cases := []struct {
		name      string
		rows      *sqlmock.Rows
		defaultPM string
		want      bool
		lookups   int
	}{
		{"stored card", profileRows("cus_1", "pm_1"), "", true, 0},
		{"stripe default", profileRows("cus_1", ""), "pm_default", true, 1},
		{"no card anywhere", profileRows("cus_1", ""), "", false, 1},
		{"no customer", profileRows("", ""), "", false, 0},
		{"no profile", sqlmock.NewRows([]string{"workspace_name"}), "", false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeStripe{defaultPM: tc.defaultPM}
			c, mock := newTestCharger(t, api)
			mock.ExpectQuery(`FROM steward.workspace_billing`).WithArgs("ws-1").WillReturnRows(tc.rows)

			got, err := c.HasSavedPaymentMethod(context.Background(), "ws-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			if len(api.lookedUpCust) != tc.lookups {
				t.Fatalf("expected %d stripe lookups, got %d", tc.lookups, len(api.lookedUpCust))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestHasSavedPaymentMethod_StripeError(t *testing.T) {
	c, mock := newTestCharger(t, &fakeStripe{defaultErr: errors.New("stripe down")})
	mock.ExpectQuery(`FROM steward.workspace_billing`).WillReturnRows(profileRows("cus_1", ""))

	if _, err := c.HasSavedPaymentMethod(context.Background(), "ws-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateDirectCharge(t *testing.T) {
	api := &fakeStripe{outcome: &stripeapi.ChargeOutcome{Outcome: stripeapi.OutcomeSucceeded, PaymentIntentID: "pi_1"}}
	c, mock := newTestCharger(t, api)
	mock.ExpectQuery(`FROM steward.workspace_billing`).WithArgs("ws-1").WillReturnRows(profileRows("cus_1", "pm_1"))

	res, err := c.CreateDirectCharge(context.Background(), replenish.ChargeRequest{
		WorkspaceID:    "ws-1",
		AmountCents:    500,
		Currency:       "usd",
		Metadata:       map[string]string{"attempt_id": "att-1"},
		IdempotencyKey: "auto-replenish:att-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != replenish.OutcomeSucceeded || res.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	charge := api.charges[0]
	if charge.CustomerID != "cus_1" || charge.PaymentMethodID != "pm_1" || charge.IdempotencyKey != "auto-replenish:att-1" || charge.AmountCents != 500 {
		t.Fatalf("unexpected charge: %+v", charge)
	}
}

func TestCreateDirectCharge_NoPaymentMethod(t *testing.T) {
	api := &fakeStripe{}
	c, mock := newTestCharger(t, api)
	mock.ExpectQuery(`FROM steward.workspace_billing`).WillReturnRows(profileRows("", ""))

	res, err := c.CreateDirectCharge(context.Background(), replenish.ChargeRequest{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != replenish.OutcomeFailed || res.ErrorCode != "no_payment_method" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(api.charges) != 0 {
		t.Fatal("stripe must not be called without a card")
	}
}

func TestCreateDirectCharge_TransportError(t *testing.T) {
	c, mock := newTestCharger(t, &fakeStripe{chargeErr: errors.New("timeout")})
	mock.ExpectQuery(`FROM steward.workspace_billing`).WillReturnRows(profileRows("cus_1", "pm_1"))

	if _, err := c.CreateDirectCharge(context.Background(), replenish.ChargeRequest{WorkspaceID: "ws-1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultPaymentMethodReusedWithinRun(t *testing.T) {
	api := &fakeStripe{
		defaultPM: "pm_default",
		outcome:   &stripeapi.ChargeOutcome{Outcome: stripeapi.OutcomeSucceeded, PaymentIntentID: "pi_1"},
	}
	c, mock := newTestCharger(t, api)
	mock.ExpectQuery(`FROM steward.workspace_billing`).WillReturnRows(profileRows("cus_1", ""))
	mock.ExpectQuery(`FROM steward.workspace_billing`).WillReturnRows(profileRows("cus_1", ""))

	ok, err := c.HasSavedPaymentMethod(context.Background(), "ws-1")
	if err != nil || !ok {
		t.Fatalf("expected saved method, got %v (%v)", ok, err)
	}
	if _, err := c.CreateDirectCharge(context.Background(), replenish.ChargeRequest{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.lookedUpCust) != 1 {
		t.Fatalf("expected 1 stripe customer lookup, got %d", len(api.lookedUpCust))
	}
	if api.charges[0].PaymentMethodID != "pm_default" {
		t.Fatalf("unexpected charge: %+v", api.charges[0])
	}
}
