package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/bundles"
	"steward/internal/payments"
	"steward/internal/replenish"
	"steward/pkg/logging"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	configured bool
	sent       []sentMail
	err        error
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendMail(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to, subject, body})
	return m.err
}

type fakeContacts struct {
	profile *payments.Profile
	err     error
}

func (f fakeContacts) LookupProfile(context.Context, string) (*payments.Profile, error) {
	return f.profile, f.err
}

var acme = &payments.Profile{WorkspaceID: "ws-1", WorkspaceName: "Acme", BillingEmail: "billing@acme.test"}

func failedEvent() replenish.Event {
	return replenish.Event{
		Type:         replenish.EventFailed,
		AttemptID:    "att-1",
		WorkspaceID:  "ws-1",
		BalanceType:  bundles.TypeSMS,
		Bundle:       "starter",
		AmountCents:  500,
		Currency:     "usd",
		ErrorCode:    "card_declined",
		ErrorMessage: "Your card was declined.",
	}
}

func TestNotifyChargeFailed(t *testing.T) {
	mailer := &fakeMailer{configured: true}
	n := NewEmailNotifier(mailer, fakeContacts{profile: acme}, "https://app.example.com/", logging.NewTestLogger())

	require.NoError(t, n.NotifyChargeProblem(context.Background(), failedEvent()))
	require.Len(t, mailer.sent, 1)

	mail := mailer.sent[0]
	assert.Equal(t, "billing@acme.test", mail.to)
	assert.Equal(t, "Auto-replenish payment failed", mail.subject)
	assert.Contains(t, mail.body, "Hi Acme")
	assert.Contains(t, mail.body, "5.00 USD")
	assert.Contains(t, mail.body, "SMS credits")
	assert.Contains(t, mail.body, "Your card was declined.")
	assert.Contains(t, mail.body, "https://app.example.com/settings/billing")
}

func TestNotifyRequiresAction(t *testing.T) {
	mailer := &fakeMailer{configured: true}
	n := NewEmailNotifier(mailer, fakeContacts{profile: acme}, "https://app.example.com", logging.NewTestLogger())

	ev := failedEvent()
	ev.Type = replenish.EventRequiresAction
	ev.BalanceType = bundles.TypeMinutes
	require.NoError(t, n.NotifyChargeProblem(context.Background(), ev))

	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].subject, "Action needed")
	assert.Contains(t, mailer.sent[0].body, "call minutes")
}

func TestNotifySkipsWithoutConfigOrContact(t *testing.T) {
	unconfigured := &fakeMailer{}
	n := NewEmailNotifier(unconfigured, fakeContacts{profile: acme}, "", logging.NewTestLogger())
	require.NoError(t, n.NotifyChargeProblem(context.Background(), failedEvent()))
	assert.Empty(t, unconfigured.sent)

	mailer := &fakeMailer{configured: true}
	n = NewEmailNotifier(mailer, fakeContacts{}, "", logging.NewTestLogger())
	require.NoError(t, n.NotifyChargeProblem(context.Background(), failedEvent()))
	assert.Empty(t, mailer.sent)
}

func TestNotifyPropagatesErrors(t *testing.T) {
	n := NewEmailNotifier(&fakeMailer{configured: true}, fakeContacts{err: errors.New("db down")}, "", logging.NewTestLogger())
	assert.Error(t, n.NotifyChargeProblem(context.Background(), failedEvent()))

	n = NewEmailNotifier(&fakeMailer{configured: true, err: errors.New("smtp 550")}, fakeContacts{profile: acme}, "", logging.NewTestLogger())
	assert.Error(t, n.NotifyChargeProblem(context.Background(), failedEvent()))
}
