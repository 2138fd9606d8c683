// Package notify emails a workspace's billing contact when auto-replenish
// could not charge its card.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"steward/internal/bundles"
	"steward/internal/payments"
	"steward/internal/replenish"
	"steward/pkg/billing"
	"steward/pkg/logging"
)

// Mailer sends one HTML email.
type Mailer interface {
	IsConfigured() bool
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// ContactLookup resolves the billing contact of a workspace.
type ContactLookup interface {
	LookupProfile(ctx context.Context, workspaceID string) (*payments.Profile, error)
}

type emailData struct {
	WorkspaceName string
	Balance       string
	Bundle        string
	Amount        string
	Reason        string
	BillingURL    string
}

var templates = template.Must(template.New("failed").Parse(`<p>Hi {{.WorkspaceName}},</p>
<p>We tried to top up your {{.Balance}} with the <strong>{{.Bundle}}</strong> bundle ({{.Amount}}), but the charge to your saved card failed.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>Please update your payment method at <a href="{{.BillingURL}}">{{.BillingURL}}</a>. We will retry automatically once it is updated.</p>`))

func init() {
	template.Must(templates.New("requires_action").Parse(`<p>Hi {{.WorkspaceName}},</p>
<p>Your bank asked to confirm the {{.Amount}} auto-replenish charge for your {{.Balance}} (<strong>{{.Bundle}}</strong> bundle).</p>
<p>Please confirm the payment at <a href="{{.BillingURL}}">{{.BillingURL}}</a>. Your balance is topped up as soon as it is confirmed.</p>`))
}

// EmailNotifier implements replenish.Notifier over SMTP.
type EmailNotifier struct {
	mailer   Mailer
	contacts ContactLookup
	baseURL  string
	logger   logging.Logger
}

func NewEmailNotifier(mailer Mailer, contacts ContactLookup, baseURL string, logger logging.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailer:   mailer,
		contacts: contacts,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// NotifyChargeProblem emails the billing contact about a failed or
// requires_action charge. Missing SMTP config or contact is not an error.
func (n *EmailNotifier) NotifyChargeProblem(ctx context.Context, ev replenish.Event) error {
	if !n.mailer.IsConfigured() {
		n.logger.Warn("Email not configured, skipping charge notification")
		return nil
	}

	profile, err := n.contacts.LookupProfile(ctx, ev.WorkspaceID)
	if err != nil {
		return err
	}
	if profile == nil || profile.BillingEmail == "" {
		n.logger.WithField("workspace_id", ev.WorkspaceID).Info("No billing email on file, skipping charge notification")
		return nil
	}

	name := "requires_action"
	subject := "Action needed: confirm your auto-replenish payment"
	if ev.Type != replenish.EventRequiresAction {
		name = "failed"
		subject = "Auto-replenish payment failed"
	}

	data := emailData{
		WorkspaceName: profile.WorkspaceName,
		Balance:       balanceLabel(ev),
		Bundle:        ev.Bundle,
		Amount:        billing.FormatCents(ev.AmountCents, ev.Currency),
		Reason:        ev.ErrorMessage,
		BillingURL:    n.baseURL + "/settings/billing",
	}
	if data.WorkspaceName == "" {
		data.WorkspaceName = "there"
	}
	if data.Reason == "" {
		data.Reason = ev.ErrorCode
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s template: %w", name, err)
	}

	if err := n.mailer.SendMail(ctx, profile.BillingEmail, subject, buf.String()); err != nil {
		return fmt.Errorf("failed to send charge notification: %w", err)
	}

	n.logger.WithFields(logging.Fields{
		"workspace_id": ev.WorkspaceID,
		"attempt_id":   ev.AttemptID,
		"template":     name,
	}).Info("Sent charge notification")
	return nil
}

func balanceLabel(ev replenish.Event) string {
	if ev.BalanceType == bundles.TypeMinutes {
		return "call minutes"
	}
	return "SMS credits"
}
