package replenish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"steward/internal/bundles"
	"steward/pkg/logging"
)

const (
	DefaultCooldown   = 10 * time.Minute
	DefaultStaleAfter = 15 * time.Minute
)

// Options wires a Job. DB, Catalog, Charger and Logger are required.
type Options struct {
	DB        *sql.DB
	Catalog   *bundles.Catalog
	Charger   Charger
	Publisher Publisher
	Notifier  Notifier
	Metrics   *Metrics
	Logger    logging.Logger

	// Cooldown skips a pair that had a successful attempt this recently.
	// Zero means DefaultCooldown; a negative value disables the check.
	Cooldown time.Duration
	// StaleAfter is how long a processing attempt may sit before the
	// reconciliation report lists it.
	StaleAfter time.Duration
}

// Job is the auto-replenish batch. It keeps no state between runs.
type Job struct {
	db         *sql.DB
	catalog    *bundles.Catalog
	charger    Charger
	publisher  Publisher
	notifier   Notifier
	metrics    *Metrics
	logger     logging.Logger
	cooldown   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewJob creates a job from its options.
func NewJob(opts Options) *Job {
	if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Job{
		db:         opts.DB,
		catalog:    opts.Catalog,
		charger:    opts.Charger,
		publisher:  opts.Publisher,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		cooldown:   opts.Cooldown,
		staleAfter: opts.StaleAfter,
		now:        time.Now,
	}
}

// Run scans for candidates and processes them one at a time in scan order.
// A candidate's failure never aborts the batch. If the scan fails, the empty
// summary is returned with Success=false alongside the error.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := newSummary()

	candidates, err := j.Scan(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Auto-replenish scan failed")
		j.metrics.observeRun(false, time.Since(start))
		return summary, err
	}

	j.logger.WithField("candidates", len(candidates)).Info("Starting auto-replenish run")

	for _, c := range candidates {
		d := j.processSafely(ctx, c)
		summary.add(d)
		j.metrics.observeDetail(d)
	}
	summary.Success = true

	j.metrics.observeRun(true, time.Since(start))
	j.logger.WithFields(logging.Fields{
		"processed":   summary.Processed,
		"successful":  summary.Successful,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Auto-replenish run finished")

	return summary, nil
}

// processSafely turns a panic in one candidate into a failed detail.
func (j *Job) processSafely(ctx context.Context, c Candidate) (d Detail) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.WithFields(logging.Fields{
				"workspace_id": c.WorkspaceID,
				"type":         c.Type,
				"panic":        r,
			}).Error("Panic while processing auto-replenish candidate")
			d = Detail{
				WorkspaceID: c.WorkspaceID,
				Type:        c.Type,
				Status:      DetailFailed,
				Error:       fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return j.process(ctx, c)
}

func (j *Job) process(ctx context.Context, c Candidate) Detail {
	d := Detail{WorkspaceID: c.WorkspaceID, Type: c.Type}
	log := j.logger.WithFields(logging.Fields{
		"workspace_id": c.WorkspaceID,
		"type":         c.Type,
	})

	fail := func(msg string) Detail {
		d.Status = DetailFailed
		d.Error = msg
		return d
	}

	recent, err := j.hasRecentSuccess(ctx, c.WorkspaceID, c.Type)
	if err != nil {
		log.WithError(err).Error("Cooldown check failed")
		return fail(err.Error())
	}
	if recent {
		log.Debug("Skipping candidate with a recent successful attempt")
		d.Status = DetailSkipped
		d.Error = ReasonRecentAttempt
		return d
	}

	hasCard, err := j.charger.HasSavedPaymentMethod(ctx, c.WorkspaceID)
	if err != nil {
		log.WithError(err).Error("Payment method lookup failed")
		return fail(fmt.Sprintf("payment method lookup failed: %v", err))
	}
	if !hasCard {
		log.Info("Skipping candidate without a saved payment method")
		d.Status = DetailSkipped
		d.Error = ReasonNoPaymentMethod
		return d
	}

	if c.BundleID == "" {
		log.Warn("Auto-replenish enabled without a bundle")
		return fail(ReasonNoBundle)
	}
	bundle, err := j.catalog.Lookup(c.Type, c.BundleID)
	if err != nil {
		log.WithField("bundle", c.BundleID).Warn("Auto-replenish bundle is not in the catalog")
		return fail("Unknown bundle: " + c.BundleID)
	}

	attemptID, err := j.claim(ctx, c.WorkspaceID, bundle)
	if errors.Is(err, errClaimTaken) {
		log.Info("Another run holds the processing attempt")
		d.Status = DetailSkipped
		d.Error = ReasonAlreadyInProgress
		return d
	}
	if err != nil {
		log.WithError(err).Error("Failed to claim replenish attempt")
		return fail(err.Error())
	}
	d.AttemptID = attemptID
	log = log.WithFields(logging.Fields{"attempt_id": attemptID, "bundle": bundle.ID})

	ev := Event{
		AttemptID:   attemptID,
		WorkspaceID: c.WorkspaceID,
		BalanceType: c.Type,
		Bundle:      bundle.ID,
		Quantity:    bundle.Quantity,
		AmountCents: bundle.PriceCents,
		Currency:    bundle.Currency,
	}

	result := j.charge(ctx, attemptID, c.WorkspaceID, bundle)
	ev.PaymentIntentID = result.PaymentIntentID
	ev.ErrorCode = result.ErrorCode
	ev.ErrorMessage = result.ErrorMessage

	switch result.Outcome {
	case OutcomeFailed, OutcomeRequiresAction:
		status, detailStatus, eventType := StatusFailed, DetailFailed, EventFailed
		if result.Outcome == OutcomeRequiresAction {
			status, detailStatus, eventType = StatusRequiresAction, DetailRequiresAction, EventRequiresAction
		}
		if err := j.markOutcome(ctx, attemptID, status, result.PaymentIntentID, result.ErrorCode, result.ErrorMessage); err != nil {
			log.WithError(err).Error("Failed to record charge outcome")
		}
		log.WithFields(logging.Fields{
			"status":     status,
			"error_code": result.ErrorCode,
		}).Warn("Auto-replenish charge did not succeed")

		ev.Type = eventType
		j.publish(ctx, ev)
		j.notifyFirstProblem(ctx, ev, log)

		d.Status = detailStatus
		d.Error = chargeErrorText(result)
		return d
	}

	if err := j.markSucceeded(ctx, attemptID, result.PaymentIntentID); err != nil {
		// Without the succeeded row the credit must not be applied; the
		// processing attempt surfaces in reconciliation.
		log.WithError(err).Error("Charge succeeded but attempt could not be marked succeeded")
		return fail(err.Error())
	}
	j.metrics.observeCharge(string(c.Type), bundle.PriceCents)
	log.WithField("payment_intent_id", result.PaymentIntentID).Info("Auto-replenish charge succeeded")

	ev.Type = EventSucceeded
	j.publish(ctx, ev)

	if err := j.applyCredit(ctx, attemptID, c.WorkspaceID, c.Type, bundle.Quantity); err != nil {
		log.WithError(err).Error("Charge succeeded but credit application failed")
		if appendErr := j.appendCreditError(ctx, attemptID, err); appendErr != nil {
			log.WithError(appendErr).Error("Failed to record credit error on attempt")
		}
		ev.Type = EventCreditFailed
		ev.ErrorMessage = err.Error()
		j.publish(ctx, ev)
		return fail("Credit application failed: " + err.Error())
	}

	d.Status = DetailSuccess
	return d
}

func chargeErrorText(r ChargeResult) string {
	switch {
	case r.ErrorMessage != "":
		return r.ErrorMessage
	case r.ErrorCode != "":
		return r.ErrorCode
	case r.Outcome == OutcomeRequiresAction:
		return "Payment requires customer action"
	default:
		return "Charge failed"
	}
}

func (j *Job) publish(ctx context.Context, ev Event) {
	if j.publisher == nil {
		return
	}
	ev.OccurredAt = j.now().UTC()
	if err := j.publisher.Publish(ctx, ev); err != nil {
		j.logger.WithFields(logging.Fields{
			"attempt_id": ev.AttemptID,
			"event_type": ev.Type,
			"error":      err,
		}).Warn("Failed to publish replenish event")
	}
}

// notifyFirstProblem emails only the first failure of a kind since the last
// success. A declined card is retried every tick; the contact hears once.
func (j *Job) notifyFirstProblem(ctx context.Context, ev Event, log logging.Entry) {
	if j.notifier == nil {
		return
	}
	repeat, err := j.hasEarlierProblem(ctx, ev.WorkspaceID, ev.BalanceType, ev.AttemptID, ev.ErrorCode)
	if err != nil {
		log.WithError(err).Warn("Notifying without knowing earlier charge problems")
	}
	if repeat {
		log.WithField("error_code", ev.ErrorCode).Debug("Charge problem already reported since last success")
		return
	}
	j.notify(ctx, ev)
}

func (j *Job) notify(ctx context.Context, ev Event) {
	if j.notifier == nil {
		return
	}
	ev.OccurredAt = j.now().UTC()
	if err := j.notifier.NotifyChargeProblem(ctx, ev); err != nil {
		j.logger.WithFields(logging.Fields{
			"attempt_id":   ev.AttemptID,
			"workspace_id": ev.WorkspaceID,
			"error":        err,
		}).Warn("Failed to send charge notification")
	}
}
