package internal

import (
	"context"
	"errors"
	"fmt"
	"paycore/config"
	"paycore/entity"
	"paycore/services"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxFailures = 3

// Charger performs merchant initiated charges.
type Charger interface {
	ChargeStoredToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// PriceList resolves the price in cents of a plan.
type PriceList interface {
	Price(planType, interval string) (int, bool)
}

// Renewals charges due subscriptions with their stored cards and moves them
// through active, past_due and expired. Subscriptions are processed one at a time;
// the engine keeps no state between runs.
type Renewals struct {
	database services.Database
	charger  Charger
	prices   PriceList
	orders   *OrderGenerator
	logger   services.LogHandler
	tracer   trace.Tracer
	metrics  *Metrics
	now      func() time.Time

	currency           string
	batchLimit         int
	maxFailures        int
	retryPastDue       bool
	merchantConfigured bool
}

func NewRenewals(conf *config.Config, database services.Database, charger Charger, prices PriceList, logger services.LogHandler) *Renewals {
	maxFailures := conf.Billing.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	metrics, err := NewMetrics("paycore/renewals")
	if err != nil {
		logger.Error("create renewal metrics", err)
	}
	return &Renewals{
		database:     database,
		charger:      charger,
		prices:       prices,
		orders:       NewOrderGenerator(logger),
		logger:       logger,
		tracer:       otel.Tracer("paycore/renewals"),
		metrics:      metrics,
		now:          time.Now,
		currency:           conf.Merchant.Currency,
		batchLimit:         conf.Billing.BatchLimit,
		maxFailures:        maxFailures,
		retryPastDue:       conf.Billing.RetryPastDue,
		merchantConfigured: conf.IsMerchantConfigured(),
	}
}

// Run charges every due subscription in the batch, oldest end date first.
// In dry-run mode nothing is charged or written; the report lists what would be.
func (r *Renewals) Run(ctx context.Context, dryRun bool) (*entity.RenewalReport, error) {
	ctx, span := r.tracer.Start(ctx, "Renewals.Run")
	defer span.End()

	now := r.now()
	report := &entity.RenewalReport{DryRun: dryRun, Started: now}

	statuses := []string{entity.SubscriptionActive}
	if r.retryPastDue {
		statuses = append(statuses, entity.SubscriptionPastDue)
	}
	due, err := r.database.DueSubscriptions(ctx, statuses, now, r.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	r.logger.Info(fmt.Sprintf("renewals: %d due subscriptions; dry run %v", len(due), dryRun))
	if !r.merchantConfigured {
		r.logger.Warn("renewals: merchant account not configured; due subscriptions are skipped")
	}

	for _, subscription := range due {
		if ctx.Err() != nil {
			r.logger.Warn(fmt.Sprintf("renewals: run interrupted after %d subscriptions", len(report.Outcomes)))
			break
		}
		if !subscription.HasStoredCredential() {
			continue
		}
		outcome := r.renew(ctx, subscription, dryRun)
		r.metrics.RecordRenewal(ctx, outcome.Result, dryRun)
		report.Add(outcome)
	}

	report.Finished = r.now()
	span.SetAttributes(
		attribute.Int("due", len(due)),
		attribute.Int("charged", report.Count(entity.RenewalCharged)),
		attribute.Int("failed", report.Count(entity.RenewalFailed)),
		attribute.Int("expired", report.Count(entity.RenewalExpired)),
	)
	return report, ctx.Err()
}

func (r *Renewals) renew(ctx context.Context, subscription *entity.Subscription, dryRun bool) entity.RenewalOutcome {
	outcome := entity.RenewalOutcome{
		SubscriptionId: subscription.Id,
		MemberId:       subscription.MemberId,
		EndDate:        subscription.EndDate,
	}

	price, ok := r.prices.Price(subscription.PlanType, subscription.Interval)
	if !ok {
		r.logger.Warn(fmt.Sprintf("subscription %s: no price for plan %s/%s", subscription.Id, subscription.PlanType, subscription.Interval))
		outcome.Result = entity.RenewalConfigError
		return outcome
	}
	outcome.Amount = price
	nextEndDate, err := entity.NextEndDate(subscription.EndDate, subscription.Interval)
	if err != nil {
		r.logger.Error(fmt.Sprintf("subscription %s", subscription.Id), err)
		outcome.Result = entity.RenewalConfigError
		return outcome
	}
	if !r.merchantConfigured {
		outcome.Result = entity.RenewalConfigError
		outcome.Code = ErrorCode(ErrConfiguration)
		return outcome
	}
	if dryRun {
		outcome.Result = entity.RenewalWouldCharge
		return outcome
	}

	order := r.orders.Generate(TagRecurring)
	outcome.Order = order
	now := r.now()
	transaction := &entity.PaymentTransaction{
		Order:           order,
		TransactionType: entity.TransactionTypeAuthorization,
		Amount:          price,
		Currency:        r.currency,
		Description:     fmt.Sprintf("%s %s renewal", subscription.PlanType, subscription.Interval),
		Status:          entity.TransactionPending,
		SubscriptionId:  subscription.Id,
		MemberId:        subscription.MemberId,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = r.database.InsertTransaction(ctx, transaction); err != nil {
		// no charge without an audit record; retried on the next run
		r.logger.Error(fmt.Sprintf("subscription %s: insert transaction %s", subscription.Id, order), err)
		outcome.Result = entity.RenewalStoreError
		return outcome
	}

	charge, err := r.charger.ChargeStoredToken(ctx, ChargeRequest{
		Order:       order,
		Amount:      price,
		Token:       subscription.Token,
		CofTid:      subscription.CofTid,
		Description: transaction.Description,
	})
	if err != nil {
		if ctx.Err() != nil {
			// interrupted run: the outcome is unknown, so the transaction stays pending
			outcome.Result = entity.RenewalStoreError
			outcome.Code = ErrorCode(err)
			return outcome
		}
		if errors.Is(err, ErrConfiguration) {
			// nothing reached the processor; the subscription is left untouched
			r.logger.Error(fmt.Sprintf("subscription %s: renewal %s not sent", subscription.Id, order), err)
			transaction.Close(false, "", ErrorCode(err))
			r.closeTransaction(ctx, transaction)
			outcome.Result = entity.RenewalConfigError
			outcome.Code = ErrorCode(err)
			return outcome
		}
		transaction.Close(false, deniedCode(err), ErrorCode(err))
		r.closeTransaction(ctx, transaction)
		return r.fail(ctx, subscription, order, outcome, err)
	}

	transaction.Close(true, charge.ResponseCode, "")
	transaction.AuthorizationCode = charge.AuthorizationCode
	r.closeTransaction(ctx, transaction)

	err = r.database.UpdateSubscriptionRenewal(ctx, subscription.Id, nextEndDate, order, charge.CofTid)
	if err != nil {
		r.logger.Error(fmt.Sprintf("subscription %s: charged with order %s but renewal not saved", subscription.Id, order), err)
	} else if subscription.Status != entity.SubscriptionActive {
		r.onTransition(ctx, subscription, entity.SubscriptionActive)
	}
	r.logger.Info(fmt.Sprintf("subscription %s renewed until %s; order %s", subscription.Id, nextEndDate.Format(time.DateOnly), order))

	outcome.Result = entity.RenewalCharged
	outcome.EndDate = nextEndDate
	return outcome
}

// fail counts a failed renewal. The end date is left as is so the same period is retried;
// reaching the failure limit expires the subscription.
func (r *Renewals) fail(ctx context.Context, subscription *entity.Subscription, order string, outcome entity.RenewalOutcome, chargeErr error) entity.RenewalOutcome {
	failures := subscription.RenewalFailures + 1
	status := entity.SubscriptionPastDue
	if failures >= r.maxFailures {
		status = entity.SubscriptionExpired
	}
	outcome.Code = ErrorCode(chargeErr)
	outcome.Result = entity.RenewalFailed
	if status == entity.SubscriptionExpired {
		outcome.Result = entity.RenewalExpired
	}
	r.logger.Warn(fmt.Sprintf("subscription %s: renewal %s failed (%d/%d): %v", subscription.Id, order, failures, r.maxFailures, chargeErr))

	if err := r.database.UpdateSubscriptionFailure(ctx, subscription.Id, failures, status, order); err != nil {
		r.logger.Error(fmt.Sprintf("subscription %s: save renewal failure", subscription.Id), err)
		return outcome
	}
	if status != subscription.Status {
		r.onTransition(ctx, subscription, status)
	}
	return outcome
}

// ExpireCanceled expires canceled subscriptions whose paid period is over. Nothing is charged.
func (r *Renewals) ExpireCanceled(ctx context.Context) (*entity.RenewalReport, error) {
	ctx, span := r.tracer.Start(ctx, "Renewals.ExpireCanceled")
	defer span.End()

	now := r.now()
	report := &entity.RenewalReport{Started: now}
	elapsed, err := r.database.ElapsedCanceledSubscriptions(ctx, now, r.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("query canceled subscriptions: %w", err)
	}
	for _, subscription := range elapsed {
		outcome := entity.RenewalOutcome{
			SubscriptionId: subscription.Id,
			MemberId:       subscription.MemberId,
			EndDate:        subscription.EndDate,
			Result:         entity.RenewalExpired,
		}
		err = r.database.UpdateSubscriptionStatus(ctx, subscription.Id, entity.SubscriptionExpired, subscription.CancelAtPeriodEnd)
		if err != nil {
			r.logger.Error(fmt.Sprintf("subscription %s: expire", subscription.Id), err)
			outcome.Result = entity.RenewalStoreError
		} else {
			r.onTransition(ctx, subscription, entity.SubscriptionExpired)
		}
		r.metrics.RecordRenewal(ctx, outcome.Result, false)
		report.Add(outcome)
	}
	report.Finished = r.now()
	span.SetAttributes(attribute.Int("expired", report.Count(entity.RenewalExpired)))
	return report, nil
}

func (r *Renewals) closeTransaction(ctx context.Context, transaction *entity.PaymentTransaction) {
	transaction.UpdatedAt = r.now()
	if err := r.database.UpdateTransaction(ctx, transaction); err != nil {
		r.logger.Error(fmt.Sprintf("update transaction %s", transaction.Order), err)
	}
}

// onTransition runs once after a persisted status change and keeps the
// member flag in step with it. Its failure never reverts the transition.
func (r *Renewals) onTransition(ctx context.Context, subscription *entity.Subscription, status string) {
	r.logger.Info(fmt.Sprintf("subscription %s: %s -> %s", subscription.Id, subscription.Status, status))
	updateMembership(ctx, r.database, r.logger, subscription.MemberId, subscription.Status, status)
}

// updateMembership writes the member flag when a status change alters it.
func updateMembership(ctx context.Context, database services.Database, logger services.LogHandler, memberId, from, to string) {
	wasMember := from != entity.SubscriptionExpired && from != ""
	isMember := to != entity.SubscriptionExpired
	if wasMember == isMember || memberId == "" {
		return
	}
	if err := database.SetMembership(ctx, memberId, isMember); err != nil {
		logger.Error(fmt.Sprintf("member %s: set membership %v", memberId, isMember), err)
	}
}

func deniedCode(err error) string {
	var denial *DenialError
	if errors.As(err, &denial) {
		return denial.Code
	}
	return ""
}
