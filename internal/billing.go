package internal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"paycore/config"
	"paycore/entity"
	"paycore/services"
	"sync"
	"time"
)

var ErrRunInProgress = errors.New("renewal run already in progress")

var _ services.Payments = (*Billing)(nil)

// EnvelopeVerifier checks envelopes pushed by the processor.
type EnvelopeVerifier interface {
	VerifyEnvelope(envelope *entity.PaymentRequest) (*Response, error)
}

// Gateway is the processor client as used by Billing.
type Gateway interface {
	Processor
	EnvelopeVerifier
}

// Billing wires payment operations, the renewal engine and the store together
// for HTTP handlers and the scheduler.
type Billing struct {
	conf     *config.Config
	database services.Database
	payments *Payments
	renewals *Renewals
	prices   PriceList
	verifier EnvelopeVerifier
	orders   *OrderGenerator
	logger   services.LogHandler
	now      func() time.Time

	running    sync.Mutex
	locksMutex sync.Mutex
	locks      map[string]*orderLock
}

// orderLock is held by every caller working on one order; refs counts the holders and waiters.
type orderLock struct {
	mutex sync.Mutex
	refs  int
}

func NewBilling(conf *config.Config, database services.Database, gateway Gateway, prices PriceList, logger services.LogHandler) *Billing {
	payments := NewPayments(gateway, logger)
	return &Billing{
		conf:     conf,
		database: database,
		payments: payments,
		renewals: NewRenewals(conf, database, payments, prices, logger),
		prices:   prices,
		verifier: gateway,
		orders:   NewOrderGenerator(logger),
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*orderLock),
	}
}

// lockOrder serializes operations on one order while letting different orders run in parallel.
// The entry is removed only when no caller holds or waits for it.
func (b *Billing) lockOrder(id string) *orderLock {
	b.locksMutex.Lock()
	lock, ok := b.locks[id]
	if !ok {
		lock = &orderLock{}
		b.locks[id] = lock
	}
	lock.refs++
	b.locksMutex.Unlock()

	lock.mutex.Lock()
	return lock
}

func (b *Billing) unlockOrder(id string, lock *orderLock) {
	lock.mutex.Unlock()

	b.locksMutex.Lock()
	defer b.locksMutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(b.locks, id)
	}
}

// RunRenewals runs the renewal engine; overlapping runs are rejected.
func (b *Billing) RunRenewals(ctx context.Context, dryRun bool) (*entity.RenewalReport, error) {
	if !b.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer b.running.Unlock()
	if b.conf.DisablePayment && !dryRun {
		b.logger.Warn("payments disabled: renewal run skipped")
		return &entity.RenewalReport{Started: b.now(), Finished: b.now()}, nil
	}
	return b.renewals.Run(ctx, dryRun)
}

func (b *Billing) ExpireCanceled(ctx context.Context) (*entity.RenewalReport, error) {
	if !b.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer b.running.Unlock()
	return b.renewals.ExpireCanceled(ctx)
}

// RefundOrder returns part or all of an authorized payment. The refund reuses the
// order number, so the attempt is recorded on the original transaction: pending
// before the call, then confirmed or denied.
func (b *Billing) RefundOrder(ctx context.Context, order string, amount int) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if !IsValidOrder(order) {
		return fmt.Errorf("%w: %q", ErrInvalidOrder, order)
	}
	lock := b.lockOrder(order)
	defer b.unlockOrder(order, lock)

	transaction, err := b.database.GetTransaction(ctx, order)
	if err != nil {
		return fmt.Errorf("get transaction: %v", err)
	}
	if transaction.Status != entity.TransactionAuthorized || transaction.TransactionType != entity.TransactionTypeAuthorization {
		return fmt.Errorf("%w: order %s is %s", ErrNotRefundable, order, transaction.Status)
	}
	if transaction.Amount-transaction.RefundAmount < amount {
		return fmt.Errorf("%w: order amount %d, refunded %d, requested %d", ErrNotRefundable, transaction.Amount, transaction.RefundAmount, amount)
	}

	refunded := transaction.RefundAmount
	if err = b.database.SaveRefund(ctx, order, refunded, entity.RefundPending, ""); err != nil {
		return fmt.Errorf("save refund attempt: %w", err)
	}

	result, err := b.payments.Refund(ctx, order, amount)
	if err != nil {
		if ctx.Err() == nil {
			b.saveRefund(ctx, order, refunded, entity.RefundDenied, ErrorCode(err))
		}
		return err
	}
	b.saveRefund(ctx, order, refunded+amount, entity.RefundConfirmed, result.ResponseCode)
	return nil
}

func (b *Billing) saveRefund(ctx context.Context, order string, amount int, status, code string) {
	if err := b.database.SaveRefund(ctx, order, amount, status, code); err != nil {
		b.logger.Error(fmt.Sprintf("order %s: refund %s with %d but not saved", order, status, amount), err)
	}
}

// Notify processes an asynchronous notification. Only verified notifications
// may close a pending transaction.
func (b *Billing) Notify(ctx context.Context, data []byte) error {
	params, err := url.ParseQuery(string(data))
	if err != nil {
		return fmt.Errorf("parse query: %v", err)
	}
	envelope := entity.PaymentRequest{
		SignatureVersion: params.Get("Ds_SignatureVersion"),
		Parameters:       params.Get("Ds_MerchantParameters"),
		Signature:        params.Get("Ds_Signature"),
	}

	response, err := b.verifier.VerifyEnvelope(&envelope)
	if err != nil {
		return err
	}
	if !response.Verified {
		b.logger.Warn(fmt.Sprintf("notify: order %s: signature not verified", response.Parameters.Order))
		return ErrSignature
	}
	result := response.Parameters
	b.logger.Info(fmt.Sprintf("notify: type: %s; result: %s; order: %s; amount: %s", result.TransactionType, result.Response, result.Order, result.Amount))

	lock := b.lockOrder(result.Order)
	defer b.unlockOrder(result.Order, lock)

	transaction, err := b.database.GetTransaction(ctx, result.Order)
	if err != nil {
		return fmt.Errorf("get transaction %s: %v", result.Order, err)
	}
	if !transaction.IsPending() {
		b.logger.Debug(fmt.Sprintf("notify: order %s already %s", result.Order, transaction.Status))
		return nil
	}

	success := IsAuthorized(result.Response)
	if transaction.TransactionType == entity.TransactionTypeRefund || transaction.TransactionType == entity.TransactionTypeDeleteReference {
		success = IsConfirmed(result.Response)
	}
	errorCode := ""
	if !success {
		errorCode = result.Response
	}
	transaction.Close(success, result.Response, errorCode)
	transaction.AuthorizationCode = result.AuthorisationCode
	b.closeTransaction(ctx, transaction)
	return nil
}

func (b *Billing) openTransaction(ctx context.Context, transaction *entity.PaymentTransaction) error {
	now := b.now()
	transaction.Status = entity.TransactionPending
	transaction.Currency = b.conf.Merchant.Currency
	transaction.CreatedAt = now
	transaction.UpdatedAt = now
	return b.database.InsertTransaction(ctx, transaction)
}

func (b *Billing) closeTransaction(ctx context.Context, transaction *entity.PaymentTransaction) {
	transaction.UpdatedAt = b.now()
	if err := b.database.UpdateTransaction(ctx, transaction); err != nil {
		b.logger.Error(fmt.Sprintf("update transaction %s", transaction.Order), err)
	}
}
