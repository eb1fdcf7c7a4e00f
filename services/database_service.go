package services

import (
	"context"
	"paycore/entity"
	"time"
)

// Database is the transaction/subscription store. It owns all persisted state;
// every update it performs also refreshes updated_at.
type Database interface {
	WriteLogMessage(data Data) error

	GetTransaction(ctx context.Context, order string) (*entity.PaymentTransaction, error)
	InsertTransaction(ctx context.Context, transaction *entity.PaymentTransaction) error
	UpdateTransaction(ctx context.Context, transaction *entity.PaymentTransaction) error
	// SaveRefund records a refund attempt on the original transaction with the total refunded amount.
	SaveRefund(ctx context.Context, order string, amount int, status, code string) error

	GetSubscription(ctx context.Context, id string) (*entity.Subscription, error)
	InsertSubscription(ctx context.Context, subscription *entity.Subscription) error
	DueSubscriptions(ctx context.Context, statuses []string, now time.Time, limit int) ([]*entity.Subscription, error)
	ElapsedCanceledSubscriptions(ctx context.Context, now time.Time, limit int) ([]*entity.Subscription, error)
	UpdateSubscriptionRenewal(ctx context.Context, id string, endDate time.Time, order, cofTid string) error
	UpdateSubscriptionFailure(ctx context.Context, id string, failures int, status, order string) error
	UpdateSubscriptionStatus(ctx context.Context, id string, status string, cancelAtPeriodEnd bool) error
	UpdateSubscriptionToken(ctx context.Context, id string, token, tokenExpiry, cofTid string) error

	SetMembership(ctx context.Context, memberId string, isMember bool) error
}

type Data interface {
	DataType() string
}
