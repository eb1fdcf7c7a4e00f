package services

import (
	"context"
	"paycore/entity"
)

// Payments is the surface exposed to HTTP handlers and the scheduler.
type Payments interface {
	RunRenewals(ctx context.Context, dryRun bool) (*entity.RenewalReport, error)
	ExpireCanceled(ctx context.Context) (*entity.RenewalReport, error)
	RefundOrder(ctx context.Context, order string, amount int) error
	CancelSubscription(ctx context.Context, id string) error
	Notify(ctx context.Context, data []byte) error
}
