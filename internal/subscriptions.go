package internal

import (
	"context"
	"fmt"
	"paycore/entity"

	"github.com/google/uuid"
)

type SubscribeRequest struct {
	MemberId       string
	PlanType       string
	Interval       string
	OperationToken string
}

// Subscribe charges the first period with a card captured by the in-page form,
// stores the card for renewals and creates an active subscription.
func (b *Billing) Subscribe(ctx context.Context, req SubscribeRequest) (*entity.Subscription, error) {
	if req.MemberId == "" {
		return nil, fmt.Errorf("%w: empty member id", ErrConfiguration)
	}
	price, ok := b.prices.Price(req.PlanType, req.Interval)
	if !ok {
		return nil, fmt.Errorf("%w: no price for plan %s/%s", ErrConfiguration, req.PlanType, req.Interval)
	}
	endDate, err := entity.NextEndDate(b.now(), req.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	order := b.orders.Generate(TagMembership)
	transaction := &entity.PaymentTransaction{
		Order:           order,
		TransactionType: entity.TransactionTypeAuthorization,
		Amount:          price,
		Description:     fmt.Sprintf("%s %s membership", req.PlanType, req.Interval),
		MemberId:        req.MemberId,
	}
	if err = b.openTransaction(ctx, transaction); err != nil {
		return nil, fmt.Errorf("insert transaction: %v", err)
	}

	authorization, err := b.payments.AuthorizeWithOperationToken(ctx, AuthorizeRequest{
		OperationToken: req.OperationToken,
		Order:          order,
		Amount:         price,
		Description:    transaction.Description,
		Tokenize:       true,
	})
	if err != nil {
		transaction.Close(false, deniedCode(err), ErrorCode(err))
		b.closeTransaction(ctx, transaction)
		return nil, err
	}
	transaction.Close(true, authorization.ResponseCode, "")
	transaction.AuthorizationCode = authorization.AuthorizationCode

	now := b.now()
	subscription := &entity.Subscription{
		Id:          uuid.NewString(),
		MemberId:    req.MemberId,
		PlanType:    req.PlanType,
		Interval:    req.Interval,
		Status:      entity.SubscriptionActive,
		EndDate:     endDate,
		Token:       authorization.Token,
		TokenExpiry: authorization.TokenExpiry,
		CofTid:      authorization.CofTid,
		CardBrand:   authorization.CardBrand,
		LastFour:    authorization.LastFour,
		LastOrder:   order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	transaction.SubscriptionId = subscription.Id
	b.closeTransaction(ctx, transaction)

	if !subscription.HasStoredCredential() {
		b.logger.Warn(fmt.Sprintf("subscription %s: no stored credential returned; it will not renew", subscription.Id))
	}
	if err = b.database.InsertSubscription(ctx, subscription); err != nil {
		b.logger.Error(fmt.Sprintf("member %s: order %s paid but subscription not saved", req.MemberId, order), err)
		return nil, err
	}
	updateMembership(ctx, b.database, b.logger, req.MemberId, "", entity.SubscriptionActive)
	b.logger.Info(fmt.Sprintf("subscription %s created for member %s until %s", subscription.Id, req.MemberId, endDate.Format("2006-01-02")))
	return subscription, nil
}

// CancelSubscription stops renewals. The member keeps access until the end
// date, after which the cancellation sweep expires the subscription.
func (b *Billing) CancelSubscription(ctx context.Context, id string) error {
	subscription, err := b.database.GetSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("get subscription %s: %v", id, err)
	}
	switch subscription.Status {
	case entity.SubscriptionCanceled:
		return nil
	case entity.SubscriptionExpired:
		return fmt.Errorf("subscription %s already expired", id)
	}
	if err = b.database.UpdateSubscriptionStatus(ctx, id, entity.SubscriptionCanceled, true); err != nil {
		return fmt.Errorf("cancel subscription %s: %v", id, err)
	}
	b.logger.Info(fmt.Sprintf("subscription %s: %s -> %s", id, subscription.Status, entity.SubscriptionCanceled))
	updateMembership(ctx, b.database, b.logger, subscription.MemberId, subscription.Status, entity.SubscriptionCanceled)
	return nil
}

// RemoveCard deletes the stored card at the processor and forgets it locally.
func (b *Billing) RemoveCard(ctx context.Context, id string) error {
	subscription, err := b.database.GetSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("get subscription %s: %v", id, err)
	}
	if subscription.Token == "" {
		return ErrNoStoredPayment
	}

	order := b.orders.Generate(TagGeneric)
	transaction := &entity.PaymentTransaction{
		Order:           order,
		TransactionType: entity.TransactionTypeDeleteReference,
		Description:     "delete stored card",
		SubscriptionId:  subscription.Id,
		MemberId:        subscription.MemberId,
	}
	if err = b.openTransaction(ctx, transaction); err != nil {
		return fmt.Errorf("insert transaction: %v", err)
	}

	err = b.payments.DeleteToken(ctx, order, subscription.Token)
	transaction.Close(err == nil, deniedCode(err), ErrorCode(err))
	b.closeTransaction(ctx, transaction)
	if err != nil {
		return err
	}
	return b.database.UpdateSubscriptionToken(ctx, id, "", "", "")
}
