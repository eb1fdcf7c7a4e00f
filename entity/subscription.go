package entity

import (
	"fmt"
	"time"
)

const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

const (
	IntervalMonthly = "monthly"
	IntervalAnnual  = "annual"
)

// Subscription is a recurring membership agreement backed by a stored card token.
type Subscription struct {
	Id                string    `json:"id" bson:"subscription_id"`
	MemberId          string    `json:"member_id" bson:"member_id"`
	PlanType          string    `json:"plan_type" bson:"plan_type"`
	Interval          string    `json:"interval" bson:"interval"`
	Status            string    `json:"status" bson:"status"`
	EndDate           time.Time `json:"end_date" bson:"end_date"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end" bson:"cancel_at_period_end"`
	Token             string    `json:"-" bson:"token"`
	TokenExpiry       string    `json:"token_expiry" bson:"token_expiry"`
	CofTid            string    `json:"-" bson:"cof_tid"`
	CardBrand         string    `json:"card_brand" bson:"card_brand"`
	LastFour          string    `json:"last_four" bson:"last_four"`
	RenewalFailures   int       `json:"renewal_failures" bson:"renewal_failures"`
	LastOrder         string    `json:"last_order" bson:"last_order"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

// NextEndDate returns the end date one billing interval after the given date.
func NextEndDate(from time.Time, interval string) (time.Time, error) {
	switch interval {
	case IntervalMonthly:
		return from.AddDate(0, 1, 0), nil
	case IntervalAnnual:
		return from.AddDate(1, 0, 0), nil
	}
	return from, fmt.Errorf("unknown billing interval %q", interval)
}

// HasStoredCredential reports whether the subscription can be charged without the cardholder.
func (s *Subscription) HasStoredCredential() bool {
	return s.Token != "" && s.CofTid != ""
}
