// Package entity defines data models for the payment core.
package entity

import "time"

const (
	TransactionPending    = "pending"
	TransactionAuthorized = "authorized"
	TransactionDenied     = "denied"
)

const (
	RefundPending   = "pending"
	RefundConfirmed = "confirmed"
	RefundDenied    = "denied"
)

// PaymentTransaction is the audit record of one processor call. It is inserted as
// pending before the request is sent and closed exactly once after the response.
type PaymentTransaction struct {
	Order             string    `json:"order" bson:"order"`
	TransactionType   string    `json:"transaction_type" bson:"transaction_type"`
	Amount            int       `json:"amount" bson:"amount"`
	Currency          string    `json:"currency" bson:"currency"`
	Description       string    `json:"description" bson:"description"`
	Status            string    `json:"status" bson:"status"`
	ResponseCode      string    `json:"response_code" bson:"response_code"`
	ErrorCode         string    `json:"error_code" bson:"error_code"`
	AuthorizationCode string    `json:"authorization_code" bson:"authorization_code"`
	SubscriptionId    string    `json:"subscription_id,omitempty" bson:"subscription_id"`
	MemberId          string    `json:"member_id,omitempty" bson:"member_id"`
	ShopOrderId       string    `json:"shop_order_id,omitempty" bson:"shop_order_id"`
	RefundAmount      int       `json:"refund_amount" bson:"refund_amount"`
	RefundStatus      string    `json:"refund_status,omitempty" bson:"refund_status"`
	RefundCode        string    `json:"refund_code,omitempty" bson:"refund_code"`
	RefundTime        time.Time `json:"refund_time,omitempty" bson:"refund_time"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

// Close sets the outcome of the processor call.
func (t *PaymentTransaction) Close(authorized bool, responseCode, errorCode string) {
	if authorized {
		t.Status = TransactionAuthorized
	} else {
		t.Status = TransactionDenied
	}
	t.ResponseCode = responseCode
	t.ErrorCode = errorCode
}

func (t *PaymentTransaction) IsPending() bool {
	return t.Status == TransactionPending
}
