package entity

import "time"

const (
	RenewalCharged     = "charged"
	RenewalFailed      = "failed"
	RenewalExpired     = "expired"
	RenewalConfigError = "config_error"
	RenewalStoreError  = "store_error"
	RenewalWouldCharge = "would_charge"
)

// RenewalOutcome describes what happened to one subscription during a run.
type RenewalOutcome struct {
	SubscriptionId string    `json:"subscription_id"`
	MemberId       string    `json:"member_id"`
	Order          string    `json:"order,omitempty"`
	Amount         int       `json:"amount"`
	Result         string    `json:"result"`
	Code           string    `json:"code,omitempty"`
	EndDate        time.Time `json:"end_date"`
}

// RenewalReport summarizes a renewal run or a cancellation sweep.
type RenewalReport struct {
	DryRun   bool             `json:"dry_run"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Outcomes []RenewalOutcome `json:"outcomes"`
}

func (r *RenewalReport) Add(outcome RenewalOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
}

// Count returns the number of outcomes with the given result.
func (r *RenewalReport) Count(result string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == result {
			n++
		}
	}
	return n
}
