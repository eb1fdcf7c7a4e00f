package internal

import (
	"fmt"
	"paycore/config"
	"paycore/entity"

	"github.com/shopspring/decimal"
)

type planKey struct {
	planType string
	interval string
}

// Catalog resolves plan prices in cents.
type Catalog struct {
	prices map[planKey]int
}

// NewCatalog builds the price table from configured plans. Prices are given
// in major units and must convert to a whole number of cents.
func NewCatalog(plans []config.PlanConfig) (*Catalog, error) {
	c := &Catalog{prices: make(map[planKey]int, len(plans))}
	hundred := decimal.NewFromInt(100)
	for _, plan := range plans {
		if plan.Interval != entity.IntervalMonthly && plan.Interval != entity.IntervalAnnual {
			return nil, fmt.Errorf("plan %s: unknown interval %q", plan.Type, plan.Interval)
		}
		price, err := decimal.NewFromString(plan.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %s/%s: price %q: %v", plan.Type, plan.Interval, plan.Price, err)
		}
		cents := price.Mul(hundred)
		if price.IsNegative() || !cents.Equal(cents.Truncate(0)) {
			return nil, fmt.Errorf("plan %s/%s: invalid price %s", plan.Type, plan.Interval, plan.Price)
		}
		c.prices[planKey{plan.Type, plan.Interval}] = int(cents.IntPart())
	}
	return c, nil
}

// Price returns the price in cents of a plan and billing interval.
func (c *Catalog) Price(planType, interval string) (int, bool) {
	price, ok := c.prices[planKey{planType, interval}]
	return price, ok
}
