package internal

import (
	"crypto/rand"
	"io"
	"math/big"
	mrand "math/rand"
	"paycore/services"
	"sync"
	"time"
)

// OrderTag is the one-letter operation class stored in the 5th position of an order number.
type OrderTag byte

const (
	TagShop       OrderTag = 'S'
	TagMembership OrderTag = 'M'
	TagRecurring  OrderTag = 'R'
	TagRefund     OrderTag = 'D'
	TagGeneric    OrderTag = 'X'
)

const (
	orderAlphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	orderRandomLength = 7
	orderMaxLength    = 12
	orderMinLength    = 4
)

// OrderGenerator mints order numbers: YYMM, the tag and 7 random alphanumerics.
type OrderGenerator struct {
	logger services.LogHandler
	random io.Reader
	now    func() time.Time

	mutex    sync.Mutex
	fallback *mrand.Rand
}

func NewOrderGenerator(logger services.LogHandler) *OrderGenerator {
	return &OrderGenerator{
		logger: logger,
		random: rand.Reader,
		now:    time.Now,
	}
}

func (g *OrderGenerator) Generate(tag OrderTag) string {
	order := make([]byte, 0, orderMaxLength)
	order = append(order, g.now().Format("0601")...)
	order = append(order, byte(tag))
	for i := 0; i < orderRandomLength; i++ {
		order = append(order, orderAlphabet[g.index()])
	}
	return string(order)
}

func (g *OrderGenerator) index() int64 {
	n, err := rand.Int(g.random, big.NewInt(int64(len(orderAlphabet))))
	if err == nil {
		return n.Int64()
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.fallback == nil {
		if g.logger != nil {
			g.logger.Error("secure random source unavailable, order numbers use math/rand", err)
		}
		g.fallback = mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	return g.fallback.Int63n(int64(len(orderAlphabet)))
}

// IsValidOrder checks the processor's order format: 4 to 12 characters,
// the first four numeric and the rest alphanumeric.
func IsValidOrder(order string) bool {
	if len(order) < orderMinLength || len(order) > orderMaxLength {
		return false
	}
	for i := 0; i < len(order); i++ {
		c := order[i]
		isDigit := c >= '0' && c <= '9'
		if i < orderMinLength {
			if !isDigit {
				return false
			}
			continue
		}
		if !isDigit && !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// OrderTagOf returns the operation class of an order number, if it has a known one.
func OrderTagOf(order string) (OrderTag, bool) {
	if len(order) < 5 {
		return 0, false
	}
	tag := OrderTag(order[4])
	switch tag {
	case TagShop, TagMembership, TagRecurring, TagRefund, TagGeneric:
		return tag, true
	}
	return 0, false
}
