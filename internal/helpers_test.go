package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"paycore/config"
	"paycore/entity"
	"paycore/services"
	"sort"
	"sync"
	"testing"
	"time"
)

// 24-byte key, base64 encoded
const testSecret = "sq7HjrUOBfKmC576ILgskD5srU870gJ7"

var errStore = errors.New("store unavailable")

func testConfig(url string) *config.Config {
	conf := &config.Config{}
	conf.Merchant = config.MerchantConfig{
		Secret:     testSecret,
		Code:       "999008881",
		Terminal:   "1",
		Currency:   "978",
		NotifyUrl:  "https://example.com/notify",
		RequestUrl: url + "/execute",
		InitUrl:    url + "/init",
		Timeout:    2 * time.Second,
	}
	conf.Billing = config.BillingConfig{BatchLimit: 10, MaxFailures: 3, RetryPastDue: true}
	conf.Plans = []config.PlanConfig{
		{Type: "basic", Interval: entity.IntervalMonthly, Price: "9.99"},
		{Type: "basic", Interval: entity.IntervalAnnual, Price: "99"},
	}
	return conf
}

func testLogger() *Logger {
	return NewLogger("test", true, nil)
}

// fakeProcessor answers signed requests like the processor's REST API.
type fakeProcessor struct {
	t       *testing.T
	secret  string
	status  int
	respond func(request entity.MerchantParameters) map[string]string

	mutex    sync.Mutex
	requests []entity.MerchantParameters
	paths    []string
}

func newFakeProcessor(t *testing.T, respond func(request entity.MerchantParameters) map[string]string) (*fakeProcessor, *httptest.Server) {
	f := &fakeProcessor{t: t, secret: testSecret, status: http.StatusOK, respond: respond}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeProcessor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var envelope entity.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		f.t.Errorf("decode envelope: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !NewEncryptor(testSecret).VerifySignature(envelope.Parameters, envelope.Signature) {
		f.t.Errorf("request signature not valid")
	}
	var request entity.MerchantParameters
	if err := DecodeParameters(envelope.Parameters, &request); err != nil {
		f.t.Errorf("decode parameters: %v", err)
	}
	f.mutex.Lock()
	f.requests = append(f.requests, request)
	f.paths = append(f.paths, r.URL.Path)
	f.mutex.Unlock()

	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	fields := f.respond(request)
	if code, ok := fields["errorCode"]; ok {
		_ = json.NewEncoder(w).Encode(entity.ErrorCodeResponse{Code: code})
		return
	}
	_ = json.NewEncoder(w).Encode(signedEnvelope(f.t, f.secret, fields))
}

func (f *fakeProcessor) lastRequest() entity.MerchantParameters {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.requests) == 0 {
		f.t.Fatalf("no request received")
	}
	return f.requests[len(f.requests)-1]
}

func signedEnvelope(t *testing.T, secret string, fields map[string]string) entity.PaymentRequest {
	encoded, err := EncodeParameters(fields)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	signature, err := NewEncryptor(secret).CreateSignature(encoded, fields["Ds_Order"])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return entity.PaymentRequest{Parameters: encoded, Signature: signature, SignatureVersion: entity.SignatureVersion}
}

// echo builds a response for the request with the given code.
func echo(request entity.MerchantParameters, code string) map[string]string {
	return map[string]string{
		"Ds_Order":           request.Order,
		"Ds_Amount":          request.Amount,
		"Ds_Currency":        request.Currency,
		"Ds_TransactionType": request.TransactionType,
		"Ds_Response":        code,
	}
}

// memoryStore is an in-memory services.Database.
type memoryStore struct {
	mutex         sync.Mutex
	transactions  map[string]*entity.PaymentTransaction
	subscriptions map[string]*entity.Subscription
	members       map[string]bool
	logs          []services.Data

	failInsertTransaction error
	failSubscription      error
	failMembership        error
	failRefund            error
	membershipCalls       int
}

var _ services.Database = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transactions:  make(map[string]*entity.PaymentTransaction),
		subscriptions: make(map[string]*entity.Subscription),
		members:       make(map[string]bool),
	}
}

func (m *memoryStore) WriteLogMessage(data services.Data) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.logs = append(m.logs, data)
	return nil
}

func (m *memoryStore) GetTransaction(_ context.Context, order string) (*entity.PaymentTransaction, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	transaction, ok := m.transactions[order]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *transaction
	return &copied, nil
}

func (m *memoryStore) InsertTransaction(_ context.Context, transaction *entity.PaymentTransaction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failInsertTransaction != nil {
		return m.failInsertTransaction
	}
	if _, ok := m.transactions[transaction.Order]; ok {
		return errors.New("duplicate order")
	}
	copied := *transaction
	m.transactions[transaction.Order] = &copied
	return nil
}

func (m *memoryStore) UpdateTransaction(_ context.Context, transaction *entity.PaymentTransaction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	stored, ok := m.transactions[transaction.Order]
	if !ok {
		return errors.New("not found")
	}
	stored.Status = transaction.Status
	stored.ResponseCode = transaction.ResponseCode
	stored.ErrorCode = transaction.ErrorCode
	stored.AuthorizationCode = transaction.AuthorizationCode
	stored.SubscriptionId = transaction.SubscriptionId
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) SaveRefund(_ context.Context, order string, amount int, status, code string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failRefund != nil {
		return m.failRefund
	}
	stored, ok := m.transactions[order]
	if !ok {
		return errors.New("not found")
	}
	stored.RefundAmount = amount
	stored.RefundStatus = status
	stored.RefundCode = code
	stored.RefundTime = time.Now()
	return nil
}

func (m *memoryStore) GetSubscription(_ context.Context, id string) (*entity.Subscription, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	subscription, ok := m.subscriptions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *subscription
	return &copied, nil
}

func (m *memoryStore) InsertSubscription(_ context.Context, subscription *entity.Subscription) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	copied := *subscription
	m.subscriptions[subscription.Id] = &copied
	return nil
}

func (m *memoryStore) DueSubscriptions(_ context.Context, statuses []string, now time.Time, limit int) ([]*entity.Subscription, error) {
	return m.find(func(s *entity.Subscription) bool {
		return contains(statuses, s.Status) && !s.EndDate.After(now) && s.Token != "" && s.CofTid != ""
	}, limit)
}

func (m *memoryStore) ElapsedCanceledSubscriptions(_ context.Context, now time.Time, limit int) ([]*entity.Subscription, error) {
	return m.find(func(s *entity.Subscription) bool {
		return s.Status == entity.SubscriptionCanceled && !s.EndDate.After(now)
	}, limit)
}

func (m *memoryStore) find(match func(s *entity.Subscription) bool, limit int) ([]*entity.Subscription, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var found []*entity.Subscription
	for _, subscription := range m.subscriptions {
		if match(subscription) {
			copied := *subscription
			found = append(found, &copied)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].EndDate.Before(found[j].EndDate) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *memoryStore) UpdateSubscriptionRenewal(_ context.Context, id string, endDate time.Time, order, cofTid string) error {
	return m.update(id, func(s *entity.Subscription) {
		s.Status = entity.SubscriptionActive
		s.EndDate = endDate
		s.RenewalFailures = 0
		s.LastOrder = order
		if cofTid != "" {
			s.CofTid = cofTid
		}
	})
}

func (m *memoryStore) UpdateSubscriptionFailure(_ context.Context, id string, failures int, status, order string) error {
	return m.update(id, func(s *entity.Subscription) {
		s.Status = status
		s.RenewalFailures = failures
		s.LastOrder = order
	})
}

func (m *memoryStore) UpdateSubscriptionStatus(_ context.Context, id string, status string, cancelAtPeriodEnd bool) error {
	return m.update(id, func(s *entity.Subscription) {
		s.Status = status
		s.CancelAtPeriodEnd = cancelAtPeriodEnd
	})
}

func (m *memoryStore) UpdateSubscriptionToken(_ context.Context, id string, token, tokenExpiry, cofTid string) error {
	return m.update(id, func(s *entity.Subscription) {
		s.Token = token
		s.TokenExpiry = tokenExpiry
		s.CofTid = cofTid
	})
}

func (m *memoryStore) update(id string, apply func(s *entity.Subscription)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failSubscription != nil {
		return m.failSubscription
	}
	subscription, ok := m.subscriptions[id]
	if !ok {
		return errors.New("not found")
	}
	apply(subscription)
	subscription.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) SetMembership(_ context.Context, memberId string, isMember bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.membershipCalls++
	if m.failMembership != nil {
		return m.failMembership
	}
	m.members[memberId] = isMember
	return nil
}

func (m *memoryStore) subscription(id string) entity.Subscription {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return *m.subscriptions[id]
}

func (m *memoryStore) transactionsFor(subscriptionId string) []entity.PaymentTransaction {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var found []entity.PaymentTransaction
	for _, transaction := range m.transactions {
		if transaction.SubscriptionId == subscriptionId {
			found = append(found, *transaction)
		}
	}
	return found
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
