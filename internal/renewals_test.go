package internal

import (
	"context"
	"testing"
	"time"

	"paycore/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCharger struct {
	mock.Mock
}

func (m *mockCharger) ChargeStoredToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*ChargeResult)
	return result, args.Error(1)
}

var renewalNow = time.Date(2026, time.October, 16, 3, 0, 0, 0, time.UTC)

func newTestRenewals(t *testing.T) (*Renewals, *memoryStore, *mockCharger) {
	catalog, err := NewCatalog(testConfig("").Plans)
	require.NoError(t, err)
	store := newMemoryStore()
	charger := &mockCharger{}
	renewals := NewRenewals(testConfig(""), store, charger, catalog, testLogger())
	renewals.now = func() time.Time { return renewalNow }
	return renewals, store, charger
}

func dueSubscription(id string, status string, failures int) *entity.Subscription {
	return &entity.Subscription{
		Id:              id,
		MemberId:        "member-" + id,
		PlanType:        "basic",
		Interval:        entity.IntervalMonthly,
		Status:          status,
		EndDate:         time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC),
		Token:           "tok-" + id,
		CofTid:          "cof-" + id,
		RenewalFailures: failures,
	}
}

func TestRenewals_Charged(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionActive, 0)))

	charger.On("ChargeStoredToken", mock.Anything, mock.MatchedBy(func(req ChargeRequest) bool {
		return req.Amount == 999 && req.Token == "tok-s1" && req.CofTid == "cof-s1"
	})).Return(&ChargeResult{ResponseCode: "0000", AuthorizationCode: "123456", CofTid: "cof-s1-next"}, nil).Once()

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	outcome := report.Outcomes[0]
	assert.Equal(t, entity.RenewalCharged, outcome.Result)
	assert.Equal(t, 999, outcome.Amount)

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionActive, subscription.Status)
	assert.Equal(t, time.Date(2026, time.November, 15, 0, 0, 0, 0, time.UTC), subscription.EndDate)
	assert.Equal(t, 0, subscription.RenewalFailures)
	assert.Equal(t, outcome.Order, subscription.LastOrder)
	assert.Equal(t, "cof-s1-next", subscription.CofTid)

	transactions := store.transactionsFor("s1")
	require.Len(t, transactions, 1)
	assert.Equal(t, entity.TransactionAuthorized, transactions[0].Status)
	assert.Equal(t, "123456", transactions[0].AuthorizationCode)
	assert.Equal(t, "978", transactions[0].Currency)
	tag, _ := OrderTagOf(transactions[0].Order)
	assert.Equal(t, TagRecurring, tag)
	assert.Equal(t, 0, store.membershipCalls)
	charger.AssertExpectations(t)
}

func TestRenewals_PastDueRecovers(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionPastDue, 2)))
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(&ChargeResult{ResponseCode: "0000", CofTid: "cof-s1"}, nil)

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(entity.RenewalCharged))

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionActive, subscription.Status)
	assert.Equal(t, 0, subscription.RenewalFailures)
	assert.Equal(t, 0, store.membershipCalls)
}

func TestRenewals_FirstFailure(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	due := dueSubscription("s1", entity.SubscriptionActive, 0)
	require.NoError(t, store.InsertSubscription(context.Background(), due))
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(nil, &DenialError{Code: "0190"})

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, entity.RenewalFailed, report.Outcomes[0].Result)
	assert.Equal(t, "0190", report.Outcomes[0].Code)

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionPastDue, subscription.Status)
	assert.Equal(t, 1, subscription.RenewalFailures)
	assert.Equal(t, due.EndDate, subscription.EndDate)
	assert.Equal(t, 0, store.membershipCalls)

	transactions := store.transactionsFor("s1")
	require.Len(t, transactions, 1)
	assert.Equal(t, entity.TransactionDenied, transactions[0].Status)
	assert.Equal(t, "0190", transactions[0].ResponseCode)
}

func TestRenewals_ThirdFailureExpires(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	due := dueSubscription("s1", entity.SubscriptionPastDue, 2)
	require.NoError(t, store.InsertSubscription(context.Background(), due))
	store.members[due.MemberId] = true
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(nil, &DenialError{Code: "0190"})

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(entity.RenewalExpired))

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionExpired, subscription.Status)
	assert.Equal(t, 3, subscription.RenewalFailures)
	assert.Equal(t, due.EndDate, subscription.EndDate)
	assert.False(t, store.members[due.MemberId])
	assert.Equal(t, 1, store.membershipCalls)
}

func TestRenewals_UnverifiedResponseIsFailure(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionActive, 0)))
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(nil, ErrSignature)

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, CodeSignatureFailed, report.Outcomes[0].Code)
	assert.Equal(t, entity.SubscriptionPastDue, store.subscription("s1").Status)
	transactions := store.transactionsFor("s1")
	require.Len(t, transactions, 1)
	assert.Equal(t, entity.TransactionDenied, transactions[0].Status)
	assert.Equal(t, CodeSignatureFailed, transactions[0].ErrorCode)
}

func TestRenewals_MembershipFailureKeepsTransition(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionPastDue, 2)))
	store.failMembership = errStore
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(nil, &DenialError{Code: "0116"})

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(entity.RenewalExpired))
	assert.Equal(t, entity.SubscriptionExpired, store.subscription("s1").Status)
	assert.Equal(t, 1, store.membershipCalls)
}

func TestRenewals_ConfigError(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	due := dueSubscription("s1", entity.SubscriptionActive, 0)
	due.PlanType = "gold"
	require.NoError(t, store.InsertSubscription(context.Background(), due))

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, entity.RenewalConfigError, report.Outcomes[0].Result)
	assert.Equal(t, entity.SubscriptionActive, store.subscription("s1").Status)
	assert.Empty(t, store.transactionsFor("s1"))
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_MerchantNotConfigured(t *testing.T) {
	conf := testConfig("")
	conf.Merchant.Secret = ""
	catalog, err := NewCatalog(conf.Plans)
	require.NoError(t, err)
	store := newMemoryStore()
	charger := &mockCharger{}
	renewals := NewRenewals(conf, store, charger, catalog, testLogger())
	renewals.now = func() time.Time { return renewalNow }
	due := dueSubscription("s1", entity.SubscriptionPastDue, 2)
	require.NoError(t, store.InsertSubscription(context.Background(), due))

	for i := 0; i < 3; i++ {
		report, err := renewals.Run(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, report.Outcomes, 1)
		assert.Equal(t, entity.RenewalConfigError, report.Outcomes[0].Result)
		assert.Equal(t, "CONFIG", report.Outcomes[0].Code)
	}

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionPastDue, subscription.Status)
	assert.Equal(t, 2, subscription.RenewalFailures)
	assert.Equal(t, due.EndDate, subscription.EndDate)
	assert.Empty(t, store.transactions)
	assert.Equal(t, 0, store.membershipCalls)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_InvalidSecretIsNotFailure(t *testing.T) {
	conf := testConfig("")
	conf.Merchant.Secret = "not base64 !!"
	catalog, err := NewCatalog(conf.Plans)
	require.NoError(t, err)
	store := newMemoryStore()
	payments := NewPayments(NewRedsysClient(conf, testLogger()), testLogger())
	renewals := NewRenewals(conf, store, payments, catalog, testLogger())
	renewals.now = func() time.Time { return renewalNow }
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionActive, 2)))

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, entity.RenewalConfigError, report.Outcomes[0].Result)

	subscription := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionActive, subscription.Status)
	assert.Equal(t, 2, subscription.RenewalFailures)
	assert.Equal(t, 0, store.membershipCalls)

	transactions := store.transactionsFor("s1")
	require.Len(t, transactions, 1)
	assert.False(t, transactions[0].IsPending())
	assert.Equal(t, "CONFIG", transactions[0].ErrorCode)
}

func TestRenewals_FailureDoesNotStopBatch(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	first := dueSubscription("s1", entity.SubscriptionActive, 0)
	first.EndDate = first.EndDate.AddDate(0, 0, -1)
	second := dueSubscription("s2", entity.SubscriptionActive, 0)
	for _, s := range []*entity.Subscription{first, second} {
		require.NoError(t, store.InsertSubscription(context.Background(), s))
	}
	charger.On("ChargeStoredToken", mock.Anything, mock.MatchedBy(func(req ChargeRequest) bool {
		return req.Token == "tok-s1"
	})).Return(nil, &TransportError{Err: context.DeadlineExceeded}).Once()
	charger.On("ChargeStoredToken", mock.Anything, mock.MatchedBy(func(req ChargeRequest) bool {
		return req.Token == "tok-s2"
	})).Return(&ChargeResult{ResponseCode: "0000", CofTid: "cof-s2"}, nil).Once()

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, entity.RenewalFailed, report.Outcomes[0].Result)
	assert.Equal(t, "TRANSPORT", report.Outcomes[0].Code)
	assert.Equal(t, entity.RenewalCharged, report.Outcomes[1].Result)

	failed := store.subscription("s1")
	assert.Equal(t, entity.SubscriptionPastDue, failed.Status)
	assert.Equal(t, 1, failed.RenewalFailures)
	charged := store.subscription("s2")
	assert.Equal(t, entity.SubscriptionActive, charged.Status)
	assert.Equal(t, time.Date(2026, time.November, 15, 0, 0, 0, 0, time.UTC), charged.EndDate)
	charger.AssertExpectations(t)
}

func TestRenewals_DryRun(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	due := dueSubscription("s1", entity.SubscriptionActive, 0)
	require.NoError(t, store.InsertSubscription(context.Background(), due))
	annual := dueSubscription("s2", entity.SubscriptionPastDue, 1)
	annual.Interval = entity.IntervalAnnual
	require.NoError(t, store.InsertSubscription(context.Background(), annual))

	report, err := renewals.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Count(entity.RenewalWouldCharge))

	amounts := map[string]int{}
	for _, outcome := range report.Outcomes {
		amounts[outcome.SubscriptionId] = outcome.Amount
		assert.Empty(t, outcome.Order)
	}
	assert.Equal(t, map[string]int{"s1": 999, "s2": 9900}, amounts)

	assert.Equal(t, *due, store.subscription("s1"))
	assert.Empty(t, store.transactions)
	assert.Equal(t, 0, store.membershipCalls)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_Selection(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	notDue := dueSubscription("future", entity.SubscriptionActive, 0)
	notDue.EndDate = renewalNow.Add(time.Hour)
	noCard := dueSubscription("nocard", entity.SubscriptionActive, 0)
	noCard.CofTid = ""
	canceled := dueSubscription("canceled", entity.SubscriptionCanceled, 0)
	for _, s := range []*entity.Subscription{notDue, noCard, canceled} {
		require.NoError(t, store.InsertSubscription(context.Background(), s))
	}

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_PastDueNotRetried(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	renewals.retryPastDue = false
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionPastDue, 1)))

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_AuditRecordRequired(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionActive, 0)))
	store.failInsertTransaction = errStore

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, entity.RenewalStoreError, report.Outcomes[0].Result)
	assert.Equal(t, 0, store.subscription("s1").RenewalFailures)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_BatchLimit(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	renewals.batchLimit = 2
	for i, id := range []string{"a", "b", "c"} {
		s := dueSubscription(id, entity.SubscriptionActive, 0)
		s.EndDate = s.EndDate.AddDate(0, 0, -i)
		require.NoError(t, store.InsertSubscription(context.Background(), s))
	}
	charger.On("ChargeStoredToken", mock.Anything, mock.Anything).Return(&ChargeResult{ResponseCode: "0000"}, nil)

	report, err := renewals.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "c", report.Outcomes[0].SubscriptionId)
	assert.Equal(t, "b", report.Outcomes[1].SubscriptionId)
	assert.Equal(t, entity.SubscriptionActive, store.subscription("a").Status)
	assert.Equal(t, dueSubscription("a", "", 0).EndDate, store.subscription("a").EndDate)
}

func TestRenewals_Cancelled(t *testing.T) {
	renewals, store, charger := newTestRenewals(t)
	require.NoError(t, store.InsertSubscription(context.Background(), dueSubscription("s1", entity.SubscriptionActive, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := renewals.Run(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Outcomes)
	charger.AssertNotCalled(t, "ChargeStoredToken", mock.Anything, mock.Anything)
}

func TestRenewals_ExpireCanceled(t *testing.T) {
	renewals, store, _ := newTestRenewals(t)
	elapsed := dueSubscription("elapsed", entity.SubscriptionCanceled, 0)
	elapsed.CancelAtPeriodEnd = true
	running := dueSubscription("running", entity.SubscriptionCanceled, 0)
	running.EndDate = renewalNow.AddDate(0, 0, 10)
	active := dueSubscription("active", entity.SubscriptionActive, 0)
	for _, s := range []*entity.Subscription{elapsed, running, active} {
		require.NoError(t, store.InsertSubscription(context.Background(), s))
	}
	store.members[elapsed.MemberId] = true

	report, err := renewals.ExpireCanceled(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "elapsed", report.Outcomes[0].SubscriptionId)

	assert.Equal(t, entity.SubscriptionExpired, store.subscription("elapsed").Status)
	assert.False(t, store.members[elapsed.MemberId])
	assert.Equal(t, entity.SubscriptionCanceled, store.subscription("running").Status)
	assert.Equal(t, entity.SubscriptionActive, store.subscription("active").Status)
	assert.Empty(t, store.transactions)
}

func TestUpdateMembership(t *testing.T) {
	tests := []struct {
		from, to string
		calls    int
		member   bool
	}{
		{"", entity.SubscriptionActive, 1, true},
		{entity.SubscriptionActive, entity.SubscriptionPastDue, 0, false},
		{entity.SubscriptionActive, entity.SubscriptionCanceled, 0, false},
		{entity.SubscriptionPastDue, entity.SubscriptionExpired, 1, false},
		{entity.SubscriptionCanceled, entity.SubscriptionExpired, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			store := newMemoryStore()
			updateMembership(context.Background(), store, testLogger(), "m1", tt.from, tt.to)
			assert.Equal(t, tt.calls, store.membershipCalls)
			assert.Equal(t, tt.member, store.members["m1"])
		})
	}
}
