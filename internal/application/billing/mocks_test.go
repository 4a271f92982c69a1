package billing

import (
	"context"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUsagePeriodRepository is a mock implementation of billing.UsagePeriodRepository
type MockUsagePeriodRepository struct {
	mock.Mock
}

func (m *MockUsagePeriodRepository) GetOrCreateCurrent(ctx context.Context, accountID uuid.UUID, now time.Time) (*billing.UsagePeriod, error) {
	args := m.Called(ctx, accountID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsagePeriod), args.Error(1)
}

func (m *MockUsagePeriodRepository) Increment(ctx context.Context, accountID uuid.UUID, resource billing.Resource, delta int64, now time.Time) (*billing.UsagePeriod, bool, error) {
	args := m.Called(ctx, accountID, resource, delta, now)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*billing.UsagePeriod), args.Bool(1), args.Error(2)
}

func (m *MockUsagePeriodRepository) FindByAccountAndStart(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (*billing.UsagePeriod, error) {
	args := m.Called(ctx, accountID, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsagePeriod), args.Error(1)
}

func (m *MockUsagePeriodRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.UsagePeriod, error) {
	args := m.Called(ctx, accountID, sort, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.UsagePeriod), args.Error(1)
}

// MockUsageEntryRepository is a mock implementation of billing.UsageEntryRepository
type MockUsageEntryRepository struct {
	mock.Mock
}

func (m *MockUsageEntryRepository) Save(ctx context.Context, entry *billing.UsageEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockUsageEntryRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, start, end time.Time, limit int) ([]*billing.UsageEntry, error) {
	args := m.Called(ctx, accountID, start, end, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.UsageEntry), args.Error(1)
}

// MockSubscriptionRepository is a mock implementation of billing.SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByExternalID(ctx context.Context, externalSubscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, externalSubscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByExternalCustomerID(ctx context.Context, externalCustomerID string) (*billing.Subscription, error) {
	args := m.Called(ctx, externalCustomerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, subscription *billing.Subscription) error {
	args := m.Called(ctx, subscription)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, subscription *billing.Subscription) error {
	args := m.Called(ctx, subscription)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, subscription *billing.Subscription) error) error {
	args := m.Called(ctx, accountID, fn)
	if handler, ok := args.Get(0).(func(context.Context, uuid.UUID, func(context.Context, *billing.Subscription) error) error); ok {
		return handler(ctx, accountID, fn)
	}
	return args.Error(0)
}

// MockPaymentRecordRepository is a mock implementation of billing.PaymentRecordRepository
type MockPaymentRecordRepository struct {
	mock.Mock
}

func (m *MockPaymentRecordRepository) Upsert(ctx context.Context, record *billing.PaymentRecord) (*billing.PaymentRecord, bool, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*billing.PaymentRecord), args.Bool(1), args.Error(2)
}

func (m *MockPaymentRecordRepository) FindByExternalID(ctx context.Context, externalPaymentID string) (*billing.PaymentRecord, error) {
	args := m.Called(ctx, externalPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentRecord), args.Error(1)
}

func (m *MockPaymentRecordRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.PaymentRecord, error) {
	args := m.Called(ctx, accountID, sort, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.PaymentRecord), args.Error(1)
}

// MockSubscriptionEventRepository is a mock implementation of billing.SubscriptionEventRepository
type MockSubscriptionEventRepository struct {
	mock.Mock
}

func (m *MockSubscriptionEventRepository) InsertIfAbsent(ctx context.Context, event *billing.SubscriptionEvent) (*billing.SubscriptionEvent, bool, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*billing.SubscriptionEvent), args.Bool(1), args.Error(2)
}

func (m *MockSubscriptionEventRepository) UpdateDisposition(ctx context.Context, event *billing.SubscriptionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockSubscriptionEventRepository) FindByExternalID(ctx context.Context, externalEventID string) (*billing.SubscriptionEvent, error) {
	args := m.Called(ctx, externalEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.SubscriptionEvent), args.Error(1)
}

func (m *MockSubscriptionEventRepository) ListRecent(ctx context.Context, limit int) ([]*billing.SubscriptionEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.SubscriptionEvent), args.Error(1)
}

// MockSubscriptionPlanRepository is a mock implementation of billing.SubscriptionPlanRepository
type MockSubscriptionPlanRepository struct {
	mock.Mock
}

func (m *MockSubscriptionPlanRepository) FindAll(ctx context.Context) ([]*billing.SubscriptionPlan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.SubscriptionPlan), args.Error(1)
}

func (m *MockSubscriptionPlanRepository) FindByTier(ctx context.Context, tier billing.Tier) (*billing.SubscriptionPlan, error) {
	args := m.Called(ctx, tier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.SubscriptionPlan), args.Error(1)
}

func (m *MockSubscriptionPlanRepository) Seed(ctx context.Context, plans []*billing.SubscriptionPlan) error {
	args := m.Called(ctx, plans)
	return args.Error(0)
}

// MockPaymentGateway is a mock implementation of PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSessionDTO, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSessionDTO), args.Error(1)
}

func (m *MockPaymentGateway) CreatePortalSession(ctx context.Context, customerID string) (*PortalSessionDTO, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PortalSessionDTO), args.Error(1)
}

func (m *MockPaymentGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}
