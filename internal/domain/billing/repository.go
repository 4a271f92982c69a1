package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SortSpec carries client-requested ordering for history lists. Values are
// advisory: each repository validates them against its own column allow list
// and falls back to its default ordering.
type SortSpec struct {
	By        string
	Direction string
}

// UsagePeriodRepository persists the per-account monthly counters
type UsagePeriodRepository interface {
	// GetOrCreateCurrent returns the open period for the account, creating
	// the current month's row if it is missing or the stored one expired.
	// Safe under concurrent callers: at most one row per (account, month).
	GetOrCreateCurrent(ctx context.Context, accountID uuid.UUID, now time.Time) (*UsagePeriod, error)

	// Increment atomically adds delta to the resource counter of the current
	// period and returns the post-increment snapshot. Knowledge base bytes
	// clamp at zero; clamped reports whether clamping occurred.
	Increment(ctx context.Context, accountID uuid.UUID, resource Resource, delta int64, now time.Time) (period *UsagePeriod, clamped bool, err error)

	// FindByAccountAndStart retrieves one period row
	FindByAccountAndStart(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (*UsagePeriod, error)

	// ListByAccount returns historical periods ordered per sort, newest
	// first by default
	ListByAccount(ctx context.Context, accountID uuid.UUID, sort SortSpec, limit int) ([]*UsagePeriod, error)
}

// UsageEntryRepository persists the append-only usage audit log
type UsageEntryRepository interface {
	// Save appends one audit entry
	Save(ctx context.Context, entry *UsageEntry) error

	// ListByAccount returns audit entries for an account within a time range
	ListByAccount(ctx context.Context, accountID uuid.UUID, start, end time.Time, limit int) ([]*UsageEntry, error)
}

// SubscriptionRepository persists the one-per-account subscription rows
type SubscriptionRepository interface {
	// FindByAccount retrieves the subscription for an account
	FindByAccount(ctx context.Context, accountID uuid.UUID) (*Subscription, error)

	// FindByExternalID retrieves a subscription by the processor's id
	FindByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)

	// FindByExternalCustomerID retrieves a subscription by the processor's customer id
	FindByExternalCustomerID(ctx context.Context, externalCustomerID string) (*Subscription, error)

	// Save inserts a new subscription row
	Save(ctx context.Context, subscription *Subscription) error

	// Update persists subscription mutations with optimistic version checking
	Update(ctx context.Context, subscription *Subscription) error

	// WithAccountLock runs fn while holding a row lock on the account's
	// subscription, serializing concurrent event application per account
	WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, subscription *Subscription) error) error
}

// PaymentRecordRepository persists the append-only payment ledger
type PaymentRecordRepository interface {
	// Upsert inserts the record or, when external_payment_id already exists,
	// applies a status-only transition to the stored row. Created reports
	// whether a new row was inserted.
	Upsert(ctx context.Context, record *PaymentRecord) (stored *PaymentRecord, created bool, err error)

	// FindByExternalID retrieves a payment by the processor's id
	FindByExternalID(ctx context.Context, externalPaymentID string) (*PaymentRecord, error)

	// ListByAccount returns payment history for an account ordered per sort,
	// newest first by default
	ListByAccount(ctx context.Context, accountID uuid.UUID, sort SortSpec, limit int) ([]*PaymentRecord, error)
}

// SubscriptionEventRepository persists the append-only audit trail
type SubscriptionEventRepository interface {
	// InsertIfAbsent atomically inserts the event row unless one with the
	// same external_event_id exists. Inserted reports whether this call won;
	// on a lost race the stored winner's row is returned instead.
	InsertIfAbsent(ctx context.Context, event *SubscriptionEvent) (stored *SubscriptionEvent, inserted bool, err error)

	// UpdateDisposition records the apply outcome on an event row
	UpdateDisposition(ctx context.Context, event *SubscriptionEvent) error

	// FindByExternalID retrieves an audit row by the processor's event id
	FindByExternalID(ctx context.Context, externalEventID string) (*SubscriptionEvent, error)

	// ListRecent returns the newest audit rows for operator inspection
	ListRecent(ctx context.Context, limit int) ([]*SubscriptionEvent, error)
}

// SubscriptionPlanRepository persists the seeded plan catalog
type SubscriptionPlanRepository interface {
	// FindAll returns the full catalog ordered by monthly price
	FindAll(ctx context.Context) ([]*SubscriptionPlan, error)

	// FindByTier retrieves one catalog entry
	FindByTier(ctx context.Context, tier Tier) (*SubscriptionPlan, error)

	// Seed inserts the catalog entries that are not already present
	Seed(ctx context.Context, plans []*SubscriptionPlan) error
}
