package billing

import (
	"time"

	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// UsagePeriod holds the durable per-account counters for one calendar month.
// Exactly one period is current for an account at any time; a new row is
// created lazily on the first report or peek of a new month. Stale periods
// are never mutated or deleted, they remain as usage history.
type UsagePeriod struct {
	shared.AccountAggregateRoot
	PeriodStart            time.Time
	PeriodEnd              time.Time
	ConversationsUsed      int64
	FileUploadsUsed        int64
	KnowledgeBaseBytesUsed int64
}

// NewUsagePeriod creates a zeroed usage period for the month containing now
func NewUsagePeriod(accountID uuid.UUID, now time.Time) *UsagePeriod {
	start, end := PeriodBounds(now)
	return &UsagePeriod{
		AccountAggregateRoot: shared.NewAccountAggregateRoot(accountID),
		PeriodStart:          start,
		PeriodEnd:            end,
	}
}

// PeriodBounds returns the calendar-month boundaries containing the given time
func PeriodBounds(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// IsExpired returns true if the period ended before the given time
func (p *UsagePeriod) IsExpired(now time.Time) bool {
	return now.After(p.PeriodEnd)
}

// Counter returns the stored counter for a resource
func (p *UsagePeriod) Counter(resource Resource) int64 {
	switch resource {
	case ResourceConversations:
		return p.ConversationsUsed
	case ResourceFileUploads:
		return p.FileUploadsUsed
	case ResourceKnowledgeBaseBytes:
		return p.KnowledgeBaseBytesUsed
	default:
		return 0
	}
}

// ValidateDelta checks that a usage delta is legal for the resource.
// Only knowledge base bytes may be negative; zero deltas are rejected
// to catch caller bugs.
func ValidateDelta(resource Resource, delta int64) error {
	if !resource.IsValid() {
		return shared.NewDomainError("INVALID_ARGUMENT", "Unknown resource")
	}
	if delta == 0 {
		return shared.NewDomainError("INVALID_ARGUMENT", "Delta must be non-zero")
	}
	if delta < 0 && !resource.IsDecrementable() {
		return shared.NewDomainError("INVALID_ARGUMENT", "Negative delta on increment-only resource")
	}
	return nil
}

// UsageEntry is an append-only audit record of a single usage report,
// written alongside the counter update for history and analytics
type UsageEntry struct {
	shared.BaseEntity
	AccountID  uuid.UUID
	Resource   Resource
	Delta      int64
	RecordedAt time.Time
}

// NewUsageEntry creates an audit entry for a usage report
func NewUsageEntry(accountID uuid.UUID, resource Resource, delta int64) *UsageEntry {
	return &UsageEntry{
		BaseEntity: shared.NewBaseEntity(),
		AccountID:  accountID,
		Resource:   resource,
		Delta:      delta,
		RecordedAt: time.Now(),
	}
}
