// Package billing provides the domain models for usage quotas and subscription state.
//
// This package implements the billing bounded context, which is responsible for:
//   - Durable per-account usage counters scoped to calendar-month periods
//   - Advisory quota checks against the tier limit table
//   - The subscription lifecycle state machine driven by payment processor events
//   - Append-only payment and event ledgers with idempotency keys
//
// Key Aggregates:
//   - UsagePeriod: Per-account counters for one calendar month
//   - Subscription: Authoritative billing state of an account, one row each
//   - PaymentRecord: Write-once ledger of payment attempts
//   - SubscriptionEvent: Audit trail of inbound processor events
//
// Value Objects:
//   - QuotaTable / QuotaCheckResult: Immutable tier limit lookup and check outcome
//   - Resource / Tier: Enumerations of metered resources and subscription levels
//
// Subscription and UsagePeriod are owned exclusively by this context; the rest
// of the application reads them through the application services only.
package billing
