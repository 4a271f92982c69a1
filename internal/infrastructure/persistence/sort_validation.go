package persistence

import (
	"strings"
)

// Client-supplied sort parameters never reach ORDER BY raw: the column must
// be on the table's allow list and the direction must normalize to ASC or
// DESC, otherwise the table's default applies.

// paymentSortColumns are the sortable columns of payment_records
var paymentSortColumns = map[string]bool{
	"occurred_at": true,
	"amount":      true,
	"currency":    true,
	"status":      true,
	"created_at":  true,
}

// usagePeriodSortColumns are the sortable columns of usage_periods
var usagePeriodSortColumns = map[string]bool{
	"period_start":              true,
	"period_end":                true,
	"conversations_used":        true,
	"file_uploads_used":         true,
	"knowledge_base_bytes_used": true,
	"updated_at":                true,
}

const (
	defaultPaymentSortColumn     = "occurred_at"
	defaultUsagePeriodSortColumn = "period_start"
)

// normalizeSortColumn returns the requested column if it is on the allow
// list, the fallback otherwise
func normalizeSortColumn(requested string, allowed map[string]bool, fallback string) string {
	column := strings.ToLower(strings.TrimSpace(requested))
	if allowed[column] {
		return column
	}
	return fallback
}

// normalizeSortDirection returns ASC only for an explicit ascending request;
// billing history lists default to newest first
func normalizeSortDirection(requested string) string {
	if strings.EqualFold(strings.TrimSpace(requested), "asc") {
		return "ASC"
	}
	return "DESC"
}

// paymentOrderClause builds the ORDER BY expression for payment history
func paymentOrderClause(sortBy, sortDir string) string {
	column := normalizeSortColumn(sortBy, paymentSortColumns, defaultPaymentSortColumn)
	return column + " " + normalizeSortDirection(sortDir)
}

// usagePeriodOrderClause builds the ORDER BY expression for usage history
func usagePeriodOrderClause(sortBy, sortDir string) string {
	column := normalizeSortColumn(sortBy, usagePeriodSortColumns, defaultUsagePeriodSortColumn)
	return column + " " + normalizeSortDirection(sortDir)
}
