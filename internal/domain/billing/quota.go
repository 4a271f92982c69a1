package billing

// QuotaCheckResult is the outcome of an advisory quota check. The check is
// not an admission gate: callers check before acting and report after, so
// two racing callers can both pass with one unit left. The overshoot is
// bounded by the number of racers and accepted.
type QuotaCheckResult struct {
	Resource   Resource `json:"resource"`
	Allowed    bool     `json:"allowed"`
	Limit      int64    `json:"limit"`
	Used       int64    `json:"used"`
	Unlimited  bool     `json:"unlimited"`
	Percentage float64  `json:"percentage"`
}

// Remaining returns the units left before the limit, zero when exhausted
// or unlimited
func (r QuotaCheckResult) Remaining() int64 {
	if r.Unlimited {
		return 0
	}
	if r.Used >= r.Limit {
		return 0
	}
	return r.Limit - r.Used
}

// QuotaTable is the immutable (tier, resource) -> limit lookup built once
// from the plan catalog at startup
type QuotaTable struct {
	limits map[Tier]map[Resource]int64
}

// NewQuotaTable builds a quota table from the plan catalog
func NewQuotaTable(plans []*SubscriptionPlan) *QuotaTable {
	limits := make(map[Tier]map[Resource]int64, len(plans))
	for _, plan := range plans {
		tierLimits := make(map[Resource]int64, len(plan.Limits))
		for resource, limit := range plan.Limits {
			tierLimits[resource] = limit
		}
		limits[plan.Tier] = tierLimits
	}
	return &QuotaTable{limits: limits}
}

// Limit returns the limit for (tier, resource). An unknown tier falls back
// to the free tier's limits; an unknown resource is treated as capped at zero.
func (t *QuotaTable) Limit(tier Tier, resource Resource) int64 {
	tierLimits, ok := t.limits[tier]
	if !ok {
		tierLimits = t.limits[TierFree]
	}
	limit, ok := tierLimits[resource]
	if !ok {
		return 0
	}
	return limit
}

// Check evaluates current usage against the table. Pure and side-effect-free.
// A limit of -1 means unlimited: always allowed, percentage reported as 0.
// Percentage is not capped at 100 since usage can race past the limit
// before the caller acts on a check.
func (t *QuotaTable) Check(tier Tier, resource Resource, used int64) QuotaCheckResult {
	limit := t.Limit(tier, resource)
	result := QuotaCheckResult{
		Resource:  resource,
		Limit:     limit,
		Used:      used,
		Unlimited: limit == UnlimitedLimit,
	}

	if result.Unlimited {
		result.Allowed = true
		return result
	}

	result.Allowed = used < limit
	if limit > 0 {
		result.Percentage = float64(used) / float64(limit) * 100
	} else if used > 0 {
		result.Percentage = 100
	}
	return result
}
