package entitlement

import (
	"sort"
)

// Plan is an immutable catalog entry.
type Plan struct {
	Key                string
	Title              string
	Price              float64 // BRL
	Months             int
	AllowedAccessCount int
}

var catalog = map[string]Plan{
	"monthly":     {Key: "monthly", Title: "Checklist Mensal", Price: 29.90, Months: 1, AllowedAccessCount: 1},
	"quarterly":   {Key: "quarterly", Title: "Checklist Trimestral", Price: 79.90, Months: 3, AllowedAccessCount: 1},
	"annual":      {Key: "annual", Title: "Checklist Anual", Price: 299.90, Months: 12, AllowedAccessCount: 1},
	"annual_plus": {Key: "annual_plus", Title: "Checklist Anual Plus", Price: 399.90, Months: 12, AllowedAccessCount: 2},
}

// LookupPlan returns the catalog entry for key.
func LookupPlan(key string) (Plan, bool) {
	p, ok := catalog[key]
	return p, ok
}

// Plans returns every catalog entry ordered by price.
func Plans() []Plan {
	plans := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Price < plans[j].Price })
	return plans
}
