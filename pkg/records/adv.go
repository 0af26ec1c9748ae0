package records

import "github.com/shopspring/decimal"

// AdvStats is the aggregate advertising statistics object returned for
// one date range: summed numeric fields plus a nested per-campaign list.
// One AdvStats value is produced per fetched chunk; MergeAdvStats in
// pkg/aggregate folds them into a single aggregate.
type AdvStats struct {
	// DateFrom/DateTo bound the range this aggregate covers. Set by the
	// fetch function, not by the API.
	DateFrom string `json:"-"`
	DateTo   string `json:"-"`

	Views     int64           `json:"views"`
	Clicks    int64           `json:"clicks"`
	Orders    int64           `json:"orders"`
	Spend     decimal.Decimal `json:"sum"`
	Campaigns []CampaignStat  `json:"campaigns"`
}

// CampaignStat is one advertising campaign's slice of the aggregate.
type CampaignStat struct {
	AdvertID int64           `json:"advertId"`
	Name     string          `json:"name"`
	Views    int64           `json:"views"`
	Clicks   int64           `json:"clicks"`
	Orders   int64           `json:"orders"`
	Spend    decimal.Decimal `json:"sum"`
}

// Identity keys the aggregate on its date range, so per-chunk aggregates
// survive deduplication while a chunk accidentally fetched twice
// collapses to one entry.
func (a *AdvStats) Identity() (string, bool) {
	return compositeKey("adv", a.DateFrom, a.DateTo)
}
