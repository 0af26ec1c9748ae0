// Package aggregate merges per-chunk fetch results into a deduplicated
// record set. Chunk boundaries overlap in practice (a record updated
// between two chunk fetches can arrive in both), so the merge tracks how
// many repeats were dropped and reports the ratio for operator review.
package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/records"
)

var (
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketfetch_aggregate_duplicates_total",
		Help: "Total duplicate records dropped during aggregation",
	})

	suspiciousTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketfetch_aggregate_suspicious_total",
		Help: "Total records kept without an extractable identity",
	})
)

// warnDuplicateRatio is the duplicate share above which the merge is
// logged as pathological over-counting.
const warnDuplicateRatio = 0.5

// IdentityFunc extracts a record's dedup key. ok=false means the record
// has no usable identity.
type IdentityFunc func(records.Record) (string, bool)

// DefaultIdentity delegates to the record's own Identity method.
func DefaultIdentity(r records.Record) (string, bool) {
	return r.Identity()
}

// Result is the outcome of one aggregation pass.
type Result struct {
	// Records holds the unique records in first-seen order, including
	// identity-less ones.
	Records []records.Record

	// DuplicateCount is how many repeats of already-seen identities were
	// dropped.
	DuplicateCount int

	// SuspiciousCount is how many records were kept without an
	// extractable identity.
	SuspiciousCount int
}

// DuplicateRatio is duplicates over total input records. Zero for empty
// input.
func (r *Result) DuplicateRatio() float64 {
	total := len(r.Records) + r.DuplicateCount
	if total == 0 {
		return 0
	}
	return float64(r.DuplicateCount) / float64(total)
}

// Dedup flattens the chunk record lists in order and drops repeats of
// already-seen identities. First-seen order is preserved. Records
// without any identity are retained and counted suspicious, never
// silently dropped. A nil list (a failed chunk) contributes nothing.
//
// Dedup is idempotent: feeding its output back in yields the same set
// with DuplicateCount 0.
func Dedup(chunks [][]records.Record, identity IdentityFunc, logger zerolog.Logger) *Result {
	if identity == nil {
		identity = DefaultIdentity
	}

	res := &Result{}
	seen := make(map[string]struct{})

	for _, chunk := range chunks {
		for _, rec := range chunk {
			key, ok := identity(rec)
			if !ok {
				res.SuspiciousCount++
				res.Records = append(res.Records, rec)
				continue
			}
			if _, dup := seen[key]; dup {
				res.DuplicateCount++
				continue
			}
			seen[key] = struct{}{}
			res.Records = append(res.Records, rec)
		}
	}

	duplicatesTotal.Add(float64(res.DuplicateCount))
	suspiciousTotal.Add(float64(res.SuspiciousCount))

	evt := logger.Info()
	if res.DuplicateRatio() > warnDuplicateRatio {
		evt = logger.Warn()
	}
	evt.
		Int("unique", len(res.Records)).
		Int("duplicates", res.DuplicateCount).
		Int("suspicious", res.SuspiciousCount).
		Float64("duplicate_ratio", res.DuplicateRatio()).
		Msg("Aggregated chunk results")

	return res
}

// MergeAdvStats folds per-chunk advertising aggregates into one: numeric
// fields are summed and campaign slices merged by advert id. Records of
// other types are ignored.
func MergeAdvStats(recs []records.Record) *records.AdvStats {
	merged := &records.AdvStats{}
	byCampaign := make(map[int64]int) // advertId -> index in merged.Campaigns

	for _, rec := range recs {
		stats, ok := rec.(*records.AdvStats)
		if !ok {
			continue
		}
		if merged.DateFrom == "" || (stats.DateFrom != "" && stats.DateFrom < merged.DateFrom) {
			merged.DateFrom = stats.DateFrom
		}
		if stats.DateTo > merged.DateTo {
			merged.DateTo = stats.DateTo
		}
		merged.Views += stats.Views
		merged.Clicks += stats.Clicks
		merged.Orders += stats.Orders
		merged.Spend = merged.Spend.Add(stats.Spend)

		for _, c := range stats.Campaigns {
			if i, ok := byCampaign[c.AdvertID]; ok {
				merged.Campaigns[i].Views += c.Views
				merged.Campaigns[i].Clicks += c.Clicks
				merged.Campaigns[i].Orders += c.Orders
				merged.Campaigns[i].Spend = merged.Campaigns[i].Spend.Add(c.Spend)
				continue
			}
			byCampaign[c.AdvertID] = len(merged.Campaigns)
			merged.Campaigns = append(merged.Campaigns, c)
		}
	}
	return merged
}
