package aggregate

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sellerpulse/marketfetch/pkg/records"
)

func noLog() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func sale(id string) records.Record {
	return records.Sale{SaleID: id}
}

func ids(recs []records.Record) []string {
	var out []string
	for _, r := range recs {
		key, _ := r.Identity()
		out = append(out, key)
	}
	return out
}

func TestDedup_FirstSeenOrder(t *testing.T) {
	// Chunk results [[A,B],[B,C]] aggregate to [A,B,C] with 1 duplicate.
	chunks := [][]records.Record{
		{sale("A"), sale("B")},
		{sale("B"), sale("C")},
	}

	res := Dedup(chunks, nil, noLog())

	want := []string{"sale:A", "sale:B", "sale:C"}
	got := ids(res.Records)
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if res.DuplicateCount != 1 {
		t.Errorf("DuplicateCount = %d, want 1", res.DuplicateCount)
	}
}

func TestDedup_Idempotent(t *testing.T) {
	chunks := [][]records.Record{
		{sale("A"), sale("B"), sale("A")},
		{sale("C"), sale("B")},
		{}, // empty chunk
	}

	first := Dedup(chunks, nil, noLog())
	second := Dedup([][]records.Record{first.Records}, nil, noLog())

	if second.DuplicateCount != 0 {
		t.Errorf("second pass DuplicateCount = %d, want 0", second.DuplicateCount)
	}
	if len(second.Records) != len(first.Records) {
		t.Errorf("second pass kept %d records, want %d", len(second.Records), len(first.Records))
	}
	firstIDs, secondIDs := ids(first.Records), ids(second.Records)
	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Errorf("record[%d] = %s, want %s", i, secondIDs[i], firstIDs[i])
		}
	}
}

func TestDedup_SuspiciousKept(t *testing.T) {
	// Records with no identity must be retained, not dropped.
	chunks := [][]records.Record{
		{sale("A"), records.Sale{}, records.Sale{}},
	}

	res := Dedup(chunks, nil, noLog())

	if len(res.Records) != 3 {
		t.Errorf("kept %d records, want 3", len(res.Records))
	}
	if res.SuspiciousCount != 2 {
		t.Errorf("SuspiciousCount = %d, want 2", res.SuspiciousCount)
	}
	if res.DuplicateCount != 0 {
		t.Errorf("DuplicateCount = %d, want 0", res.DuplicateCount)
	}
}

func TestDedup_NilChunkSkipped(t *testing.T) {
	chunks := [][]records.Record{
		{sale("A")},
		nil, // failed chunk
		{sale("B")},
	}

	res := Dedup(chunks, nil, noLog())
	if len(res.Records) != 2 {
		t.Errorf("kept %d records, want 2", len(res.Records))
	}
}

func TestDedup_CustomIdentityFunc(t *testing.T) {
	// Collapse everything onto one key.
	all := func(records.Record) (string, bool) { return "same", true }
	chunks := [][]records.Record{{sale("A"), sale("B"), sale("C")}}

	res := Dedup(chunks, all, noLog())
	if len(res.Records) != 1 || res.DuplicateCount != 2 {
		t.Errorf("got %d records / %d duplicates, want 1 / 2", len(res.Records), res.DuplicateCount)
	}
}

func TestDuplicateRatio(t *testing.T) {
	res := &Result{Records: make([]records.Record, 3), DuplicateCount: 1}
	if got := res.DuplicateRatio(); got != 0.25 {
		t.Errorf("DuplicateRatio() = %v, want 0.25", got)
	}
	empty := &Result{}
	if got := empty.DuplicateRatio(); got != 0 {
		t.Errorf("DuplicateRatio() on empty = %v, want 0", got)
	}
}

func TestMergeAdvStats(t *testing.T) {
	recs := []records.Record{
		&records.AdvStats{
			DateFrom: "2025-01-01", DateTo: "2025-01-31",
			Views: 100, Clicks: 10, Orders: 2,
			Spend: decimal.NewFromInt(500),
			Campaigns: []records.CampaignStat{
				{AdvertID: 1, Views: 60, Clicks: 6, Spend: decimal.NewFromInt(300)},
				{AdvertID: 2, Views: 40, Clicks: 4, Spend: decimal.NewFromInt(200)},
			},
		},
		&records.AdvStats{
			DateFrom: "2025-02-01", DateTo: "2025-02-28",
			Views: 50, Clicks: 5, Orders: 1,
			Spend: decimal.NewFromInt(250),
			Campaigns: []records.CampaignStat{
				{AdvertID: 1, Views: 50, Clicks: 5, Spend: decimal.NewFromInt(250)},
			},
		},
		sale("ignored"), // non-adv records are skipped
	}

	merged := MergeAdvStats(recs)

	if merged.Views != 150 || merged.Clicks != 15 || merged.Orders != 3 {
		t.Errorf("sums = %d/%d/%d, want 150/15/3", merged.Views, merged.Clicks, merged.Orders)
	}
	if !merged.Spend.Equal(decimal.NewFromInt(750)) {
		t.Errorf("Spend = %s, want 750", merged.Spend)
	}
	if merged.DateFrom != "2025-01-01" || merged.DateTo != "2025-02-28" {
		t.Errorf("range = %s..%s", merged.DateFrom, merged.DateTo)
	}
	if len(merged.Campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(merged.Campaigns))
	}
	if merged.Campaigns[0].AdvertID != 1 || merged.Campaigns[0].Views != 110 {
		t.Errorf("campaign 1 merged wrong: %+v", merged.Campaigns[0])
	}
}
