package reports

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

func row(id, user, status string, cents int64, at, country, merchant, category, typ string) models.RawRecord {
	return models.RawRecord{
		"id":                     id,
		"spend.userId":           user,
		"spend.status":           status,
		"spend.amount":           cents,
		"spend.authorizedAt":     at,
		"spend.merchantCountry":  country,
		"spend.merchantName":     merchant,
		"spend.merchantCategory": category,
		"spend.type":             typ,
	}
}

func fixture(t *testing.T) ([]models.Record, pipeline.Quality) {
	t.Helper()
	raw := []models.RawRecord{
		row("1", "u1", "completed", 1000, "2025-04-15T10:00:00Z", "US", "Cafe", "food", TypePointsEarned),
		row("2", "u1", "completed", 2000, "2025-05-02T10:00:00Z", "US", "Cafe", "food", TypePointsRedeemed),
		row("3", "u2", "completed", 3000, "2025-05-03T11:00:00Z", "GB", "Books", "retail", TypePointsEarned),
		row("4", "u2", "pending", 500, "2025-05-03T12:00:00Z", "GB", "Books", "retail", "purchase"),
		row("5", "u3", "reversed", 1500, "2025-05-04T10:00:00Z", "US", "Cafe", "food", "purchase"),
		row("6", "u3", "completed", 4000, "2025-05-05T10:00:00Z", "DE", "Books", "retail", "purchase"),
	}
	records, q, err := pipeline.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return records, q
}

func TestBuild(t *testing.T) {
	records, q := fixture(t)

	report, err := Build(context.Background(), records, q, pipeline.DefaultParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := uuid.Parse(report.ID); err != nil {
		t.Errorf("report ID %q is not a uuid: %v", report.ID, err)
	}
	if report.RecordCount != 6 {
		t.Errorf("RecordCount = %d, want 6", report.RecordCount)
	}
	if report.Quality != q {
		t.Errorf("Quality = %+v, want %+v", report.Quality, q)
	}
	if report.Monthly.Selected != "2025-05" {
		t.Errorf("Monthly.Selected = %q, want 2025-05", report.Monthly.Selected)
	}
	if len(report.Retention.Cohorts) == 0 {
		t.Error("expected retention cohorts")
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	report, err := Build(context.Background(), []models.Record{}, pipeline.Quality{}, pipeline.DefaultParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if report.Overview.Processed.Transactions != 0 || report.Analytics.AvgPerUser != 0 {
		t.Errorf("expected zero figures, got %+v", report.Overview.Processed)
	}
	if report.Monthly.Months == nil || len(report.Monthly.Months) != 0 {
		t.Errorf("Months = %v, want empty", report.Monthly.Months)
	}
	if len(report.Overview.StatusDistribution) != len(models.Statuses) {
		t.Errorf("status distribution should list the whole vocabulary: %+v", report.Overview.StatusDistribution)
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	records, q := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Build(ctx, records, q, pipeline.DefaultParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
}

func TestBuildOverview(t *testing.T) {
	records, _ := fixture(t)
	p := pipeline.DefaultParams()
	p.ConcentrationTopN = 1

	o := BuildOverview(pipeline.Segment(records), p)

	if o.RawRows != 6 {
		t.Errorf("RawRows = %d, want 6", o.RawRows)
	}
	if want := (Totals{Transactions: 5, Volume: 105, Users: 3}); o.Processed != want {
		t.Errorf("Processed = %+v, want %+v", o.Processed, want)
	}
	if want := (Totals{Transactions: 4, Volume: 100, Users: 3}); o.Completed != want {
		t.Errorf("Completed = %+v, want %+v", o.Completed, want)
	}
	if want := (Totals{Transactions: 1, Volume: 5, Users: 1}); o.Pending != want {
		t.Errorf("Pending = %+v, want %+v", o.Pending, want)
	}

	wantCounts := map[models.Status]int{
		models.StatusCompleted: 4,
		models.StatusPending:   1,
		models.StatusReversed:  1,
		models.StatusDeclined:  0,
		models.StatusUnknown:   0,
	}
	for _, sc := range o.StatusDistribution {
		if sc.Count != wantCounts[sc.Status] {
			t.Errorf("status %s count = %d, want %d", sc.Status, sc.Count, wantCounts[sc.Status])
		}
	}

	if o.Recurring.Week != "2025-W19" || o.Recurring.Users != 1 || o.Recurring.Recurring != 0 {
		t.Errorf("Recurring = %+v", o.Recurring)
	}
	// US holds 3 of the 6 transactions
	if o.CountryConcentration != 0.5 {
		t.Errorf("CountryConcentration = %v, want 0.5", o.CountryConcentration)
	}
	if o.WeeklyNewUsers.Total(measureNewUsers) != 3 {
		t.Errorf("weekly new users total = %v, want 3", o.WeeklyNewUsers.Total(measureNewUsers))
	}
}

func TestCountryConcentration_Refunds(t *testing.T) {
	records, _, err := pipeline.Normalize([]models.RawRecord{
		row("1", "u1", "completed", 10000, "2025-05-01T10:00:00Z", "US", "Cafe", "food", "purchase"),
		row("2", "u2", "completed", -5000, "2025-05-01T11:00:00Z", "DE", "Books", "retail", "refund"),
	})
	if err != nil {
		t.Fatal(err)
	}
	p := pipeline.DefaultParams()
	p.ConcentrationTopN = 1
	seg := pipeline.Segment(records)

	for name, got := range map[string]float64{
		"overview":  BuildOverview(seg, p).CountryConcentration,
		"analytics": BuildAnalytics(seg, p).CountryConcentration,
	} {
		if got != 0.5 {
			t.Errorf("%s concentration = %v, want 0.5", name, got)
		}
	}
}

func TestBuild_RetentionUsesCompleted(t *testing.T) {
	records, q, err := pipeline.Normalize([]models.RawRecord{
		row("1", "a", "completed", 1000, "2025-05-01T10:00:00Z", "US", "Cafe", "food", "purchase"),
		row("2", "p", "pending", 1000, "2025-05-02T10:00:00Z", "US", "Cafe", "food", "purchase"),
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := Build(context.Background(), records, q, pipeline.DefaultParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	cohorts := report.Retention.Cohorts
	if len(cohorts) != 1 || cohorts[0].Start != "2025-05-01" || cohorts[0].Size != 1 {
		t.Errorf("cohorts = %+v, want only the completed user's cohort", cohorts)
	}
}

func TestBuildMonthly(t *testing.T) {
	records, _ := fixture(t)
	seg := pipeline.Segment(records)
	p := pipeline.DefaultParams()

	m, err := BuildMonthly(seg, p, "")
	if err != nil {
		t.Fatalf("BuildMonthly() error = %v", err)
	}

	if len(m.Months) != 2 || m.Months[0] != "2025-05" || m.Months[1] != "2025-04" {
		t.Errorf("Months = %v, want [2025-05 2025-04]", m.Months)
	}
	if m.Selected != "2025-05" || m.Previous != "2025-04" {
		t.Errorf("Selected/Previous = %s/%s", m.Selected, m.Previous)
	}
	if m.Spend.Current != 90 || m.Spend.Previous != 10 || m.Spend.Delta.Percent != 800 {
		t.Errorf("Spend = %+v", m.Spend)
	}
	if m.Transactions.Delta.Percent != 200 || m.Users.Delta.Percent != 200 {
		t.Errorf("Transactions = %+v, Users = %+v", m.Transactions, m.Users)
	}
	if m.AvgPerTransaction != 30 || m.AvgPerUser != 30 {
		t.Errorf("averages = %v / %v, want 30 / 30", m.AvgPerTransaction, m.AvgPerUser)
	}
	if m.NewUsers != 2 {
		t.Errorf("NewUsers = %d, want 2", m.NewUsers)
	}
	if len(m.DailyTrend.Rows) != 3 {
		t.Errorf("DailyTrend rows = %d, want 3", len(m.DailyTrend.Rows))
	}
	if top := m.TopMerchants.Rows[0].Keys[0].Value; top != "Books" {
		t.Errorf("top merchant = %q, want Books", top)
	}

	april, err := BuildMonthly(seg, p, "2025-04")
	if err != nil {
		t.Fatalf("BuildMonthly(2025-04) error = %v", err)
	}
	if april.Spend.Delta.Applicable {
		t.Errorf("delta against an empty month should not be applicable: %+v", april.Spend)
	}

	if _, err := BuildMonthly(seg, p, "2024-01"); !errors.Is(err, ErrUnknownMonth) {
		t.Errorf("BuildMonthly(2024-01) error = %v, want ErrUnknownMonth", err)
	}
}

func TestBuildCountries(t *testing.T) {
	records, _ := fixture(t)
	p := pipeline.DefaultParams()
	p.TopCountries = 2

	c := BuildCountries(pipeline.Segment(records), p)

	if len(c.Spend.Rows) != 2 || c.Spend.Rows[0].Key != "DE" || c.Spend.Rows[1].Key != "GB" {
		t.Errorf("Spend rows = %+v", c.Spend.Rows)
	}
	if got := c.Spend.Rows[1].Values; got[0] != 30 || got[1] != 5 {
		t.Errorf("GB completed/pending = %v, want [30 5]", got)
	}

	if len(c.Map) != 3 {
		t.Fatalf("Map = %+v, want 3 points", c.Map)
	}
	if c.Map[0].Code != "US" || c.Map[0].ISO3 != "USA" || c.Map[0].Transactions != 2 {
		t.Errorf("first map point = %+v", c.Map[0])
	}
	for _, pt := range c.Map {
		if pt.Name == "" {
			t.Errorf("missing display name for %s", pt.Code)
		}
	}
}

func TestLookupRegion(t *testing.T) {
	tests := []struct {
		code string
		iso3 string
		ok   bool
	}{
		{"US", "USA", true},
		{"GB", "GBR", true},
		{"DE", "DEU", true},
		{"", "", false},
		{"USA", "", false},
		{"1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			iso3, _, ok := lookupRegion(tt.code)
			if ok != tt.ok || iso3 != tt.iso3 {
				t.Errorf("lookupRegion(%q) = %q, %v; want %q, %v", tt.code, iso3, ok, tt.iso3, tt.ok)
			}
		})
	}
}

func TestBuildAnalytics(t *testing.T) {
	records, _ := fixture(t)
	p := pipeline.DefaultParams()
	p.DAUWindow = 2

	a := BuildAnalytics(pipeline.Segment(records), p)

	if len(a.DAU.Rows) != 2 || a.DAU.Rows[1].Keys[0].Value != "2025-05-05" {
		t.Errorf("DAU = %+v", a.DAU.Rows)
	}
	if a.LatestDAU != 1 {
		t.Errorf("LatestDAU = %d, want 1", a.LatestDAU)
	}
	if a.AvgPerTransaction != 25 {
		t.Errorf("AvgPerTransaction = %v, want 25", a.AvgPerTransaction)
	}
	if a.PointsConversion == nil || *a.PointsConversion != 0.5 {
		t.Errorf("PointsConversion = %v, want 0.5", a.PointsConversion)
	}

	none := BuildAnalytics(pipeline.Segment(records[3:]), p)
	if none.PointsConversion != nil {
		t.Errorf("PointsConversion without earners = %v, want nil", *none.PointsConversion)
	}
}

func TestBuildMerchants(t *testing.T) {
	records, _ := fixture(t)
	m := BuildMerchants(pipeline.Segment(records), pipeline.DefaultParams())

	if m.TopUsers.Rows[0].Keys[0].Value != "u3" {
		t.Errorf("top user = %+v", m.TopUsers.Rows[0])
	}
	if m.TopMerchantsBySpend.Rows[0].Keys[0].Value != "Books" {
		t.Errorf("top merchant by spend = %+v", m.TopMerchantsBySpend.Rows[0])
	}
	if got := m.TopMerchantsByUsers.Value(0, measureUsers); got != 2 {
		t.Errorf("top merchant users = %v, want 2", got)
	}
}

func TestBuildRisk(t *testing.T) {
	records, _ := fixture(t)
	r := BuildRisk(pipeline.Segment(records), pipeline.DefaultParams())

	if r.Entities != 3 {
		t.Errorf("Entities = %d, want 3", r.Entities)
	}
	if r.Summaries[0].Entity != "u3" || r.Summaries[0].CancelRate != 0.5 {
		t.Errorf("first summary = %+v", r.Summaries[0])
	}
	if r.Suspicious != 1 {
		t.Errorf("Suspicious = %d, want 1", r.Suspicious)
	}
}

func TestMonthlyFor(t *testing.T) {
	records, q := fixture(t)
	report, err := Build(context.Background(), records, q, pipeline.DefaultParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m, err := report.MonthlyFor("2025-04")
	if err != nil {
		t.Fatalf("MonthlyFor() error = %v", err)
	}
	if m.Selected != "2025-04" || m.Spend.Current != 10 {
		t.Errorf("MonthlyFor(2025-04) = %+v", m)
	}
}

func BenchmarkBuild(b *testing.B) {
	raw := make([]models.RawRecord, 0, 5000)
	statuses := []string{"completed", "pending", "reversed", "declined"}
	for i := range 5000 {
		raw = append(raw, row("tx", string(rune('a'+i%26)), statuses[i%4], int64(i),
			"2025-05-03T11:00:00Z", "US", "Cafe", "food", "purchase"))
	}
	records, q, err := pipeline.Normalize(raw)
	if err != nil {
		b.Fatal(err)
	}
	p := pipeline.DefaultParams()

	for b.Loop() {
		if _, err := Build(context.Background(), records, q, p); err != nil {
			b.Fatal(err)
		}
	}
}

func TestView(t *testing.T) {
	records, q := fixture(t)
	report, err := Build(context.Background(), records, q, pipeline.DefaultParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, name := range Views {
		if v, ok := report.View(name); !ok || v == nil {
			t.Errorf("View(%q) missing", name)
		}
	}
	if _, ok := report.View("inventory"); ok {
		t.Error("unknown view should not resolve")
	}
	if v, _ := report.View("quality"); v.(pipeline.Quality) != q {
		t.Errorf("quality view = %+v", v)
	}
}
