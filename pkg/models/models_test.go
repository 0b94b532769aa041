package models

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-02-03", "2026-02-03T18:22:00Z", "2026-02-03T01:00:00+01:00"} {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseDate("03/02/2026"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestDateRange_Contains(t *testing.T) {
	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: &start, End: &end}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC), false},
		{time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, time.February, 28, 23, 59, 0, 0, time.UTC), true},
		{time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.at); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}

	if !(DateRange{}).Contains(time.Now()) {
		t.Error("Open range should contain every date")
	}
}

func TestLoanStatus(t *testing.T) {
	if !LoanStatusActive.Valid() || LoanStatus("closed").Valid() {
		t.Error("Valid mismatch")
	}
	if !LoanStatusApproved.Collectible() || LoanStatusPaid.Collectible() || LoanStatusPending.Collectible() {
		t.Error("Collectible mismatch")
	}
}
