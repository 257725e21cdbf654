package beacon

import (
	"errors"
	"testing"
	"time"

	"beacontrace/internal/model"
)

func TestCodesForDayDeterministic(t *testing.T) {
	a, err := CodesForDay(model.Seed(0xfeedface), 720)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CodesForDay(model.Seed(0xfeedface), 720)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 720 || len(b) != 720 {
		t.Fatalf("expected 720 codes, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sequence diverges at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestCodesForDayPrefixProperty(t *testing.T) {
	long, err := CodesForDay(model.Seed(42), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	short, err := CodesForDay(model.Seed(42), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range short {
		if short[i] != long[i] {
			t.Fatalf("prefix mismatch at %d", i)
		}
	}
}

func TestCodesForDaySeedsDiffer(t *testing.T) {
	a, _ := CodesForDay(model.Seed(1), 10)
	b, _ := CodesForDay(model.Seed(2), 10)
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	if same == len(a) {
		t.Fatalf("different seeds produced identical sequences")
	}
}

func TestCodesForDayCountRange(t *testing.T) {
	for _, count := range []int{0, -1, MaxCodesPerDay + 1} {
		if _, err := CodesForDay(model.Seed(1), count); !errors.Is(err, model.ErrInvalidParameter) {
			t.Fatalf("count %d: expected ErrInvalidParameter, got %v", count, err)
		}
	}
	if _, err := CodesForDay(model.Seed(1), 1); err != nil {
		t.Fatalf("count 1 should be valid: %v", err)
	}
	if _, err := CodesForDay(model.Seed(1), MaxCodesPerDay); err != nil {
		t.Fatalf("count %d should be valid: %v", MaxCodesPerDay, err)
	}
}

func TestDailySeed(t *testing.T) {
	secret := []byte("0123456789abcdef")
	s1, err := DailySeed(secret, 19000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := DailySeed(secret, 19000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("daily seed not stable: %s vs %s", s1, s2)
	}
	next, _ := DailySeed(secret, 19001)
	if next == s1 {
		t.Fatalf("consecutive days derived the same seed")
	}
	if _, err := DailySeed(nil, 19000); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for empty secret, got %v", err)
	}
}

func TestDayIndex(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	if got := DayIndex(epoch); got != 0 {
		t.Fatalf("epoch day index = %d", got)
	}
	if got := DayIndex(epoch.Add(24 * time.Hour)); got != 1 {
		t.Fatalf("day 1 index = %d", got)
	}
	if got := DayIndex(epoch.Add(24*time.Hour - time.Second)); got != 0 {
		t.Fatalf("end of day 0 index = %d", got)
	}
}
