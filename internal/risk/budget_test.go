package risk

import (
	"testing"
	"time"

	"copyRiskBot/internal/domain"
)

func TestBudgetTrackerRemaining(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{
		DailyAbsoluteCap: 500,
		EquityFloor:      9000,
		Location:         time.UTC,
	})

	now := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)
	ds, rolled := tracker.RollIfNeeded(10000, now)
	if !rolled {
		t.Fatal("Expected first roll to create a day anchor")
	}
	if ds.DateKey != "2025-04-07" {
		t.Errorf("Expected date key 2025-04-07, got %s", ds.DateKey)
	}
	if ds.StartEquity != 10000 {
		t.Errorf("Expected start equity 10000, got %f", ds.StartEquity)
	}

	// A 300 loss leaves 200 of the 500 daily cap.
	if got := tracker.RemainingDaily(9700); got != 200 {
		t.Errorf("Expected remaining daily 200, got %f", got)
	}

	// Intraday gains do not extend the budget.
	if got := tracker.RemainingDaily(10400); got != 500 {
		t.Errorf("Expected remaining daily 500, got %f", got)
	}

	// Losses past the cap clamp at zero.
	if got := tracker.RemainingDaily(9400); got != 0 {
		t.Errorf("Expected remaining daily 0, got %f", got)
	}

	// Overall budget is the distance down to the floor.
	if got := tracker.RemainingOverall(9700); got != 700 {
		t.Errorf("Expected remaining overall 700, got %f", got)
	}
	if got := tracker.RemainingOverall(8900); got != 0 {
		t.Errorf("Expected remaining overall 0 below the floor, got %f", got)
	}
}

func TestBudgetTrackerPercentCap(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{
		DailyAbsoluteCap: 500,
		DailyPercentCap:  0.04,
		EquityFloor:      9000,
		Location:         time.UTC,
	})
	tracker.RollIfNeeded(10000, time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC))

	// 4% of 10000 tightens the 500 absolute cap to 400.
	if got := tracker.DailyCap(); got != 400 {
		t.Errorf("Expected effective cap 400, got %f", got)
	}
	if got := tracker.RemainingDaily(9700); got != 100 {
		t.Errorf("Expected remaining daily 100, got %f", got)
	}
}

func TestBudgetTrackerRoll(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}
	tracker := NewBudgetTracker(BudgetConfig{
		DailyAbsoluteCap: 500,
		EquityFloor:      9000,
		Location:         berlin,
	})

	morning := time.Date(2025, 4, 7, 9, 0, 0, 0, berlin)
	tracker.RollIfNeeded(10000, morning)

	// Same calendar day keeps the anchor even after a loss.
	_, rolled := tracker.RollIfNeeded(9800, morning.Add(6*time.Hour))
	if rolled {
		t.Error("Expected no roll within the same day")
	}
	if tracker.Day().StartEquity != 10000 {
		t.Errorf("Expected anchor to keep start equity 10000, got %f", tracker.Day().StartEquity)
	}

	// The next day replaces the anchor with fresh equity.
	ds, rolled := tracker.RollIfNeeded(9800, morning.Add(24*time.Hour))
	if !rolled {
		t.Fatal("Expected roll on the next day")
	}
	if ds.DateKey != "2025-04-08" {
		t.Errorf("Expected date key 2025-04-08, got %s", ds.DateKey)
	}
	if ds.StartEquity != 9800 {
		t.Errorf("Expected new start equity 9800, got %f", ds.StartEquity)
	}
	if got := tracker.RemainingDaily(9800); got != 500 {
		t.Errorf("Expected fresh daily budget 500, got %f", got)
	}
}

func TestBudgetTrackerRestore(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{
		DailyAbsoluteCap: 500,
		EquityFloor:      9000,
		Location:         time.UTC,
	})

	// No anchor means no daily budget yet.
	if got := tracker.RemainingDaily(10000); got != 0 {
		t.Errorf("Expected 0 before the first roll, got %f", got)
	}

	tracker.Restore(&domain.DayState{
		DateKey:     "2025-04-07",
		StartEquity: 10200,
		StartedAt:   time.Date(2025, 4, 7, 0, 5, 0, 0, time.UTC),
	})

	// The restored anchor survives a same-day roll check.
	_, rolled := tracker.RollIfNeeded(9900, time.Date(2025, 4, 7, 15, 0, 0, 0, time.UTC))
	if rolled {
		t.Error("Expected restored anchor to hold for its own day")
	}
	if got := tracker.RemainingDaily(9900); got != 200 {
		t.Errorf("Expected remaining daily 200 from restored anchor, got %f", got)
	}
}
