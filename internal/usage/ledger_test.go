package usage

import (
	"math"
	"testing"
	"time"

	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/logging"
)

func record(pass int, phase string, cost float64) InvocationRecord {
	return InvocationRecord{
		Phase:        phase,
		Pass:         pass,
		Model:        "sonnet",
		InputTokens:  1000,
		OutputTokens: 500,
		CostUSD:      cost,
		ElapsedSecs:  12.5,
		Timestamp:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	ledger, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ledger.InvocationCount() != 0 {
		t.Errorf("InvocationCount() = %d, want 0", ledger.InvocationCount())
	}
	if ledger.TotalCost() != 0 {
		t.Errorf("TotalCost() = %f, want 0", ledger.TotalCost())
	}
}

func TestRecordReturnsCumulativeCost(t *testing.T) {
	dir := t.TempDir()

	got, err := Record(dir, record(0, "scope", 1.25))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !almostEqual(got, 1.25) {
		t.Errorf("cumulative = %f, want 1.25", got)
	}

	got, err = Record(dir, record(1, "build", 2.5))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !almostEqual(got, 3.75) {
		t.Errorf("cumulative = %f, want 3.75", got)
	}

	// Survives reload.
	ledger, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ledger.InvocationCount() != 2 {
		t.Errorf("InvocationCount() = %d, want 2", ledger.InvocationCount())
	}
	if !almostEqual(ledger.TotalCost(), 3.75) {
		t.Errorf("TotalCost() = %f, want 3.75", ledger.TotalCost())
	}
}

func TestPassCost(t *testing.T) {
	ledger := &Ledger{Invocations: []InvocationRecord{
		record(0, "scope", 1),
		record(1, "refine", 2),
		record(1, "build", 3),
		record(2, "build", 4),
	}}

	if got := ledger.PassCost(1); !almostEqual(got, 5) {
		t.Errorf("PassCost(1) = %f, want 5", got)
	}
	if got := ledger.PassCost(3); got != 0 {
		t.Errorf("PassCost(3) = %f, want 0", got)
	}
}

func TestTokenTotals(t *testing.T) {
	ledger := &Ledger{Invocations: []InvocationRecord{
		{InputTokens: 100, OutputTokens: 10, CacheCreationInputTokens: 50, CacheReadInputTokens: 200},
		{InputTokens: 300, OutputTokens: 30},
	}}

	if got := ledger.TotalInputTokens(); got != 650 {
		t.Errorf("TotalInputTokens() = %d, want 650", got)
	}
	if got := ledger.TotalOutputTokens(); got != 40 {
		t.Errorf("TotalOutputTokens() = %d, want 40", got)
	}
}

func TestCheckBudget(t *testing.T) {
	logger := logging.NopLogger()

	tests := []struct {
		name       string
		cumulative float64
		limit      float64
		wantWarn   bool
		wantErr    bool
	}{
		{"no limit configured", 1000, 0, false, false},
		{"negative limit treated as unlimited", 1000, -5, false, false},
		{"under warn threshold", 5, 10, false, false},
		{"at warn threshold", 8, 10, true, false},
		{"at limit", 10, 10, false, true},
		{"over limit", 12.5, 10, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warn, err := CheckBudget(tt.cumulative, tt.limit, 80, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckBudget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if warn != tt.wantWarn {
				t.Errorf("CheckBudget() warn = %v, want %v", warn, tt.wantWarn)
			}
			if err != nil && !errors.Is(err, errors.ErrBudgetExceeded) {
				t.Errorf("expected ErrBudgetExceeded, got %v", err)
			}
		})
	}
}
