// Package usage tracks per-invocation agent spend and enforces the
// configured budget. Every agent invocation appends an InvocationRecord
// to the ledger, and the budget is checked against cumulative cost after
// each one.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LedgerFileName is the ledger file's name under the lisa root.
const LedgerFileName = "usage.json"

// InvocationRecord captures the cost and token accounting of a single
// agent invocation.
type InvocationRecord struct {
	Phase                    string    `json:"phase"`
	Pass                     int       `json:"pass"`
	Model                    string    `json:"model"`
	InputTokens              int64     `json:"input_tokens"`
	OutputTokens             int64     `json:"output_tokens"`
	CacheCreationInputTokens int64     `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64     `json:"cache_read_input_tokens"`
	CostUSD                  float64   `json:"cost_usd"`
	ElapsedSecs              float64   `json:"elapsed_secs"`
	Timestamp                time.Time `json:"timestamp"`
}

// Ledger is the append-only record of agent invocations for a project.
type Ledger struct {
	Invocations []InvocationRecord `json:"invocations"`
}

// TotalCost returns the cumulative cost across all invocations.
func (l *Ledger) TotalCost() float64 {
	var total float64
	for _, inv := range l.Invocations {
		total += inv.CostUSD
	}
	return total
}

// TotalInputTokens returns the cumulative input tokens, including cache
// creation and cache read tokens.
func (l *Ledger) TotalInputTokens() int64 {
	var total int64
	for _, inv := range l.Invocations {
		total += inv.InputTokens + inv.CacheCreationInputTokens + inv.CacheReadInputTokens
	}
	return total
}

// TotalOutputTokens returns the cumulative output tokens.
func (l *Ledger) TotalOutputTokens() int64 {
	var total int64
	for _, inv := range l.Invocations {
		total += inv.OutputTokens
	}
	return total
}

// PassCost returns the cost of all invocations recorded for a pass.
func (l *Ledger) PassCost(pass int) float64 {
	var total float64
	for _, inv := range l.Invocations {
		if inv.Pass == pass {
			total += inv.CostUSD
		}
	}
	return total
}

// InvocationCount returns the number of recorded invocations.
func (l *Ledger) InvocationCount() int {
	return len(l.Invocations)
}

// Path returns the ledger location under the given lisa root.
func Path(lisaRoot string) string {
	return filepath.Join(lisaRoot, LedgerFileName)
}

// Load reads the ledger from lisaRoot. A missing file yields an empty
// ledger without error.
func Load(lisaRoot string) (*Ledger, error) {
	data, err := os.ReadFile(Path(lisaRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{}, nil
		}
		return nil, fmt.Errorf("failed to read usage ledger: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode usage ledger: %w", err)
	}
	return &l, nil
}

// Save atomically persists the ledger under lisaRoot.
func Save(lisaRoot string, l *Ledger) error {
	if err := os.MkdirAll(lisaRoot, 0755); err != nil {
		return fmt.Errorf("failed to create lisa root directory: %w", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode usage ledger: %w", err)
	}
	data = append(data, '\n')

	return atomicWriteFile(Path(lisaRoot), data, 0644)
}

// Record appends rec to the persisted ledger and returns the new
// cumulative cost. Load-append-save keeps the ledger consistent when a
// run crashes between invocations.
func Record(lisaRoot string, rec InvocationRecord) (float64, error) {
	ledger, err := Load(lisaRoot)
	if err != nil {
		return 0, err
	}

	ledger.Invocations = append(ledger.Invocations, rec)
	if err := Save(lisaRoot, ledger); err != nil {
		return 0, err
	}
	return ledger.TotalCost(), nil
}

// atomicWriteFile writes via a temp file + rename in the same directory
// so the ledger is never left truncated.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
