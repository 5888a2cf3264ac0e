// Package state defines the spiral state machine and its persistence.
//
// The state file is the single source of truth for where a run stands:
// every phase transition is persisted before the phase executes, so a
// crashed or interrupted run resumes exactly where it stopped.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/freol35241/lisa-loop/internal/errors"
)

// StateFileName is the state file's name under the lisa root.
const StateFileName = "state.json"

// Kind identifies a spiral state variant.
type Kind string

const (
	// KindNotStarted means no spiral work has happened yet.
	KindNotStarted Kind = "not_started"
	// KindScoping means the scoping agent is producing the scope document.
	KindScoping Kind = "scoping"
	// KindScopeReview means the scope document awaits operator review.
	KindScopeReview Kind = "scope_review"
	// KindScopeComplete means scoping was approved and pass 1 may begin.
	KindScopeComplete Kind = "scope_complete"
	// KindInPass means a numbered pass is executing a phase.
	KindInPass Kind = "in_pass"
	// KindPassReview means a completed pass awaits operator review.
	KindPassReview Kind = "pass_review"
	// KindComplete means the spiral has finished.
	KindComplete Kind = "complete"
)

// PhaseKind identifies a phase within a pass.
type PhaseKind string

const (
	PhaseRefine   PhaseKind = "refine"
	PhaseDdvRed   PhaseKind = "ddv_red"
	PhaseBuild    PhaseKind = "build"
	PhaseExecute  PhaseKind = "execute"
	PhaseValidate PhaseKind = "validate"
)

// Phase is the position within a pass. Iteration is only meaningful for
// the build phase, where it counts build-loop iterations from 1.
type Phase struct {
	Kind      PhaseKind `json:"phase"`
	Iteration int       `json:"iteration,omitzero"`
}

// Phase constructors.
func Refine() Phase   { return Phase{Kind: PhaseRefine} }
func DdvRed() Phase   { return Phase{Kind: PhaseDdvRed} }
func Execute() Phase  { return Phase{Kind: PhaseExecute} }
func Validate() Phase { return Phase{Kind: PhaseValidate} }

func Build(iteration int) Phase {
	return Phase{Kind: PhaseBuild, Iteration: iteration}
}

// Order returns the position of the phase within a pass, for resume
// dispatch: refine < ddv_red < build < execute < validate.
func (p Phase) Order() int {
	switch p.Kind {
	case PhaseRefine:
		return 0
	case PhaseDdvRed:
		return 1
	case PhaseBuild:
		return 2
	case PhaseExecute:
		return 3
	case PhaseValidate:
		return 4
	default:
		return -1
	}
}

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p.Kind {
	case PhaseRefine:
		return "Refine"
	case PhaseDdvRed:
		return "DDV Red"
	case PhaseBuild:
		return fmt.Sprintf("Build iteration %d", p.Iteration)
	case PhaseExecute:
		return "Execute"
	case PhaseValidate:
		return "Validate"
	default:
		return string(p.Kind)
	}
}

// State is the persisted spiral state. Exactly the fields relevant to
// Kind are set; the struct is comparable so states can be tested with ==.
type State struct {
	Kind      Kind  `json:"state"`
	Attempt   int   `json:"attempt,omitzero"`    // scoping
	Pass      int   `json:"pass,omitzero"`       // in_pass, pass_review
	FinalPass int   `json:"final_pass,omitzero"` // complete
	Phase     Phase `json:"pass_phase,omitzero"` // in_pass
}

// State constructors.
func NotStarted() State { return State{Kind: KindNotStarted} }

func Scoping(attempt int) State { return State{Kind: KindScoping, Attempt: attempt} }

func ScopeReview() State { return State{Kind: KindScopeReview} }

func ScopeComplete() State { return State{Kind: KindScopeComplete} }

func InPass(pass int, phase Phase) State {
	return State{Kind: KindInPass, Pass: pass, Phase: phase}
}

func PassReview(pass int) State { return State{Kind: KindPassReview, Pass: pass} }

func Complete(finalPass int) State {
	return State{Kind: KindComplete, FinalPass: finalPass}
}

// String returns a human-readable state description for status output.
func (s State) String() string {
	switch s.Kind {
	case KindNotStarted:
		return "Not started"
	case KindScoping:
		return fmt.Sprintf("Scoping (attempt %d)", s.Attempt)
	case KindScopeReview:
		return "Scope review"
	case KindScopeComplete:
		return "Scope complete"
	case KindInPass:
		return fmt.Sprintf("Pass %d — %s", s.Pass, s.Phase)
	case KindPassReview:
		return fmt.Sprintf("Pass %d review", s.Pass)
	case KindComplete:
		return fmt.Sprintf("Complete (%d passes)", s.FinalPass)
	default:
		return string(s.Kind)
	}
}

// Validate checks the state machine's structural invariants.
func (s State) Validate() error {
	switch s.Kind {
	case KindNotStarted, KindScopeReview, KindScopeComplete:
		// No fields.
	case KindScoping:
		if s.Attempt < 1 {
			return errors.NewStateError(
				fmt.Sprintf("scoping attempt must be at least 1, got %d", s.Attempt),
				errors.ErrStateInvalid)
		}
	case KindInPass:
		if s.Pass < 1 {
			return errors.NewStateError(
				fmt.Sprintf("pass number must be at least 1, got %d", s.Pass),
				errors.ErrStateInvalid)
		}
		if s.Phase.Order() < 0 {
			return errors.NewStateError(
				fmt.Sprintf("unknown phase %q", s.Phase.Kind),
				errors.ErrStateInvalid)
		}
		if s.Phase.Kind == PhaseBuild && s.Phase.Iteration < 1 {
			return errors.NewStateError(
				fmt.Sprintf("build iteration must be at least 1, got %d", s.Phase.Iteration),
				errors.ErrStateInvalid)
		}
	case KindPassReview:
		if s.Pass < 1 {
			return errors.NewStateError(
				fmt.Sprintf("pass number must be at least 1, got %d", s.Pass),
				errors.ErrStateInvalid)
		}
	case KindComplete:
		if s.FinalPass < 0 {
			return errors.NewStateError(
				fmt.Sprintf("final pass must not be negative, got %d", s.FinalPass),
				errors.ErrStateInvalid)
		}
	default:
		return errors.NewStateError(
			fmt.Sprintf("unknown state %q", s.Kind),
			errors.ErrStateInvalid)
	}
	return nil
}

// Path returns the state file location under the given lisa root.
func Path(lisaRoot string) string {
	return filepath.Join(lisaRoot, StateFileName)
}

// Load reads the persisted state from lisaRoot. A missing file means the
// spiral has not started and returns NotStarted without error; a file
// that exists but cannot be decoded is an error, never silently reset.
func Load(lisaRoot string) (State, error) {
	path := Path(lisaRoot)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NotStarted(), nil
		}
		return State{}, errors.NewStateError("failed to read state file", err).WithPath(path)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, errors.NewStateError("failed to decode state file",
			errors.Join(errors.ErrStateCorrupted, err)).WithPath(path)
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}

// Save atomically persists the state under lisaRoot: the JSON is written
// to a temp file in the same directory and renamed over the target, so a
// crash mid-write never leaves a truncated state file.
func Save(lisaRoot string, s State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(lisaRoot, 0755); err != nil {
		return errors.NewStateError("failed to create lisa root directory", err).WithPath(lisaRoot)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.NewStateError("failed to encode state", err)
	}
	data = append(data, '\n')

	path := Path(lisaRoot)
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return errors.NewStateError("failed to write state file", err).WithPath(path)
	}
	return nil
}

// atomicWriteFile writes data to a file atomically by writing to a
// temporary file first, then renaming. This ensures the target file is
// never in a partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
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
