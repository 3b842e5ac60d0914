// Package phase describes the ordered, weighted phases a generation job runs through.
package phase

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Johnshah/My/internal/domain/model"
)

// ErrInvalidTable is wrapped by every validation failure from NewTable and NewTables.
var ErrInvalidTable = errors.New("invalid phase table")

// TotalWeight is the sum every table's weights must reach.
const TotalWeight = 100

// Action names the external collaborator a phase delegates to.
type Action string

const (
	// ActionAnalyze inspects requirements or a source repository.
	ActionAnalyze Action = "analyze"
	// ActionGenerate asks the generator to emit or check code.
	ActionGenerate Action = "generate"
	// ActionBuild packages emitted code for each platform target.
	ActionBuild Action = "build"
)

// Valid returns true if the Action is known.
func (a Action) Valid() bool {
	return a == ActionAnalyze || a == ActionGenerate || a == ActionBuild
}

// Phase is one weighted step of a table.
type Phase struct {
	Name   string          `yaml:"name"   json:"name"`
	Weight int             `yaml:"weight" json:"weight"`
	Stage  model.JobStatus `yaml:"stage"  json:"stage"`
	Action Action          `yaml:"action" json:"action"`
}

// Table is a validated phase sequence for one job mode. Tables are immutable.
type Table struct {
	mode     model.JobMode
	terminal model.JobStatus
	phases   []Phase
	upper    []int
}

// NewTable validates phases and builds the cumulative progress bands.
func NewTable(mode model.JobMode, terminal model.JobStatus, phases []Phase) (*Table, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidTable, mode)
	}
	if !terminal.IsSuccess() {
		return nil, fmt.Errorf("%w: %s terminal status %q is not a success state", ErrInvalidTable, mode, terminal)
	}
	if len(phases) == 0 {
		return nil, fmt.Errorf("%w: %s table has no phases", ErrInvalidTable, mode)
	}

	upper := make([]int, len(phases))
	seen := make(map[string]struct{}, len(phases))
	sum := 0
	prevRank := model.JobStatusAnalyzing.Rank()
	for i, p := range phases {
		if err := validatePhase(mode, p); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s phase %q is listed twice", ErrInvalidTable, mode, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Stage.Rank() < prevRank {
			return nil, fmt.Errorf("%w: %s phase %q moves stage backwards to %s", ErrInvalidTable, mode, p.Name, p.Stage)
		}
		prevRank = p.Stage.Rank()
		sum += p.Weight
		upper[i] = sum
	}
	if sum != TotalWeight {
		return nil, fmt.Errorf("%w: %s weights sum to %d, want %d", ErrInvalidTable, mode, sum, TotalWeight)
	}

	return &Table{
		mode:     mode,
		terminal: terminal,
		phases:   slices.Clone(phases),
		upper:    upper,
	}, nil
}

func validatePhase(mode model.JobMode, p Phase) error {
	if p.Name == "" {
		return fmt.Errorf("%w: %s table has a phase without a name", ErrInvalidTable, mode)
	}
	if p.Weight <= 0 {
		return fmt.Errorf("%w: %s phase %q has non-positive weight %d", ErrInvalidTable, mode, p.Name, p.Weight)
	}
	switch p.Stage {
	case model.JobStatusAnalyzing, model.JobStatusGenerating, model.JobStatusValidating:
	default:
		return fmt.Errorf("%w: %s phase %q has invalid stage %q", ErrInvalidTable, mode, p.Name, p.Stage)
	}
	if !p.Action.Valid() {
		return fmt.Errorf("%w: %s phase %q has invalid action %q", ErrInvalidTable, mode, p.Name, p.Action)
	}
	return nil
}

// MustNewTable is NewTable for static tables; it panics on invalid input.
func MustNewTable(mode model.JobMode, terminal model.JobStatus, phases []Phase) *Table {
	t, err := NewTable(mode, terminal, phases)
	if err != nil {
		panic(err)
	}
	return t
}

// Mode returns the job mode the table drives.
func (t *Table) Mode() model.JobMode { return t.mode }

// Terminal returns the status a job reaches after the last phase succeeds.
func (t *Table) Terminal() model.JobStatus { return t.terminal }

// Len returns the number of phases.
func (t *Table) Len() int { return len(t.phases) }

// Phase returns the i-th phase.
func (t *Table) Phase(i int) Phase { return t.phases[i] }

// Phases returns a copy of the phase list.
func (t *Table) Phases() []Phase { return slices.Clone(t.phases) }

// Band returns the progress range [lo, hi] owned by phase i.
func (t *Table) Band(i int) (int, int) {
	hi := t.upper[i]
	return hi - t.phases[i].Weight, hi
}

// Progress interpolates linearly inside phase i's band. done is clamped to
// [0, total]; a non-positive total yields the lower bound.
func (t *Table) Progress(i, done, total int) int {
	lo, hi := t.Band(i)
	if total <= 0 || done <= 0 {
		return lo
	}
	if done >= total {
		return hi
	}
	return lo + (hi-lo)*done/total
}

// Tables holds one validated table per mode.
type Tables struct {
	byMode map[model.JobMode]*Table
}

// NewTables requires exactly one table for every known mode.
func NewTables(tables ...*Table) (*Tables, error) {
	byMode := make(map[model.JobMode]*Table, len(tables))
	for _, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("%w: nil table", ErrInvalidTable)
		}
		if _, dup := byMode[t.mode]; dup {
			return nil, fmt.Errorf("%w: duplicate table for mode %s", ErrInvalidTable, t.mode)
		}
		byMode[t.mode] = t
	}
	for _, m := range []model.JobMode{model.JobModeStandard, model.JobModeDeep} {
		if _, ok := byMode[m]; !ok {
			return nil, fmt.Errorf("%w: missing table for mode %s", ErrInvalidTable, m)
		}
	}
	return &Tables{byMode: byMode}, nil
}

// ForMode returns the table for mode.
func (ts *Tables) ForMode(mode model.JobMode) (*Table, bool) {
	if ts == nil {
		return nil, false
	}
	t, ok := ts.byMode[mode]
	return t, ok
}
