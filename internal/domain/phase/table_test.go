package phase

import (
	"testing"

	"github.com/Johnshah/My/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumWeights(t *Table) int {
	total := 0
	for _, p := range t.Phases() {
		total += p.Weight
	}
	return total
}

func TestDefaultTables_SumToHundred(t *testing.T) {
	ts := DefaultTables()
	for _, mode := range []model.JobMode{model.JobModeStandard, model.JobModeDeep} {
		tbl, ok := ts.ForMode(mode)
		require.True(t, ok, mode)
		assert.Equal(t, TotalWeight, sumWeights(tbl), mode)
		_, hi := tbl.Band(tbl.Len() - 1)
		assert.Equal(t, 100, hi)
	}

	deep, _ := ts.ForMode(model.JobModeDeep)
	assert.Equal(t, 11, deep.Len())
	assert.Equal(t, model.JobStatusCompleted, deep.Terminal())

	standard, _ := ts.ForMode(model.JobModeStandard)
	assert.Equal(t, model.JobStatusReady, standard.Terminal())
	for _, p := range standard.Phases() {
		assert.NotEqual(t, model.JobStatusValidating, p.Stage, "standard jobs skip validation")
	}
}

func TestNewTable_Rejects(t *testing.T) {
	ok := Phase{Name: "a", Weight: 100, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze}

	tests := []struct {
		name     string
		mode     model.JobMode
		terminal model.JobStatus
		phases   []Phase
	}{
		{name: "unknown mode", mode: "turbo", terminal: model.JobStatusReady, phases: []Phase{ok}},
		{name: "failed terminal", mode: model.JobModeStandard, terminal: model.JobStatusFailed, phases: []Phase{ok}},
		{name: "empty", mode: model.JobModeStandard, terminal: model.JobStatusReady},
		{
			name: "sum below 100", mode: model.JobModeDeep, terminal: model.JobStatusCompleted,
			phases: []Phase{{Name: "a", Weight: 60, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze}},
		},
		{
			name: "sum above 100", mode: model.JobModeDeep, terminal: model.JobStatusCompleted,
			phases: []Phase{
				{Name: "a", Weight: 60, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze},
				{Name: "b", Weight: 50, Stage: model.JobStatusGenerating, Action: ActionGenerate},
			},
		},
		{
			name: "zero weight", mode: model.JobModeStandard, terminal: model.JobStatusReady,
			phases: []Phase{ok, {Name: "b", Weight: 0, Stage: model.JobStatusGenerating, Action: ActionGenerate}},
		},
		{
			name: "duplicate name", mode: model.JobModeStandard, terminal: model.JobStatusReady,
			phases: []Phase{
				{Name: "a", Weight: 50, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze},
				{Name: "a", Weight: 50, Stage: model.JobStatusGenerating, Action: ActionGenerate},
			},
		},
		{
			name: "stage goes backwards", mode: model.JobModeStandard, terminal: model.JobStatusReady,
			phases: []Phase{
				{Name: "a", Weight: 50, Stage: model.JobStatusGenerating, Action: ActionGenerate},
				{Name: "b", Weight: 50, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze},
			},
		},
		{
			name: "terminal stage in phase", mode: model.JobModeStandard, terminal: model.JobStatusReady,
			phases: []Phase{{Name: "a", Weight: 100, Stage: model.JobStatusReady, Action: ActionAnalyze}},
		},
		{
			name: "unknown action", mode: model.JobModeStandard, terminal: model.JobStatusReady,
			phases: []Phase{{Name: "a", Weight: 100, Stage: model.JobStatusAnalyzing, Action: "deploy"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.mode, tt.terminal, tt.phases)
			require.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestMustNewTable_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustNewTable(model.JobModeStandard, model.JobStatusReady, nil)
	})
}

func TestTable_BandsAndProgress(t *testing.T) {
	tbl := StandardTable()

	lo, hi := tbl.Band(0)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 20, hi)

	lo, hi = tbl.Band(2)
	assert.Equal(t, 30, lo)
	assert.Equal(t, 70, hi)

	assert.Equal(t, 30, tbl.Progress(2, 0, 40))
	assert.Equal(t, 40, tbl.Progress(2, 10, 40))
	assert.Equal(t, 70, tbl.Progress(2, 40, 40))
	assert.Equal(t, 70, tbl.Progress(2, 99, 40), "done beyond total is clamped to the band")
	assert.Equal(t, 30, tbl.Progress(2, -3, 40))
	assert.Equal(t, 30, tbl.Progress(2, 5, 0))

	prev := 0
	for i := range tbl.Len() {
		for done := 0; done <= 7; done++ {
			p := tbl.Progress(i, done, 7)
			assert.GreaterOrEqual(t, p, prev)
			prev = p
		}
	}
	assert.Equal(t, 100, prev)
}

func TestTable_PhasesIsCopy(t *testing.T) {
	tbl := StandardTable()
	ps := tbl.Phases()
	ps[0].Name = "mutated"
	assert.Equal(t, "requirements analysis", tbl.Phase(0).Name)
}

func TestNewTables_RequiresEveryMode(t *testing.T) {
	_, err := NewTables(StandardTable())
	require.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewTables(StandardTable(), StandardTable(), DeepTable())
	require.ErrorIs(t, err, ErrInvalidTable)

	var nilTables *Tables
	_, ok := nilTables.ForMode(model.JobModeDeep)
	assert.False(t, ok)
}
