package phase

import "github.com/Johnshah/My/internal/domain/model"

var standardPhases = []Phase{
	{Name: "requirements analysis", Weight: 20, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze},
	{Name: "architecture planning", Weight: 10, Stage: model.JobStatusAnalyzing, Action: ActionGenerate},
	{Name: "code generation", Weight: 40, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "project assembly", Weight: 20, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "packaging", Weight: 10, Stage: model.JobStatusGenerating, Action: ActionBuild},
}

var deepPhases = []Phase{
	{Name: "architecture validation", Weight: 10, Stage: model.JobStatusAnalyzing, Action: ActionAnalyze},
	{Name: "dependency resolution", Weight: 5, Stage: model.JobStatusAnalyzing, Action: ActionGenerate},
	{Name: "file structure planning", Weight: 5, Stage: model.JobStatusAnalyzing, Action: ActionGenerate},
	{Name: "core file generation", Weight: 40, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "component generation", Weight: 15, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "test suite", Weight: 5, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "configuration", Weight: 5, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "documentation", Weight: 3, Stage: model.JobStatusGenerating, Action: ActionGenerate},
	{Name: "file validation", Weight: 7, Stage: model.JobStatusValidating, Action: ActionGenerate},
	{Name: "optimization", Weight: 3, Stage: model.JobStatusValidating, Action: ActionGenerate},
	{Name: "final assembly", Weight: 2, Stage: model.JobStatusValidating, Action: ActionBuild},
}

// StandardTable returns the built-in standard mode table.
func StandardTable() *Table {
	return MustNewTable(model.JobModeStandard, model.JobStatusReady, standardPhases)
}

// DeepTable returns the built-in deep mode table.
func DeepTable() *Table {
	return MustNewTable(model.JobModeDeep, model.JobStatusCompleted, deepPhases)
}

// DefaultTables returns the built-in tables for every mode.
func DefaultTables() *Tables {
	ts, err := NewTables(StandardTable(), DeepTable())
	if err != nil {
		panic(err)
	}
	return ts
}
