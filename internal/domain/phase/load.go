package phase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Johnshah/My/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout accepted by LoadTables:
//
//	tables:
//	  deep:
//	    terminal: completed
//	    phases:
//	      - {name: planning, weight: 30, stage: analyzing, action: generate}
//	      ...
//
// Modes missing from the file keep their built-in table.
type File struct {
	Tables map[model.JobMode]TableSpec `yaml:"tables"`
}

// TableSpec is one mode's entry in File.
type TableSpec struct {
	Terminal model.JobStatus `yaml:"terminal"`
	Phases   []Phase         `yaml:"phases"`
}

// LoadTables reads and validates a phase table file. An empty path returns the defaults.
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase tables %s: %w", path, err)
	}
	ts, err := ParseTables(data)
	if err != nil {
		return nil, fmt.Errorf("phase tables %s: %w", path, err)
	}
	return ts, nil
}

// ParseTables decodes YAML into validated tables, rejecting unknown keys.
func ParseTables(data []byte) (*Tables, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %w", ErrInvalidTable, err)
	}

	standard := StandardTable()
	deep := DeepTable()
	for mode, spec := range f.Tables {
		t, err := NewTable(mode, spec.Terminal, spec.Phases)
		if err != nil {
			return nil, err
		}
		switch mode {
		case model.JobModeStandard:
			standard = t
		case model.JobModeDeep:
			deep = t
		}
	}
	return NewTables(standard, deep)
}
