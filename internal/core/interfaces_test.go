package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProject_Stats(t *testing.T) {
	p := NewProject("demo")
	p.Put("b.txt", []byte("one\ntwo\n"))
	p.Put("a.txt", []byte("no newline"))
	p.Put("empty.txt", nil)

	stats := p.Stats()
	assert.Equal(t, 3, stats.FilesEmitted)
	assert.Equal(t, 3, stats.LinesEmitted)
	assert.Equal(t, []string{"a.txt", "b.txt", "empty.txt"}, p.Paths())

	p.Put("b.txt", []byte("replaced"))
	assert.Equal(t, 2, p.Stats().LinesEmitted)
}
