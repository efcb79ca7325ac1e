package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		tpl  Template
		ok   bool
	}{
		{"ok", Template{ID: "a", Nodes: []ProcessNode{{Name: "x"}, {Name: "y", WarnTime: 1}}}, true},
		{"no nodes", Template{ID: "a"}, true},
		{"missing id", Template{Nodes: []ProcessNode{{Name: "x"}}}, false},
		{"empty node name", Template{ID: "a", Nodes: []ProcessNode{{Name: ""}}}, false},
		{"duplicate", Template{ID: "a", Nodes: []ProcessNode{{Name: "x"}, {Name: "x"}}}, false},
		{"negative warn", Template{ID: "a", Nodes: []ProcessNode{{Name: "x", WarnTime: -1}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tpl.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestProcessNode_At(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(-30*time.Minute), ProcessNode{Offset: -30}.At(start))
	assert.Equal(t, start.Add(90*time.Second), ProcessNode{Offset: 1.5}.At(start))
	assert.Equal(t, 5*time.Minute, ProcessNode{WarnTime: 5}.WarnDuration())
}

func TestBuiltin_Valid(t *testing.T) {
	ts := Builtin()
	require.Len(t, ts, 2)
	for _, tpl := range ts {
		assert.NoError(t, tpl.Validate(), tpl.ID)
	}
	assert.True(t, ts[0].HasNode("exam-start"))
	assert.False(t, ts[0].HasNode("listening-start"))
}

func TestMemory_GetList(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(Builtin()...)
	require.NoError(t, err)

	got, err := m.Get(ctx, "math-2025")
	require.NoError(t, err)
	assert.Equal(t, "Mathematics written exam", got.Name)

	// callers cannot mutate the stored copy
	got.Nodes[0].Name = "changed"
	again, err := m.Get(ctx, "math-2025")
	require.NoError(t, err)
	assert.Equal(t, "candidate-entry", again.Nodes[0].Name)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "english-2025", list[0].ID)
	assert.Equal(t, "math-2025", list[1].ID)
}

func TestMemory_PutRejectsInvalid(t *testing.T) {
	m, err := NewMemory()
	require.NoError(t, err)
	assert.Error(t, m.Put(Template{ID: ""}))

	_, err = NewMemory(Template{ID: "bad", Nodes: []ProcessNode{{Name: "x"}, {Name: "x"}}})
	assert.Error(t, err)
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "single.yaml", `
id: drill
name: Fire drill
version: "1"
nodes:
  - name: alarm
    offset: 0
  - name: assemble
    offset: 2.5
    warn_time: 1
    tips: Count heads
`)
	write(t, dir, "many.yml", `
- id: a
  nodes: [{name: one, offset: 0}]
- id: b
  nodes: [{name: two, offset: 1}]
`)
	write(t, dir, "json.json", `{"id": "j", "nodes": [{"name": "n", "offset": -5, "warn_time": 2}]}`)
	write(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	ts, err := LoadDir(dir)
	require.NoError(t, err)
	byID := map[string]Template{}
	for _, tpl := range ts {
		byID[tpl.ID] = tpl
	}
	require.Len(t, byID, 4)
	assert.Equal(t, 2.5, byID["drill"].Nodes[1].Offset)
	assert.Equal(t, 1.0, byID["drill"].Nodes[1].WarnTime)
	assert.Equal(t, "Count heads", byID["drill"].Nodes[1].Tips)
	assert.Equal(t, -5.0, byID["j"].Nodes[0].Offset)
	assert.Equal(t, 2.0, byID["j"].Nodes[0].WarnTime)
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	dir := t.TempDir()
	write(t, dir, "noid.yaml", "name: nameless\n")
	_, err = LoadDir(dir)
	assert.Error(t, err)

	dir = t.TempDir()
	write(t, dir, "broken.yaml", "id: [unterminated\n")
	_, err = LoadDir(dir)
	assert.Error(t, err)
}

func TestNewFromDir_FilesOverrideBuiltins(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "math.yaml", "id: math-2025\nname: Local math\nnodes: [{name: start, offset: 0}]\n")

	m, err := NewFromDir(dir, true)
	require.NoError(t, err)
	got, err := m.Get(context.Background(), "math-2025")
	require.NoError(t, err)
	assert.Equal(t, "Local math", got.Name)
	_, err = m.Get(context.Background(), "english-2025")
	assert.NoError(t, err)

	m, err = NewFromDir("", false)
	require.NoError(t, err)
	list, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
