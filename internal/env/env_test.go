package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("# comment\n\nexport A=1\nB = \"two\"\nC='3'\nnoequals\n"), 0o600))

	e := New()
	require.NoError(t, e.LoadFile(p))
	assert.Equal(t, Var{"A": "1", "B": "two", "C": "3"}, e.Var)
}

func TestLoadFile_Missing(t *testing.T) {
	assert.Error(t, New().LoadFile(filepath.Join(t.TempDir(), "nope")))
}

func TestLookup_ProcessWins(t *testing.T) {
	t.Setenv("INVIGIL_ENV_TEST", "process")
	e := New()
	e.Set("INVIGIL_ENV_TEST", "file")
	e.Set("INVIGIL_ENV_ONLY_FILE", "file")

	v, ok := e.Lookup("INVIGIL_ENV_TEST")
	assert.True(t, ok)
	assert.Equal(t, "process", v)
	v, _ = e.Lookup("INVIGIL_ENV_ONLY_FILE")
	assert.Equal(t, "file", v)
}

func TestExport(t *testing.T) {
	t.Setenv("INVIGIL_ENV_KEEP", "process")
	t.Setenv("INVIGIL_ENV_NEW", "")
	require.NoError(t, os.Unsetenv("INVIGIL_ENV_NEW"))

	e := New()
	e.Set("INVIGIL_ENV_KEEP", "file")
	e.Set("INVIGIL_ENV_NEW", "file")
	require.NoError(t, e.Export())

	assert.Equal(t, "process", os.Getenv("INVIGIL_ENV_KEEP"))
	assert.Equal(t, "file", os.Getenv("INVIGIL_ENV_NEW"))
}

func TestExpand(t *testing.T) {
	e := &Env{env: Var{"USER": "pg", "PASS": "s3cret"}, Var: Var{"HOST": "db"}}
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"postgres://${USER}:${PASS}@${HOST}/invigil", "postgres://pg:s3cret@db/invigil"},
		{"${MISSING}/x", "${MISSING}/x"},
		{"${}", "${}"},
		{"tail ${USER", "tail ${USER"},
		{"${USER}${USER}", "pgpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Expand(tt.in), tt.in)
	}
}
