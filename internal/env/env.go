package env

import (
	"os"
	"path/filepath"
	"strings"
)

type Var map[string]string

// Env composes the process environment with variables read from .env files.
// Process variables always win over file variables.
type Env struct {
	Var Var // variables loaded from files (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	e := &Env{Var: make(Var)}
	e.FromOS()
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
}

// Set records a file variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Lookup resolves k, preferring the process environment.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.env[k]; ok {
		return v, true
	}
	v, ok := e.Var[k]
	return v, ok
}

// LoadFile reads KEY=VALUE lines from a .env file. Blank lines and lines
// starting with # are skipped; an "export " prefix and surrounding quotes
// are stripped.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			e.Set(k, v)
		}
	}
	return nil
}

// Export sets every file variable the process environment does not already
// define, so later os.Getenv callers observe them.
func (e *Env) Export() error {
	for k, v := range e.Var {
		if _, ok := e.env[k]; ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
		e.env[k] = v
	}
	return nil
}

// Expand replaces ${VAR} references in s. Unknown variables are left as is
// and expansion is not recursive.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	return b.String()
}
