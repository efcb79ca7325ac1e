package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Provider resolves templates by id. Implementations must be safe for concurrent use.
type Provider interface {
	Get(ctx context.Context, id string) (Template, error)
	List(ctx context.Context) ([]Template, error)
}

// Memory is an in-process Provider.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemory returns a Memory provider seeded with the given templates.
func NewMemory(seed ...Template) (*Memory, error) {
	m := &Memory{templates: make(map[string]Template, len(seed))}
	for _, t := range seed {
		if err := m.Put(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Put validates and stores t, replacing any template with the same id.
func (m *Memory) Put(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.templates[t.ID] = cloneTemplate(t)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Template, error) {
	m.mu.RLock()
	t, ok := m.templates[id]
	m.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneTemplate(t), nil
}

func (m *Memory) List(_ context.Context) ([]Template, error) {
	m.mu.RLock()
	out := make([]Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, cloneTemplate(t))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadDir reads every *.yaml, *.yml and *.json file in dir. Each file holds
// either a single template or a list of templates. JSON is parsed by the YAML
// decoder, so both use the yaml field names.
func LoadDir(dir string) ([]Template, error) {
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	var out []Template
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ts, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func decodeFile(path string) ([]Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []Template
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var one Template
	if err := yaml.Unmarshal(b, &one); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", filepath.Base(path), err)
	}
	if one.ID == "" {
		return nil, fmt.Errorf("decode template %s: %w", filepath.Base(path), errors.New("missing id"))
	}
	return []Template{one}, nil
}

// NewFromDir builds a Memory provider from a template directory, optionally
// including the built-in demo templates. Files override built-ins with the same id.
func NewFromDir(dir string, builtin bool) (*Memory, error) {
	var seed []Template
	if builtin {
		seed = append(seed, Builtin()...)
	}
	if dir != "" {
		ts, err := LoadDir(dir)
		if err != nil {
			return nil, err
		}
		seed = append(seed, ts...)
	}
	return NewMemory(seed...)
}

func cloneTemplate(t Template) Template {
	t.Nodes = append([]ProcessNode(nil), t.Nodes...)
	return t
}
