package template

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by providers when no template has the requested id.
var ErrNotFound = errors.New("template not found")

// ProcessNode is a named milestone on the session timeline.
// Offset is in minutes relative to the session start and may be negative
// (before start) or fractional. WarnTime is how many minutes ahead of the
// node a warning should be raised; zero disables the warning.
type ProcessNode struct {
	Name        string  `json:"name" yaml:"name"`
	Offset      float64 `json:"offset" yaml:"offset"`
	WarnTime    float64 `json:"warnTime" yaml:"warn_time"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Tips        string  `json:"tips,omitempty" yaml:"tips,omitempty"`
}

// At returns the absolute instant of the node for a session started at start.
func (n ProcessNode) At(start time.Time) time.Time {
	return start.Add(time.Duration(n.Offset * float64(time.Minute)))
}

// WarnDuration is WarnTime as a duration.
func (n ProcessNode) WarnDuration() time.Duration {
	return time.Duration(n.WarnTime * float64(time.Minute))
}

// Template is an ordered set of process nodes describing one kind of session.
// The engine treats templates as read-only.
type Template struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Version     string        `json:"version" yaml:"version"`
	Nodes       []ProcessNode `json:"nodes" yaml:"nodes"`
	PublishedAt *time.Time    `json:"publishedAt,omitempty" yaml:"published_at,omitempty"`
	RemoteID    string        `json:"remoteId,omitempty" yaml:"remote_id,omitempty"`
	Modified    bool          `json:"isModified,omitempty" yaml:"modified,omitempty"`
	LastSync    *time.Time    `json:"lastSync,omitempty" yaml:"last_sync,omitempty"`
}

// Validate checks the structural invariants the engine relies on.
func (t Template) Validate() error {
	if t.ID == "" {
		return errors.New("template requires an id")
	}
	seen := make(map[string]struct{}, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Name == "" {
			return fmt.Errorf("template %s: node %d has no name", t.ID, i)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("template %s: duplicate node name %q", t.ID, n.Name)
		}
		seen[n.Name] = struct{}{}
		if n.WarnTime < 0 {
			return fmt.Errorf("template %s: node %q has negative warn time", t.ID, n.Name)
		}
	}
	return nil
}

// HasNode reports whether name belongs to the template.
func (t Template) HasNode(name string) bool {
	for _, n := range t.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}
