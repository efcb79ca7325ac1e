// Package store persists the single active session as one whole object.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/loykin/invigil/internal/session"
)

// ErrCorrupt is returned by Load when a stored session cannot be decoded.
var ErrCorrupt = errors.New("stored session is corrupt")

// Gateway is the persistence interface for the active session. Load returns
// (nil, nil) when nothing is stored. Writes always replace the whole object.
type Gateway interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (*session.State, error)
	Save(ctx context.Context, st *session.State) error
	Clear(ctx context.Context) error
	Close() error
}

// Encode serializes a session in the stored layout.
func Encode(st *session.State) ([]byte, error) {
	if st == nil {
		return nil, errors.New("nil session")
	}
	return json.Marshal(st)
}

// Decode parses a stored session. Any failure is reported as ErrCorrupt.
func Decode(b []byte) (*session.State, error) {
	var st session.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.TemplateID == "" || st.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: missing template or start time", ErrCorrupt)
	}
	switch st.Status {
	case session.StatusRunning, session.StatusPaused, session.StatusEnded:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrCorrupt, st.Status)
	}
	return &st, nil
}

// Memory keeps the encoded session in process memory.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) EnsureSchema(context.Context) error { return nil }

func (m *Memory) Load(context.Context) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return Decode(m.data)
}

func (m *Memory) Save(_ context.Context, st *session.State) error {
	b, err := Encode(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}

// Raw replaces the stored bytes as-is.
func (m *Memory) Raw(b []byte) {
	m.mu.Lock()
	m.data = append([]byte(nil), b...)
	m.mu.Unlock()
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
