// Package environment holds the process-visible environment snapshot and the
// deployment tier the application runs under.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrInvalidVariable is returned when a snapshot holds a pair the process
// environment cannot carry
var ErrInvalidVariable = errors.New("invalid environment variable")

// Validate checks every pair before anything is written
func (s Snapshot) Validate() error {
	for k, v := range s.Env {
		switch {
		case k == "":
			return fmt.Errorf("%w: empty name", ErrInvalidVariable)
		case strings.ContainsAny(k, "=\x00"):
			return fmt.Errorf("%w: name %q", ErrInvalidVariable, k)
		case strings.ContainsRune(v, 0):
			return fmt.Errorf("%w: value of %s contains NUL", ErrInvalidVariable, k)
		}
	}
	return nil
}

// Snapshot is the complete environment visible to the application
type Snapshot struct {
	Env map[string]string
}

// Clone returns a deep copy so callers can edit it freely
func (s Snapshot) Clone() Snapshot {
	env := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		env[k] = v
	}
	return Snapshot{Env: env}
}

// Environ renders the snapshot as KEY=VALUE pairs, as os/exec expects
func (s Snapshot) Environ() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// ProcessStore reads and writes the real process environment
type ProcessStore struct{}

// NewProcessStore returns a store over os.Environ
func NewProcessStore() *ProcessStore {
	return &ProcessStore{}
}

// Variables returns the current process environment
func (p *ProcessStore) Variables() Snapshot {
	env := make(map[string]string)
	for _, pair := range os.Environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return Snapshot{Env: env}
}

// SetVariables makes snap the process environment. Keys missing from snap are
// unset. An invalid snapshot is rejected before the environment is touched.
func (p *ProcessStore) SetVariables(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	for k := range p.Variables().Env {
		if _, keep := snap.Env[k]; !keep {
			if err := os.Unsetenv(k); err != nil {
				return err
			}
		}
	}
	for k, v := range snap.Env {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Getenv returns a single value from the process environment
func (p *ProcessStore) Getenv(name string) string {
	return os.Getenv(name)
}

// MemoryStore keeps the environment in memory. Used for dry runs and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	env map[string]string
}

// NewMemoryStore seeds a store with a copy of env
func NewMemoryStore(env map[string]string) *MemoryStore {
	return &MemoryStore{env: Snapshot{Env: env}.Clone().Env}
}

// NewMemoryStoreFromEnviron seeds a store from KEY=VALUE pairs
func NewMemoryStoreFromEnviron(environ []string) *MemoryStore {
	env := make(map[string]string, len(environ))
	for _, pair := range environ {
		if k, v, ok := strings.Cut(pair, "="); ok && k != "" {
			env[k] = v
		}
	}
	return &MemoryStore{env: env}
}

func (m *MemoryStore) Variables() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Env: m.env}.Clone()
}

func (m *MemoryStore) SetVariables(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.env = snap.Clone().Env
	return nil
}

func (m *MemoryStore) Getenv(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env[name]
}
