package scheduler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LogProvisioner creates and removes the log artifact attached to each
// integration definition. In a full deployment this is backed by the metadata
// catalog service; MemoryLogs serves standalone runs and tests.
type LogProvisioner interface {
	Exists(name string) (bool, error)
	Provision(name, description string) (uuid.UUID, error)
	Delete(id uuid.UUID) error
}

// MemoryLogs is an in-memory LogProvisioner.
type MemoryLogs struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]string
	names map[string]uuid.UUID
}

// NewMemoryLogs makes an empty MemoryLogs.
func NewMemoryLogs() *MemoryLogs {
	return &MemoryLogs{
		byID:  make(map[uuid.UUID]string),
		names: make(map[string]uuid.UUID),
	}
}

// Exists implements LogProvisioner.
func (m *MemoryLogs) Exists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.names[name]
	return ok, nil
}

// Provision implements LogProvisioner.
func (m *MemoryLogs) Provision(name, description string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[name]; ok {
		return uuid.Nil, errors.Errorf("log artifact '%s' already exists", name)
	}
	id := uuid.New()
	m.byID[id] = name
	m.names[name] = id
	return id, nil
}

// Delete implements LogProvisioner.
func (m *MemoryLogs) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.byID[id]
	if !ok {
		return nil
	}
	delete(m.byID, id)
	delete(m.names, name)
	return nil
}
