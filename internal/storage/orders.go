package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/order-dispatch/internal/models"
)

// ErrNotFound is the typed failure for a missing order or profile.
var ErrNotFound = errors.New("not found")

// OrderRepository defines the minimal read/write surface the dispatch core
// needs. Order creation belongs to an external collaborator.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
}

// ProfileStore resolves the denormalized actor snapshots embedded in
// tracking payloads.
type ProfileStore interface {
	GetProfile(ctx context.Context, actorType models.ActorType, id string) (models.Profile, error)
}

// MemoryStore backs tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	profiles map[string]models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		profiles: make(map[string]models.Profile),
	}
}

func (m *MemoryStore) PutOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) PutProfile(actorType models.ActorType, p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[string(actorType)+":"+p.ID] = p
}

func (m *MemoryStore) GetProfile(_ context.Context, actorType models.ActorType, id string) (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[string(actorType)+":"+id]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}
