// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetbroker/pkg/faults"
)

type memStore struct {
	log  *zap.SugaredLogger
	mu   sync.RWMutex
	byID map[string]Account
}

func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{log: log, byID: map[string]Account{}}
}

func notFound(id string) error {
	return faults.New(faults.ErrNotFound, "account "+id+" not found", nil)
}

func duplicate(roleARN string) error {
	return faults.New(faults.ErrConflict, "an account is already registered for role "+roleARN, nil)
}

func (m *memStore) Create(ctx context.Context, a Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.RoleARN == a.RoleARN {
			return Account{}, duplicate(a.RoleARN)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.ActiveRegions = append([]string(nil), a.ActiveRegions...)
	m.byID[a.ID] = a
	return clone(a), nil
}

func (m *memStore) Get(ctx context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return Account{}, notFound(id)
	}
	return clone(a), nil
}

func (m *memStore) GetByRoleARN(ctx context.Context, roleARN string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.RoleARN == roleARN {
			return clone(a), nil
		}
	}
	return Account{}, notFound(roleARN)
}

func (m *memStore) ListByUser(ctx context.Context, userID string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Account
	for _, a := range m.byID {
		if a.UserID == userID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateBinding(ctx context.Context, id, title, roleARN, awsRoleID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return Account{}, notFound(id)
	}
	for otherID, other := range m.byID {
		if otherID != id && other.RoleARN == roleARN {
			return Account{}, duplicate(roleARN)
		}
	}
	a.Title, a.RoleARN, a.AWSRoleID = title, roleARN, awsRoleID
	a.UpdatedAt = time.Now().UTC()
	m.byID[id] = a
	return clone(a), nil
}

func (m *memStore) AddActiveRegion(ctx context.Context, id, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return notFound(id)
	}
	if a.HasRegion(region) {
		return nil
	}
	a.ActiveRegions = append(append([]string(nil), a.ActiveRegions...), region)
	m.byID[id] = a
	m.log.Debugw("active region recorded", "account", id, "region", region)
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return notFound(id)
	}
	delete(m.byID, id)
	return nil
}

func clone(a Account) Account {
	a.ActiveRegions = append([]string(nil), a.ActiveRegions...)
	return a
}
