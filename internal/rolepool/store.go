package rolepool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetbroker/pkg/faults"
)

// SharedRole is a platform-owned IAM role trusted by up to capacity tenants.
type SharedRole struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ARN          string    `json:"arn"`
	TrustedCount int       `json:"trustedCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store keeps shared role records. AdjustCount must refuse to move a count
// outside [0, capacity].
type Store interface {
	// FirstWithCapacity returns the oldest role with fewer than capacity tenants.
	FirstWithCapacity(ctx context.Context, capacity int) (SharedRole, bool, error)
	Get(ctx context.Context, id string) (SharedRole, error)
	Create(ctx context.Context, r SharedRole) (SharedRole, error)
	AdjustCount(ctx context.Context, id string, delta, capacity int) (SharedRole, error)
	List(ctx context.Context) ([]SharedRole, error)
}

func roleNotFound(id string) error {
	return faults.New(faults.ErrNotFound, "shared role "+id+" not found", nil)
}

func countOutOfRange(r SharedRole, delta, capacity int) error {
	return faults.New(faults.ErrConflict,
		fmt.Sprintf("shared role %s count %d%+d outside [0,%d]", r.ID, r.TrustedCount, delta, capacity), nil)
}

type memStore struct {
	mu    sync.Mutex
	roles []SharedRole
}

func NewMemoryStore() Store { return &memStore{} }

func (m *memStore) FirstWithCapacity(_ context.Context, capacity int) (SharedRole, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.TrustedCount < capacity {
			return r, true, nil
		}
	}
	return SharedRole{}, false, nil
}

func (m *memStore) Get(_ context.Context, id string) (SharedRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.ID == id {
			return r, nil
		}
	}
	return SharedRole{}, roleNotFound(id)
}

func (m *memStore) Create(_ context.Context, r SharedRole) (SharedRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.roles = append(m.roles, r)
	sort.SliceStable(m.roles, func(i, j int) bool { return m.roles[i].CreatedAt.Before(m.roles[j].CreatedAt) })
	return r, nil
}

func (m *memStore) AdjustCount(_ context.Context, id string, delta, capacity int) (SharedRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.roles {
		if m.roles[i].ID != id {
			continue
		}
		next := m.roles[i].TrustedCount + delta
		if next < 0 || next > capacity {
			return SharedRole{}, countOutOfRange(m.roles[i], delta, capacity)
		}
		m.roles[i].TrustedCount = next
		return m.roles[i], nil
	}
	return SharedRole{}, roleNotFound(id)
}

func (m *memStore) List(_ context.Context) ([]SharedRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SharedRole(nil), m.roles...), nil
}
