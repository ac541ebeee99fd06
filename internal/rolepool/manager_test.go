package rolepool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/internal/awsfake"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/logger"
	"fleetbroker/pkg/metrics"
)

func newManager(t *testing.T, capacity int) (*Manager, *awsfake.IAM, Store) {
	t.Helper()
	iamFake := awsfake.NewIAM()
	store := NewMemoryStore()
	m, err := NewManager(iamFake, store, Config{Capacity: capacity, NamePrefix: "test-shared", FallbackPrincipal: fallback}, metrics.NewCollector(), logger.Nop())
	require.NoError(t, err)
	return m, iamFake, store
}

func tenant(i int) string { return fmt.Sprintf("arn:aws:iam::%012d:role/fleet-access", i) }

func counts(t *testing.T, store Store) []int {
	t.Helper()
	roles, err := store.List(context.Background())
	require.NoError(t, err)
	out := make([]int, len(roles))
	for i, r := range roles {
		out[i] = r.TrustedCount
	}
	return out
}

func TestAssignFillsRolesInOrder(t *testing.T) {
	m, iamFake, store := newManager(t, 50)
	ctx := context.Background()

	for i := 0; i < 130; i++ {
		_, _, err := m.AssignTenant(ctx, tenant(i))
		require.NoError(t, err)
	}

	assert.Equal(t, []int{50, 50, 30}, counts(t, store))
	assert.Equal(t, 3, iamFake.RoleCount())

	roles, _ := store.List(ctx)
	for _, r := range roles {
		p, err := ParseTrustPolicy(iamFake.Document(r.Name))
		require.NoError(t, err)
		assert.Len(t, p.Principals(), r.TrustedCount)
	}
}

func TestRevokeOnlyTouchesOneRole(t *testing.T) {
	m, _, store := newManager(t, 50)
	ctx := context.Background()

	var first SharedRole
	for i := 0; i < 130; i++ {
		r, _, err := m.AssignTenant(ctx, tenant(i))
		require.NoError(t, err)
		if i == 0 {
			first = r
		}
	}
	for i := 0; i < 30; i++ {
		require.NoError(t, m.RevokeTenant(ctx, first.ID, tenant(i)))
	}
	assert.Equal(t, []int{20, 50, 30}, counts(t, store))

	// freed capacity on the oldest role is reused first
	r, _, err := m.AssignTenant(ctx, tenant(500))
	require.NoError(t, err)
	assert.Equal(t, first.ID, r.ID)
	assert.Equal(t, 21, r.TrustedCount)
}

func TestRevokeLastTenantLeavesFallback(t *testing.T) {
	m, iamFake, store := newManager(t, 50)
	ctx := context.Background()

	role, _, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	require.NoError(t, m.RevokeTenant(ctx, role.ID, tenant(1)))

	p, err := ParseTrustPolicy(iamFake.Document(role.Name))
	require.NoError(t, err)
	assert.Equal(t, []string{fallback}, p.Principals())
	assert.Equal(t, []int{0}, counts(t, store))

	// next tenant replaces the placeholder instead of sitting beside it
	_, _, err = m.AssignTenant(ctx, tenant(2))
	require.NoError(t, err)
	p, err = ParseTrustPolicy(iamFake.Document(role.Name))
	require.NoError(t, err)
	assert.Equal(t, []string{tenant(2)}, p.Principals())
	assert.Equal(t, []int{1}, counts(t, store))
}

func TestRevokeScalarPrincipal(t *testing.T) {
	m, iamFake, _ := newManager(t, 50)
	ctx := context.Background()

	role, _, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	iamFake.SetDocument(role.Name, `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":"`+tenant(1)+`"},"Action":"sts:AssumeRole"}]}`)

	require.NoError(t, m.RevokeTenant(ctx, role.ID, tenant(1)))
	assert.JSONEq(t,
		`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":"`+fallback+`"},"Action":"sts:AssumeRole"}]}`,
		iamFake.Document(role.Name))
}

func TestAssignAndRevokeRoundTrip(t *testing.T) {
	m, iamFake, _ := newManager(t, 50)
	ctx := context.Background()

	role, _, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	_, _, err = m.AssignTenant(ctx, tenant(2))
	require.NoError(t, err)
	before := iamFake.Document(role.Name)

	_, _, err = m.AssignTenant(ctx, tenant(3))
	require.NoError(t, err)
	require.NoError(t, m.RevokeTenant(ctx, role.ID, tenant(3)))

	assert.JSONEq(t, before, iamFake.Document(role.Name))
}

func TestAssignIsIdempotent(t *testing.T) {
	m, iamFake, store := newManager(t, 50)
	ctx := context.Background()

	_, _, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	updates := iamFake.Updates()
	_, _, err = m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, counts(t, store))
	assert.Equal(t, updates, iamFake.Updates())
}

func TestRevokeUntrustedPrincipalIsNoop(t *testing.T) {
	m, iamFake, store := newManager(t, 50)
	ctx := context.Background()

	role, _, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	require.NoError(t, m.RevokeTenant(ctx, role.ID, tenant(99)))
	assert.Equal(t, []int{1}, counts(t, store))
	assert.Equal(t, 0, iamFake.Updates())
}

func TestMalformedPrincipal(t *testing.T) {
	m, iamFake, store := newManager(t, 50)
	ctx := context.Background()
	iamFake.InvalidPrincipals["arn:aws:iam::000000000000:role/missing"] = true

	_, _, err := m.AssignTenant(ctx, "arn:aws:iam::000000000000:role/missing")
	assert.ErrorIs(t, err, faults.ErrMalformedDelegation)
	assert.Empty(t, counts(t, store))

	_, _, err = m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	_, _, err = m.AssignTenant(ctx, "arn:aws:iam::000000000000:role/missing")
	assert.ErrorIs(t, err, faults.ErrMalformedDelegation)
	assert.Equal(t, []int{1}, counts(t, store))
}

func TestConcurrentAssignRespectsCapacity(t *testing.T) {
	m, _, store := newManager(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 23)
	for i := 0; i < 23; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.AssignTenant(ctx, tenant(i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total := 0
	for _, c := range counts(t, store) {
		assert.LessOrEqual(t, c, 5)
		total += c
	}
	assert.Equal(t, 23, total)
}

func TestNewManagerRequiresFallback(t *testing.T) {
	_, err := NewManager(awsfake.NewIAM(), NewMemoryStore(), Config{Capacity: 1}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestAssignReportsWhetherTrustWasAdded(t *testing.T) {
	m, _, _ := newManager(t, 50)
	ctx := context.Background()

	first, added, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	assert.True(t, added)

	_, added, err = m.AssignTenant(ctx, tenant(2))
	require.NoError(t, err)
	assert.True(t, added)

	again, added, err := m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first.ID, again.ID)
}

// adjustFails makes the next n AdjustCount calls fail after the trust
// policy has already been written.
type adjustFails struct {
	Store
	n int
}

func (s *adjustFails) AdjustCount(ctx context.Context, id string, delta, capacity int) (SharedRole, error) {
	if s.n > 0 {
		s.n--
		return SharedRole{}, fmt.Errorf("database unavailable")
	}
	return s.Store.AdjustCount(ctx, id, delta, capacity)
}

func TestAssignReconcilesDriftedCount(t *testing.T) {
	iamFake := awsfake.NewIAM()
	store := &adjustFails{Store: NewMemoryStore()}
	m, err := NewManager(iamFake, store, Config{Capacity: 50, NamePrefix: "test-shared", FallbackPrincipal: fallback}, metrics.NewCollector(), logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = m.AssignTenant(ctx, tenant(1))
	require.NoError(t, err)

	store.n = 1
	_, _, err = m.AssignTenant(ctx, tenant(2))
	require.Error(t, err)
	assert.Equal(t, []int{1}, counts(t, store))

	role, added, err := m.AssignTenant(ctx, tenant(2))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 2, role.TrustedCount)
	assert.Equal(t, []int{2}, counts(t, store))
}
