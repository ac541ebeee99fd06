package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/logger"
)

func TestMemoryStoreRoleARNIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(logger.Nop())

	a, err := s.Create(ctx, Account{UserID: "u1", Title: "prod", RoleARN: "arn:aws:iam::111111111111:role/fleet"})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	_, err = s.Create(ctx, Account{UserID: "u2", Title: "other", RoleARN: a.RoleARN})
	assert.ErrorIs(t, err, faults.ErrConflict)

	b, err := s.Create(ctx, Account{UserID: "u1", Title: "dev", RoleARN: "arn:aws:iam::222222222222:role/fleet"})
	require.NoError(t, err)
	_, err = s.UpdateBinding(ctx, b.ID, "dev", a.RoleARN, "")
	assert.ErrorIs(t, err, faults.ErrConflict)

	got, err := s.GetByRoleARN(ctx, b.RoleARN)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStoreAddActiveRegionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(logger.Nop())
	a, err := s.Create(ctx, Account{UserID: "u1", RoleARN: "arn:aws:iam::111111111111:role/fleet"})
	require.NoError(t, err)

	require.NoError(t, s.AddActiveRegion(ctx, a.ID, "eu-west-1"))
	require.NoError(t, s.AddActiveRegion(ctx, a.ID, "us-east-1"))
	require.NoError(t, s.AddActiveRegion(ctx, a.ID, "eu-west-1"))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, got.ActiveRegions)
	assert.True(t, got.HasRegion("us-east-1"))

	assert.ErrorIs(t, s.AddActiveRegion(ctx, "missing", "eu-west-1"), faults.ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(logger.Nop())
	a, err := s.Create(ctx, Account{UserID: "u1", RoleARN: "arn:aws:iam::111111111111:role/fleet"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), faults.ErrNotFound)
}
