package tenants

import (
	"context"
)

// Store persists tenant accounts. Lookups of absent accounts return faults.ErrNotFound;
// a second account with the same RoleARN returns faults.ErrConflict.
type Store interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	GetByRoleARN(ctx context.Context, roleARN string) (Account, error)
	ListByUser(ctx context.Context, userID string) ([]Account, error)
	// UpdateBinding changes the title, delegated role identifier and shared role reference.
	UpdateBinding(ctx context.Context, id, title, roleARN, awsRoleID string) (Account, error)
	// AddActiveRegion records region with set semantics.
	AddActiveRegion(ctx context.Context, id, region string) error
	Delete(ctx context.Context, id string) error
}
