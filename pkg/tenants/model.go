package tenants

import "time"

// Account is one tenant's delegated identity binding.
type Account struct {
	ID            string // uuid
	UserID        string // owning user
	Title         string
	RoleARN       string   // tenant-supplied role the broker assumes; globally unique
	AWSRoleID     string   // shared pool role trusting RoleARN
	ActiveRegions []string // regions with running servers, no duplicates
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasRegion reports whether region is already recorded as active.
func (a Account) HasRegion(region string) bool {
	for _, r := range a.ActiveRegions {
		if r == region {
			return true
		}
	}
	return false
}
