// Package accounts onboards tenants: it binds a tenant-supplied role to a
// shared pool role and keeps that binding consistent on edit and removal.
package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"go.uber.org/zap"

	"fleetbroker/internal/rolepool"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/tenants"
)

// RolePool grants and withdraws trust on shared roles.
type RolePool interface {
	// AssignTenant reports whether this call added the trust.
	AssignTenant(ctx context.Context, principal string) (rolepool.SharedRole, bool, error)
	RevokeTenant(ctx context.Context, roleID, principal string) error
}

// CredentialInvalidator drops cached credentials for an account.
type CredentialInvalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

type Service struct {
	store tenants.Store
	pool  RolePool
	creds CredentialInvalidator
	log   *zap.SugaredLogger
}

func NewService(store tenants.Store, pool RolePool, creds CredentialInvalidator, log *zap.SugaredLogger) *Service {
	return &Service{store: store, pool: pool, creds: creds, log: log}
}

// Onboard registers roleARN for userID and trusts it on a shared role.
func (s *Service) Onboard(ctx context.Context, userID, title, roleARN string) (tenants.Account, error) {
	roleARN = strings.TrimSpace(roleARN)
	if err := validate(userID, title, roleARN); err != nil {
		return tenants.Account{}, err
	}
	if _, err := s.store.GetByRoleARN(ctx, roleARN); err == nil {
		return tenants.Account{}, faults.New(faults.ErrConflict, "An account with this role already exists", nil)
	} else if !errors.Is(err, faults.ErrNotFound) {
		return tenants.Account{}, err
	}

	role, granted, err := s.pool.AssignTenant(ctx, roleARN)
	if err != nil {
		return tenants.Account{}, err
	}
	acct, err := s.store.Create(ctx, tenants.Account{
		UserID:    userID,
		Title:     title,
		RoleARN:   roleARN,
		AWSRoleID: role.ID,
	})
	if err != nil {
		s.undoGrant(ctx, "onboard", role.ID, roleARN, granted, err)
		return tenants.Account{}, err
	}
	s.log.Infow("account onboarded", "account", acct.ID, "user", userID, "sharedRole", role.ID)
	return acct, nil
}

// Edit updates the title and, when it changes, the delegated role. A new role
// is trusted before the old one is withdrawn.
func (s *Service) Edit(ctx context.Context, userID, accountID, title, roleARN string) (tenants.Account, error) {
	roleARN = strings.TrimSpace(roleARN)
	if err := validate(userID, title, roleARN); err != nil {
		return tenants.Account{}, err
	}
	acct, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return tenants.Account{}, err
	}
	if roleARN == acct.RoleARN {
		return s.store.UpdateBinding(ctx, acct.ID, title, acct.RoleARN, acct.AWSRoleID)
	}
	if other, err := s.store.GetByRoleARN(ctx, roleARN); err == nil && other.ID != acct.ID {
		return tenants.Account{}, faults.New(faults.ErrConflict, "An account with this role already exists", nil)
	} else if err != nil && !errors.Is(err, faults.ErrNotFound) {
		return tenants.Account{}, err
	}

	role, granted, err := s.pool.AssignTenant(ctx, roleARN)
	if err != nil {
		return tenants.Account{}, err
	}
	updated, err := s.store.UpdateBinding(ctx, acct.ID, title, roleARN, role.ID)
	if err != nil {
		s.undoGrant(ctx, "edit", role.ID, roleARN, granted, err)
		return tenants.Account{}, err
	}
	if acct.AWSRoleID != "" {
		if err := s.pool.RevokeTenant(ctx, acct.AWSRoleID, acct.RoleARN); err != nil {
			// the account already points at the new role; a stale grant only costs capacity
			s.log.Warnw("edit: old trust grant not revoked", "role", acct.AWSRoleID, "err", err)
		}
	}
	if err := s.creds.Invalidate(ctx, acct.ID); err != nil {
		s.log.Warnw("edit: credential cache not invalidated", "account", acct.ID, "err", err)
	}
	return updated, nil
}

// Offboard withdraws trust, drops cached credentials and deletes the record,
// in that order. A failed revocation keeps the record so the call can be retried.
func (s *Service) Offboard(ctx context.Context, userID, accountID string) error {
	acct, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if acct.AWSRoleID != "" {
		if err := s.pool.RevokeTenant(ctx, acct.AWSRoleID, acct.RoleARN); err != nil && !errors.Is(err, faults.ErrNotFound) {
			return err
		}
	}
	if err := s.creds.Invalidate(ctx, acct.ID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, acct.ID); err != nil {
		return err
	}
	s.log.Infow("account offboarded", "account", acct.ID, "user", userID)
	return nil
}

// Get returns the account when userID owns it.
func (s *Service) Get(ctx context.Context, userID, accountID string) (tenants.Account, error) {
	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return tenants.Account{}, err
	}
	if acct.UserID != userID {
		return tenants.Account{}, faults.New(faults.ErrForbidden, "You do not have access to this account", nil)
	}
	return acct, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]tenants.Account, error) {
	return s.store.ListByUser(ctx, userID)
}

// undoGrant withdraws a trust grant whose account record could not be saved.
// A grant this call did not add belongs to whichever account won the role,
// and a conflict means another account now holds it.
func (s *Service) undoGrant(ctx context.Context, op, roleID, principal string, granted bool, cause error) {
	if !granted || errors.Is(cause, faults.ErrConflict) {
		s.log.Warnw(op+": record not saved, trust grant kept", "role", roleID, "err", cause)
		return
	}
	if err := s.pool.RevokeTenant(ctx, roleID, principal); err != nil {
		s.log.Errorw(op+": revoke after failed save", "role", roleID, "err", err)
	}
}

func validate(userID, title, roleARN string) error {
	if userID == "" {
		return faults.New(faults.ErrInvalidRequest, "user is required", nil)
	}
	if strings.TrimSpace(title) == "" {
		return faults.New(faults.ErrInvalidRequest, "title is required", nil)
	}
	parsed, err := arn.Parse(roleARN)
	if err != nil || parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return faults.New(faults.ErrMalformedDelegation, "Role ARN must look like arn:aws:iam::<account>:role/<name>", err)
	}
	return nil
}
