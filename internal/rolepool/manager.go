// Package rolepool bin-packs tenant trust grants onto shared IAM roles.
// Each role trusts at most Capacity tenants; a new role is created only when
// every existing one is full.
package rolepool

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"go.uber.org/zap"

	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/metrics"
)

type Config struct {
	Capacity          int
	NamePrefix        string
	FallbackPrincipal string
	Marker            string
}

type Manager struct {
	iam     awsclient.IAMAPI
	store   Store
	cfg     Config
	locks   *kmutex.Kmutex
	metrics *metrics.Collector
	log     *zap.SugaredLogger
}

// createKey serialises role creation so one process never opens two new roles at once.
const createKey = "\x00create"

func NewManager(iamClient awsclient.IAMAPI, store Store, cfg Config, m *metrics.Collector, log *zap.SugaredLogger) (*Manager, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("rolepool: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.FallbackPrincipal == "" {
		return nil, errors.New("rolepool: fallback principal is required")
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "fleet-shared"
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Manager{iam: iamClient, store: store, cfg: cfg, locks: kmutex.New(), metrics: m, log: log}, nil
}

// AssignTenant grants principal AssumeRole on the first shared role with
// spare capacity, creating a role when all are full. The bool reports whether
// this call added the trust; assigning an already trusted principal is a
// no-op that reports false.
func (m *Manager) AssignTenant(ctx context.Context, principal string) (SharedRole, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return SharedRole{}, false, err
		}
		role, ok, err := m.store.FirstWithCapacity(ctx, m.cfg.Capacity)
		if err != nil {
			return SharedRole{}, false, err
		}
		if !ok {
			role, created, err := m.createIfFull(ctx, principal)
			if err != nil || created {
				return role, created, err
			}
			continue
		}
		done, added, role, err := m.grant(ctx, role.ID, principal)
		if err != nil {
			return SharedRole{}, false, err
		}
		if done {
			return role, added, nil
		}
		// filled by a concurrent assignment; look again
	}
}

func (m *Manager) createIfFull(ctx context.Context, principal string) (SharedRole, bool, error) {
	m.locks.Lock(createKey)
	defer m.locks.Unlock(createKey)
	if _, ok, err := m.store.FirstWithCapacity(ctx, m.cfg.Capacity); err != nil || ok {
		return SharedRole{}, false, err
	}
	role, err := m.createRole(ctx, principal)
	return role, err == nil, err
}

// grant trusts principal on roleID. done is false when the role filled up
// before the lock was taken; added is false when principal was already trusted.
func (m *Manager) grant(ctx context.Context, roleID, principal string) (done, added bool, role SharedRole, err error) {
	m.locks.Lock(roleID)
	defer m.locks.Unlock(roleID)

	role, err = m.store.Get(ctx, roleID)
	if err != nil {
		return false, false, SharedRole{}, err
	}
	doc, err := m.trustPolicy(ctx, role.Name)
	if err != nil {
		return false, false, SharedRole{}, err
	}
	if contains(doc.Principals(), principal) {
		return true, false, m.reconcile(ctx, role, doc), nil
	}
	if role.TrustedCount >= m.cfg.Capacity {
		return false, false, SharedRole{}, nil
	}
	if _, err := doc.AddPrincipal(principal, m.cfg.FallbackPrincipal); err != nil {
		return false, false, SharedRole{}, err
	}
	if err := m.putTrustPolicy(ctx, role.Name, doc, principal); err != nil {
		return false, false, SharedRole{}, err
	}
	role, err = m.store.AdjustCount(ctx, roleID, 1, m.cfg.Capacity)
	if err != nil {
		m.log.Errorw("trust granted but count not recorded", "role", roleID, "principal", principal, "err", err)
		return false, false, SharedRole{}, err
	}
	m.metrics.RoleAssignments.WithLabelValues("assign").Inc()
	m.log.Infow("tenant trusted", "role", role.Name, "count", role.TrustedCount)
	return true, true, role, nil
}

// reconcile brings the recorded count back in line with the trust policy,
// which is the source of truth. Called with the role lock held.
func (m *Manager) reconcile(ctx context.Context, role SharedRole, doc TrustPolicy) SharedRole {
	trusted := 0
	for _, p := range doc.Principals() {
		if p != m.cfg.FallbackPrincipal {
			trusted++
		}
	}
	delta := trusted - role.TrustedCount
	if delta == 0 {
		return role
	}
	m.log.Warnw("trusted count diverged from trust policy", "role", role.Name, "recorded", role.TrustedCount, "trusted", trusted)
	fixed, err := m.store.AdjustCount(ctx, role.ID, delta, m.cfg.Capacity)
	if err != nil {
		m.log.Errorw("trusted count not reconciled", "role", role.Name, "err", err)
		return role
	}
	m.metrics.RoleAssignments.WithLabelValues("reconcile").Inc()
	return fixed
}

func (m *Manager) createRole(ctx context.Context, principal string) (SharedRole, error) {
	name := m.cfg.NamePrefix + "-" + uuid.NewString()[:8]
	doc := NewTrustPolicy(principal)
	in := &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(doc.String()),
		Description:              aws.String("Shared tenant role managed by fleetbroker"),
	}
	if m.cfg.Marker != "" {
		in.Tags = []iamtypes.Tag{{Key: aws.String("controller"), Value: aws.String(m.cfg.Marker)}}
	}
	out, err := m.iam.CreateRole(ctx, in)
	if err != nil {
		return SharedRole{}, translate(err, principal)
	}
	role, err := m.store.Create(ctx, SharedRole{
		ID:           uuid.NewString(),
		Name:         name,
		ARN:          aws.ToString(out.Role.Arn),
		TrustedCount: 1,
	})
	if err != nil {
		m.log.Errorw("shared role created but not recorded", "role", name, "err", err)
		return SharedRole{}, err
	}
	m.metrics.RoleAssignments.WithLabelValues("create").Inc()
	m.log.Infow("shared role created", "role", name)
	return role, nil
}

// RevokeTenant removes principal from roleID's trust policy. Revoking a
// principal that is not trusted changes nothing.
func (m *Manager) RevokeTenant(ctx context.Context, roleID, principal string) error {
	m.locks.Lock(roleID)
	defer m.locks.Unlock(roleID)

	role, err := m.store.Get(ctx, roleID)
	if err != nil {
		return err
	}
	doc, err := m.trustPolicy(ctx, role.Name)
	if err != nil {
		return err
	}
	removed, err := doc.RemovePrincipal(principal, m.cfg.FallbackPrincipal)
	if err != nil {
		return err
	}
	if !removed {
		m.log.Warnw("revoke: principal not trusted", "role", role.Name)
		return nil
	}
	if err := m.putTrustPolicy(ctx, role.Name, doc, principal); err != nil {
		return err
	}
	if _, err := m.store.AdjustCount(ctx, roleID, -1, m.cfg.Capacity); err != nil {
		m.log.Errorw("trust revoked but count not recorded", "role", roleID, "err", err)
		return err
	}
	m.metrics.RoleAssignments.WithLabelValues("revoke").Inc()
	return nil
}

func (m *Manager) List(ctx context.Context) ([]SharedRole, error) {
	return m.store.List(ctx)
}

func (m *Manager) trustPolicy(ctx context.Context, name string) (TrustPolicy, error) {
	out, err := m.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return TrustPolicy{}, translate(err, "")
	}
	return ParseTrustPolicy(aws.ToString(out.Role.AssumeRolePolicyDocument))
}

func (m *Manager) putTrustPolicy(ctx context.Context, name string, doc TrustPolicy, principal string) error {
	_, err := m.iam.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName:       aws.String(name),
		PolicyDocument: aws.String(doc.String()),
	})
	if err != nil {
		return translate(err, principal)
	}
	return nil
}

func translate(err error, principal string) error {
	switch faults.APICode(err) {
	case "MalformedPolicyDocument":
		return faults.New(faults.ErrMalformedDelegation,
			fmt.Sprintf("The role %s cannot be trusted. Check that the ARN exists and is spelled correctly", principal), err)
	case "NoSuchEntity":
		return faults.New(faults.ErrNotFound, "shared role no longer exists", err)
	}
	return faults.Provider(err)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
