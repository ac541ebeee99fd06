package broker

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/internal/awsfake"
	"fleetbroker/pkg/envelope"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/logger"
	"fleetbroker/pkg/metrics"
	"fleetbroker/pkg/tenants"
)

type fixture struct {
	broker   *Broker
	sts      *awsfake.STS
	cache    Cache
	clock    *testclock.Clock
	metrics  *metrics.Collector
	account  tenants.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)

	store := tenants.NewMemoryStore(logger.Nop())
	acct, err := store.Create(ctx, tenants.Account{UserID: "u1", Title: "prod", RoleARN: "arn:aws:iam::444455556666:role/fleet-access"})
	require.NoError(t, err)

	codec, err := envelope.New("test-secret")
	require.NoError(t, err)

	stsFake := awsfake.NewSTS()
	stsFake.Now = clk.Now
	stsFake.Lifetime = time.Hour

	cache := NewMemoryCache()
	m := metrics.NewCollector()
	b := New(store, cache, codec, stsFake, 10*time.Minute, logger.Nop(), WithClock(clk), WithMetrics(m))
	return &fixture{broker: b, sts: stsFake, cache: cache, clock: clk, metrics: m, account: acct}
}

func TestGetCredentialsCachesWithinMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	second, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{f.account.RoleARN}, f.sts.AssumeRoleCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CredentialLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CredentialLookups.WithLabelValues("miss")))
}

func TestGetCredentialsRefreshesInsideMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)
	// 55 minutes in, 5 minutes remain: inside the 10 minute margin
	f.clock.Advance(55 * time.Minute)
	second, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessKeyID, second.AccessKeyID)
	assert.Len(t, f.sts.AssumeRoleCalls(), 2)
	assert.True(t, second.Expiration.Sub(f.clock.Now()) > 10*time.Minute)
}

func TestCachedSecretsAreEncrypted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creds, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)

	entry, ok, err := f.cache.Get(ctx, f.account.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, creds.AccessKeyID, entry.AccessKeyID)
	assert.NotEqual(t, creds.SecretAccessKey, entry.SecretAccessKey)
	assert.NotEqual(t, creds.SessionToken, entry.SessionToken)
	assert.NotContains(t, entry.SessionToken, creds.SessionToken)
}

func TestTamperedCacheEntryIsIntegrityFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)

	entry, _, err := f.cache.Get(ctx, f.account.ID)
	require.NoError(t, err)
	other, err := envelope.New("a-different-key")
	require.NoError(t, err)
	entry.SecretAccessKey, err = other.Encrypt("forged")
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(ctx, entry))

	_, err = f.broker.GetCredentials(ctx, f.account.ID)
	assert.ErrorIs(t, err, faults.ErrIntegrity)
	assert.Len(t, f.sts.AssumeRoleCalls(), 1)
}

func TestAccessDeniedIsPermanentAuth(t *testing.T) {
	f := newFixture(t)
	f.sts.FailNext("AssumeRole", awsfake.APIError("AccessDenied", "not authorized to perform sts:AssumeRole"))

	_, err := f.broker.GetCredentials(context.Background(), f.account.ID)
	assert.ErrorIs(t, err, faults.ErrPermanentAuth)
	assert.Equal(t, unusableAccount, faults.UserMessage(err))

	_, ok, _ := f.cache.Get(context.Background(), f.account.ID)
	assert.False(t, ok)
}

func TestOtherProviderErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	raw := awsfake.APIError("Throttling", "Rate exceeded")
	f.sts.FailNext("AssumeRole", raw)

	_, err := f.broker.GetCredentials(context.Background(), f.account.ID)
	assert.ErrorIs(t, err, raw)
	assert.ErrorIs(t, err, faults.ErrTransientProvider)
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.GetCredentials(context.Background(), "missing")
	assert.ErrorIs(t, err, faults.ErrNotFound)
	assert.Empty(t, f.sts.AssumeRoleCalls())
}

func TestInvalidateForcesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)
	require.NoError(t, f.broker.Invalidate(ctx, f.account.ID))
	_, err = f.broker.GetCredentials(ctx, f.account.ID)
	require.NoError(t, err)

	assert.Len(t, f.sts.AssumeRoleCalls(), 2)
}

func TestSessionNameShape(t *testing.T) {
	name := sessionName()
	assert.Regexp(t, `^fleet-[0-9a-f]{8}$`, name)
}
