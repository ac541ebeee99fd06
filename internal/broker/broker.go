// Package broker resolves a tenant account to short-lived delegated credentials,
// caching them encrypted until they come within the safety margin of expiry.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/envelope"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/metrics"
	"fleetbroker/pkg/tenants"
)

// AccountReader is the slice of the account store the broker needs.
type AccountReader interface {
	Get(ctx context.Context, id string) (tenants.Account, error)
}

const unusableAccount = "We are unable to engage with the currently active account"

type Broker struct {
	accounts AccountReader
	cache    Cache
	codec    *envelope.Codec
	sts      awsclient.STSAPI
	margin   time.Duration
	clock    clock.Clock
	metrics  *metrics.Collector
	log      *zap.SugaredLogger
}

type Option func(*Broker)

func WithClock(c clock.Clock) Option { return func(b *Broker) { b.clock = c } }

func WithMetrics(m *metrics.Collector) Option { return func(b *Broker) { b.metrics = m } }

func New(accounts AccountReader, cache Cache, codec *envelope.Codec, stsClient awsclient.STSAPI, margin time.Duration, log *zap.SugaredLogger, opts ...Option) *Broker {
	b := &Broker{
		accounts: accounts,
		cache:    cache,
		codec:    codec,
		sts:      stsClient,
		margin:   margin,
		clock:    clock.WallClock,
		metrics:  metrics.NewCollector(),
		log:      log,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// GetCredentials returns credentials for accountID that remain valid for at
// least the safety margin. A cached entry inside the margin is never returned.
func (b *Broker) GetCredentials(ctx context.Context, accountID string) (awsclient.Credentials, error) {
	entry, ok, err := b.cache.Get(ctx, accountID)
	if err != nil {
		return awsclient.Credentials{}, fmt.Errorf("credential cache: %w", err)
	}
	if ok && entry.Expiration.Sub(b.clock.Now()) > b.margin {
		creds, err := b.open(entry)
		if err != nil {
			b.log.Errorw("cached credentials failed integrity check", "account", accountID, "err", err)
			return awsclient.Credentials{}, err
		}
		b.metrics.CredentialLookups.WithLabelValues("hit").Inc()
		return creds, nil
	}
	b.metrics.CredentialLookups.WithLabelValues("miss").Inc()

	acct, err := b.accounts.Get(ctx, accountID)
	if err != nil {
		return awsclient.Credentials{}, err
	}
	creds, err := b.assume(ctx, acct)
	if err != nil {
		return awsclient.Credentials{}, err
	}
	sealed, err := b.seal(accountID, creds)
	if err != nil {
		return awsclient.Credentials{}, err
	}
	if err := b.cache.Put(ctx, sealed); err != nil {
		// the credentials are still good for this call
		b.log.Warnw("credential cache write failed", "account", accountID, "err", err)
	}
	return creds, nil
}

// Invalidate drops any cached credentials for accountID.
func (b *Broker) Invalidate(ctx context.Context, accountID string) error {
	return b.cache.Delete(ctx, accountID)
}

func (b *Broker) assume(ctx context.Context, acct tenants.Account) (awsclient.Credentials, error) {
	out, err := b.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(acct.RoleARN),
		RoleSessionName: aws.String(sessionName()),
	})
	if err != nil {
		if faults.APICode(err) == "AccessDenied" {
			return awsclient.Credentials{}, faults.New(faults.ErrPermanentAuth, unusableAccount, err)
		}
		return awsclient.Credentials{}, faults.Provider(err)
	}
	if out.Credentials == nil {
		return awsclient.Credentials{}, faults.Provider(fmt.Errorf("assume role %s: empty credentials", acct.RoleARN))
	}
	c := out.Credentials
	return awsclient.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Expiration:      aws.ToTime(c.Expiration),
	}, nil
}

func (b *Broker) seal(accountID string, c awsclient.Credentials) (Entry, error) {
	e := Entry{AccountID: accountID, Expiration: c.Expiration}
	var err error
	if e.AccessKeyID, err = b.codec.Encrypt(c.AccessKeyID); err != nil {
		return Entry{}, err
	}
	if e.SecretAccessKey, err = b.codec.Encrypt(c.SecretAccessKey); err != nil {
		return Entry{}, err
	}
	if e.SessionToken, err = b.codec.Encrypt(c.SessionToken); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (b *Broker) open(e Entry) (awsclient.Credentials, error) {
	c := awsclient.Credentials{Expiration: e.Expiration}
	var err error
	if c.AccessKeyID, err = b.codec.Decrypt(e.AccessKeyID); err != nil {
		return awsclient.Credentials{}, err
	}
	if c.SecretAccessKey, err = b.codec.Decrypt(e.SecretAccessKey); err != nil {
		return awsclient.Credentials{}, err
	}
	if c.SessionToken, err = b.codec.Decrypt(e.SessionToken); err != nil {
		return awsclient.Credentials{}, err
	}
	return c, nil
}

func sessionName() string {
	return "fleet-" + uuid.NewString()[:8]
}
