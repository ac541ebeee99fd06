// cmd/fleet-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleetbroker/internal/accounts"
	"fleetbroker/internal/api"
	"fleetbroker/internal/broker"
	"fleetbroker/internal/fleet"
	"fleetbroker/internal/orchestrator"
	"fleetbroker/internal/rolepool"
	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/config"
	"fleetbroker/pkg/db"
	"fleetbroker/pkg/envelope"
	"fleetbroker/pkg/logger"
	"fleetbroker/pkg/metrics"
	"fleetbroker/pkg/middleware"
	"fleetbroker/pkg/tenants"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	if err := cfg.Validate(); err != nil {
		log.Fatalw("config", "err", err)
	}
	ctx := context.Background()

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store tenants.Store
	var roles rolepool.Store
	if pool != nil {
		for name, ensure := range map[string]func(context.Context, *pgxpool.Pool) error{
			"tenants":  tenants.EnsureSchema,
			"rolepool": rolepool.EnsureSchema,
			"broker":   broker.EnsureSchema,
		} {
			if err := ensure(ctx, pool); err != nil {
				log.Fatalw("schema", "component", name, "err", err)
			}
		}
		store = tenants.NewPostgresStore(pool, log)
		roles = rolepool.NewPostgresStore(pool)
	} else {
		store = tenants.NewMemoryStore(log)
		roles = rolepool.NewMemoryStore()
	}
	cache := credentialCache(cfg, pool, rdb, log)

	codec, err := envelope.New(cfg.CryptoSecretKey)
	if err != nil {
		log.Fatalw("codec", "err", err)
	}
	clients, err := awsclient.LoadDefault(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalw("aws config", "err", err)
	}

	collector := metrics.NewCollector()
	prometheus.MustRegister(collector)

	fallback := cfg.RolePoolFallbackPrincipal
	if fallback == "" {
		fallback, err = platformRoot(ctx, clients.STS())
		if err != nil {
			log.Fatalw("resolve platform principal", "err", err)
		}
	}
	roleManager, err := rolepool.NewManager(clients.IAM(), roles, rolepool.Config{
		Capacity:          cfg.RolePoolCapacity,
		NamePrefix:        cfg.RolePoolNamePrefix,
		FallbackPrincipal: fallback,
		Marker:            cfg.ResourceMarker,
	}, collector, log)
	if err != nil {
		log.Fatalw("role pool", "err", err)
	}

	creds := broker.New(store, cache, codec, clients.STS(), cfg.CredentialSafetyMargin, log, broker.WithMetrics(collector))
	orch := orchestrator.New(creds, store, clients.EC2, orchestrator.Config{
		PollInterval:      cfg.PollInterval,
		PollMaxWait:       cfg.PollMaxWait,
		Marker:            cfg.ResourceMarker,
		SecurityGroupName: cfg.SecurityGroupName,
		Images: orchestrator.LatestImage{
			Owner:        cfg.ImageOwner,
			NamePattern:  cfg.ImageNameFilter,
			Architecture: cfg.ImageArchitecture,
		},
	}, log, orchestrator.WithMetrics(collector))

	app := &api.App{
		Accounts: accounts.NewService(store, roleManager, creds, log),
		Servers:  orch,
		Fleet:    fleet.NewService(creds, clients.EC2, cfg.ResourceMarker, cfg.AWSRegion, collector, log),
		Store:    store,
		Log:      log,
		Version:  version,
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("fleet-service listening", "addr", cfg.HTTPAddr, "cache", cfg.CredentialCacheBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdown)
	_ = middleware.ShutdownTracing(shutdown)
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	fmt.Println("fleet-service stopped")
}

// credentialCache picks the configured backend, falling back to memory when
// its connection is not configured.
func credentialCache(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, log *zap.SugaredLogger) broker.Cache {
	switch cfg.CredentialCacheBackend {
	case "redis":
		if rdb != nil {
			return broker.NewRedisCache(rdb)
		}
		log.Warnw("REDIS_URL not set, credential cache kept in memory")
	case "postgres":
		if pool != nil {
			return broker.NewPostgresCache(pool)
		}
		log.Warnw("DATABASE_URL not set, credential cache kept in memory")
	}
	return broker.NewMemoryCache()
}

// platformRoot is the account-root principal of the platform identity, used
// as the placeholder trust on shared roles with no tenants.
func platformRoot(ctx context.Context, client awsclient.STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return "arn:aws:iam::" + aws.ToString(out.Account) + ":root", nil
}
