package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/pkg/config"
)

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "***@db:5432/fleet", redactDSN("postgres://fleet:secret@db:5432/fleet"))
	assert.Equal(t, "postgres:///fleet", redactDSN("postgres:///fleet"))
}

func TestPoolConfigMaxConns(t *testing.T) {
	cfg := config.Defaults()
	cfg.DatabaseURL = "postgres://fleet:secret@db:5432/fleet?pool_max_conns=4"

	pcfg, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.EqualValues(t, cfg.DBMaxConns, pcfg.MaxConns)

	cfg.DBMaxConns = 0
	pcfg, err = poolConfig(cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pcfg.MaxConns)
}

func TestRedisOptionsDBOverride(t *testing.T) {
	cfg := config.Defaults()
	cfg.RedisURL = "redis://cache:6379/3"

	opts, err := redisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)

	cfg.RedisDB = 5
	opts, err = redisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, opts.DB)
	assert.Equal(t, "cache:6379", opts.Addr)
}
