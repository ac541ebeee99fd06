package broker

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgCache struct {
	pool *pgxpool.Pool
}

func NewPostgresCache(pool *pgxpool.Pool) Cache {
	return &pgCache{pool: pool}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS temporary_credentials (
  account_id text PRIMARY KEY,
  access_key_id text NOT NULL,
  secret_access_key text NOT NULL,
  session_token text NOT NULL,
  expiration_time timestamptz NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS temporary_credentials_expiration_idx ON temporary_credentials(expiration_time);
`)
	return err
}

func (c *pgCache) Get(ctx context.Context, accountID string) (Entry, bool, error) {
	var e Entry
	err := c.pool.QueryRow(ctx, `
SELECT account_id, access_key_id, secret_access_key, session_token, expiration_time
FROM temporary_credentials WHERE account_id=$1`, accountID).
		Scan(&e.AccountID, &e.AccessKeyID, &e.SecretAccessKey, &e.SessionToken, &e.Expiration)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (c *pgCache) Put(ctx context.Context, e Entry) error {
	_, err := c.pool.Exec(ctx, `
INSERT INTO temporary_credentials(account_id, access_key_id, secret_access_key, session_token, expiration_time)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (account_id) DO UPDATE SET
  access_key_id=EXCLUDED.access_key_id,
  secret_access_key=EXCLUDED.secret_access_key,
  session_token=EXCLUDED.session_token,
  expiration_time=EXCLUDED.expiration_time,
  updated_at=now()`,
		e.AccountID, e.AccessKeyID, e.SecretAccessKey, e.SessionToken, e.Expiration)
	return err
}

func (c *pgCache) Delete(ctx context.Context, accountID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM temporary_credentials WHERE account_id=$1`, accountID)
	return err
}
