package rolepool

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetbroker/pkg/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS shared_roles (
  id uuid PRIMARY KEY,
  name text NOT NULL UNIQUE,
  arn text NOT NULL,
  trusted_count int NOT NULL DEFAULT 0 CHECK (trusted_count >= 0),
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS shared_roles_created_idx ON shared_roles(created_at);
`)
	return err
}

const roleCols = `id::text, name, arn, trusted_count, created_at`

func scanRole(row pgx.Row) (SharedRole, error) {
	var r SharedRole
	err := row.Scan(&r.ID, &r.Name, &r.ARN, &r.TrustedCount, &r.CreatedAt)
	return r, err
}

func (s *pgStore) FirstWithCapacity(ctx context.Context, capacity int) (SharedRole, bool, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleCols+` FROM shared_roles
WHERE trusted_count < $1 ORDER BY created_at, id LIMIT 1`, capacity))
	if errors.Is(err, pgx.ErrNoRows) {
		return SharedRole{}, false, nil
	}
	if err != nil {
		return SharedRole{}, false, err
	}
	return r, true, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (SharedRole, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleCols+` FROM shared_roles WHERE id::text=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SharedRole{}, roleNotFound(id)
	}
	return r, err
}

func (s *pgStore) Create(ctx context.Context, r SharedRole) (SharedRole, error) {
	return scanRole(s.pool.QueryRow(ctx, `INSERT INTO shared_roles(id, name, arn, trusted_count)
VALUES ($1::uuid,$2,$3,$4) RETURNING `+roleCols, r.ID, r.Name, r.ARN, r.TrustedCount))
}

// AdjustCount locks the row so concurrent replicas cannot overshoot capacity.
func (s *pgStore) AdjustCount(ctx context.Context, id string, delta, capacity int) (SharedRole, error) {
	var out SharedRole
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanRole(tx.QueryRow(ctx, `SELECT `+roleCols+` FROM shared_roles WHERE id::text=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return roleNotFound(id)
		}
		if err != nil {
			return err
		}
		next := cur.TrustedCount + delta
		if next < 0 || next > capacity {
			return countOutOfRange(cur, delta, capacity)
		}
		out, err = scanRole(tx.QueryRow(ctx, `UPDATE shared_roles SET trusted_count=$2 WHERE id::text=$1 RETURNING `+roleCols, id, next))
		return err
	})
	return out, err
}

func (s *pgStore) List(ctx context.Context) ([]SharedRole, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleCols+` FROM shared_roles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SharedRole
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
