// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresStore constructs a PostgreSQL-backed account store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates the accounts table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
  id uuid PRIMARY KEY,
  user_id text NOT NULL,
  title text NOT NULL DEFAULT '',
  role_arn text NOT NULL,
  aws_role_id text NOT NULL DEFAULT '',
  active_regions text[] NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_role_arn_idx ON accounts(role_arn);
CREATE INDEX IF NOT EXISTS accounts_user_idx ON accounts(user_id);
`)
	return err
}

const accountColumns = `id::text,user_id,title,role_arn,aws_role_id,active_regions,created_at,updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.RoleARN, &a.AWSRoleID, &a.ActiveRegions, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *pgStore) Create(ctx context.Context, a Account) (Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ActiveRegions == nil {
		a.ActiveRegions = []string{}
	}
	row := p.dbPool.QueryRow(ctx, `INSERT INTO accounts(id,user_id,title,role_arn,aws_role_id,active_regions)
	  VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+accountColumns,
		a.ID, a.UserID, a.Title, a.RoleARN, a.AWSRoleID, a.ActiveRegions)
	out, err := scanAccount(row)
	if isUniqueViolation(err) {
		return Account{}, duplicate(a.RoleARN)
	}
	return out, err
}

// Get fetches an account by its UUID.
func (p *pgStore) Get(ctx context.Context, id string) (Account, error) {
	a, err := scanAccount(p.dbPool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id::text=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, notFound(id)
	}
	return a, err
}

// GetByRoleARN fetches the account bound to a delegated role identifier.
func (p *pgStore) GetByRoleARN(ctx context.Context, roleARN string) (Account, error) {
	a, err := scanAccount(p.dbPool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE role_arn=$1`, roleARN))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, notFound(roleARN)
	}
	return a, err
}

func (p *pgStore) ListByUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *pgStore) UpdateBinding(ctx context.Context, id, title, roleARN, awsRoleID string) (Account, error) {
	row := p.dbPool.QueryRow(ctx, `UPDATE accounts SET title=$2, role_arn=$3, aws_role_id=$4, updated_at=NOW()
	  WHERE id::text=$1 RETURNING `+accountColumns, id, title, roleARN, awsRoleID)
	a, err := scanAccount(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Account{}, notFound(id)
	case isUniqueViolation(err):
		return Account{}, duplicate(roleARN)
	}
	return a, err
}

// AddActiveRegion appends region only when absent, so repeated calls leave the set unchanged.
func (p *pgStore) AddActiveRegion(ctx context.Context, id, region string) error {
	tag, err := p.dbPool.Exec(ctx, `UPDATE accounts
	  SET active_regions = CASE WHEN $2 = ANY(active_regions) THEN active_regions ELSE array_append(active_regions, $2) END,
	      updated_at = NOW()
	  WHERE id::text=$1`, id, region)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (p *pgStore) Delete(ctx context.Context, id string) error {
	tag, err := p.dbPool.Exec(ctx, `DELETE FROM accounts WHERE id::text=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}
