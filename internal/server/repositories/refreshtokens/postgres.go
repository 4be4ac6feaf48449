package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/dbx"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
//
// When bound to a *sql.Tx, Rotate joins that transaction and the caller
// must roll it back if Rotate reports false.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by_id, replaced_by_hash, user_agent, ip`

var errNotActive = errors.New("refresh token not active")

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if err := insert(ctx, r.db, t); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func insert(ctx context.Context, db dbx.DBTX, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.ExecContext(ctx, query, t.ID, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.UserAgent, t.IP)
	return err
}

func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `SELECT ` + selectColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, hash))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + selectColumns + ` FROM refresh_tokens WHERE id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func scanOne(row *sql.Row) (*models.RefreshToken, error) {
	var (
		t              models.RefreshToken
		revokedAt      sql.NullTime
		replacedByID   sql.NullString
		replacedByHash sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
		&revokedAt, &replacedByID, &replacedByHash, &t.UserAgent, &t.IP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if replacedByID.Valid {
		t.ReplacedByID = &replacedByID.String
	}
	if replacedByHash.Valid {
		t.ReplacedByHash = &replacedByHash.String
	}
	return &t, nil
}

// Rotate marks the old row first so a lost race never inserts a successor.
// replaced_by_id is a deferred foreign key, checked at commit.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error) {
	err := dbx.InTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by_id = $3, replaced_by_hash = $4
			WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2
		`
		n, err := dbx.RowsAffected(tx.ExecContext(ctx, query, oldID, now, successor.ID, successor.TokenHash))
		if err != nil {
			return err
		}
		if n == 0 {
			return errNotActive
		}
		return insert(ctx, tx, successor)
	})

	switch {
	case errors.Is(err, errNotActive):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("db error: %w", err)
	default:
		return true, nil
	}
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2
	`
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, id, now))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) RevokeDescendants(ctx context.Context, id string, now time.Time) (int64, error) {
	query := `
		WITH RECURSIVE chain (id) AS (
			SELECT replaced_by_id FROM refresh_tokens
			WHERE id = $1 AND replaced_by_id IS NOT NULL
			UNION
			SELECT t.replaced_by_id FROM refresh_tokens t
			JOIN chain c ON t.id = c.id
			WHERE t.replaced_by_id IS NOT NULL
		)
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL
	`
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, id, now))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
