package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Account struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a new account inside the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, email, passwordHash, displayName string) (*Account, error) {
	a := &Account{Email: email, DisplayName: displayName}
	row := tx.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, email, passwordHash, displayName)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByEmail returns the account and password hash for login. Returns nil
// when the email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, string, error) {
	var a Account
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM accounts WHERE email = $1
	`, email)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &passwordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &a, passwordHash, nil
}
