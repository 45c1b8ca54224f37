package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/prismstudio/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on login with a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountStore is the account persistence the service drives.
type AccountStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, email, passwordHash, displayName string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, string, error)
}

// WorkspaceProvisioner creates the caller's workspace during registration.
type WorkspaceProvisioner interface {
	CreateTx(ctx context.Context, tx pgx.Tx, name string, ownerID uuid.UUID) (*models.Workspace, error)
	CreditTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
}

// EntryStore appends the starting grant to the ledger.
type EntryStore interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*Account, *models.Workspace, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	repo            AccountStore
	workspaces      WorkspaceProvisioner
	entries         EntryStore
	secret          []byte
	startingCredits int64
}

// NewService creates the auth service. startingCredits is granted to every
// new workspace and recorded as a grant ledger entry.
func NewService(repo AccountStore, workspaces WorkspaceProvisioner, entries EntryStore, secret []byte, startingCredits int64) *service {
	return &service{
		repo:            repo,
		workspaces:      workspaces,
		entries:         entries,
		secret:          secret,
		startingCredits: startingCredits,
	}
}

var _ Service = (*service)(nil)

// Register creates the account, its workspace, and the starting credit grant
// as one transaction; the balance and the grant entry never diverge.
func (s *service) Register(ctx context.Context, email, password, displayName string) (*Account, *models.Workspace, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.repo.CreateTx(ctx, tx, email, string(hash), displayName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, nil, ErrDuplicateEmail
		}
		return nil, nil, err
	}

	ws, err := s.workspaces.CreateTx(ctx, tx, displayName+"'s studio", acc.ID)
	if err != nil {
		return nil, nil, err
	}
	if s.startingCredits > 0 {
		if err := s.entries.AppendTx(ctx, tx, &models.LedgerEntry{
			WorkspaceID: ws.ID,
			EntryType:   models.LedgerEntryGrant,
			Delta:       s.startingCredits,
			Reason:      "starting credit grant",
		}); err != nil {
			return nil, nil, err
		}
		if err := s.workspaces.CreditTx(ctx, tx, ws.ID, s.startingCredits); err != nil {
			return nil, nil, err
		}
		ws.CreditBalance = s.startingCredits
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return acc, ws, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID)
}

func (s *service) issueToken(accountID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(claims.Subject)
}
