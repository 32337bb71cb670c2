package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"platformenv/crypto"
)

// ErrNoDefaultAdmin is returned when no default admin credential is stored
var ErrNoDefaultAdmin = errors.New("no default admin configured")

// AdminCredential is the stored default admin. The password is kept hashed.
type AdminCredential struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Database interface for database operations
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

func validateAdmin(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("admin username cannot be empty")
	}
	if password == "" {
		return errors.New("admin password cannot be empty")
	}
	return nil
}

func newCredential(username, password string) (AdminCredential, error) {
	if err := validateAdmin(username, password); err != nil {
		return AdminCredential{}, err
	}
	hash, err := crypto.HashNewPassword(password)
	if err != nil {
		return AdminCredential{}, err
	}
	return AdminCredential{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// MemoryAdminStore keeps the default admin for the lifetime of the process
type MemoryAdminStore struct {
	mu    sync.RWMutex
	admin *AdminCredential
}

func NewMemoryAdminStore() *MemoryAdminStore {
	return &MemoryAdminStore{}
}

func (m *MemoryAdminStore) ClearDefaultAdmin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = nil
	return nil
}

func (m *MemoryAdminStore) SetDefaultAdmin(ctx context.Context, username, password string) error {
	cred, err := newCredential(username, password)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = &cred
	return nil
}

func (m *MemoryAdminStore) DefaultAdmin(ctx context.Context) (AdminCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.admin == nil {
		return AdminCredential{}, ErrNoDefaultAdmin
	}
	return *m.admin, nil
}

func (m *MemoryAdminStore) Verify(ctx context.Context, username, password string) bool {
	return verifyAdmin(ctx, m, username, password)
}

// PostgresAdminStore keeps the default admin in the platformenv_default_admin table
type PostgresAdminStore struct {
	db Database
}

// NewPostgresAdminStore expects database.Migrate to have run against db
func NewPostgresAdminStore(db Database) *PostgresAdminStore {
	return &PostgresAdminStore{db: db}
}

func (p *PostgresAdminStore) ClearDefaultAdmin(ctx context.Context) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM platformenv_default_admin`)
	if err != nil {
		return fmt.Errorf("failed to clear default admin: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.WithField("rows", tag.RowsAffected()).Info("cleared default admin")
	}
	return nil
}

// SetDefaultAdmin replaces the stored admin inside one transaction
func (p *PostgresAdminStore) SetDefaultAdmin(ctx context.Context, username, password string) error {
	cred, err := newCredential(username, password)
	if err != nil {
		return err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM platformenv_default_admin`); err != nil {
		return fmt.Errorf("failed to replace default admin: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO platformenv_default_admin (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, cred.ID, cred.Username, cred.PasswordHash, cred.CreatedAt); err != nil {
		return fmt.Errorf("failed to store default admin: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit default admin: %w", err)
	}

	log.WithField("username", cred.Username).Info("default admin set")
	return nil
}

func (p *PostgresAdminStore) DefaultAdmin(ctx context.Context) (AdminCredential, error) {
	var cred AdminCredential
	err := p.db.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM platformenv_default_admin
		LIMIT 1
	`).Scan(&cred.ID, &cred.Username, &cred.PasswordHash, &cred.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AdminCredential{}, ErrNoDefaultAdmin
	}
	if err != nil {
		return AdminCredential{}, fmt.Errorf("database query failed: %w", err)
	}
	return cred, nil
}

func (p *PostgresAdminStore) Verify(ctx context.Context, username, password string) bool {
	return verifyAdmin(ctx, p, username, password)
}

type adminReader interface {
	DefaultAdmin(ctx context.Context) (AdminCredential, error)
}

func verifyAdmin(ctx context.Context, r adminReader, username, password string) bool {
	cred, err := r.DefaultAdmin(ctx)
	if err != nil {
		return false
	}
	userOK := crypto.EqualStrings(cred.Username, strings.TrimSpace(username))
	passOK := crypto.VerifyPassword(password, cred.PasswordHash)
	return userOK && passOK
}
