// Package database backs the demo application's cache loaders with a users
// table on SQLite or PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"tiered-cache/internal/config"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserStore is the source of truth reached through cache loaders. GetUser
// returns (nil, nil) for a missing user so the cache records the absence as
// a null sentinel.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error
	Close() error
}

// Open connects the store selected by DATABASE_TYPE.
func Open(cfg *config.Config) (UserStore, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		return openPostgres(cfg)
	default:
		return openSQLite(cfg.DatabasePath)
	}
}

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string) (UserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Name, &user.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		user.ID, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
