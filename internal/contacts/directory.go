// Package contacts keeps the name to email address book the classifier uses
// to resolve "with bob" into an invitee.
package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver backing the directory.
const DriverName = "sqlite3"

// DefaultContacts seed an empty directory.
var DefaultContacts = map[string]string{
	"alice": "alice@example.com",
	"bob":   "bob@example.com",
	"team":  "team@example.com",
}

// Directory is a SQLite backed contact list. Names are case-insensitive.
type Directory struct {
	db *sqlx.DB
}

type contactRow struct {
	Name  string `db:"name"`
	Email string `db:"email"`
}

// Open opens (creating if needed) the directory at path. Use ":memory:" for
// a throwaway directory.
func Open(ctx context.Context, path string) (*Directory, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create contacts directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contacts database: %w", err)
	}
	// SQLite serializes writers anyway; one connection keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	d, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps db, runs the migrations and seeds the defaults when the table is empty.
func New(ctx context.Context, db *sql.DB) (*Directory, error) {
	d := &Directory{db: sqlx.NewDb(db, DriverName)}
	if err := d.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run contacts migrations: %w", err)
	}
	if err := d.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed contacts: %w", err)
	}
	return d, nil
}

// Close releases the database.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Get returns the address stored for name.
func (d *Directory) Get(ctx context.Context, name string) (string, bool, error) {
	var email string
	err := d.db.GetContext(ctx, &email, `SELECT email FROM contacts WHERE name = ?`, normalizeName(name))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get contact: %w", err)
	}
	return email, true, nil
}

// All returns every contact keyed by lower-case name.
func (d *Directory) All(ctx context.Context) (map[string]string, error) {
	var rows []contactRow
	if err := d.db.SelectContext(ctx, &rows, `SELECT name, email FROM contacts ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Email
	}
	return out, nil
}

// Put adds or replaces the address for name.
func (d *Directory) Put(ctx context.Context, name, email string) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("contact name cannot be empty")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("invalid email address %q: %w", email, err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO contacts (name, email) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET email = excluded.email;
	`, name, addr.Address)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// Delete removes name. Removing an unknown name is not an error.
func (d *Directory) Delete(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM contacts WHERE name = ?`, normalizeName(name)); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}

func (d *Directory) seed(ctx context.Context) error {
	var count int
	if err := d.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM contacts`); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for name, email := range DefaultContacts {
		if err := d.Put(ctx, name, email); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) runMigrations(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		name VARCHAR NOT NULL PRIMARY KEY,
		email VARCHAR NOT NULL
	)`,
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
