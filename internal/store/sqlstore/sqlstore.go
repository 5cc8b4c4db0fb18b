// Package sqlstore keeps the Document as a single JSON row in SQLite or
// PostgreSQL. The row's revision column guards against lost updates from a
// second process sharing the database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/store/sqlstore/migrations"
)

// Dialect carries the per-database driver name and SQL text.
type Dialect struct {
	Name         string
	Driver       string
	GooseDialect string

	selectDocument string
	updateDocument string
	insertDocument string
}

var (
	SQLite = Dialect{
		Name:           "sqlite",
		Driver:         "sqlite",
		GooseDialect:   "sqlite3",
		selectDocument: `SELECT body, revision FROM portal_document WHERE id = 1`,
		updateDocument: `UPDATE portal_document SET body = ?, revision = ? WHERE id = 1 AND revision = ?`,
		insertDocument: `INSERT INTO portal_document (id, body, revision) VALUES (1, ?, ?) ON CONFLICT (id) DO NOTHING`,
	}

	Postgres = Dialect{
		Name:           "postgres",
		Driver:         "pgx",
		GooseDialect:   "postgres",
		selectDocument: `SELECT body, revision FROM portal_document WHERE id = 1`,
		updateDocument: `UPDATE portal_document SET body = $1, revision = $2 WHERE id = 1 AND revision = $3`,
		insertDocument: `INSERT INTO portal_document (id, body, revision) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
	}
)

// migrateUp is a seam for testing the goose provider run.
var migrateUp = func(ctx context.Context, db *sql.DB, dialect Dialect) error {
	provider, err := goose.NewProvider(goose.Dialect(dialect.GooseDialect), db, migrations.Migrations)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Backend implements store.Backend over database/sql.
type Backend struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already opened and migrated database.
func New(db *sql.DB, dialect Dialect) *Backend {
	return &Backend{db: db, dialect: dialect}
}

// Open connects using dialect's driver, applies migrations and returns the
// backend.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Backend, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, &common.StorageError{Backend: dialect.Name, Op: "open", Err: err}
	}

	if dialect.Name == SQLite.Name {
		// One connection keeps the pragma in effect and matches the single writer.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, &common.StorageError{Backend: dialect.Name, Op: "open", Err: err}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &common.StorageError{Backend: dialect.Name, Op: "ping", Err: err}
	}

	if err := RunMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, dialect), nil
}

// RunMigrations applies the embedded goose migrations. It keeps no
// package-level goose state, so several databases can migrate at once.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if err := migrateUp(ctx, db, dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (b *Backend) Name() string { return b.dialect.Name }

func (b *Backend) Read(ctx context.Context) (*models.Document, error) {
	var (
		body     string
		revision int64
	)
	err := b.db.QueryRowContext(ctx, b.dialect.selectDocument).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "read", Err: err}
	}

	doc := &models.Document{}
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "decode", Err: err}
	}
	doc.Revision = revision
	return doc, nil
}

// Write stores doc if the stored revision is exactly doc.Revision-1, or if no
// row exists yet. Otherwise it returns common.ErrVersionConflict.
func (b *Backend) Write(ctx context.Context, doc *models.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "encode", Err: err}
	}

	res, err := b.db.ExecContext(ctx, b.dialect.updateDocument, string(body), doc.Revision, doc.Revision-1)
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	res, err = b.db.ExecContext(ctx, b.dialect.insertDocument, string(body), doc.Revision)
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: err}
	}
	if n == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
