package access

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLStore keeps accesses in SQLite or Postgres, one table for the shared
// fields and one per credential variant.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	sealer   *Sealer
}

// OpenSQL opens the database behind dsn and runs migrations. A postgres:// or
// postgresql:// DSN uses pgx; anything else is a SQLite path (":memory:"
// included), optionally prefixed with "sqlite://".
func OpenSQL(dsn string, sealer *Sealer) (*SQLStore, error) {
	driver, dialect, source, postgres := sqlTarget(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if !postgres {
		// One connection: an in-memory SQLite database is per connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, postgres: postgres, sealer: sealer}, nil
}

func sqlTarget(dsn string) (driver, dialect, source string, postgres bool) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", "postgres", dsn, true
	}
	source = strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(source, "?") {
		source += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return "sqlite", "sqlite3", source, false
}

func runMigrations(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const selectAccess = `SELECT a.id, a.name, a.auth_type, a.school, a.domain, a.timezone, a.created_at, a.updated_at,
	p.class_id, pw.username, pw.password, se.username, se.secret
	FROM accesses a
	LEFT JOIN public_accesses p ON p.access_id = a.id
	LEFT JOIN password_accesses pw ON pw.access_id = a.id
	LEFT JOIN secret_accesses se ON se.access_id = a.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanAccess(row rowScanner) (Access, error) {
	var (
		a          Access
		authType   string
		classID    sql.NullInt64
		pwUser     sql.NullString
		pwPassword sql.NullString
		seUser     sql.NullString
		seSecret   sql.NullString
	)
	err := row.Scan(&a.ID, &a.Name, &authType, &a.School, &a.Domain, &a.Timezone, &a.CreatedAt, &a.UpdatedAt,
		&classID, &pwUser, &pwPassword, &seUser, &seSecret)
	if err != nil {
		return Access{}, err
	}

	switch AuthType(authType) {
	case AuthPublic:
		a.Credential = Public{ClassID: int(classID.Int64)}
	case AuthPassword:
		a.Credential = Password{Username: pwUser.String, Password: pwPassword.String}
	case AuthSecret:
		a.Credential = Secret{Username: seUser.String, Secret: seSecret.String}
	default:
		return Access{}, fmt.Errorf("%w: unknown auth type %q", ErrInvalid, authType)
	}
	if err := a.Validate(); err != nil {
		return Access{}, err
	}
	return s.sealer.openCredential(a)
}

func (s *SQLStore) Get(ctx context.Context, id string) (Access, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectAccess+` WHERE a.id = ?`), id)
	a, err := s.scanAccess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, ErrNotFound
	}
	if err != nil {
		return Access{}, fmt.Errorf("query access: %w", err)
	}
	return a, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Access, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectAccess+` ORDER BY a.id`))
	if err != nil {
		return nil, fmt.Errorf("query accesses: %w", err)
	}
	defer rows.Close()

	var out []Access
	for rows.Next() {
		a, err := s.scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) Put(ctx context.Context, a Access) error {
	if err := a.Validate(); err != nil {
		return err
	}
	sealed, err := s.sealer.sealCredential(a)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO accesses (id, name, auth_type, school, domain, timezone, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, auth_type = excluded.auth_type,
		 school = excluded.school, domain = excluded.domain, timezone = excluded.timezone,
		 updated_at = excluded.updated_at`),
		a.ID, a.Name, string(a.Credential.AuthType()), a.School, a.Domain, a.Timezone, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert access: %w", err)
	}

	if err := s.deleteVariants(ctx, tx, a.ID); err != nil {
		return err
	}

	switch c := sealed.Credential.(type) {
	case Public:
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO public_accesses (access_id, class_id) VALUES (?, ?)`), a.ID, c.ClassID)
	case Password:
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO password_accesses (access_id, username, password) VALUES (?, ?, ?)`), a.ID, c.Username, c.Password)
	case Secret:
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO secret_accesses (access_id, username, secret) VALUES (?, ?, ?)`), a.ID, c.Username, c.Secret)
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) deleteVariants(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range []string{"public_accesses", "password_accesses", "secret_accesses"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE access_id = ?`), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteVariants(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM accesses WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete access: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
