package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Supported database/sql drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLGateway stores profiles in SQLite or PostgreSQL. The reconciliation
// policy runs inside a single INSERT ... ON CONFLICT statement so the
// database provides the atomicity.
type SQLGateway struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// OpenSQL opens the database at dsn with the given driver and creates the
// schema if needed.
func OpenSQL(driver, dsn string) (*SQLGateway, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open database", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, unavailable("enable WAL", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, unavailable("set busy timeout", err)
		}
	}

	g := &SQLGateway{db: db, driver: driver, now: time.Now}
	if err := g.initSchema(); err != nil {
		db.Close()
		return nil, unavailable("init schema", err)
	}
	return g, nil
}

// SetClock replaces the write clock.
func (g *SQLGateway) SetClock(now func() time.Time) { g.now = now }

// Close closes the database.
func (g *SQLGateway) Close() error {
	return g.db.Close()
}

// initSchema creates tables if they don't exist. Timestamps are stored as
// Unix nanoseconds so both drivers compare them the same way.
func (g *SQLGateway) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		profile_url TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		scanned_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (owner_id, profile_url)
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_owner ON profiles(owner_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_updated ON profiles(updated_at);
	`

	_, err := g.db.Exec(schema)
	return err
}

const profileColumns = `id, owner_id, profile_url, first_name, last_name,
	       title, company, location, scanned_at, updated_at`

// Upsert inserts or merges p. The CASE expressions mirror Merge.
func (g *SQLGateway) Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error) {
	p, _, err := prepare(p)
	if err != nil {
		return plugin.Profile{}, err
	}

	now := utc(g.now())
	if p.ScannedAt.IsZero() {
		p.ScannedAt = now
	}

	query := `
	INSERT INTO profiles (
		id, owner_id, profile_url, first_name, last_name,
		title, company, location, scanned_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, profile_url) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		title = excluded.title,
		company = excluded.company,
		location = excluded.location,
		scanned_at = CASE WHEN excluded.scanned_at > profiles.scanned_at
			THEN excluded.scanned_at ELSE profiles.scanned_at END,
		updated_at = CASE WHEN excluded.updated_at > profiles.updated_at
			THEN excluded.updated_at ELSE profiles.updated_at + 1 END
	RETURNING ` + profileColumns

	row := g.db.QueryRowContext(ctx, g.rebind(query),
		p.ID, p.OwnerID, p.ProfileURL, p.FirstName, p.LastName,
		p.Title, p.Company, p.Location, p.ScannedAt.UnixNano(), now.UnixNano(),
	)

	stored, err := scanProfile(row)
	if err != nil {
		return plugin.Profile{}, g.wrap("upsert", err)
	}
	return stored, nil
}

// Get retrieves a profile by record ID.
func (g *SQLGateway) Get(ctx context.Context, id string) (plugin.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`

	p, err := scanProfile(g.db.QueryRowContext(ctx, g.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return plugin.Profile{}, ErrNotFound
	}
	if err != nil {
		return plugin.Profile{}, g.wrap("get", err)
	}
	return p, nil
}

// List retrieves the owner's profiles, most recently updated first.
func (g *SQLGateway) List(ctx context.Context, ownerID string) ([]plugin.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var args []interface{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY updated_at DESC, profile_url ASC, owner_id ASC"

	rows, err := g.db.QueryContext(ctx, g.rebind(query), args...)
	if err != nil {
		return nil, g.wrap("list", err)
	}
	defer rows.Close()

	profiles := []plugin.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, g.wrap("list", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, g.wrap("list", err)
	}
	return profiles, nil
}

// Remove deletes the profile of profileURL in the owner scope.
func (g *SQLGateway) Remove(ctx context.Context, ownerID, profileURL string) (bool, error) {
	_, normalized, err := Key(ownerID, profileURL)
	if err != nil {
		return false, err
	}

	res, err := g.db.ExecContext(ctx,
		g.rebind("DELETE FROM profiles WHERE owner_id = ? AND profile_url = ?"),
		strings.TrimSpace(ownerID), normalized,
	)
	if err != nil {
		return false, g.wrap("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, g.wrap("remove", err)
	}
	return n > 0, nil
}

// Count returns the total number of stored profiles.
func (g *SQLGateway) Count(ctx context.Context) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&count)
	if err != nil {
		return 0, g.wrap("count", err)
	}
	return count, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (g *SQLGateway) rebind(query string) string {
	if g.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrap keeps context errors intact so callers can tell cancellation apart
// from an unreachable database.
func (g *SQLGateway) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (plugin.Profile, error) {
	var (
		p                plugin.Profile
		scanned, updated int64
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.ProfileURL, &p.FirstName, &p.LastName,
		&p.Title, &p.Company, &p.Location, &scanned, &updated,
	)
	if err != nil {
		return plugin.Profile{}, err
	}
	p.ScannedAt = time.Unix(0, scanned).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}
