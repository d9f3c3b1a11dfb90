package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQL is a Store backed by database/sql. seq is the store order; readers
// order by it, never by timestamp.
type SQL struct {
	db      *sql.DB
	dialect string
}

// OpenSQLite opens (creating as needed) the SQLite database at path.
func OpenSQLite(path string) (*SQL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return NewSQL(db, DialectSQLite), nil
}

// OpenPostgres connects to PostgreSQL using dsn.
func OpenPostgres(dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewSQL(db, DialectPostgres), nil
}

// NewSQL wraps an open handle. The caller is responsible for InitSchema.
func NewSQL(db *sql.DB, dialect string) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// InitSchema ensures the readings table and its index exist.
func (s *SQL) InitSchema(ctx context.Context) error {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			seq ` + seq + `,
			reading_key TEXT NOT NULL UNIQUE,
			collection TEXT NOT NULL,
			moisture DOUBLE PRECISION NOT NULL,
			battery DOUBLE PRECISION,
			timestamp_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_collection_seq ON readings(collection, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init schema: %w", ErrUnavailable, err)
		}
	}
	return nil
}

// Append implements Store.
func (s *SQL) Append(ctx context.Context, trailID string, r telemetry.Reading) (string, error) {
	key, err := newKey()
	if err != nil {
		return "", err
	}
	var battery sql.NullFloat64
	if r.Battery != nil {
		battery = sql.NullFloat64{Float64: *r.Battery, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO readings (reading_key, collection, moisture, battery, timestamp_ms) VALUES (?, ?, ?, ?, ?)`),
		key, telemetry.CollectionName(trailID), r.Moisture, battery, r.Timestamp)
	if err != nil {
		return "", unavailable("append", trailID, err)
	}
	return key, nil
}

// ReadLatest implements Store.
func (s *SQL) ReadLatest(ctx context.Context, trailID string, n int) ([]telemetry.StoredReading, error) {
	if n < 1 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT reading_key, moisture, battery, timestamp_ms FROM readings WHERE collection = ? ORDER BY seq DESC LIMIT ?`),
		telemetry.CollectionName(trailID), n)
	if err != nil {
		return nil, unavailable("read latest", trailID, err)
	}
	defer rows.Close()

	out := make([]telemetry.StoredReading, 0, n)
	for rows.Next() {
		sr, err := scanReading(rows, trailID)
		if err != nil {
			return nil, unavailable("read latest", trailID, err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read latest", trailID, err)
	}
	return out, nil
}

// ReadAll implements Store.
func (s *SQL) ReadAll(ctx context.Context, trailID string) (map[string]telemetry.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT reading_key, moisture, battery, timestamp_ms FROM readings WHERE collection = ?`),
		telemetry.CollectionName(trailID))
	if err != nil {
		return nil, unavailable("read all", trailID, err)
	}
	defer rows.Close()

	out := make(map[string]telemetry.Reading)
	for rows.Next() {
		sr, err := scanReading(rows, trailID)
		if err != nil {
			return nil, unavailable("read all", trailID, err)
		}
		out[sr.Key] = sr.Reading
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read all", trailID, err)
	}
	return out, nil
}

// ListTrailIDs implements Store.
func (s *SQL) ListTrailIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM readings`)
	if err != nil {
		return nil, unavailable("list trails", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("list trails", "", err)
		}
		if id, ok := telemetry.TrailFromCollection(name); ok {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list trails", "", err)
	}
	telemetry.SortTrailIDs(ids)
	return ids, nil
}

// Close releases the database handle.
func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanReading(rows *sql.Rows, trailID string) (telemetry.StoredReading, error) {
	var (
		sr      telemetry.StoredReading
		battery sql.NullFloat64
	)
	if err := rows.Scan(&sr.Key, &sr.Moisture, &battery, &sr.Timestamp); err != nil {
		return sr, err
	}
	if battery.Valid {
		b := battery.Float64
		sr.Battery = &b
	}
	sr.TrailID = trailID
	return sr, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
