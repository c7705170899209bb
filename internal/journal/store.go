// Package journal persists every spoken alert to PostgreSQL.
//
// The journal is an audit trail: it lets caregivers and developers review
// which hazards the user was warned about and when. Writes never block the
// frame loop. [Writer] buffers entries and a single goroutine inserts them
// through a [Store].
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/navassist/pkg/types"
)

// Schema is the SQL DDL for the alert_journal table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS alert_journal (
    id          UUID PRIMARY KEY,
    level       TEXT NOT NULL,
    urgent      BOOLEAN NOT NULL DEFAULT false,
    text        TEXT NOT NULL,
    class_name  TEXT NOT NULL DEFAULT '',
    risk_group  TEXT NOT NULL DEFAULT '',
    direction   TEXT NOT NULL DEFAULT '',
    distance_m  DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_journal_created ON alert_journal(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alert_journal_level ON alert_journal(level);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Entry is one journaled alert.
type Entry struct {
	ID         string          `json:"id"`
	Level      types.RiskLevel `json:"level"`
	Urgent     bool            `json:"urgent"`
	Text       string          `json:"text"`
	ClassName  string          `json:"class_name"`
	Group      types.RiskGroup `json:"group"`
	Direction  types.Direction `json:"direction"`
	Distance   float64         `json:"distance_m"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEntry combines a queued message with the detection that produced it.
func NewEntry(msg types.AlertMessage, winner types.EnrichedDetection) Entry {
	return Entry{
		ID:         msg.ID,
		Level:      msg.Level,
		Urgent:     msg.Urgent,
		Text:       msg.Text,
		ClassName:  winner.ClassName,
		Group:      winner.Group,
		Direction:  winner.Direction,
		Distance:   winner.Distance,
		Confidence: winner.Confidence,
		CreatedAt:  msg.CreatedAt,
	}
}

// Store reads and writes journal entries.
type Store struct {
	db DB
}

// NewStore returns a Store using db. The caller is responsible for calling
// [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, verifies connectivity and runs [Store.Migrate].
// The returned pool must be closed by the caller.
func Open(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("journal: ping: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Insert writes e. Inserting an ID twice is a no-op.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO alert_journal (
			id, level, urgent, text, class_name,
			risk_group, direction, distance_m, confidence, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.Level.String(), e.Urgent, e.Text, e.ClassName,
		string(e.Group), string(e.Direction), e.Distance, e.Confidence, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries at or above minLevel, newest first.
func (s *Store) Recent(ctx context.Context, minLevel types.RiskLevel, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	levels := make([]string, 0, 4)
	for l := max(minLevel, types.RiskSafe); l <= types.RiskCritical; l++ {
		levels = append(levels, l.String())
	}

	const query = `
		SELECT id::text, level, urgent, text, class_name,
		       risk_group, direction, distance_m, confidence, created_at
		FROM alert_journal
		WHERE level = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, levels, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			level, group, direction string
		)
		if err := rows.Scan(
			&e.ID, &level, &e.Urgent, &e.Text, &e.ClassName,
			&group, &direction, &e.Distance, &e.Confidence, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Level = parseLevel(level)
		e.Group = types.RiskGroup(group)
		e.Direction = types.Direction(direction)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return out, nil
}

func parseLevel(s string) types.RiskLevel {
	for l := types.RiskSafe; l <= types.RiskCritical; l++ {
		if l.String() == s {
			return l
		}
	}
	return types.RiskSafe
}
