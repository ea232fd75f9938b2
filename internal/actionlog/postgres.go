package actionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the actions table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS actions (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    guild_id   TEXT NOT NULL DEFAULT '',
    channel_id TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    speaker_id TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL DEFAULT '',
    reason     TEXT NOT NULL DEFAULT '',
    admitted   BOOLEAN NOT NULL DEFAULT FALSE,
    detail     JSONB NOT NULL DEFAULT '{}',
    cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
    trace_id   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_actions_kind ON actions(kind);
`

// DB is the database interface used by [PostgresSink]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink is a [Sink] backed by a PostgreSQL database. The detail
// map is serialised as JSONB.
type PostgresSink struct {
	db DB
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink using the given connection or pool.
// The caller is responsible for calling [PostgresSink.Migrate] to
// ensure the schema exists before recording actions.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// actions table and indexes if they do not already exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("actionlog: migrate: %w", err)
	}
	return nil
}

// Record inserts one action row.
func (s *PostgresSink) Record(ctx context.Context, a *Action) error {
	stamp(a)

	detailJSON, err := json.Marshal(emptyMap(a.Detail))
	if err != nil {
		return fmt.Errorf("actionlog: marshal detail: %w", err)
	}

	const query = `
		INSERT INTO actions (
			id, session_id, guild_id, channel_id, kind,
			speaker_id, transcript, reason, admitted, detail,
			cost, trace_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.db.Exec(ctx, query,
		a.ID, a.SessionID, a.GuildID, a.ChannelID, string(a.Kind),
		a.SpeakerID, a.Transcript, a.Reason, a.Admitted, detailJSON,
		a.Cost, a.TraceID, a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("actionlog: action with id %q already exists", a.ID)
		}
		return fmt.Errorf("actionlog: record: %w", err)
	}
	return nil
}

// RecentForSession returns up to limit actions for the session, newest
// first.
func (s *PostgresSink) RecentForSession(ctx context.Context, sessionID string, limit int) ([]Action, error) {
	const query = `
		SELECT id, session_id, guild_id, channel_id, kind,
		       speaker_id, transcript, reason, admitted, detail,
		       cost, trace_id, created_at
		FROM actions
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("actionlog: recent: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a          Action
			kind       string
			detailJSON []byte
		)
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.GuildID, &a.ChannelID, &kind,
			&a.SpeakerID, &a.Transcript, &a.Reason, &a.Admitted, &detailJSON,
			&a.Cost, &a.TraceID, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("actionlog: recent scan: %w", err)
		}
		a.Kind = Kind(kind)
		if err := json.Unmarshal(detailJSON, &a.Detail); err != nil {
			return nil, fmt.Errorf("actionlog: unmarshal detail: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("actionlog: recent: %w", err)
	}
	return actions, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresSink) Close(context.Context) error { return nil }

// emptyMap returns m if non-nil, otherwise an empty non-nil map. This
// ensures JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
