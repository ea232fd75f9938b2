package actionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *[]byte:
			*d = v.([]byte)
		case *float64:
			*d = v.(float64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (db *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.queryRowFunc(ctx, sql, args...)
}

func (db *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.queryFunc(ctx, sql, args...)
}

func (db *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.execFunc(ctx, sql, args...)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresSink_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}

	sink := NewPostgresSink(db)
	if err := sink.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS actions") {
		t.Errorf("Migrate executed unexpected SQL: %q", gotSQL)
	}
}

func TestPostgresSink_RecordStampsAndInserts(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "INSERT INTO actions") {
				return pgconn.CommandTag{}, fmt.Errorf("unexpected SQL: %q", sql)
			}
			gotArgs = args
			return pgconn.CommandTag{}, nil
		},
	}

	sink := NewPostgresSink(db)
	a := &Action{
		SessionID:  "sess-1",
		Kind:       KindDecision,
		SpeakerID:  "user-7",
		Transcript: "chime what do you think",
		Reason:     "direct_address_fast_path",
		Admitted:   true,
		Detail:     map[string]any{"eagerness": 60},
		Cost:       42,
	}
	if err := sink.Record(context.Background(), a); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if a.ID == "" {
		t.Error("Record did not assign an ID")
	}
	if a.CreatedAt.IsZero() {
		t.Error("Record did not stamp CreatedAt")
	}
	if len(gotArgs) != 13 {
		t.Fatalf("insert args = %d, want 13", len(gotArgs))
	}
	if gotArgs[4] != "decision" {
		t.Errorf("kind arg = %v, want decision", gotArgs[4])
	}
	if gotArgs[10] != float64(42) {
		t.Errorf("cost arg = %v, want 42", gotArgs[10])
	}

	detail, ok := gotArgs[9].([]byte)
	if !ok {
		t.Fatalf("detail arg is %T, want []byte", gotArgs[9])
	}
	var m map[string]any
	if err := json.Unmarshal(detail, &m); err != nil {
		t.Fatalf("detail is not valid JSON: %v", err)
	}
	if m["eagerness"] != float64(60) {
		t.Errorf("detail eagerness = %v, want 60", m["eagerness"])
	}
}

func TestPostgresSink_RecordNilDetailMarshalsEmptyObject(t *testing.T) {
	t.Parallel()

	var detail []byte
	db := &mockDB{
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			detail = args[9].([]byte)
			return pgconn.CommandTag{}, nil
		},
	}

	sink := NewPostgresSink(db)
	if err := sink.Record(context.Background(), &Action{SessionID: "s", Kind: KindSession}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if string(detail) != "{}" {
		t.Errorf("nil detail marshalled to %q, want {}", detail)
	}
}

func TestPostgresSink_RecordDuplicateKey(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		},
	}

	sink := NewPostgresSink(db)
	err := sink.Record(context.Background(), &Action{ID: "dup", SessionID: "s", Kind: KindDecision})
	if err == nil {
		t.Fatal("Record should fail on duplicate key")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error = %v; want duplicate message", err)
	}
}

func TestPostgresSink_RecentForSession(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "ORDER BY created_at DESC") {
				return nil, fmt.Errorf("query not ordered newest-first: %q", sql)
			}
			if args[0] != "sess-1" || args[1] != 10 {
				return nil, fmt.Errorf("unexpected args: %v", args)
			}
			return &mockRows{data: [][]any{
				{"a2", "sess-1", "g", "c", "response", "user-7", "hi", "", true, []byte(`{"text":"hello"}`), float64(120), "trace-2", now},
				{"a1", "sess-1", "g", "c", "decision", "user-7", "hi", "llm_yes", true, []byte(`{}`), float64(0), "trace-1", now.Add(-time.Second)},
			}}, nil
		},
	}

	sink := NewPostgresSink(db)
	actions, err := sink.RecentForSession(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("RecentForSession: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Kind != KindResponse {
		t.Errorf("first action kind = %q, want response", actions[0].Kind)
	}
	if actions[0].Detail["text"] != "hello" {
		t.Errorf("detail text = %v, want hello", actions[0].Detail["text"])
	}
	if actions[0].Cost != 120 {
		t.Errorf("cost = %v, want 120", actions[0].Cost)
	}
	if actions[1].Reason != "llm_yes" {
		t.Errorf("second action reason = %q, want llm_yes", actions[1].Reason)
	}
}

func TestPostgresSink_RecentQueryError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("connection refused")
	db := &mockDB{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, wantErr
		},
	}

	sink := NewPostgresSink(db)
	if _, err := sink.RecentForSession(context.Background(), "s", 5); !errors.Is(err, wantErr) {
		t.Errorf("error = %v; want wrapped %v", err, wantErr)
	}
}
