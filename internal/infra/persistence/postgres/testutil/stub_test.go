package testutil

import (
	"context"
	"testing"
)

func TestStubDBInsertSelectDelete(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	ins := `INSERT INTO things (a, b, v) VALUES ($1, $2, $3) ON CONFLICT (a, b) DO UPDATE SET v = EXCLUDED.v`
	for _, args := range [][]any{{"x", "1", "first"}, {"x", "2", "other"}, {"x", "1", "second"}} {
		if _, err := db.ExecContext(ctx, ins, args...); err != nil {
			t.Fatalf("insert %v: %v", args, err)
		}
	}
	if got := len(conn.Rows("things")); got != 2 {
		t.Fatalf("expected conflict to replace row, got %d rows", got)
	}

	var v string
	if err := db.QueryRowContext(ctx, `SELECT v FROM things WHERE a = $1 AND b = $2`, "x", "1").Scan(&v); err != nil {
		t.Fatalf("select: %v", err)
	}
	if v != "second" {
		t.Fatalf("expected upserted value, got %q", v)
	}

	res, err := db.ExecContext(ctx, `DELETE FROM things WHERE a = $1 AND b = $2`, "x", "2")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}
	if len(conn.Execs) != 4 {
		t.Fatalf("expected 4 recorded execs, got %d", len(conn.Execs))
	}
}

func TestStubDBFailures(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	conn.FailPing = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailPing = false
	conn.FailTables = map[string]bool{"things": true}
	if _, err := db.ExecContext(ctx, `INSERT INTO things (a) VALUES ($1)`, "x"); err == nil {
		t.Fatalf("expected table failure")
	}
	if _, err := db.QueryContext(ctx, `SELECT a FROM things`); err == nil {
		t.Fatalf("expected query failure")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM things`); err == nil {
		t.Fatalf("expected unparseable delete to fail")
	}
}
