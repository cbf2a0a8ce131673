// Package testutil provides an in-memory database/sql driver that understands
// the handful of statements issued by the postgres registry.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Uint64

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailPing   bool
	FailExec   bool
	FailQuery  bool
	RowsErr    error
	FailTables map[string]bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows currently stored in table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, conflict, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		if len(conflict) > 0 {
			c.Tables[table] = reject(c.Tables[table], func(existing map[string]any) bool {
				for _, col := range conflict {
					if existing[col] != row[col] {
						return false
					}
				}
				return true
			})
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		before := len(c.Tables[table])
		c.Tables[table] = reject(c.Tables[table], func(row map[string]any) bool { return matches(row, where, args) })
		return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	table, cols, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	var values [][]driver.Value
	for _, row := range c.Tables[table] {
		if !matches(row, where, args) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func reject(rows []map[string]any, drop func(map[string]any) bool) []map[string]any {
	var kept []map[string]any
	for _, row := range rows {
		if !drop(row) {
			kept = append(kept, row)
		}
	}
	return kept
}

// matches evaluates a conjunction of "col = $n" predicates against row.
func matches(row map[string]any, where []string, args []driver.NamedValue) bool {
	for i, col := range where {
		if i >= len(args) || row[col] != args[i].Value {
			return false
		}
	}
	return true
}

func parseInsert(query string) (table string, cols, conflict []string, err error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table = strings.ToLower(strings.TrimSpace(rest[:open]))
	cols = splitColumns(rest[open+1 : closeIdx])
	if idx := strings.Index(strings.ToUpper(rest), "ON CONFLICT"); idx != -1 {
		tail := rest[idx+len("ON CONFLICT"):]
		o := strings.Index(tail, "(")
		c := strings.Index(tail, ")")
		if o == -1 || c <= o {
			return "", nil, nil, fmt.Errorf("cannot parse conflict target: %s", query)
		}
		conflict = splitColumns(tail[o+1 : c])
	}
	return table, cols, conflict, nil
}

func parseDelete(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	prefix := "delete from "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	rest := strings.TrimSpace(strings.TrimSpace(query)[len(prefix):])
	table, where := splitWhere(rest)
	if len(where) == 0 {
		return "", nil, fmt.Errorf("cannot parse delete predicate: %s", query)
	}
	return strings.ToLower(strings.Fields(table)[0]), where, nil
}

func parseSelect(query string) (string, []string, []string, error) {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := q[len(selectPrefix):fromIdx]
	table, where := splitWhere(strings.TrimSpace(q[fromIdx+len(fromToken):]))
	if table == "" {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.ToLower(strings.Fields(table)[0]), splitColumns(cols), where, nil
}

// splitWhere returns the table part and the predicate columns in argument order.
func splitWhere(rest string) (string, []string) {
	idx := strings.Index(strings.ToLower(rest), " where ")
	if idx == -1 {
		return strings.TrimSpace(rest), nil
	}
	table := strings.TrimSpace(rest[:idx])
	var cols []string
	for _, pred := range strings.Split(strings.ToLower(rest[idx+len(" where "):]), " and ") {
		parts := strings.SplitN(pred, "=", 2)
		if len(parts) != 2 {
			return table, nil
		}
		cols = append(cols, strings.TrimSpace(parts[0]))
	}
	return table, cols
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
