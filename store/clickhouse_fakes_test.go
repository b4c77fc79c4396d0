package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type recordedQuery struct {
	sql  string
	args []any
}

// fakeConn records the statements sent by ClickHouseEventStore and answers
// them with canned rows. Methods the store never calls are left to the
// embedded nil interface.
type fakeConn struct {
	driver.Conn
	queries []recordedQuery
	rows    [][]any
	row     []any
	err     error
	batch   *fakeBatch
}

func (c *fakeConn) record(query string, args []any) {
	c.queries = append(c.queries, recordedQuery{sql: strings.Join(strings.Fields(query), " "), args: args})
}

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	c.record(query, args)
	return c.err
}

func (c *fakeConn) Query(_ context.Context, query string, args ...any) (driver.Rows, error) {
	c.record(query, args)
	if c.err != nil {
		return nil, c.err
	}
	return &fakeRows{rows: c.rows}, nil
}

func (c *fakeConn) QueryRow(_ context.Context, query string, args ...any) driver.Row {
	c.record(query, args)
	return &fakeRow{values: c.row, err: c.err}
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.record(query, nil)
	if c.err != nil {
		return nil, c.err
	}
	return c.batch, nil
}

type fakeRows struct {
	driver.Rows
	rows [][]any
	cur  []any
	next int
}

func (r *fakeRows) Next() bool {
	if r.next >= len(r.rows) {
		return false
	}
	r.cur = r.rows[r.next]
	r.next++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assignRow(dest, r.cur) }

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Close() error { return nil }

type fakeRow struct {
	driver.Row
	values []any
	err    error
}

func (r *fakeRow) Err() error { return r.err }

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignRow(dest, r.values)
}

type fakeBatch struct {
	driver.Batch
	appended  [][]any
	appendErr error
	sent      bool
	aborted   bool
}

func (b *fakeBatch) Append(v ...any) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	b.appended = append(b.appended, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

// assignRow copies values into scan destinations, requiring exact types the
// way the native driver does.
func assignRow(dest, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		v := reflect.ValueOf(values[i])
		if v.Type() != target.Type() {
			return fmt.Errorf("scan column %d: cannot scan %s into %s", i, v.Type(), target.Type())
		}
		target.Set(v)
	}
	return nil
}
