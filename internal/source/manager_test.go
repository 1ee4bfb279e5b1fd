package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/embedgate/embedgate/internal/apperr"
)

type fakeConn struct {
	columns    []Column
	row        []any
	columnsErr error
	rowErr     error
	panicOn    string
	closed     *int
	rowCalls   int
	lastSelect []Column
}

func (c *fakeConn) Columns(ctx context.Context, _ TableLocator) ([]Column, error) {
	if c.panicOn == "columns" {
		panic("columns exploded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.columnsErr != nil {
		return nil, c.columnsErr
	}
	return c.columns, nil
}

func (c *fakeConn) FirstRow(ctx context.Context, _ TableLocator, columns []Column) ([]any, error) {
	c.rowCalls++
	c.lastSelect = columns
	if c.panicOn == "row" {
		panic("row exploded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.rowErr != nil {
		return nil, c.rowErr
	}
	if c.row == nil {
		return nil, ErrNoRows
	}
	return c.row[:len(columns)], nil
}

func (c *fakeConn) Close() error {
	*c.closed++
	return nil
}

type fakeConnector struct {
	driver  string
	openErr error
	conn    *fakeConn
	opened  int
	closed  int
}

func (f *fakeConnector) Driver() string { return f.driver }

func (f *fakeConnector) Open(ctx context.Context, _ Descriptor) (Conn, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("open context must carry the connect timeout")
	}
	f.opened++
	f.conn.closed = &f.closed
	return f.conn, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeColumns(n int) ([]Column, []any) {
	columns := make([]Column, n)
	row := make([]any, n)
	for i := 0; i < n; i++ {
		columns[i] = Column{Name: fmt.Sprintf("c%02d", i), Position: i}
		row[i] = int64(i)
	}
	return columns, row
}

func TestWithConnectionUnsupportedBackend(t *testing.T) {
	connector := &fakeConnector{driver: "postgres", conn: &fakeConn{}}
	manager := NewManager(testLogger(), time.Second, connector)

	called := false
	err := manager.WithConnection(context.Background(), Descriptor{Driver: "oracle"}, func(context.Context, Conn) error {
		called = true
		return nil
	})
	if apperr.KindOf(err) != apperr.UnsupportedBackend {
		t.Fatalf("WithConnection() error = %v, want UnsupportedBackend", err)
	}
	if called || connector.opened != 0 {
		t.Fatal("no connection should be attempted for an unsupported driver")
	}
}

func TestWithConnectionAliasesAndOpenFailure(t *testing.T) {
	connector := &fakeConnector{driver: "postgres", openErr: errors.New("password authentication failed")}
	manager := NewManager(testLogger(), time.Second, connector)
	if !manager.Supports("postgresql") {
		t.Fatal("postgresql alias should be supported")
	}

	err := manager.WithConnection(context.Background(), Descriptor{Driver: "PostgreSQL"}, func(context.Context, Conn) error {
		t.Fatal("body must not run when open fails")
		return nil
	})
	if apperr.KindOf(err) != apperr.ConnectionFailed {
		t.Fatalf("WithConnection() error = %v, want ConnectionFailed", err)
	}
	if strings.Contains(apperr.MessageOf(err), "password") {
		t.Fatalf("message leaks backend text: %q", apperr.MessageOf(err))
	}
}

func TestWithConnectionKeepsTypedOpenErrors(t *testing.T) {
	connector := &fakeConnector{driver: "bigquery", openErr: apperr.New(apperr.InvalidRequest, "project is required")}
	manager := NewManager(testLogger(), time.Second, connector)
	err := manager.WithConnection(context.Background(), Descriptor{Driver: "bigquery"}, func(context.Context, Conn) error { return nil })
	if apperr.KindOf(err) != apperr.InvalidRequest {
		t.Fatalf("WithConnection() error = %v", err)
	}
}

func TestWithConnectionClosesOnPanic(t *testing.T) {
	connector := &fakeConnector{driver: "duckdb", conn: &fakeConn{}}
	manager := NewManager(testLogger(), time.Second, connector)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = manager.WithConnection(context.Background(), Descriptor{Driver: "duckdb"}, func(context.Context, Conn) error {
			panic("boom")
		})
	}()
	if connector.opened != 1 || connector.closed != 1 {
		t.Fatalf("opened=%d closed=%d", connector.opened, connector.closed)
	}
}

func TestReflectRejectsIdentifiersBeforeBackend(t *testing.T) {
	conn := &fakeConn{panicOn: "columns"}
	_, err := Reflect(context.Background(), conn, TableLocator{Schema: "public", Table: "x' OR 1=1 --"})
	if apperr.KindOf(err) != apperr.InvalidRequest {
		t.Fatalf("Reflect() error = %v", err)
	}
	_, err = ProjectFirstRow(context.Background(), &fakeConn{panicOn: "row"}, TableLocator{Schema: "a.b", Table: "t"}, nil, 10)
	if apperr.KindOf(err) != apperr.InvalidRequest {
		t.Fatalf("ProjectFirstRow() error = %v", err)
	}
}

func TestProjectFirstRowColumnCap(t *testing.T) {
	loc := TableLocator{Schema: "public", Table: "wide"}
	for _, n := range []int{0, 1, 9, 10, 11, 40} {
		columns, row := makeColumns(n)
		conn := &fakeConn{columns: columns, row: row}

		reflected, err := Reflect(context.Background(), conn, loc)
		if err != nil {
			t.Fatalf("Reflect(%d) error = %v", n, err)
		}
		if len(reflected) != n {
			t.Fatalf("Reflect(%d) returned %d columns", n, len(reflected))
		}
		projection, err := ProjectFirstRow(context.Background(), conn, loc, reflected, 10)
		if err != nil {
			t.Fatalf("ProjectFirstRow(%d) error = %v", n, err)
		}
		if want := min(n, 10); projection.Len() != want {
			t.Fatalf("projection for %d columns has %d keys, want %d", n, projection.Len(), want)
		}
		for i, key := range projection.Keys() {
			if key != columns[i].Name {
				t.Fatalf("key %d = %q, want %q", i, key, columns[i].Name)
			}
		}
	}
}

func TestProjectFirstRowNoRows(t *testing.T) {
	columns, _ := makeColumns(3)
	conn := &fakeConn{columns: columns}
	_, err := ProjectFirstRow(context.Background(), conn, TableLocator{Schema: "s", Table: "t"}, columns, 10)
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("ProjectFirstRow() error = %v, want ErrNoRows", err)
	}
	if apperr.KindOf(err) != apperr.NoRows {
		t.Fatalf("kind = %s", apperr.KindOf(err))
	}
}

func TestProjectFirstRowWrapsUntypedErrors(t *testing.T) {
	columns, _ := makeColumns(2)
	conn := &fakeConn{columns: columns, rowErr: errors.New("driver: bad connection")}
	_, err := ProjectFirstRow(context.Background(), conn, TableLocator{Schema: "s", Table: "t"}, columns, 10)
	if apperr.KindOf(err) != apperr.RowReadFailed {
		t.Fatalf("ProjectFirstRow() error = %v", err)
	}

	conn = &fakeConn{columnsErr: errors.New("metadata unavailable")}
	_, err = Reflect(context.Background(), conn, TableLocator{Schema: "s", Table: "t"})
	if apperr.KindOf(err) != apperr.ReflectionFailed {
		t.Fatalf("Reflect() error = %v", err)
	}
}

// Acquire and release counts must match across randomized failures at every stage.
func TestWithConnectionReleasesExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(20241019))
	loc := TableLocator{Schema: "public", Table: "t"}
	totalOpened, totalClosed := 0, 0

	for run := 0; run < 1000; run++ {
		n := rng.Intn(15)
		columns, row := makeColumns(n)
		conn := &fakeConn{columns: columns, row: row}
		connector := &fakeConnector{driver: "postgres", conn: conn}

		switch rng.Intn(8) {
		case 0:
			connector.openErr = errors.New("connection refused")
		case 1:
			conn.columnsErr = apperr.New(apperr.TableNotFound, "missing")
		case 2:
			conn.rowErr = errors.New("read failed")
		case 3:
			conn.row = nil
		case 4:
			conn.panicOn = "row"
		case 5:
			conn.panicOn = "columns"
		}

		ctx, cancel := context.WithCancel(context.Background())
		if rng.Intn(6) == 0 {
			cancel()
		}

		manager := NewManager(testLogger(), time.Second, connector)
		func() {
			defer func() { _ = recover() }()
			_ = manager.WithConnection(ctx, Descriptor{Driver: "postgres"}, func(ctx context.Context, c Conn) error {
				reflected, err := Reflect(ctx, c, loc)
				if err != nil {
					return err
				}
				_, err = ProjectFirstRow(ctx, c, loc, reflected, 10)
				return err
			})
		}()
		cancel()

		if connector.opened != connector.closed {
			t.Fatalf("run %d: opened=%d closed=%d", run, connector.opened, connector.closed)
		}
		if connector.closed > 1 {
			t.Fatalf("run %d: closed %d times", run, connector.closed)
		}
		totalOpened += connector.opened
		totalClosed += connector.closed
	}
	if totalOpened == 0 || totalOpened != totalClosed {
		t.Fatalf("totals opened=%d closed=%d", totalOpened, totalClosed)
	}
}
