package source

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/embedgate/embedgate/internal/apperr"
)

type ansiDialect struct{}

func (ansiDialect) Name() string { return "ansi" }

func (ansiDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`
}

func (ansiDialect) ColumnsQuery() string {
	return `SELECT column_name, ordinal_position, data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
}

func (ansiDialect) FirstRowQuery(loc TableLocator, columns []Column) string {
	return LimitOneQuery(QuoteDouble, loc, columns)
}

type upperDialect struct{ ansiDialect }

func (upperDialect) ConvertValue(value any) any {
	if s, ok := value.(string); ok {
		return s + "!"
	}
	return value
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

var ordersLoc = TableLocator{Schema: "public", Table: "orders"}

func TestSQLConnColumnsInOrdinalOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.TableExistsQuery())).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.ColumnsQuery())).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type"}).
			AddRow("id", int64(1), "bigint").
			AddRow("customer", int64(2), "text").
			AddRow("placed_at", int64(4), nil))

	columns, err := conn.Columns(context.Background(), ordersLoc)
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	want := []Column{
		{Name: "id", Position: 0, DataType: "bigint"},
		{Name: "customer", Position: 1, DataType: "text"},
		{Name: "placed_at", Position: 2},
	}
	if len(columns) != len(want) {
		t.Fatalf("len(columns) = %d", len(columns))
	}
	for i := range want {
		if columns[i] != want[i] {
			t.Fatalf("columns[%d] = %#v, want %#v", i, columns[i], want[i])
		}
	}
	assertSQLMock(t, mock)
}

func TestSQLConnColumnsMissingTable(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.TableExistsQuery())).
		WithArgs("public", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	_, err := conn.Columns(context.Background(), TableLocator{Schema: "public", Table: "ghost"})
	if apperr.KindOf(err) != apperr.TableNotFound {
		t.Fatalf("Columns() error = %v, want TableNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestSQLConnColumnsZeroColumnTable(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.TableExistsQuery())).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.ColumnsQuery())).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type"}))

	columns, err := conn.Columns(context.Background(), ordersLoc)
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if columns == nil || len(columns) != 0 {
		t.Fatalf("columns = %#v, want empty non-nil slice", columns)
	}
	assertSQLMock(t, mock)
}

func TestSQLConnColumnsMetadataFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(ansiDialect{}.TableExistsQuery())).
		WillReturnError(errors.New("permission denied for schema public"))

	_, err := conn.Columns(context.Background(), ordersLoc)
	if apperr.KindOf(err) != apperr.ReflectionFailed {
		t.Fatalf("Columns() error = %v, want ReflectionFailed", err)
	}
	if apperr.MessageOf(err) == "permission denied for schema public" {
		t.Fatal("upstream text must not become the caller message")
	}
	assertSQLMock(t, mock)
}

func TestSQLConnFirstRow(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, upperDialect{})
	columns := []Column{{Name: "id", Position: 0}, {Name: "customer", Position: 1}}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "customer" FROM "public"."orders" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer"}).AddRow(int64(7), "ada"))

	values, err := conn.FirstRow(context.Background(), ordersLoc, columns)
	if err != nil {
		t.Fatalf("FirstRow() error = %v", err)
	}
	if len(values) != 2 || values[0] != int64(7) || values[1] != "ada!" {
		t.Fatalf("values = %#v", values)
	}
	assertSQLMock(t, mock)
}

func TestSQLConnFirstRowEmptyTable(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "public"."orders" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := conn.FirstRow(context.Background(), ordersLoc, []Column{{Name: "id"}})
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("FirstRow() error = %v, want ErrNoRows", err)
	}
	assertSQLMock(t, mock)
}

func TestSQLConnFirstRowWithoutColumnsChecksExistence(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "public"."orders" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	values, err := conn.FirstRow(context.Background(), ordersLoc, nil)
	if err != nil {
		t.Fatalf("FirstRow() error = %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("values = %#v", values)
	}
	assertSQLMock(t, mock)
}

func TestSQLConnFirstRowReadFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	conn := NewSQLConn(db, ansiDialect{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "public"."orders" LIMIT 1`)).
		WillReturnError(errors.New("canceling statement due to statement timeout"))

	_, err := conn.FirstRow(context.Background(), ordersLoc, []Column{{Name: "id"}})
	if apperr.KindOf(err) != apperr.RowReadFailed {
		t.Fatalf("FirstRow() error = %v, want RowReadFailed", err)
	}
	assertSQLMock(t, mock)
}

func TestQuoteHelpers(t *testing.T) {
	if got := QuoteDouble(`we"ird`); got != `"we""ird"` {
		t.Fatalf("QuoteDouble() = %s", got)
	}
	if got := QuoteBacktick("we`ird"); got != "`we``ird`" {
		t.Fatalf("QuoteBacktick() = %s", got)
	}
	if got := QuoteBracket("we]ird"); got != "[we]]ird]" {
		t.Fatalf("QuoteBracket() = %s", got)
	}
	if got := SelectList(QuoteDouble, nil); got != "1" {
		t.Fatalf("SelectList(nil) = %s", got)
	}
}
