package duckdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/source"
)

func openMemory(t *testing.T) *source.SQLConn {
	t.Helper()
	conn, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func exec(t *testing.T, conn *source.SQLConn, statements ...string) {
	t.Helper()
	for _, statement := range statements {
		if _, err := conn.DB().ExecContext(context.Background(), statement); err != nil {
			t.Fatalf("exec %q: %v", statement, err)
		}
	}
}

func TestReflectAndProjectMixedTypes(t *testing.T) {
	conn := openMemory(t)
	exec(t, conn,
		`CREATE SCHEMA sales`,
		`CREATE TABLE sales.orders (
			id INTEGER,
			customer VARCHAR,
			amount DECIMAL(10,2),
			placed_on DATE,
			paid BOOLEAN,
			ref UUID,
			tags VARCHAR[],
			note VARCHAR
		)`,
		`INSERT INTO sales.orders VALUES (1, 'ada', 12.50, DATE '2024-01-02', true, 'a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11', ['x','y'], NULL)`,
	)
	loc := source.TableLocator{Schema: "sales", Table: "orders"}

	columns, err := source.Reflect(context.Background(), conn, loc)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	names := make([]string, 0, len(columns))
	for i, column := range columns {
		if column.Position != i {
			t.Fatalf("column %q position = %d, want %d", column.Name, column.Position, i)
		}
		names = append(names, column.Name)
	}
	if strings.Join(names, ",") != "id,customer,amount,placed_on,paid,ref,tags,note" {
		t.Fatalf("columns = %v", names)
	}

	projection, err := source.ProjectFirstRow(context.Background(), conn, loc, columns, 10)
	if err != nil {
		t.Fatalf("ProjectFirstRow() error = %v", err)
	}
	want := map[string]any{
		"id":        int64(1),
		"customer":  "ada",
		"amount":    "12.50",
		"placed_on": "2024-01-02T00:00:00Z",
		"paid":      true,
		"ref":       "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11",
		"tags":      "[x, y]",
		"note":      nil,
	}
	for name, value := range want {
		got, ok := projection.Get(name)
		if !ok || got != value {
			t.Fatalf("%s = %#v (%T), want %#v", name, got, got, value)
		}
	}

	encoded, err := json.Marshal(projection)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.HasPrefix(string(encoded), `{"id":1,"customer":"ada","amount":"12.50"`) {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestProjectCapsWideTables(t *testing.T) {
	conn := openMemory(t)
	defs := make([]string, 0, 14)
	vals := make([]string, 0, 14)
	for i := 0; i < 14; i++ {
		defs = append(defs, fmt.Sprintf("c%02d INTEGER", i))
		vals = append(vals, fmt.Sprint(i))
	}
	exec(t, conn,
		`CREATE TABLE main.wide (`+strings.Join(defs, ", ")+`)`,
		`INSERT INTO main.wide VALUES (`+strings.Join(vals, ", ")+`)`,
	)
	loc := source.TableLocator{Schema: "main", Table: "wide"}

	columns, err := source.Reflect(context.Background(), conn, loc)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(columns) != 14 {
		t.Fatalf("len(columns) = %d", len(columns))
	}
	projection, err := source.ProjectFirstRow(context.Background(), conn, loc, columns, 10)
	if err != nil {
		t.Fatalf("ProjectFirstRow() error = %v", err)
	}
	if projection.Len() != 10 {
		t.Fatalf("projection.Len() = %d", projection.Len())
	}
	if keys := projection.Keys(); keys[0] != "c00" || keys[9] != "c09" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestEmptyAndMissingTables(t *testing.T) {
	conn := openMemory(t)
	exec(t, conn, `CREATE TABLE main.empty_t (id INTEGER)`)

	loc := source.TableLocator{Schema: "main", Table: "empty_t"}
	columns, err := source.Reflect(context.Background(), conn, loc)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	_, err = source.ProjectFirstRow(context.Background(), conn, loc, columns, 10)
	if !errors.Is(err, source.ErrNoRows) {
		t.Fatalf("ProjectFirstRow() error = %v, want ErrNoRows", err)
	}

	_, err = source.Reflect(context.Background(), conn, source.TableLocator{Schema: "main", Table: "nope"})
	if apperr.KindOf(err) != apperr.TableNotFound {
		t.Fatalf("Reflect(missing) error = %v", err)
	}
}

func TestSchemaNamedAfterDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lake.duckdb")
	seed, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	exec(t, seed,
		`CREATE SCHEMA lake`,
		`CREATE TABLE lake.lake.events (id BIGINT, kind VARCHAR)`,
		`INSERT INTO lake.lake.events VALUES (42, 'signup')`,
	)
	if err := seed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conn, err := NewConnector().Open(context.Background(), source.Descriptor{Driver: "duckdb", ConnectionString: path})
	if err != nil {
		t.Fatalf("Connector.Open() error = %v", err)
	}
	defer conn.Close()
	loc := source.TableLocator{Schema: "lake", Table: "events"}

	columns, err := source.Reflect(context.Background(), conn, loc)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(columns) != 2 {
		t.Fatalf("columns = %#v", columns)
	}
	projection, err := source.ProjectFirstRow(context.Background(), conn, loc, columns, 10)
	if err != nil {
		t.Fatalf("ProjectFirstRow() error = %v", err)
	}
	if id, _ := projection.Get("id"); id != int64(42) {
		t.Fatalf("id = %#v", id)
	}
	if _, err := source.ProjectFirstRow(context.Background(), conn, loc, nil, 10); err != nil {
		t.Fatalf("ProjectFirstRow(no columns) error = %v", err)
	}
}

func TestDialectQualifiesWithCatalog(t *testing.T) {
	loc := source.TableLocator{Schema: "shop", Table: "orders"}
	if got := (Dialect{Catalog: "shop"}).TableName(loc); got != `"shop"."shop"."orders"` {
		t.Fatalf("TableName() = %s", got)
	}
	if got := (Dialect{}).TableName(loc); got != `"shop"."orders"` {
		t.Fatalf("TableName(no catalog) = %s", got)
	}
	got := (Dialect{Catalog: "memory"}).FirstRowQuery(loc, []source.Column{{Name: "id", DataType: "BIGINT"}, {Name: "ref", DataType: "UUID"}})
	want := `SELECT "id", CAST("ref" AS VARCHAR) AS "ref" FROM "memory"."shop"."orders" LIMIT 1`
	if got != want {
		t.Fatalf("FirstRowQuery() = %s, want %s", got, want)
	}
}

func TestConvertValue(t *testing.T) {
	d := Dialect{}
	if got := d.ConvertValue(duckdb.Decimal{Width: 10, Scale: 3, Value: big.NewInt(-1205)}); got != "-1.205" {
		t.Fatalf("ConvertValue(decimal) = %#v", got)
	}
	if got := d.ConvertValue(duckdb.Interval{Months: 1, Days: 2, Micros: 3_500_000}); got != "P1M2DT3.5S" {
		t.Fatalf("ConvertValue(interval) = %#v", got)
	}
	if got := d.ConvertValue(duckdb.Interval{}); got != "PT0S" {
		t.Fatalf("ConvertValue(zero interval) = %#v", got)
	}
	if got := d.ConvertValue("plain"); got != "plain" {
		t.Fatalf("ConvertValue(string) = %#v", got)
	}
}

func TestDSNFor(t *testing.T) {
	tests := []struct {
		desc source.Descriptor
		want string
	}{
		{source.Descriptor{ConnectionString: ":memory:"}, ""},
		{source.Descriptor{ConnectionString: "/data/lake.duckdb"}, "/data/lake.duckdb?access_mode=READ_ONLY"},
		{source.Descriptor{ConnectionString: "/data/lake.duckdb?threads=4"}, "/data/lake.duckdb?threads=4&access_mode=READ_ONLY"},
		{source.Descriptor{ConnectionString: "/data/lake.duckdb", Parameters: map[string]string{"readOnly": "false"}}, "/data/lake.duckdb"},
	}
	for _, tt := range tests {
		if got := dsnFor(tt.desc); got != tt.want {
			t.Fatalf("dsnFor(%q) = %q, want %q", tt.desc.ConnectionString, got, tt.want)
		}
	}
}
