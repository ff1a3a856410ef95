package structured

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFormatTableCapsDisplayedRows(t *testing.T) {
	res := Result{Columns: []string{"id", "name"}}
	for i := 0; i < 53; i++ {
		res.Rows = append(res.Rows, []interface{}{int64(i), fmt.Sprintf("n%d", i)})
	}
	out := Format(res, KindSQLite, 50)
	if !strings.HasPrefix(out, "Query Results:\nid | name\n---------\n0 | n0\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.HasSuffix(out, "49 | n49\n... and 3 more rows") {
		t.Fatalf("unexpected tail: %q", out)
	}
}

func TestFormatScalars(t *testing.T) {
	cases := []struct {
		res  Result
		kind string
		want string
	}{
		{Result{Columns: []string{"COUNT(*)"}, Rows: [][]interface{}{{int64(10)}}}, KindMySQL, "RESULT: 10"},
		{Result{Value: int64(4), HasValue: true}, KindMongo, "RESULT: 4"},
		{Result{Columns: []string{"a"}, Rows: [][]interface{}{}}, KindPostgres, NoResults},
		{Result{Documents: []map[string]interface{}{}}, KindMongo, NoResults},
		{Result{Value: 3.0, HasValue: true}, KindFrames, "**RESULT: 3**\n\nThis is the exact answer from the Excel/CSV data."},
	}
	for _, c := range cases {
		if got := Format(c.res, c.kind, 50); got != c.want {
			t.Errorf("Format(%+v) = %q, want %q", c.res, got, c.want)
		}
	}
	if FormatValue(nil) != "NULL" || FormatValue(2.50) != "2.5" || FormatValue([]byte("x")) != "x" {
		t.Fatal("unexpected FormatValue output")
	}
}

func TestFormatDocumentsCap(t *testing.T) {
	res := Result{}
	for i := 0; i < 25; i++ {
		res.Documents = append(res.Documents, map[string]interface{}{"n": i})
	}
	out := Format(res, KindMongo, 50)
	if !strings.HasPrefix(out, "Query Results (25 documents):\n{\"n\":0}\n") || !strings.HasSuffix(out, "... and 5 more documents") {
		t.Fatalf("unexpected documents format %q", out)
	}
}

func TestCheckReadOnly(t *testing.T) {
	ok := []string{
		"SELECT * FROM t",
		"  select count(*) from t;  ",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECT REPLACE(name, 'a', 'b') FROM t",
		"PRAGMA table_info(t)",
	}
	for _, q := range ok {
		if err := CheckReadOnly(q); err != nil {
			t.Errorf("CheckReadOnly(%q) = %v", q, err)
		}
	}
	bad := []string{
		"DELETE FROM t",
		"SELECT 1; DROP TABLE t",
		"WITH x AS (DELETE FROM t RETURNING *) SELECT * FROM x",
		"UPDATE t SET a = 1",
	}
	for _, q := range bad {
		if err := CheckReadOnly(q); !errors.Is(err, ErrUnsafeQuery) {
			t.Errorf("CheckReadOnly(%q) = %v, want ErrUnsafeQuery", q, err)
		}
	}
	if err := CheckReadOnly(" ; "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("blank query err = %v", err)
	}
}

func TestParseMongoQuery(t *testing.T) {
	q, err := ParseMongoQuery(`{"collection": "orders", "filter": {"status": "open", "total": {"$gt": 10}}, "sort": {"total": -1}, "limit": 5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Collection != "orders" || q.Limit != 5 || q.Count || len(q.Sort) != 1 || q.Sort[0].Key != "total" {
		t.Fatalf("unexpected query %+v", q)
	}
	if q.Filter["status"] != "open" {
		t.Fatalf("filter not decoded: %+v", q.Filter)
	}

	q, err = ParseMongoQuery(`{"collection": "orders", "count": true}`)
	if err != nil || !q.Count || q.Filter == nil {
		t.Fatalf("count query: %+v err=%v", q, err)
	}
	if _, err := ParseMongoQuery(`{"filter": {}}`); err == nil {
		t.Fatal("missing collection should fail")
	}
	if _, err := ParseMongoQuery(`db.orders.find({})`); err == nil {
		t.Fatal("shell syntax should fail")
	}
}
