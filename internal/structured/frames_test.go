package structured

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func salesFrames(t *testing.T) *FrameSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	data := "Region,Product,Amount,Year\nNorth,Tea,12.5,2023\nSouth,Coffee,30,2023\nNorth,Coffee,7,2024\n,,,\nSouth,Tea,1,2024\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	src, err := OpenFrames([]string{path}, Options{MaxRows: 3})
	if err != nil {
		t.Fatalf("open frames: %v", err)
	}
	return src
}

func TestBuildFrameHeadersAndCells(t *testing.T) {
	f := BuildFrame("x", [][]string{
		{"id", "", "id", "price"},
		{"1", "a", "b", "1,200.50"},
		{"2"},
	})
	want := []string{"id", "column_2", "column_3", "price"}
	if strings.Join(f.Columns, ",") != strings.Join(want, ",") {
		t.Fatalf("columns = %v, want %v", f.Columns, want)
	}
	if len(f.Rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(f.Rows))
	}
	if v, ok := f.Rows[0]["price"].(float64); !ok || v != 1200.5 {
		t.Fatalf("price not parsed as number: %#v", f.Rows[0]["price"])
	}
	if f.Rows[1]["price"] != nil {
		t.Fatalf("missing cell should be nil, got %#v", f.Rows[1]["price"])
	}
}

func TestParseAssignment(t *testing.T) {
	if got, err := ParseAssignment(`result = len(dfs["a"])`); err != nil || got != `len(dfs["a"])` {
		t.Fatalf("got %q, %v", got, err)
	}
	if got, err := ParseAssignment(`result = count(dfs["a"], .x == 1)`); err != nil || got != `count(dfs["a"], .x == 1)` {
		t.Fatalf("comparison inside expression rejected: %q, %v", got, err)
	}
	bad := []string{
		`len(dfs["a"])`,
		"result = 1\nresult = 2",
		`x = 1`,
		`result == 1`,
		`import os`,
		`result = open("/etc/passwd")`,
	}
	for _, code := range bad {
		if _, err := ParseAssignment(code); !errors.Is(err, ErrUnsafeQuery) {
			t.Errorf("ParseAssignment(%q) err = %v, want ErrUnsafeQuery", code, err)
		}
	}
	if _, err := ParseAssignment("  "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("blank code err = %v", err)
	}
}

func TestFrameExecute(t *testing.T) {
	src := salesFrames(t)
	ctx := context.Background()

	res, err := src.Execute(ctx, `result = sumOf(filter(dfs["orders"], .Region == "North"), "Amount")`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := Format(res, KindFrames, 50); got != "**RESULT: 19.5**\n\nThis is the exact answer from the Excel/CSV data." {
		t.Fatalf("unexpected scalar format %q", got)
	}

	res, err = src.Execute(ctx, `result = filter(dfs["orders"], .Product == "Coffee")`)
	if err != nil {
		t.Fatalf("execute rows: %v", err)
	}
	if strings.Join(res.Columns, ",") != "Region,Product,Amount,Year" || len(res.Rows) != 2 {
		t.Fatalf("unexpected table %+v", res)
	}

	res, err = src.Execute(ctx, `result = dfs["orders"]`)
	if err != nil || !res.Truncated || len(res.Rows) != 3 {
		t.Fatalf("rows should be capped at 3: %+v err=%v", res, err)
	}

	res, err = src.Execute(ctx, `result = valueCounts(dfs["orders"], "Product")`)
	if err != nil {
		t.Fatalf("execute counts: %v", err)
	}
	if got := Format(res, KindFrames, 50); got != "Result:\nCoffee: 2\nTea: 2" {
		t.Fatalf("unexpected map format %q", got)
	}

	res, err = src.Execute(ctx, `result = filter(dfs["orders"], .Year > 2030)`)
	if err != nil || !res.Empty() {
		t.Fatalf("want empty result, got %+v err=%v", res, err)
	}
	if got := Format(res, KindFrames, 50); got != NoFrameResults {
		t.Fatalf("unexpected empty format %q", got)
	}

	if _, err := src.Execute(ctx, `result = dfs["orders"] +* 2`); err == nil {
		t.Fatal("want compile error")
	}
}

func TestFrameExecuteHonoursDeadline(t *testing.T) {
	src := salesFrames(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Execute(ctx, `result = len(dfs["orders"])`); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context error, got %v", err)
	}
}

func TestFrameDescribeAndOutline(t *testing.T) {
	src := salesFrames(t)
	schema, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].RowCount != 4 {
		t.Fatalf("unexpected schema %+v", schema)
	}
	region := schema.Tables[0].Columns[0]
	if region.Type != "text" || region.UniqueCount != 2 || len(region.UniqueValues) != 2 {
		t.Fatalf("unexpected region column %+v", region)
	}
	if amount := schema.Tables[0].Columns[2]; amount.Type != "number" {
		t.Fatalf("amount should be numeric: %+v", amount)
	}
	if !strings.Contains(src.Outline(), "- orders (4 rows): Region (text), Product (text), Amount (number), Year (number)") {
		t.Fatalf("unexpected outline %q", src.Outline())
	}
}
