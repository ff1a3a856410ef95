package structured

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/xuri/excelize/v2"
)

// Frame is one sheet or CSV file loaded as rows keyed by header.
type Frame struct {
	Name    string
	Columns []string
	Rows    []map[string]interface{}
}

// FrameSource answers dataframe expressions over spreadsheet files. The
// generated code must be a single `result = <expression>` assignment; the
// expression is compiled by expr, which has no I/O and no imports.
type FrameSource struct {
	frames  []*Frame
	byName  map[string]*Frame
	maxRows int
}

func OpenFrames(paths []string, opts Options) (*FrameSource, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no spreadsheet files configured", ErrSourceUnavailable)
	}
	var frames []*Frame
	for _, p := range paths {
		loaded, err := loadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		frames = append(frames, loaded...)
	}
	return NewFrameSource(frames, opts), nil
}

func NewFrameSource(frames []*Frame, opts Options) *FrameSource {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100
	}
	s := &FrameSource{frames: frames, byName: map[string]*Frame{}, maxRows: opts.MaxRows}
	for _, f := range frames {
		s.byName[f.Name] = f
	}
	return s
}

func (s *FrameSource) Kind() string     { return KindFrames }
func (s *FrameSource) Language() string { return "Expression" }
func (s *FrameSource) Close() error     { return nil }

func loadFile(path string) ([]*Frame, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s failed: %w", path, err)
		}
		defer fh.Close()
		r := csv.NewReader(fh)
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read csv %s failed: %w", path, err)
		}
		return []*Frame{BuildFrame(base, records)}, nil
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook %s failed: %w", path, err)
		}
		defer f.Close()
		var frames []*Frame
		for _, sheet := range f.GetSheetList() {
			rows, err := f.GetRows(sheet)
			if err != nil {
				return nil, fmt.Errorf("read sheet %s of %s failed: %w", sheet, path, err)
			}
			frames = append(frames, BuildFrame(base+"_"+sheet, rows))
		}
		return frames, nil
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format %q", filepath.Ext(path))
	}
}

// BuildFrame turns a header row plus data rows into a frame. Numeric cells
// become float64, blank cells nil.
func BuildFrame(name string, records [][]string) *Frame {
	f := &Frame{Name: name}
	if len(records) == 0 {
		return f
	}
	seen := map[string]bool{}
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h] = true
		f.Columns = append(f.Columns, h)
	}
	for _, rec := range records[1:] {
		row := make(map[string]interface{}, len(f.Columns))
		blank := true
		for i, col := range f.Columns {
			var cell string
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			if cell != "" {
				blank = false
			}
			row[col] = parseCell(cell)
		}
		if !blank {
			f.Rows = append(f.Rows, row)
		}
	}
	return f
}

func parseCell(cell string) interface{} {
	if cell == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil && looksNumeric(cell) {
		return v
	}
	return cell
}

var numericCell = regexp.MustCompile(`^[-+]?(\d{1,3}(,\d{3})+|\d+)?(\.\d+)?([eE][-+]?\d+)?$`)

func looksNumeric(cell string) bool {
	return cell != "" && cell != "." && numericCell.MatchString(cell)
}

var assignment = regexp.MustCompile(`(?m)^\s*result\s*=(?:[^=]|$)`)

// ParseAssignment extracts the expression from `result = <expression>`.
func ParseAssignment(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyQuery
	}
	if strings.Contains(code, "import ") || strings.Contains(code, "open(") || strings.Contains(code, "__") {
		return "", fmt.Errorf("%w: imports, file access and dunder names are not allowed", ErrUnsafeQuery)
	}
	locs := assignment.FindAllStringIndex(code, -1)
	if len(locs) == 0 || locs[0][0] != 0 {
		return "", fmt.Errorf("%w: code must start with a single `result = <expression>` assignment", ErrUnsafeQuery)
	}
	if len(locs) > 1 {
		return "", fmt.Errorf("%w: `result` must be assigned exactly once", ErrUnsafeQuery)
	}
	eq := strings.Index(code, "=")
	exprText := strings.TrimSpace(code[eq+1:])
	if exprText == "" {
		return "", ErrEmptyQuery
	}
	return exprText, nil
}

func (s *FrameSource) env() map[string]interface{} {
	dfs := make(map[string]interface{}, len(s.frames))
	for _, f := range s.frames {
		rows := make([]interface{}, len(f.Rows))
		for i, r := range f.Rows {
			rows[i] = r
		}
		dfs[f.Name] = rows
	}
	return map[string]interface{}{"dfs": dfs}
}

func (s *FrameSource) Execute(ctx context.Context, code string) (Result, error) {
	exprText, err := ParseAssignment(code)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("expression evaluation timed out: %w", err)
	}
	env := s.env()
	program, err := expr.Compile(exprText, append([]expr.Option{expr.Env(env)}, frameFunctions()...)...)
	if err != nil {
		return Result{}, fmt.Errorf("expression error: %w", err)
	}

	type evalOut struct {
		v   interface{}
		err error
	}
	done := make(chan evalOut, 1)
	go func() {
		v, err := expr.Run(program, env)
		done <- evalOut{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("expression evaluation timed out: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return Result{}, fmt.Errorf("expression error: %w", out.err)
		}
		return s.toResult(out.v), nil
	}
}

func (s *FrameSource) toResult(v interface{}) Result {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return Result{Value: v, HasValue: true}
	}
	var rows []map[string]interface{}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return s.capList(list)
		}
		rows = append(rows, m)
	}
	cols := s.columnsOf(rows[0])
	res := Result{Columns: cols, Rows: [][]interface{}{}}
	for _, r := range rows {
		if len(res.Rows) >= s.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		for i, c := range cols {
			vals[i] = r[c]
		}
		res.Rows = append(res.Rows, vals)
	}
	return res
}

func (s *FrameSource) capList(list []interface{}) Result {
	if len(list) > s.maxRows {
		return Result{Value: list[:s.maxRows], HasValue: true, Truncated: true}
	}
	return Result{Value: list, HasValue: true}
}

// columnsOf orders the keys of row by the first frame that declares them.
func (s *FrameSource) columnsOf(row map[string]interface{}) []string {
	for _, f := range s.frames {
		var cols []string
		for _, c := range f.Columns {
			if _, ok := row[c]; ok {
				cols = append(cols, c)
			}
		}
		if len(cols) == len(row) {
			return cols
		}
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

const inspectLimit = 30

// Inspect lists distinct values of the columns the code mentions.
func (s *FrameSource) Inspect(ctx context.Context, code string) (string, error) {
	var b strings.Builder
	for _, f := range s.frames {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, col := range f.Columns {
			if !mentionsColumn(code, col) {
				continue
			}
			values := distinctValues(f.Rows, col)
			if len(values) == 0 {
				continue
			}
			shown := values
			if len(shown) > inspectLimit {
				shown = shown[:inspectLimit]
			}
			strs := make([]string, len(shown))
			for i, v := range shown {
				strs[i] = FormatValue(v)
			}
			fmt.Fprintf(&b, "Column %q in %s has %d distinct values, e.g.: %s\n", col, f.Name, len(values), strings.Join(strs, ", "))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func mentionsColumn(code, col string) bool {
	if strings.Contains(code, `"`+col+`"`) || strings.Contains(code, `'`+col+`'`) {
		return true
	}
	idx := strings.Index(code, "."+col)
	for idx >= 0 {
		end := idx + 1 + len(col)
		if end >= len(code) || !isIdentByte(code[end]) {
			return true
		}
		next := strings.Index(code[end:], "."+col)
		if next < 0 {
			break
		}
		idx = end + next
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (s *FrameSource) Outline() string {
	var b strings.Builder
	b.WriteString("Available frames (use dfs[\"<name>\"]):\n")
	for _, f := range s.frames {
		fmt.Fprintf(&b, "- %s (%d rows): ", f.Name, len(f.Rows))
		parts := make([]string, len(f.Columns))
		for i, c := range f.Columns {
			parts[i] = fmt.Sprintf("%s (%s)", c, columnType(f.Rows, c))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *FrameSource) Describe(ctx context.Context) (Schema, error) {
	schema := Schema{Kind: KindFrames}
	for _, f := range s.frames {
		if err := ctx.Err(); err != nil {
			return Schema{}, err
		}
		ts := TableSchema{Name: f.Name, RowCount: int64(len(f.Rows))}
		for _, c := range f.Columns {
			col := ColumnSchema{Name: c, Type: columnType(f.Rows, c)}
			for _, r := range f.Rows {
				if r[c] == nil {
					col.NullCount++
				}
			}
			values := distinctValues(f.Rows, c)
			col.UniqueCount = len(values)
			for i, v := range values {
				if i == 3 {
					break
				}
				col.SampleValues = append(col.SampleValues, FormatValue(v))
			}
			if col.Type == "text" && len(values) <= 20 {
				for _, v := range values {
					col.UniqueValues = append(col.UniqueValues, FormatValue(v))
				}
			}
			ts.Columns = append(ts.Columns, col)
		}
		schema.Tables = append(schema.Tables, ts)
	}
	return schema, nil
}

func columnType(rows []map[string]interface{}, col string) string {
	var nums, texts int
	for _, r := range rows {
		switch r[col].(type) {
		case float64:
			nums++
		case string:
			texts++
		}
	}
	switch {
	case nums > 0 && texts == 0:
		return "number"
	case texts > 0 && nums == 0:
		return "text"
	case nums == 0 && texts == 0:
		return "empty"
	default:
		return "mixed"
	}
}

func distinctValues(rows []map[string]interface{}, col string) []interface{} {
	seen := map[string]bool{}
	var out []interface{}
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		key := fmt.Sprintf("%T:%v", v, v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
