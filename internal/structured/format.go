package structured

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	NoResults      = "No results found."
	NoFrameResults = "No results found (0 rows matched the query)."
	maxDocuments   = 20
)

// FormatValue renders a single cell. Integral floats drop the fraction.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Format renders a result as the text block handed to the answering model.
func Format(res Result, kind string, displayRows int) string {
	if displayRows <= 0 {
		displayRows = 50
	}
	if kind == KindFrames {
		return formatFrames(res, displayRows)
	}
	if v, ok := res.Scalar(); ok {
		return "RESULT: " + FormatValue(v)
	}
	if res.Documents != nil {
		return formatDocuments(res)
	}
	if res.HasValue {
		return "RESULT: " + FormatValue(res.Value)
	}
	if len(res.Rows) == 0 {
		return NoResults
	}
	return formatTable(res, displayRows)
}

func formatTable(res Result, displayRows int) string {
	var b strings.Builder
	b.WriteString("Query Results:\n")
	header := strings.Join(res.Columns, " | ")
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", len(header)))
	b.WriteByte('\n')

	shown := res.Rows
	if len(shown) > displayRows {
		shown = shown[:displayRows]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = FormatValue(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	out := strings.TrimRight(b.String(), "\n")
	if more := len(res.Rows) - len(shown); more > 0 {
		out += fmt.Sprintf("\n... and %d more rows", more)
	}
	if res.Truncated {
		out += "\n(result truncated at the row limit)"
	}
	return out
}

func formatDocuments(res Result) string {
	if len(res.Documents) == 0 {
		return NoResults
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Query Results (%d documents):\n", len(res.Documents))
	shown := res.Documents
	if len(shown) > maxDocuments {
		shown = shown[:maxDocuments]
	}
	for _, doc := range shown {
		raw, err := json.Marshal(doc)
		if err != nil {
			raw = []byte(fmt.Sprint(doc))
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	out := strings.TrimRight(b.String(), "\n")
	if more := len(res.Documents) - len(shown); more > 0 {
		out += fmt.Sprintf("\n... and %d more documents", more)
	}
	return out
}

func formatFrames(res Result, displayRows int) string {
	if v, ok := res.Scalar(); ok {
		return fmt.Sprintf("**RESULT: %s**\n\nThis is the exact answer from the Excel/CSV data.", FormatValue(v))
	}
	if !res.HasValue {
		if len(res.Rows) == 0 {
			return NoFrameResults
		}
		return formatTable(res, displayRows)
	}
	switch v := res.Value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return NoFrameResults
		}
		shown := v
		if len(shown) > displayRows {
			shown = shown[:displayRows]
		}
		parts := make([]string, len(shown))
		for i, item := range shown {
			parts[i] = FormatValue(item)
		}
		out := fmt.Sprintf("Result (%d values):\n%s", len(v), strings.Join(parts, "\n"))
		if more := len(v) - len(shown); more > 0 {
			out += fmt.Sprintf("\n... and %d more values", more)
		}
		return out
	case map[string]interface{}:
		if len(v) == 0 {
			return NoFrameResults
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		shown := keys
		if len(shown) > displayRows {
			shown = shown[:displayRows]
		}
		var b strings.Builder
		b.WriteString("Result:\n")
		for _, k := range shown {
			fmt.Fprintf(&b, "%s: %s\n", k, FormatValue(v[k]))
		}
		out := strings.TrimRight(b.String(), "\n")
		if more := len(keys) - len(shown); more > 0 {
			out += fmt.Sprintf("\n... and %d more entries", more)
		}
		return out
	default:
		return fmt.Sprintf("Result: %s", FormatValue(v))
	}
}
