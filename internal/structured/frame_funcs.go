package structured

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// frameFunctions are the helpers available to generated expressions on
// top of expr's builtins (filter, map, count, len, all, any).
func frameFunctions() []expr.Option {
	return []expr.Option{
		expr.Function("column", func(params ...interface{}) (interface{}, error) {
			rows, col, err := rowsAndColumn("column", params)
			if err != nil {
				return nil, err
			}
			out := make([]interface{}, 0, len(rows))
			for _, r := range rows {
				out = append(out, r[col])
			}
			return out, nil
		}),
		expr.Function("distinct", func(params ...interface{}) (interface{}, error) {
			rows, col, err := rowsAndColumn("distinct", params)
			if err != nil {
				return nil, err
			}
			return distinctValues(rows, col), nil
		}),
		expr.Function("valueCounts", func(params ...interface{}) (interface{}, error) {
			rows, col, err := rowsAndColumn("valueCounts", params)
			if err != nil {
				return nil, err
			}
			counts := map[string]interface{}{}
			for _, r := range rows {
				if r[col] == nil {
					continue
				}
				key := FormatValue(r[col])
				n, _ := counts[key].(int)
				counts[key] = n + 1
			}
			return counts, nil
		}),
		expr.Function("sumOf", numericReducer("sumOf", func(vals []float64) float64 {
			var total float64
			for _, v := range vals {
				total += v
			}
			return total
		})),
		expr.Function("meanOf", numericReducer("meanOf", func(vals []float64) float64 {
			if len(vals) == 0 {
				return 0
			}
			var total float64
			for _, v := range vals {
				total += v
			}
			return total / float64(len(vals))
		})),
		expr.Function("minOf", numericReducer("minOf", func(vals []float64) float64 {
			if len(vals) == 0 {
				return 0
			}
			m := vals[0]
			for _, v := range vals[1:] {
				if v < m {
					m = v
				}
			}
			return m
		})),
		expr.Function("maxOf", numericReducer("maxOf", func(vals []float64) float64 {
			if len(vals) == 0 {
				return 0
			}
			m := vals[0]
			for _, v := range vals[1:] {
				if v > m {
					m = v
				}
			}
			return m
		})),
		expr.Function("groupSum", func(params ...interface{}) (interface{}, error) {
			if len(params) != 3 {
				return nil, fmt.Errorf("groupSum(rows, keyColumn, valueColumn) takes 3 arguments")
			}
			rows, key, err := rowsAndColumn("groupSum", params[:2])
			if err != nil {
				return nil, err
			}
			valCol, ok := params[2].(string)
			if !ok {
				return nil, fmt.Errorf("groupSum: value column must be a string")
			}
			out := map[string]interface{}{}
			for _, r := range rows {
				if r[key] == nil {
					continue
				}
				v, ok := toFloat(r[valCol])
				if !ok {
					continue
				}
				k := FormatValue(r[key])
				total, _ := out[k].(float64)
				out[k] = total + v
			}
			return out, nil
		}),
		expr.Function("head", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("head(rows, n) takes 2 arguments")
			}
			list, ok := params[0].([]interface{})
			if !ok {
				return nil, fmt.Errorf("head: first argument must be a list")
			}
			n, ok := toFloat(params[1])
			if !ok || n < 0 {
				return nil, fmt.Errorf("head: n must be a non-negative number")
			}
			if int(n) < len(list) {
				return list[:int(n)], nil
			}
			return list, nil
		}),
		expr.Function("sortByCol", func(params ...interface{}) (interface{}, error) {
			if len(params) < 2 || len(params) > 3 {
				return nil, fmt.Errorf("sortByCol(rows, column[, descending]) takes 2 or 3 arguments")
			}
			rows, col, err := rowsAndColumn("sortByCol", params[:2])
			if err != nil {
				return nil, err
			}
			desc := false
			if len(params) == 3 {
				desc, _ = params[2].(bool)
			}
			sorted := append([]map[string]interface{}(nil), rows...)
			sort.SliceStable(sorted, func(i, j int) bool {
				if desc {
					return cellLess(sorted[j][col], sorted[i][col])
				}
				return cellLess(sorted[i][col], sorted[j][col])
			})
			out := make([]interface{}, len(sorted))
			for i, r := range sorted {
				out[i] = r
			}
			return out, nil
		}),
		expr.Function("lowerText", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("lowerText(value) takes 1 argument")
			}
			if params[0] == nil {
				return "", nil
			}
			return strings.ToLower(FormatValue(params[0])), nil
		}),
	}
}

func numericReducer(name string, reduce func([]float64) float64) func(params ...interface{}) (interface{}, error) {
	return func(params ...interface{}) (interface{}, error) {
		rows, col, err := rowsAndColumn(name, params)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, 0, len(rows))
		for _, r := range rows {
			if v, ok := toFloat(r[col]); ok {
				vals = append(vals, v)
			}
		}
		return reduce(vals), nil
	}
}

func rowsAndColumn(name string, params []interface{}) ([]map[string]interface{}, string, error) {
	if len(params) != 2 {
		return nil, "", fmt.Errorf("%s(rows, column) takes 2 arguments", name)
	}
	col, ok := params[1].(string)
	if !ok {
		return nil, "", fmt.Errorf("%s: column must be a string", name)
	}
	rows, err := asRows(params[0])
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", name, err)
	}
	return rows, col, nil
}

func asRows(v interface{}) ([]map[string]interface{}, error) {
	switch list := v.(type) {
	case []map[string]interface{}:
		return list, nil
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("expected a list of rows, got element %T", item)
			}
			rows = append(rows, m)
		}
		return rows, nil
	case nil:
		return nil, fmt.Errorf("frame not found")
	default:
		return nil, fmt.Errorf("expected a list of rows, got %T", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		if !looksNumeric(n) {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

// cellLess orders nils last, numbers numerically and everything else as text.
func cellLess(a, b interface{}) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa < fb
	}
	return FormatValue(a) < FormatValue(b)
}
