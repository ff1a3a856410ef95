package structured

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"ragchat/internal/model"
	"ragchat/internal/platform/logger"
	"ragchat/internal/platform/sqldb"
)

const (
	KindSQLite   = sqldb.KindSQLite
	KindMySQL    = sqldb.KindMySQL
	KindPostgres = sqldb.KindPostgres
	KindMongo    = "mongodb"
	KindFrames   = "excel"
)

var (
	ErrSourceUnavailable = errors.New("structured source unavailable")
	ErrUnsafeQuery       = errors.New("query is not read-only")
	ErrEmptyQuery        = errors.New("generated query is empty")
)

// Source is a bound external data source that runs generated queries.
type Source interface {
	Kind() string
	// Language names the query language the model must write.
	Language() string
	Execute(ctx context.Context, query string) (Result, error)
	Describe(ctx context.Context) (Schema, error)
	Close() error
}

// Inspector is implemented by sources that can list candidate values of
// the columns a failed query referenced.
type Inspector interface {
	Inspect(ctx context.Context, query string) (string, error)
}

// Outliner is implemented by sources that can cheaply list their tables
// and columns for the query prompt.
type Outliner interface {
	Outline() string
}

// Result holds either a table, a document list or a single evaluated value.
type Result struct {
	Columns   []string
	Rows      [][]interface{}
	Documents []map[string]interface{}
	Value     interface{}
	HasValue  bool
	Truncated bool
}

// Scalar reports the single value of a 1x1 table or a scalar Value.
func (r Result) Scalar() (interface{}, bool) {
	if r.HasValue {
		if isCollection(r.Value) {
			return nil, false
		}
		return r.Value, true
	}
	if len(r.Columns) == 1 && len(r.Rows) == 1 && len(r.Rows[0]) == 1 {
		return r.Rows[0][0], true
	}
	return nil, false
}

// Empty treats no rows, no documents, nil, zero and empty collections as
// "nothing matched".
func (r Result) Empty() bool {
	if r.HasValue {
		return isZero(r.Value)
	}
	if r.Documents != nil {
		return len(r.Documents) == 0
	}
	return len(r.Rows) == 0
}

func isCollection(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

func isZero(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	}
	return false
}

// Schema is the introspected shape of a source, fed to schema analysis.
type Schema struct {
	Kind   string        `json:"kind"`
	Tables []TableSchema `json:"tables"`
}

type TableSchema struct {
	Name     string         `json:"name"`
	RowCount int64          `json:"row_count"`
	Columns  []ColumnSchema `json:"columns"`
}

type ColumnSchema struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Nullable     bool     `json:"nullable,omitempty"`
	PrimaryKey   bool     `json:"primary_key,omitempty"`
	NullCount    int      `json:"null_count,omitempty"`
	UniqueCount  int      `json:"unique_count,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
	UniqueValues []string `json:"unique_values,omitempty"`
}

type Options struct {
	MaxRows int
	Log     *logger.Logger
}

// Open binds the data source of a database or excel collection.
func Open(ctx context.Context, c *model.Collection, opts Options) (Source, error) {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100
	}
	switch c.CollectionType {
	case model.CollectionExcel:
		src, err := OpenFrames(c.Paths(), opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	case model.CollectionDatabase:
		kind := strings.ToLower(strings.TrimSpace(c.DBKind))
		if kind == KindMongo {
			src, err := OpenMongo(ctx, c.ConnectionString, opts)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		src, err := OpenRelational(ctx, kind, c.ConnectionString, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: collection %d is not a structured source", ErrSourceUnavailable, c.ID)
	}
}
