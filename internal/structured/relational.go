package structured

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"ragchat/internal/platform/logger"
	"ragchat/internal/platform/sqldb"
)

// RelationalSource runs read-only SQL through a gorm connection.
type RelationalSource struct {
	kind    string
	db      *gorm.DB
	maxRows int
	log     *logger.Logger
}

func OpenRelational(ctx context.Context, kind, dsn string, opts Options) (*RelationalSource, error) {
	db, err := sqldb.Open(ctx, kind, dsn, sqldb.SourcePool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return NewRelationalSource(kind, db, opts), nil
}

// NewRelationalSource wraps an open connection.
func NewRelationalSource(kind string, db *gorm.DB, opts Options) *RelationalSource {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &RelationalSource{kind: kind, db: db, maxRows: opts.MaxRows, log: opts.Log}
}

func (s *RelationalSource) Kind() string     { return s.kind }
func (s *RelationalSource) Language() string { return "SQL" }

func (s *RelationalSource) Close() error {
	return sqldb.Close(s.db)
}

var (
	readOnlyLead = map[string]bool{"SELECT": true, "WITH": true, "EXPLAIN": true, "PRAGMA": true, "SHOW": true, "DESCRIBE": true, "DESC": true}
	writeWords   = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|ATTACH|DETACH|VACUUM|MERGE)\b`)
)

// CheckReadOnly accepts a single read statement.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, "; \n\t"))
	if q == "" {
		return ErrEmptyQuery
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}
	lead := strings.ToUpper(strings.Fields(q)[0])
	if !readOnlyLead[lead] {
		return fmt.Errorf("%w: statement starts with %s", ErrUnsafeQuery, lead)
	}
	if m := writeWords.FindString(q); m != "" {
		return fmt.Errorf("%w: contains %s", ErrUnsafeQuery, strings.ToUpper(m))
	}
	return nil
}

func (s *RelationalSource) Execute(ctx context.Context, query string) (Result, error) {
	if err := CheckReadOnly(query); err != nil {
		return Result{}, err
	}
	query = strings.TrimRight(strings.TrimSpace(query), "; \n\t")

	rows, err := s.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return Result{}, fmt.Errorf("sql error: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns failed: %w", err)
	}
	res := Result{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		if len(res.Rows) >= s.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan row failed: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalizeSQLValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("sql error: %w", err)
	}
	return res, nil
}

func normalizeSQLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func (s *RelationalSource) Describe(ctx context.Context) (Schema, error) {
	db := s.db.WithContext(ctx)
	tables, err := db.Migrator().GetTables()
	if err != nil {
		return Schema{}, fmt.Errorf("list tables failed: %w", err)
	}
	schema := Schema{Kind: s.kind}
	for _, table := range tables {
		if strings.HasPrefix(table, "sqlite_") {
			continue
		}
		ts := TableSchema{Name: table}
		colTypes, err := db.Migrator().ColumnTypes(table)
		if err != nil {
			return Schema{}, fmt.Errorf("read columns of %s failed: %w", table, err)
		}
		// samples and counts are optional
		var samples []map[string]interface{}
		if err := db.Table(table).Limit(3).Find(&samples).Error; err != nil {
			s.log.Warn("sample rows failed", "table", table, "err", err)
			samples = nil
		}
		if err := db.Table(table).Count(&ts.RowCount).Error; err != nil {
			s.log.Warn("count rows failed", "table", table, "err", err)
			ts.RowCount = 0
		}

		for _, ct := range colTypes {
			col := ColumnSchema{Name: ct.Name(), Type: ct.DatabaseTypeName()}
			if nullable, ok := ct.Nullable(); ok {
				col.Nullable = nullable
			}
			if pk, ok := ct.PrimaryKey(); ok {
				col.PrimaryKey = pk
			}
			for _, row := range samples {
				if v, ok := row[ct.Name()]; ok && v != nil {
					col.SampleValues = append(col.SampleValues, FormatValue(normalizeSQLValue(v)))
				}
			}
			ts.Columns = append(ts.Columns, col)
		}
		schema.Tables = append(schema.Tables, ts)
	}
	return schema, nil
}
