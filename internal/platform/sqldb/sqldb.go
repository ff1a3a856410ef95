package sqldb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	KindMySQL    = "mysql"
	KindPostgres = "postgresql"
	KindSQLite   = "sqlite"
)

var ErrUnsupportedKind = errors.New("unsupported database kind")

type Pool struct {
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	Quiet       bool
}

// AppPool is used for the application database.
var AppPool = Pool{MaxIdle: 10, MaxOpen: 50, MaxLifetime: time.Hour, MaxIdleTime: 30 * time.Minute}

// SourcePool is used for user-attached data sources.
var SourcePool = Pool{MaxIdle: 1, MaxOpen: 4, MaxLifetime: 10 * time.Minute, MaxIdleTime: time.Minute, Quiet: true}

// Open connects with the gorm dialector for kind and pings within 3s.
func Open(ctx context.Context, kind, dsn string, pool Pool) (*gorm.DB, error) {
	dialector, err := dialectorFor(kind, dsn)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{}
	if pool.Quiet {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", kind, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get %s sql db failed: %w", kind, err)
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s failed: %w", kind, err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(kind, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(kind) {
	case KindMySQL:
		return mysql.Open(MySQLDSN(dsn)), nil
	case KindPostgres, "postgres":
		return postgres.Open(dsn), nil
	case KindSQLite:
		return sqlite.Open(SQLitePath(dsn)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// MySQLDSN converts a mysql:// URL into the go-sql-driver form. Anything
// that is not a URL is returned unchanged.
func MySQLDSN(raw string) string {
	if !strings.HasPrefix(raw, "mysql://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	user := u.User.Username()
	pass, _ := u.User.Password()
	host := u.Host
	if u.Port() == "" {
		host += ":3306"
	}
	params := u.RawQuery
	if params == "" {
		params = "parseTime=true&charset=utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?%s", user, pass, host, strings.TrimPrefix(u.Path, "/"), params)
}

// SQLitePath strips a sqlite:/// scheme.
func SQLitePath(raw string) string {
	if strings.HasPrefix(raw, "sqlite:///") {
		return "/" + strings.TrimPrefix(raw, "sqlite:///")
	}
	return strings.TrimPrefix(raw, "sqlite://")
}
