package structured

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"ragchat/internal/platform/logger"
)

func TestDescribeLogsFailedSampling(t *testing.T) {
	db := customersDB(t)
	err := db.Callback().Query().Before("gorm:query").Register("test:fail_customers", func(tx *gorm.DB) {
		if tx.Statement.Table == "Customers" {
			_ = tx.AddError(errors.New("table locked"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	src := NewRelationalSource(KindSQLite, db, Options{Log: logger.FromZap(zap.New(core))})

	schema, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(schema.Tables) != 1 || len(schema.Tables[0].Columns) != 3 {
		t.Fatalf("schema = %+v", schema)
	}
	if got := schema.Tables[0].RowCount; got != 0 {
		t.Fatalf("row count = %d, want 0 when counting fails", got)
	}
	for _, msg := range []string{"sample rows failed", "count rows failed"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Fatalf("%q logged %d times", msg, len(entries))
		}
		if table, _ := entries[0].ContextMap()["table"].(string); table != "Customers" {
			t.Fatalf("%q context = %v", msg, entries[0].ContextMap())
		}
	}
}

func TestDescribeSamplesRows(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := NewRelationalSource(KindSQLite, customersDB(t), Options{Log: logger.FromZap(zap.New(core))})

	schema, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if schema.Tables[0].RowCount != 10 {
		t.Fatalf("row count = %d", schema.Tables[0].RowCount)
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected warnings: %v", logs.All())
	}
}
