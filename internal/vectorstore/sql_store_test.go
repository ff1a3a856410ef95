package vectorstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:vectorstore_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSQLStoreUpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := NewSQLStore(newTestDB(t))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if ok, err := s.Exists(ctx, "threads/1"); err != nil || ok {
		t.Fatalf("empty store should not exist: ok=%v err=%v", ok, err)
	}

	records := []Record{
		{ID: "4_0", DocumentID: 4, Text: "paris", Embedding: unitAt(0.9)},
		{ID: "4_1", DocumentID: 4, Text: "lyon", Embedding: unitAt(0.4)},
		{ID: "5_0", DocumentID: 5, Text: "berlin", Embedding: unitAt(0.1)},
	}
	if err := s.Upsert(ctx, "threads/1", records); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// re-upserting the same ids replaces text instead of duplicating rows
	records[1].Text = "lyon updated"
	if err := s.Upsert(ctx, "threads/1", records[1:2]); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if err := s.Upsert(ctx, "threads/2", records[:1]); err != nil {
		t.Fatalf("upsert other loc: %v", err)
	}

	got, err := s.Search(ctx, "threads/1", []float32{1, 0}, 0.3, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != "4_0" || got[1].Text != "lyon updated" {
		t.Fatalf("unexpected search result: %+v", got)
	}

	if err := s.DeleteDocument(ctx, "threads/1", 4); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	got, _ = s.Search(ctx, "threads/1", []float32{1, 0}, 0, 5)
	if len(got) != 1 || got[0].ID != "5_0" {
		t.Fatalf("document chunks not deleted: %+v", got)
	}

	locs, err := s.ListLocs(ctx)
	if err != nil || len(locs) != 2 {
		t.Fatalf("want 2 locs, got %v (err=%v)", locs, err)
	}
	if err := s.DeleteLoc(ctx, "threads/2"); err != nil {
		t.Fatalf("delete loc: %v", err)
	}
	if ok, _ := s.Exists(ctx, "threads/2"); ok {
		t.Fatal("deleted loc still exists")
	}
}
