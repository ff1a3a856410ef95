package structured

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/ai"
)

// replyModel answers Complete calls from a fixed list, repeating the last.
type replyModel struct {
	replies []string
	prompts [][]ai.ChatMessage
}

func (m *replyModel) Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerationOptions) (string, error) {
	m.prompts = append(m.prompts, messages)
	i := len(m.prompts) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

func (m *replyModel) StreamComplete(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerationOptions, onChunk func(string) error) error {
	return fmt.Errorf("not used")
}

func (m *replyModel) lastUserPrompt() string {
	msgs := m.prompts[len(m.prompts)-1]
	return msgs[len(msgs)-1].Content
}

var dbSeq atomic.Int64

func customersDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:structured_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Exec(`CREATE TABLE Customers (id INTEGER PRIMARY KEY, name TEXT, country TEXT)`).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 1; i <= 10; i++ {
		country := "France"
		if i%2 == 0 {
			country = "Germany"
		}
		if err := db.Exec(`INSERT INTO Customers (id, name, country) VALUES (?, ?, ?)`, i, fmt.Sprintf("customer %d", i), country).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return db
}

func TestEngineCountOnSQLite(t *testing.T) {
	src := NewRelationalSource(KindSQLite, customersDB(t), Options{MaxRows: 100})
	model := &replyModel{replies: []string{"```sql\nSELECT COUNT(*) FROM Customers\n```"}}
	eng := NewEngine(model, EngineOptions{}, nil)

	out := eng.Answer(context.Background(), src, Request{Question: "How many customers are there?"})
	if !out.OK || out.Attempts != 1 {
		t.Fatalf("want success on first attempt, got %+v", out)
	}
	if out.Context != "RESULT: 10" {
		t.Fatalf("want RESULT: 10, got %q", out.Context)
	}
	if out.Query != "SELECT COUNT(*) FROM Customers" {
		t.Fatalf("code fence not stripped: %q", out.Query)
	}
}

func TestEngineStopsAfterMaxRetries(t *testing.T) {
	src := NewRelationalSource(KindSQLite, customersDB(t), Options{})
	model := &replyModel{replies: []string{"DELETE FROM Customers"}}
	eng := NewEngine(model, EngineOptions{MaxRetries: 3}, nil)

	out := eng.Answer(context.Background(), src, Request{Question: "remove everyone"})
	if len(model.prompts) != 3 {
		t.Fatalf("want exactly 3 generation calls, got %d", len(model.prompts))
	}
	if out.OK || out.Attempts != 3 {
		t.Fatalf("want failed outcome after 3 attempts, got %+v", out)
	}
	if !strings.HasPrefix(out.Context, "QUERY FAILED after 3 attempts: ") {
		t.Fatalf("unexpected failure context %q", out.Context)
	}
	// the previous error is fed back verbatim
	if !strings.Contains(model.lastUserPrompt(), "not read-only") {
		t.Fatalf("previous error missing from prompt: %q", model.lastUserPrompt())
	}
}

func TestEngineRecoversFromSQLError(t *testing.T) {
	src := NewRelationalSource(KindSQLite, customersDB(t), Options{})
	model := &replyModel{replies: []string{
		"SELECT COUNT(*) FROM Clients",
		"SELECT name, country FROM Customers WHERE country = 'France' ORDER BY id",
	}}
	out := NewEngine(model, EngineOptions{}, nil).Answer(context.Background(), src, Request{Question: "French customers?"})
	if !out.OK || out.Attempts != 2 {
		t.Fatalf("want success on second attempt, got %+v", out)
	}
	if !strings.Contains(model.lastUserPrompt(), "no such table") {
		t.Fatalf("sql error not injected: %q", model.lastUserPrompt())
	}
	if !strings.HasPrefix(out.Context, "Query Results:\nname | country\n") || !strings.Contains(out.Context, "customer 9 | France") {
		t.Fatalf("unexpected table: %q", out.Context)
	}
}

func TestEngineInspectsFramesAfterEmptyResult(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sales.csv")
	data := "Country,Amount\nFrance,10\nFrance,5\nSpain,7\n"
	if err := os.WriteFile(csvPath, []byte(data), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	src, err := OpenFrames([]string{csvPath}, Options{})
	if err != nil {
		t.Fatalf("open frames: %v", err)
	}
	model := &replyModel{replies: []string{
		`result = len(filter(dfs["sales"], .Country == "france"))`,
		`result = len(filter(dfs["sales"], .Country == "France"))`,
	}}
	out := NewEngine(model, EngineOptions{MaxRetries: 3}, nil).Answer(context.Background(), src, Request{Question: "how many sales in france"})

	if len(model.prompts) != 2 {
		t.Fatalf("inspection must not be a generation call: got %d calls", len(model.prompts))
	}
	if !strings.Contains(model.lastUserPrompt(), `Column "Country" in sales has 2 distinct values, e.g.: France, Spain`) {
		t.Fatalf("inspection values missing from prompt: %q", model.lastUserPrompt())
	}
	want := "**RESULT: 2**\n\nThis is the exact answer from the Excel/CSV data."
	if !out.OK || out.Context != want {
		t.Fatalf("want %q, got %+v", want, out)
	}
}

func TestEngineEmptyResultOnLastAttempt(t *testing.T) {
	src := NewRelationalSource(KindSQLite, customersDB(t), Options{})
	model := &replyModel{replies: []string{"SELECT name FROM Customers WHERE country = 'Italy'"}}
	out := NewEngine(model, EngineOptions{MaxRetries: 2}, nil).Answer(context.Background(), src, Request{Question: "Italian customers?"})
	if !out.OK || out.Attempts != 2 || out.Context != NoResults {
		t.Fatalf("want %q after 2 attempts, got %+v", NoResults, out)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```sql\nSELECT 1\n```":                  "SELECT 1",
		"```\nresult = len(dfs[\"a\"])\n```":     `result = len(dfs["a"])`,
		"Here you go:\n```json\n{\"a\":1}\n```":  `{"a":1}`,
		"SQL: SELECT 2":                          "SELECT 2",
		"  SELECT 3  ":                           "SELECT 3",
		"```result = 1```":                       "result = 1",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
