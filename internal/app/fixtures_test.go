package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&model.User{}, &model.Collection{}, &model.Document{}, &model.Thread{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// keyedEmbedder maps text to a 2-d unit vector: texts mentioning France
// point along x, everything else along y.
type keyedEmbedder struct {
	calls atomic.Int64
}

func (e *keyedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if strings.Contains(strings.ToLower(text), "france") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e *keyedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fakeModel answers Complete from replies (repeating the last) and streams
// chunks. Every call is recorded.
type fakeModel struct {
	mu         sync.Mutex
	replies    []string
	chunks     []string
	completes  [][]ai.ChatMessage
	streams    [][]ai.ChatMessage
	streamOpts []ai.GenerationOptions
}

func (m *fakeModel) Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerationOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes = append(m.completes, messages)
	if len(m.replies) == 0 {
		return "", fmt.Errorf("no reply scripted")
	}
	i := len(m.completes) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

func (m *fakeModel) StreamComplete(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerationOptions, onChunk func(string) error) error {
	m.mu.Lock()
	m.streams = append(m.streams, messages)
	m.streamOpts = append(m.streamOpts, opts)
	chunks := append([]string(nil), m.chunks...)
	m.mu.Unlock()
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeModel) streamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *fakeModel) lastStream() []ai.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[uint][]model.Message
	invalidated map[uint]int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[uint][]model.Message{}, invalidated: map[uint]int{}}
}

func (c *memoryCache) Get(ctx context.Context, threadID uint) ([]model.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[threadID]
	return m, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, threadID uint, messages []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[threadID] = messages
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, threadID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, threadID)
	c.invalidated[threadID]++
	return nil
}

func (c *memoryCache) Forget(ctx context.Context, threadID uint) error {
	return c.Invalidate(ctx, threadID)
}

type memoryProgress struct {
	mu   sync.Mutex
	seen []cache.Progress
}

func (p *memoryProgress) Set(ctx context.Context, pr cache.Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, pr)
	return nil
}

func (p *memoryProgress) Get(ctx context.Context, jobID string) (*cache.Progress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.seen) - 1; i >= 0; i-- {
		if p.seen[i].JobID == jobID {
			pr := p.seen[i]
			return &pr, nil
		}
	}
	return nil, nil
}

func (p *memoryProgress) Clear(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.seen[:0]
	for _, pr := range p.seen {
		if pr.JobID != jobID {
			kept = append(kept, pr)
		}
	}
	p.seen = kept
	return nil
}

// harness wires the services over one sqlite database.
type harness struct {
	db          *gorm.DB
	threads     *repository.ThreadRepository
	users       *repository.UserRepository
	messages    *repository.MessageRepository
	collections *repository.CollectionRepository
	documents   *repository.DocumentRepository
	store       *vectorstore.SQLStore
	embedder    *keyedEmbedder
	model       *fakeModel
	cache       *memoryCache
	pipeline    config.PipelineConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	store := vectorstore.NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	p := config.DefaultPipeline()
	p.KeywordExtraction = false
	return &harness{
		db:          db,
		threads:     repository.NewThreadRepository(db),
		users:       repository.NewUserRepository(db),
		messages:    repository.NewMessageRepository(db),
		collections: repository.NewCollectionRepository(db),
		documents:   repository.NewDocumentRepository(db),
		store:       store,
		embedder:    &keyedEmbedder{},
		model:       &fakeModel{},
		cache:       newMemoryCache(),
		pipeline:    p,
	}
}

func (h *harness) threadService() *ThreadService {
	return NewThreadService(h.threads, h.messages, h.collections, h.store, h.cache, nil)
}

func (h *harness) conversation(open SourceOpener) *ConversationService {
	retriever := NewRetriever(h.embedder, h.store, h.documents, h.model, nil, 0, h.pipeline, nil)
	return NewConversationService(ConversationDeps{
		Threads:   h.threads,
		Users:     h.users,
		Messages:  h.messages,
		History:   h.threadService(),
		Retriever: retriever,
		Open:      open,
		Model:     h.model,
		Cache:     h.cache,
		Pipeline:  h.pipeline,
	})
}

func (h *harness) seedUser(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name}
	if err := h.db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (h *harness) seedThread(t *testing.T, userID uint, loc string) *model.Thread {
	t.Helper()
	th := &model.Thread{UserID: userID, Name: "test", Loc: loc}
	if err := h.threads.Create(context.Background(), th); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return th
}

// recorder collects emitted frames.
type recorder struct {
	frames []Outbound
}

func (r *recorder) emit(o Outbound) error {
	r.frames = append(r.frames, o)
	return nil
}

func (r *recorder) modes() []string {
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Mode
	}
	return out
}

func (r *recorder) text() string {
	var b strings.Builder
	for _, f := range r.frames {
		if f.Mode == OutNew || f.Mode == OutContinue {
			b.WriteString(f.Message)
		}
	}
	return b.String()
}

func (r *recorder) last() Outbound {
	return r.frames[len(r.frames)-1]
}
