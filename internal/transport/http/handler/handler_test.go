package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/ai"
	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/pkg/jwtutil"
	"ragchat/internal/platform/logger"
	"ragchat/internal/repository"
	"ragchat/internal/transport/http/middleware"
	"ragchat/internal/vectorstore"
)

const testSecret = "handler-secret"

type echoModel struct{}

func (echoModel) Complete(ctx context.Context, msgs []ai.ChatMessage, _ ai.GenerationOptions) (string, error) {
	return "", fmt.Errorf("not used")
}

func (echoModel) StreamComplete(ctx context.Context, msgs []ai.ChatMessage, _ ai.GenerationOptions, onChunk func(string) error) error {
	q := msgs[len(msgs)-1].Content
	for _, part := range []string{"you said: ", q} {
		if err := onChunk(part); err != nil {
			return err
		}
	}
	return nil
}

var dbSeq atomic.Int64

type fixture struct {
	router   *gin.Engine
	messages *repository.MessageRepository
	thread   *model.Thread
	token    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:handler_%d?mode=memory&cache=shared", dbSeq.Add(1))
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
	store := vectorstore.NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}

	user := &model.User{Username: "alice"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	thread := &model.Thread{UserID: user.ID, Name: "t"}
	if err := db.Create(thread).Error; err != nil {
		t.Fatalf("create thread: %v", err)
	}

	threads := repository.NewThreadRepository(db)
	messages := repository.NewMessageRepository(db)
	collections := repository.NewCollectionRepository(db)
	threadSvc := app.NewThreadService(threads, messages, collections, store, nil, nil)
	conv := app.NewConversationService(app.ConversationDeps{
		Threads:  threads,
		Users:    repository.NewUserRepository(db),
		Messages: messages,
		History:  threadSvc,
		Model:    echoModel{},
		Pipeline: config.DefaultPipeline(),
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/api/v1", middleware.AuthJWT(testSecret))
	v1.GET("/threads/:id/ws", NewChatSocketHandler(conv, logger.Nop()).Serve)
	th := NewThreadHandler(threadSvc)
	v1.GET("/threads/:id/messages", th.Messages)
	v1.DELETE("/threads/:id", th.Delete)

	token, err := jwtutil.GenerateToken(testSecret, user.ID, user.Username, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &fixture{router: r, messages: messages, thread: thread, token: token}
}

func TestChatSocketStreamsAndPersists(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := fmt.Sprintf("ws%s/api/v1/threads/%d/ws?token=%s", strings.TrimPrefix(srv.URL, "http"), f.thread.ID, f.token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"encrypted_message": "tell me a story"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var text strings.Builder
	var last app.Outbound
	for {
		var frame app.Outbound
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Mode == app.OutLast {
			last = frame
			break
		}
		if frame.Mode == app.OutError {
			t.Fatalf("error frame: %s", frame.Error)
		}
		if frame.Username != "alice" {
			t.Fatalf("frame username = %q", frame.Username)
		}
		text.WriteString(frame.Message)
	}
	if text.String() != "you said: tell me a story" {
		t.Fatalf("streamed = %q", text.String())
	}
	stored, err := f.messages.GetByIDAndThreadID(context.Background(), last.MessageID, f.thread.ID)
	if err != nil || stored == nil || stored.Content != text.String() {
		t.Fatalf("stored = %+v (err %v)", stored, err)
	}
}

func TestChatSocketRejectsUnknownThread(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/999/ws?token="+f.token, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestThreadHistoryAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range []string{"q", "a"} {
		if err := f.messages.Create(ctx, &model.Message{ThreadID: f.thread.ID, UserID: f.thread.UserID, Role: model.RoleUser, Content: c}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", f.thread.ID), nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d body %s", w.Code, w.Body.String())
	}
	var body struct {
		Data struct {
			Messages []model.Message `json:"messages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Messages) != 2 || body.Data.Messages[0].Content != "q" {
		t.Fatalf("messages = %+v", body.Data.Messages)
	}

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/threads/%d", f.thread.ID), nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d body %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", f.thread.ID), nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted thread status = %d", w.Code)
	}
}
