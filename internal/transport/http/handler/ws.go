package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ragchat/internal/app"
	"ragchat/internal/platform/logger"
	"ragchat/internal/transport/http/response"
)

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 25 * time.Second
)

// ChatSocketHandler serves one conversation per websocket connection.
type ChatSocketHandler struct {
	conversations *app.ConversationService
	upgrader      websocket.Upgrader
	log           *logger.Logger
}

func NewChatSocketHandler(conversations *app.ConversationService, log *logger.Logger) *ChatSocketHandler {
	return &ChatSocketHandler{
		conversations: conversations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *ChatSocketHandler) Serve(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	threadID, ok := idParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid thread id")
		return
	}

	sess, err := h.conversations.Open(c.Request.Context(), threadID, userID)
	if err != nil {
		if errors.Is(err, app.ErrThreadNotFound) || errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusNotFound, response.CodeThreadNotFound, "thread not found")
			return
		}
		h.log.Error("open conversation failed", "thread_id", threadID, "err", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "open conversation failed")
		return
	}
	defer sess.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log := h.log.With("conn_id", uuid.NewString(), "thread_id", threadID, "user_id", userID)
	log.Info("conversation connected")

	// hijacked connections do not cancel the request context on close
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &socketWriter{conn: conn}
	go w.keepAlive(ctx)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "err", err)
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := sess.Handle(ctx, data, w.send); err != nil {
			log.Warn("client went away mid-turn", "err", err)
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
	log.Info("conversation disconnected")
}

// socketWriter serializes frame writes; gorilla allows one concurrent
// writer per connection.
type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *socketWriter) send(frame app.Outbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(frame)
}

func (w *socketWriter) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
