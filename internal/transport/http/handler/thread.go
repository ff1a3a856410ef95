package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type ThreadHandler struct {
	threads *app.ThreadService
}

func NewThreadHandler(threads *app.ThreadService) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

// Messages returns the thread history, oldest-first.
func (h *ThreadHandler) Messages(c *gin.Context) {
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
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	messages, err := h.threads.Messages(c.Request.Context(), userID, threadID, limit)
	if err != nil {
		writeThreadError(c, err, "get history failed")
		return
	}
	response.OK(c, gin.H{"messages": messages})
}

func (h *ThreadHandler) Delete(c *gin.Context) {
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
	if err := h.threads.Delete(c.Request.Context(), userID, threadID); err != nil {
		writeThreadError(c, err, "delete thread failed")
		return
	}
	response.OK(c, gin.H{"deleted": threadID})
}

func writeThreadError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrThreadNotFound):
		response.Error(c, http.StatusNotFound, response.CodeThreadNotFound, "thread not found")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
