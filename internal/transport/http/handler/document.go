package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type DocumentHandler struct {
	index *app.IndexService
}

type RegisterDocumentRequest struct {
	Name          string `json:"name" binding:"max=256"`
	StoragePath   string `json:"storage_path" binding:"required"`
	Public        bool   `json:"public"`
	CollectionIDs []uint `json:"collection_ids"`
}

type IndexDocumentRequest struct {
	StoreLoc string `json:"store_loc"`
}

func NewDocumentHandler(index *app.IndexService) *DocumentHandler {
	return &DocumentHandler{index: index}
}

func (h *DocumentHandler) Register(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req RegisterDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	doc, err := h.index.Register(c.Request.Context(), app.RegisterInput{
		UserID:        userID,
		Name:          req.Name,
		StoragePath:   req.StoragePath,
		Public:        req.Public,
		CollectionIDs: req.CollectionIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDuplicateDocument):
			c.JSON(http.StatusConflict, response.APIResponse{Code: response.CodeDuplicateDocument, Message: err.Error(), Data: doc})
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrPathNotAllowed):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register document failed")
		}
		return
	}
	response.OK(c, doc)
}

// Index queues embedding of a document. Without store_loc the document is
// indexed into the caller's global collection.
func (h *DocumentHandler) Index(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, ok := idParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	var req IndexDocumentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}
	loc := req.StoreLoc
	if loc == "" {
		loc = app.AllDocsLoc(userID)
	}

	job, err := h.index.Enqueue(c.Request.Context(), userID, docID, loc)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
		case errors.Is(err, app.ErrLocForbidden):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrJobEnqueue):
			response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "index queue unavailable")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "enqueue index job failed")
		}
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Code: response.CodeOK, Message: "queued", Data: job})
}

func (h *DocumentHandler) Progress(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid job id")
		return
	}
	p, err := h.index.Progress(c.Request.Context(), jobID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read progress failed")
		return
	}
	if p == nil {
		response.Error(c, http.StatusNotFound, response.CodeJobNotFound, "job not found")
		return
	}
	response.OK(c, p)
}
