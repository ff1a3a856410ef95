package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type CollectionHandler struct {
	schema *app.SchemaService
}

func NewCollectionHandler(schema *app.SchemaService) *CollectionHandler {
	return &CollectionHandler{schema: schema}
}

// Reindex regenerates the schema analysis of a structured collection. On
// failure the stored analysis is kept and the error is only reported.
func (h *CollectionHandler) Reindex(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	collectionID, ok := idParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid collection id")
		return
	}

	analysis, err := h.schema.Reindex(c.Request.Context(), userID, collectionID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrCollectionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeCollectionNotFound, "collection not found")
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusBadGateway, response.CodeUnavailable, "schema analysis failed")
		}
		return
	}
	response.OK(c, gin.H{"schema_analysis": analysis})
}
