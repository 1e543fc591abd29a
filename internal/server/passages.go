package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tutorloop/tutorloop/internal/index"
	"github.com/tutorloop/tutorloop/internal/store"
	"github.com/tutorloop/tutorloop/models"
)

// PassagesHandler manages the curriculum corpus: chunk ingestion,
// document removal, and the keyword search used by operators to check
// what a document contributed.
type PassagesHandler struct {
	Store *store.Store
	Index *index.KeywordIndex
}

type ingestRequest struct {
	Chunks []models.Chunk `json:"chunks"`
}

func (h *PassagesHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/documents/:id/chunks", withAuth(h.ingest, secret))
	g.DELETE("/documents/:id", withAuth(h.deleteDocument, secret))
	g.GET("/passages/search", withAuth(h.search, secret))
}

func (h *PassagesHandler) ingest(c echo.Context) error {
	documentID := c.Param("id")
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Chunks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chunks are required")
	}
	for i, ch := range req.Chunks {
		if strings.TrimSpace(ch.Text) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk text is required")
		}
		if len(ch.Embedding) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk embedding is required")
		}
		if _, err := models.ParseSyllabus(string(ch.Syllabus)); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req.Chunks[i].DocumentID = documentID
	}

	inserted, err := h.Store.InsertChunks(c.Request().Context(), documentID, req.Chunks)
	if err != nil {
		return err
	}
	for _, ch := range inserted {
		if err := h.Index.Add(ch.ID, ch.DocumentID, ch.Text, ch.Subject, ch.Chapter); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"document_id": documentID,
		"ingested":    len(inserted),
	})
}

func (h *PassagesHandler) deleteDocument(c echo.Context) error {
	documentID := c.Param("id")
	removed, err := h.Store.DeleteChunksByDocument(c.Request().Context(), documentID)
	if err != nil {
		return err
	}
	if err := h.Index.RemoveDocument(documentID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"document_id": documentID,
		"removed":     removed,
	})
}

func (h *PassagesHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	hits, err := h.Index.Search(q, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}
