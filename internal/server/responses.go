package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tutorloop/tutorloop/internal/answers"
	"github.com/tutorloop/tutorloop/internal/generation"
	"github.com/tutorloop/tutorloop/internal/retrieval"
	"github.com/tutorloop/tutorloop/models"
)

// ResponsesHandler serves stored explanations and drives per-block
// regeneration.
type ResponsesHandler struct {
	Answers   *answers.Service
	Retriever *retrieval.Retriever
	Ranker    retrieval.CurriculumRanker
	Orch      *generation.Orchestrator
	Threshold float64
	TopK      int
}

type addBlockRequest struct {
	Topic       string `json:"topic"`
	ContentText string `json:"content_text"`
	MetaText    string `json:"meta_text"`
}

type regenerateRequest struct {
	Query    string `json:"query"`
	Grade    int    `json:"grade"`
	Syllabus string `json:"syllabus"`
	Subject  string `json:"subject"`
}

type regenerateResponse struct {
	Block       *models.Block `json:"block,omitempty"`
	Answer      string        `json:"answer,omitempty"`
	Sources     []SourceRef   `json:"sources"`
	Confidence  float64       `json:"confidence"`
	IsUncertain bool          `json:"is_uncertain"`
	Origin      string        `json:"origin,omitempty"`
}

func (h *ResponsesHandler) Register(g *echo.Group, secret []byte) {
	g.GET("/:id", withAuth(h.getResponse, secret))
	g.GET("/:id/blocks/:blockID", withAuth(h.getBlock, secret))
	g.POST("/:id/blocks", withAuth(h.addBlock, secret))
	g.POST("/:id/blocks/:blockID/regenerate", withAuth(h.regenerateBlock, secret))
}

func (h *ResponsesHandler) getResponse(c echo.Context) error {
	resp, err := h.Answers.GetResponse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ResponsesHandler) getBlock(c echo.Context) error {
	block, err := h.Answers.GetBlock(c.Request().Context(), c.Param("id"), c.Param("blockID"))
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, block)
}

func (h *ResponsesHandler) addBlock(c echo.Context) error {
	var req addBlockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ContentText) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_text is required")
	}
	block, err := h.Answers.AddBlock(c.Request().Context(), c.Param("id"), req.Topic, req.ContentText, req.MetaText)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusCreated, block)
}

// regenerateBlock reruns the full question flow for one block. When
// evidence no longer clears the gate the stored block stays untouched
// and only the hedge goes back to the caller.
func (h *ResponsesHandler) regenerateBlock(c echo.Context) error {
	ctx := c.Request().Context()
	responseID := c.Param("id")
	blockID := c.Param("blockID")

	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	syllabus, err := models.ParseSyllabus(req.Syllabus)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	block, err := h.Answers.GetBlock(ctx, responseID, blockID)
	if err != nil {
		return notFoundOr500(err)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = block.Topic
	}
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required for a block without a topic")
	}

	p := &pipeline{
		Retriever: h.Retriever,
		Ranker:    h.Ranker,
		Orch:      h.Orch,
		Threshold: h.Threshold,
		TopK:      h.TopK,
	}
	res, err := p.run(ctx, query, req.Grade, syllabus, req.Subject, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not regenerate the block")
	}
	if res.Uncertain {
		return c.JSON(http.StatusOK, regenerateResponse{
			Answer:      res.Answer,
			Sources:     res.Sources,
			Confidence:  res.Confidence,
			IsUncertain: true,
		})
	}

	updated, err := h.Answers.RegenerateBlock(ctx, responseID, blockID, res.Answer, res.MetaText)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, regenerateResponse{
		Block:      &updated,
		Sources:    res.Sources,
		Confidence: res.Confidence,
		Origin:     string(res.Origin),
	})
}

func notFoundOr500(err error) error {
	if errors.Is(err, models.ErrResponseNotFound) || errors.Is(err, models.ErrBlockNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}
