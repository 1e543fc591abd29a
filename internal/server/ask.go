package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tutorloop/tutorloop/internal/answers"
	"github.com/tutorloop/tutorloop/internal/generation"
	"github.com/tutorloop/tutorloop/internal/retrieval"
	"github.com/tutorloop/tutorloop/internal/telemetry"
	"github.com/tutorloop/tutorloop/models"
)

// AskHandler answers student questions end to end and stores the
// successful ones.
type AskHandler struct {
	Retriever *retrieval.Retriever
	Ranker    retrieval.CurriculumRanker
	Orch      *generation.Orchestrator
	Answers   *answers.Service
	Threshold float64
	TopK      int
	Logger    *log.Logger
}

type askRequest struct {
	Query    string                    `json:"query"`
	Grade    int                       `json:"grade"`
	Syllabus string                    `json:"syllabus"`
	Subject  string                    `json:"subject"`
	History  []models.ConversationTurn `json:"history"`
}

type askResponse struct {
	Answer      string      `json:"answer"`
	Sources     []SourceRef `json:"sources"`
	Confidence  float64     `json:"confidence"`
	IsUncertain bool        `json:"is_uncertain"`
	Origin      string      `json:"origin,omitempty"`
	ResponseID  string      `json:"response_id,omitempty"`
	BlockID     string      `json:"block_id,omitempty"`
}

func (h *AskHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/ask", withAuth(h.ask, secret))
}

func (h *AskHandler) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	syllabus, err := models.ParseSyllabus(req.Syllabus)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p := &pipeline{
		Retriever: h.Retriever,
		Ranker:    h.Ranker,
		Orch:      h.Orch,
		Threshold: h.Threshold,
		TopK:      h.TopK,
		Logger:    h.Logger,
	}
	res, err := p.run(c.Request().Context(), req.Query, req.Grade, syllabus, req.Subject, req.History)
	if err != nil {
		telemetry.QueriesTotal.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, "could not answer the question")
	}

	out := askResponse{
		Answer:      res.Answer,
		Sources:     res.Sources,
		Confidence:  res.Confidence,
		IsUncertain: res.Uncertain,
		Origin:      string(res.Origin),
	}
	if res.Uncertain {
		telemetry.QueriesTotal.WithLabelValues("uncertain").Inc()
		return c.JSON(http.StatusOK, out)
	}

	userID, _ := c.Get("user_id").(string)
	stored, err := h.Answers.CreateResponse(c.Request().Context(), userID, req.Query, res.Answer, res.MetaText)
	if err != nil {
		h.Logger.Printf("store response failed: %v", err)
		telemetry.QueriesTotal.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store the answer")
	}
	out.ResponseID = stored.ID
	if len(stored.Blocks) > 0 {
		out.BlockID = stored.Blocks[0].ID
	}
	telemetry.QueriesTotal.WithLabelValues("answered").Inc()
	return c.JSON(http.StatusOK, out)
}
