package server

import (
	"context"
	"log"
	"time"

	"github.com/tutorloop/tutorloop/internal/classifier"
	"github.com/tutorloop/tutorloop/internal/generation"
	"github.com/tutorloop/tutorloop/internal/retrieval"
	"github.com/tutorloop/tutorloop/internal/telemetry"
	"github.com/tutorloop/tutorloop/models"
)

// uncertaintyMessage is the hedge returned whenever retrieved evidence
// does not clear the gate. Retrieved chunks are deliberately withheld
// from both the message and the sources list in that case.
const uncertaintyMessage = "I'm not sure I have the right material to answer that well. Could you rephrase the question, or mention the chapter or topic it comes from?"

// SourceRef points a caller at one chunk that supported the answer.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Subject    string  `json:"subject"`
	Chapter    string  `json:"chapter"`
	Score      float64 `json:"score"`
}

// pipelineResult is the outcome of one retrieve-rank-gate-generate
// pass.
type pipelineResult struct {
	Answer     string
	MetaText   string
	Sources    []SourceRef
	Confidence float64
	Uncertain  bool
	Origin     generation.Origin
}

// pipeline runs the core question flow shared by the ask and
// regenerate endpoints.
type pipeline struct {
	Retriever *retrieval.Retriever
	Ranker    retrieval.CurriculumRanker
	Orch      *generation.Orchestrator
	Threshold float64
	TopK      int
	Logger    *log.Logger
}

func (p *pipeline) run(ctx context.Context, query string, grade int, syllabus models.Syllabus, subject string, history []models.ConversationTurn) (pipelineResult, error) {
	filters := models.ChunkFilters{Subject: subject}

	start := time.Now()
	candidates, err := p.Retriever.Retrieve(ctx, query, filters, p.TopK)
	telemetry.RetrievalSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return pipelineResult{}, err
	}

	ranked, confidence := p.Ranker.Rank(candidates, grade, syllabus)
	if !retrieval.ShouldGenerate(confidence, p.Threshold) {
		return pipelineResult{
			Answer:     uncertaintyMessage,
			Sources:    []SourceRef{},
			Confidence: confidence,
			Uncertain:  true,
		}, nil
	}

	req := models.GenerationRequest{
		Query:      query,
		Candidates: ranked,
		History:    history,
		Grade:      grade,
		Syllabus:   syllabus,
	}
	raw, origin, err := p.Orch.Generate(ctx, req)
	if err != nil {
		return pipelineResult{}, err
	}
	meta, content := classifier.Classify(raw)
	if content == "" && origin == generation.OriginModel {
		// All-meta output carries no substance; one regeneration
		// usually shakes it loose.
		telemetry.ClassifierDegenerateTotal.Inc()
		if p.Logger != nil {
			p.Logger.Printf("degenerate classification for query %q, regenerating", query)
		}
		raw, origin, err = p.Orch.Generate(ctx, req)
		if err != nil {
			return pipelineResult{}, err
		}
		meta, content = classifier.Classify(raw)
	}
	if content == "" {
		content = raw
		meta = ""
	}

	sources := make([]SourceRef, 0, len(ranked))
	for _, cand := range ranked {
		sources = append(sources, SourceRef{
			ChunkID:    cand.Chunk.ID,
			DocumentID: cand.Chunk.DocumentID,
			Subject:    cand.Chunk.Subject,
			Chapter:    cand.Chunk.Chapter,
			Score:      cand.BoostedScore,
		})
	}
	return pipelineResult{
		Answer:     content,
		MetaText:   meta,
		Sources:    sources,
		Confidence: confidence,
		Origin:     origin,
	}, nil
}
