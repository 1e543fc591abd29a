package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/tutorloop/tutorloop/config"
	"github.com/tutorloop/tutorloop/models"
)

func cand(id string, raw float64, grade int, syllabus models.Syllabus) models.RetrievalCandidate {
	return models.RetrievalCandidate{
		Chunk:    models.Chunk{ID: id, Grade: grade, Syllabus: syllabus},
		RawScore: raw,
	}
}

func TestRankBoostsOnlyFullCurriculumMatch(t *testing.T) {
	r := CurriculumRanker{Boost: 0.15}
	candidates := []models.RetrievalCandidate{
		cand("match", 0.70, 8, models.SyllabusCBSE),
		cand("grade-only", 0.70, 8, models.SyllabusICSE),
		cand("syllabus-only", 0.70, 9, models.SyllabusCBSE),
		cand("neither", 0.70, 9, models.SyllabusICSE),
	}

	ranked, confidence := r.Rank(candidates, 8, models.SyllabusCBSE)
	if ranked[0].Chunk.ID != "match" {
		t.Fatalf("expected full match to rank first, got %s", ranked[0].Chunk.ID)
	}
	want := 0.70 * 1.15
	if math.Abs(ranked[0].BoostedScore-want) > 1e-9 {
		t.Fatalf("expected boosted score %.4f, got %.4f", want, ranked[0].BoostedScore)
	}
	if math.Abs(confidence-want) > 1e-9 {
		t.Fatalf("expected confidence %.4f, got %.4f", want, confidence)
	}
	for _, c := range ranked[1:] {
		if c.BoostedScore != c.RawScore {
			t.Fatalf("expected %s to stay unboosted, got %.4f", c.Chunk.ID, c.BoostedScore)
		}
	}
}

func TestRankBoostCanReorderAboveRawWinner(t *testing.T) {
	r := CurriculumRanker{Boost: 0.15}
	candidates := []models.RetrievalCandidate{
		cand("raw-winner", 0.80, 9, models.SyllabusICSE),
		cand("curriculum", 0.75, 8, models.SyllabusCBSE),
	}

	ranked, _ := r.Rank(candidates, 8, models.SyllabusCBSE)
	if ranked[0].Chunk.ID != "curriculum" {
		t.Fatalf("expected boosted candidate to overtake, got %s", ranked[0].Chunk.ID)
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("ranks not reassigned: %d, %d", ranked[0].Rank, ranked[1].Rank)
	}
}

func TestRankTiesKeepRetrievalOrder(t *testing.T) {
	r := CurriculumRanker{Boost: 0.15}
	candidates := []models.RetrievalCandidate{
		cand("first", 0.64, 9, models.SyllabusICSE),
		cand("second", 0.64, 9, models.SyllabusICSE),
		cand("third", 0.64, 9, models.SyllabusICSE),
	}

	ranked, _ := r.Rank(candidates, 8, models.SyllabusCBSE)
	for i, id := range []string{"first", "second", "third"} {
		if ranked[i].Chunk.ID != id {
			t.Fatalf("tie order broken at %d: got %s", i, ranked[i].Chunk.ID)
		}
	}
}

func TestRankEmptyInput(t *testing.T) {
	r := CurriculumRanker{Boost: 0.15}
	ranked, confidence := r.Rank(nil, 8, models.SyllabusCBSE)
	if ranked != nil {
		t.Fatalf("expected nil ranked slice, got %v", ranked)
	}
	if confidence != 0 {
		t.Fatalf("expected zero confidence, got %.4f", confidence)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	r := CurriculumRanker{Boost: 0.15}
	candidates := []models.RetrievalCandidate{
		cand("a", 0.50, 8, models.SyllabusCBSE),
		cand("b", 0.90, 9, models.SyllabusICSE),
	}
	r.Rank(candidates, 8, models.SyllabusCBSE)
	if candidates[0].Chunk.ID != "a" || candidates[0].BoostedScore != 0 {
		t.Fatalf("input slice mutated: %+v", candidates[0])
	}
}

func TestShouldGenerateBoundary(t *testing.T) {
	if !ShouldGenerate(0.6, 0.6) {
		t.Fatalf("confidence equal to threshold must generate")
	}
	if ShouldGenerate(0.5999, 0.6) {
		t.Fatalf("confidence below threshold must not generate")
	}
	if !ShouldGenerate(0.9, 0.6) {
		t.Fatalf("confidence above threshold must generate")
	}
}

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s stubEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return s.vectors, s.err
}

type stubSearcher struct {
	got    []float32
	result []models.RetrievalCandidate
}

func (s *stubSearcher) SearchChunks(ctx context.Context, vector []float32, filters models.ChunkFilters, topK int, floor float64) ([]models.RetrievalCandidate, error) {
	s.got = vector
	return s.result, nil
}

func TestRetrieveAssignsRanksAndPassesVector(t *testing.T) {
	searcher := &stubSearcher{result: []models.RetrievalCandidate{
		cand("x", 0.8, 8, models.SyllabusCBSE),
		cand("y", 0.7, 8, models.SyllabusCBSE),
	}}
	r := NewRetriever(stubEmbedder{vectors: [][]float32{{0.1, 0.2}}}, searcher, config.RetrievalConfig{TopK: 5, FloorSimilarity: 0.3})

	out, err := r.Retrieve(context.Background(), "what is force?", models.ChunkFilters{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(searcher.got) != 2 {
		t.Fatalf("expected query vector forwarded to search, got %v", searcher.got)
	}
	if out[0].Rank != 1 || out[1].Rank != 2 {
		t.Fatalf("ranks not assigned: %d, %d", out[0].Rank, out[1].Rank)
	}
}

func TestRetrieveEmptyIndexIsNotAnError(t *testing.T) {
	r := NewRetriever(stubEmbedder{vectors: [][]float32{{0.1}}}, &stubSearcher{}, config.RetrievalConfig{TopK: 5})
	out, err := r.Retrieve(context.Background(), "anything", models.ChunkFilters{}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no candidates, got %d", len(out))
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := NewRetriever(stubEmbedder{vectors: [][]float32{{0.1}}}, &stubSearcher{}, config.RetrievalConfig{TopK: 5})
	if _, err := r.Retrieve(context.Background(), "   ", models.ChunkFilters{}, 3); err == nil {
		t.Fatalf("expected error for blank query")
	}
}
