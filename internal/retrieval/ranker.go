package retrieval

import (
	"sort"

	"github.com/tutorloop/tutorloop/models"
)

// CurriculumRanker re-scores retrieval candidates for the asker's
// curriculum. Boost is a fixed multiplicative bonus applied only when
// both grade and syllabus match.
type CurriculumRanker struct {
	Boost float64
}

// Rank boosts matching candidates, re-sorts by boosted score and
// returns the confidence for the query: the boosted score of the
// top-ranked candidate, or 0 when there are no candidates. Ties keep
// their original retrieval order (the sort is stable on purpose; the
// tie-break decides which chunk clears the gate).
//
// Top-1 confidence means one strong match suffices even amid many weak
// ones; an aggregate over top-k is a tunable policy behind the same
// contract.
func (cr CurriculumRanker) Rank(candidates []models.RetrievalCandidate, askerGrade int, askerSyllabus models.Syllabus) ([]models.RetrievalCandidate, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}
	ranked := make([]models.RetrievalCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].BoostedScore = ranked[i].RawScore
		if ranked[i].Chunk.Grade == askerGrade && ranked[i].Chunk.Syllabus == askerSyllabus {
			ranked[i].BoostedScore = ranked[i].RawScore * (1 + cr.Boost)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BoostedScore > ranked[j].BoostedScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, ranked[0].BoostedScore
}
