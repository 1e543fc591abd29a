package retrieval

// ShouldGenerate is the uncertainty gate: evidence at or above the
// threshold proceeds to generation, anything below must produce an
// uncertainty response instead. Callers must not feed retrieved chunks
// to generation when the gate rejects: low-evidence queries are never
// answered as if well-supported.
func ShouldGenerate(confidence, threshold float64) bool {
	return confidence >= threshold
}
