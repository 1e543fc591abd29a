// Package index keeps an in-memory keyword index over ingested
// chunks. It backs the ops passage-search endpoint for curriculum
// editors and is entirely separate from the semantic retriever.
package index

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// Hit is one keyword match.
type Hit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Subject    string  `json:"subject"`
	Chapter    string  `json:"chapter"`
	Score      float64 `json:"score"`
}

type passageDoc struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Subject    string `json:"subject"`
	Chapter    string `json:"chapter"`
}

// KeywordIndex wraps a memory-only bleve index. Chunk membership per
// document is tracked so document deletion can drop every entry.
type KeywordIndex struct {
	mu    sync.Mutex
	idx   bleve.Index
	byDoc map[string][]string
}

func NewKeywordIndex() (*KeywordIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{idx: idx, byDoc: make(map[string][]string)}, nil
}

// Add indexes one chunk.
func (k *KeywordIndex) Add(chunkID, documentID, text, subject, chapter string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	doc := passageDoc{DocumentID: documentID, Text: text, Subject: subject, Chapter: chapter}
	if err := k.idx.Index(chunkID, doc); err != nil {
		return err
	}
	k.byDoc[documentID] = append(k.byDoc[documentID], chunkID)
	return nil
}

// RemoveDocument drops every chunk indexed for the document.
func (k *KeywordIndex) RemoveDocument(documentID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, chunkID := range k.byDoc[documentID] {
		if err := k.idx.Delete(chunkID); err != nil {
			return err
		}
	}
	delete(k.byDoc, documentID)
	return nil
}

// Search runs a keyword match query and returns up to limit hits.
func (k *KeywordIndex) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"document_id", "text", "subject", "chapter"}
	res, err := k.idx.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ChunkID: h.ID, Score: h.Score}
		if v, ok := h.Fields["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := h.Fields["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := h.Fields["subject"].(string); ok {
			hit.Subject = v
		}
		if v, ok := h.Fields["chapter"].(string); ok {
			hit.Chapter = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
