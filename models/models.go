package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrResponseNotFound is returned when a stored response is not found
var ErrResponseNotFound = errors.New("response not found")

// ErrBlockNotFound is returned when a block is not found
var ErrBlockNotFound = errors.New("block not found")

// Syllabus identifies the curriculum board a chunk or asker belongs to.
type Syllabus string

const (
	SyllabusCBSE  Syllabus = "cbse"
	SyllabusICSE  Syllabus = "icse"
	SyllabusState Syllabus = "state"
	SyllabusIB    Syllabus = "ib"
)

// ParseSyllabus maps a request string onto a known board. The empty
// string parses to the empty Syllabus, meaning "unfiltered".
func ParseSyllabus(s string) (Syllabus, error) {
	switch Syllabus(strings.ToLower(s)) {
	case SyllabusCBSE, SyllabusICSE, SyllabusState, SyllabusIB:
		return Syllabus(strings.ToLower(s)), nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown syllabus %q", s)
	}
}

// Chunk is an embedded unit of ingested curriculum text. Chunks are
// written once at ingestion time and only removed when their source
// document is deleted.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Grade      int       `json:"grade"`
	Syllabus   Syllabus  `json:"syllabus"`
	Subject    string    `json:"subject"`
	Chapter    string    `json:"chapter"`
	CreatedAt  time.Time `json:"created_at"`
}

// RetrievalCandidate is a similarity-scored chunk for a single query.
// It is never persisted; BoostedScore and Rank are filled in by the
// curriculum ranker.
type RetrievalCandidate struct {
	Chunk        Chunk   `json:"chunk"`
	RawScore     float64 `json:"raw_score"`
	BoostedScore float64 `json:"boosted_score"`
	Rank         int     `json:"rank"`
}

// ChunkFilters restricts a retrieval to matching metadata. Zero values
// mean "no filter" for that field.
type ChunkFilters struct {
	Grade    int      `json:"grade,omitempty"`
	Syllabus Syllabus `json:"syllabus,omitempty"`
	Subject  string   `json:"subject,omitempty"`
}

// ConversationTurn is one prior exchange supplied by the session
// service. The backend treats turns as opaque read-only context.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest carries everything the orchestrator needs to
// produce one explanation. Consumed once and discarded.
type GenerationRequest struct {
	Query      string               `json:"query"`
	Candidates []RetrievalCandidate `json:"candidates"`
	History    []ConversationTurn   `json:"history"`
	Grade      int                  `json:"grade"`
	Syllabus   Syllabus             `json:"syllabus"`
}

// BlockVersion is one prior state of a block, kept in the block's
// bounded history (oldest evicted at capacity).
type BlockVersion struct {
	ContentText string    `json:"content_text"`
	MetaText    string    `json:"meta_text"`
	Iteration   int       `json:"iteration"`
	ReplacedAt  time.Time `json:"replaced_at"`
}

// BlockHistoryCapacity bounds the number of prior states a block keeps.
const BlockHistoryCapacity = 5

// Block is an independently regeneratable sub-section of a stored
// response. Iteration starts at 1 and increments on every
// regeneration.
type Block struct {
	ID          string         `json:"id"`
	ResponseID  string         `json:"response_id"`
	Topic       string         `json:"topic"`
	ContentText string         `json:"content_text"`
	MetaText    string         `json:"meta_text"`
	Iteration   int            `json:"iteration"`
	History     []BlockVersion `json:"history"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StoredResponse is the root persisted explanation: one record plus an
// ordered list of blocks it exclusively owns.
type StoredResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Topic     string    `json:"topic"`
	Iteration int       `json:"iteration"`
	Blocks    []Block   `json:"blocks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
