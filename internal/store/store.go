package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/tutorloop/tutorloop/models"
)

type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// ---------------------------------------------------------------------------
// Passage index

// InsertChunks stores pre-embedded chunks for a document and returns
// them with minted identifiers. Chunks are immutable once written.
func (s *Store) InsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, document_id, content, embedding, grade, syllabus, subject, chapter, created_at)
VALUES ($1,$2,$3,$4::vector,$5,$6,$7,$8,NOW())
`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make([]models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return nil, fmt.Errorf("embedding vector required for chunk in document %s", documentID)
		}
		vecLiteral, err := encodeVectorLiteral(ch.Embedding)
		if err != nil {
			return nil, err
		}
		ch.ID = uuid.NewString()
		ch.DocumentID = documentID
		if _, err := stmt.ExecContext(ctx, ch.ID, documentID, ch.Text, vecLiteral, ch.Grade, string(ch.Syllabus), ch.Subject, ch.Chapter); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteChunksByDocument removes every chunk belonging to a document.
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ChunkCount reports the number of ingested chunks.
func (s *Store) ChunkCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// SearchChunks returns the closest chunks for the supplied vector,
// restricted by the given metadata filters. Similarity is 1 minus the
// cosine distance; hits below floor are dropped. An empty result is
// not an error.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, filters models.ChunkFilters, topK int, floor float64) ([]models.RetrievalCandidate, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, content, grade, syllabus, subject, chapter, created_at, embedding <=> $1::vector AS distance
FROM chunks
WHERE ($2 = 0 OR grade = $2)
  AND ($3 = '' OR syllabus = $3)
  AND ($4 = '' OR subject = $4)
ORDER BY embedding <=> $1::vector
LIMIT $5
`, vecLiteral, filters.Grade, string(filters.Syllabus), filters.Subject, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []models.RetrievalCandidate
	for rows.Next() {
		var (
			ch       models.Chunk
			syllabus string
			distance float64
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Text, &ch.Grade, &syllabus, &ch.Subject, &ch.Chapter, &ch.CreatedAt, &distance); err != nil {
			return nil, err
		}
		similarity := 1 - distance
		if similarity < floor {
			continue
		}
		ch.Syllabus = models.Syllabus(syllabus)
		results = append(results, models.RetrievalCandidate{Chunk: ch, RawScore: similarity})
	}
	return results, rows.Err()
}

// ChunkSummary carries the fields the keyword index needs.
type ChunkSummary struct {
	ID         string
	DocumentID string
	Text       string
	Subject    string
	Chapter    string
}

// ListChunkSummaries returns every chunk without its embedding, for
// keyword index warm-up.
func (s *Store) ListChunkSummaries(ctx context.Context) ([]ChunkSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, document_id, content, subject, chapter FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkSummary
	for rows.Next() {
		var cs ChunkSummary
		if err := rows.Scan(&cs.ID, &cs.DocumentID, &cs.Text, &cs.Subject, &cs.Chapter); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Response store

// CreateResponse inserts a root response together with its first block
// at iteration 1.
func (s *Store) CreateResponse(ctx context.Context, userID, topic, contentText, metaText string) (models.StoredResponse, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.StoredResponse{}, err
	}
	defer tx.Rollback()

	resp := models.StoredResponse{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		Iteration: 1,
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO responses (id, user_id, topic, iteration, created_at, updated_at)
VALUES ($1,$2,$3,1,NOW(),NOW())
RETURNING created_at, updated_at
`, resp.ID, userID, topic).Scan(&resp.CreatedAt, &resp.UpdatedAt)
	if err != nil {
		return models.StoredResponse{}, err
	}

	block := models.Block{
		ID:          uuid.NewString(),
		ResponseID:  resp.ID,
		Topic:       topic,
		ContentText: contentText,
		MetaText:    metaText,
		Iteration:   1,
		History:     []models.BlockVersion{},
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO blocks (id, response_id, position, topic, content_text, meta_text, iteration, history, created_at, updated_at)
VALUES ($1,$2,0,$3,$4,$5,1,'[]'::jsonb,NOW(),NOW())
RETURNING created_at, updated_at
`, block.ID, resp.ID, topic, contentText, metaText).Scan(&block.CreatedAt, &block.UpdatedAt)
	if err != nil {
		return models.StoredResponse{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.StoredResponse{}, err
	}
	resp.Blocks = []models.Block{block}
	return resp, nil
}

// GetResponse loads a response and its blocks in position order.
func (s *Store) GetResponse(ctx context.Context, responseID string) (models.StoredResponse, error) {
	var resp models.StoredResponse
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, topic, iteration, created_at, updated_at FROM responses WHERE id=$1
`, responseID).Scan(&resp.ID, &resp.UserID, &resp.Topic, &resp.Iteration, &resp.CreatedAt, &resp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredResponse{}, models.ErrResponseNotFound
	}
	if err != nil {
		return models.StoredResponse{}, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, response_id, topic, content_text, meta_text, iteration, history, created_at, updated_at
FROM blocks WHERE response_id=$1 ORDER BY position
`, responseID)
	if err != nil {
		return models.StoredResponse{}, err
	}
	defer rows.Close()
	for rows.Next() {
		blk, err := scanBlock(rows)
		if err != nil {
			return models.StoredResponse{}, err
		}
		resp.Blocks = append(resp.Blocks, blk)
	}
	return resp, rows.Err()
}

// GetBlock loads one block, checking it belongs to the given response.
func (s *Store) GetBlock(ctx context.Context, responseID, blockID string) (models.Block, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, response_id, topic, content_text, meta_text, iteration, history, created_at, updated_at
FROM blocks WHERE id=$1 AND response_id=$2
`, blockID, responseID)
	blk, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Block{}, models.ErrBlockNotFound
	}
	return blk, err
}

// AddBlock appends a new block at iteration 1 without touching
// existing blocks.
func (s *Store) AddBlock(ctx context.Context, responseID, topic, contentText, metaText string) (models.Block, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Block{}, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM responses WHERE id=$1)`, responseID).Scan(&exists); err != nil {
		return models.Block{}, err
	}
	if !exists {
		return models.Block{}, models.ErrResponseNotFound
	}

	blk := models.Block{
		ID:          uuid.NewString(),
		ResponseID:  responseID,
		Topic:       topic,
		ContentText: contentText,
		MetaText:    metaText,
		Iteration:   1,
		History:     []models.BlockVersion{},
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO blocks (id, response_id, position, topic, content_text, meta_text, iteration, history, created_at, updated_at)
VALUES ($1,$2,(SELECT COALESCE(MAX(position),-1)+1 FROM blocks WHERE response_id=$2),$3,$4,$5,1,'[]'::jsonb,NOW(),NOW())
RETURNING created_at, updated_at
`, blk.ID, responseID, topic, contentText, metaText).Scan(&blk.CreatedAt, &blk.UpdatedAt)
	if err != nil {
		return models.Block{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE responses SET updated_at=NOW() WHERE id=$1`, responseID); err != nil {
		return models.Block{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Block{}, err
	}
	return blk, nil
}

// UpdateBlock replaces a block's content and meta text, pushing the
// current state onto its bounded history and incrementing the
// iteration level. The whole tuple updates in one transaction: a
// cancelled context rolls everything back and leaves the block
// untouched.
func (s *Store) UpdateBlock(ctx context.Context, responseID, blockID, contentText, metaText string) (models.Block, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Block{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT id, response_id, topic, content_text, meta_text, iteration, history, created_at, updated_at
FROM blocks WHERE id=$1 AND response_id=$2 FOR UPDATE
`, blockID, responseID)
	blk, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Block{}, models.ErrBlockNotFound
	}
	if err != nil {
		return models.Block{}, err
	}

	version := models.BlockVersion{
		ContentText: blk.ContentText,
		MetaText:    blk.MetaText,
		Iteration:   blk.Iteration,
		ReplacedAt:  time.Now().UTC(),
	}
	history := append(blk.History, version)
	if len(history) > models.BlockHistoryCapacity {
		history = history[len(history)-models.BlockHistoryCapacity:]
	}
	historyBytes, err := json.Marshal(history)
	if err != nil {
		return models.Block{}, err
	}

	blk.ContentText = contentText
	blk.MetaText = metaText
	blk.Iteration++
	blk.History = history
	err = tx.QueryRowContext(ctx, `
UPDATE blocks SET content_text=$3, meta_text=$4, iteration=$5, history=$6::jsonb, updated_at=NOW()
WHERE id=$1 AND response_id=$2
RETURNING updated_at
`, blockID, responseID, contentText, metaText, blk.Iteration, historyBytes).Scan(&blk.UpdatedAt)
	if err != nil {
		return models.Block{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE responses SET updated_at=NOW() WHERE id=$1`, responseID); err != nil {
		return models.Block{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Block{}, err
	}
	return blk, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (models.Block, error) {
	var (
		blk          models.Block
		historyBytes []byte
	)
	err := row.Scan(&blk.ID, &blk.ResponseID, &blk.Topic, &blk.ContentText, &blk.MetaText, &blk.Iteration, &historyBytes, &blk.CreatedAt, &blk.UpdatedAt)
	if err != nil {
		return models.Block{}, err
	}
	blk.History = []models.BlockVersion{}
	if len(historyBytes) > 0 {
		if err := json.Unmarshal(historyBytes, &blk.History); err != nil {
			return models.Block{}, fmt.Errorf("decode block history: %w", err)
		}
	}
	return blk, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
