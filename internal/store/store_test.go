package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tutorloop/tutorloop/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestSearchChunksAppliesFloor(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "document_id", "content", "grade", "syllabus", "subject", "chapter", "created_at", "distance"}).
		AddRow("c1", "d1", "Force is a push or pull.", 8, "cbse", "physics", "2", now, 0.18).
		AddRow("c2", "d1", "Unrelated text.", 8, "cbse", "physics", "2", now, 0.75)
	mock.ExpectQuery(`SELECT id, document_id, content`).
		WithArgs("[0.5]", 8, "cbse", "", 5).
		WillReturnRows(rows)

	out, err := s.SearchChunks(context.Background(), []float32{0.5}, models.ChunkFilters{Grade: 8, Syllabus: models.SyllabusCBSE}, 5, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected floor to drop the distant chunk, got %d results", len(out))
	}
	if got := out[0].RawScore; got != 1-0.18 {
		t.Fatalf("similarity wrong: %.4f", got)
	}
	if out[0].Chunk.Syllabus != models.SyllabusCBSE {
		t.Fatalf("syllabus not decoded: %q", out[0].Chunk.Syllabus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksEmptyResult(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, document_id, content`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content", "grade", "syllabus", "subject", "chapter", "created_at", "distance"}))

	out, err := s.SearchChunks(context.Background(), []float32{0.1}, models.ChunkFilters{}, 5, 0.3)
	if err != nil {
		t.Fatalf("empty search must not error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no results, got %d", len(out))
	}
}

func TestGetResponseNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, user_id, topic`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "topic", "iteration", "created_at", "updated_at"}))

	_, err := s.GetResponse(context.Background(), "missing")
	if !errors.Is(err, models.ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound, got %v", err)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, response_id, topic`).
		WithArgs("b-missing", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "topic", "content_text", "meta_text", "iteration", "history", "created_at", "updated_at"}))

	_, err := s.GetBlock(context.Background(), "r1", "b-missing")
	if !errors.Is(err, models.ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestCreateResponseInsertsRootAndFirstBlock(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO responses`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	resp, err := s.CreateResponse(context.Background(), "u1", "what is force?", "Force is a push or pull.", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Iteration != 1 {
		t.Fatalf("root iteration must start at 1, got %d", resp.Iteration)
	}
	if len(resp.Blocks) != 1 || resp.Blocks[0].Iteration != 1 {
		t.Fatalf("expected one first block at iteration 1: %+v", resp.Blocks)
	}
	if resp.Blocks[0].ResponseID != resp.ID {
		t.Fatalf("block not linked to response")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateBlockCapsHistory(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	full := make([]models.BlockVersion, models.BlockHistoryCapacity)
	for i := range full {
		full[i] = models.BlockVersion{ContentText: "old", Iteration: i + 1, ReplacedAt: now}
	}
	historyBytes, _ := json.Marshal(full)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, response_id, topic`).
		WithArgs("b1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "topic", "content_text", "meta_text", "iteration", "history", "created_at", "updated_at"}).
			AddRow("b1", "r1", "force", "current text", "", 6, historyBytes, now, now))
	mock.ExpectQuery(`UPDATE blocks SET content_text`).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec(`UPDATE responses SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	blk, err := s.UpdateBlock(context.Background(), "r1", "b1", "new text", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blk.Iteration != 7 {
		t.Fatalf("iteration must increment, got %d", blk.Iteration)
	}
	if len(blk.History) != models.BlockHistoryCapacity {
		t.Fatalf("history must stay capped at %d, got %d", models.BlockHistoryCapacity, len(blk.History))
	}
	newest := blk.History[len(blk.History)-1]
	if newest.ContentText != "current text" || newest.Iteration != 6 {
		t.Fatalf("replaced state missing from history: %+v", newest)
	}
	if blk.History[0].Iteration != 2 {
		t.Fatalf("oldest version must be evicted, head is iteration %d", blk.History[0].Iteration)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateBlockTargetsOnlyTheGivenBlock(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, response_id, topic`).
		WithArgs("b1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "topic", "content_text", "meta_text", "iteration", "history", "created_at", "updated_at"}).
			AddRow("b1", "r1", "force", "current text", "", 1, []byte("[]"), now, now))
	mock.ExpectQuery(`UPDATE blocks SET content_text`).
		WithArgs("b1", "r1", "new text", "", 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec(`UPDATE responses SET updated_at`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := s.UpdateBlock(context.Background(), "r1", "b1", "new text", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sibling blocks must not be touched: %v", err)
	}
}

func TestUpdateBlockMissingBlock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, response_id, topic`).
		WithArgs("b-missing", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "topic", "content_text", "meta_text", "iteration", "history", "created_at", "updated_at"}))
	mock.ExpectRollback()

	_, err := s.UpdateBlock(context.Background(), "r1", "b-missing", "text", "")
	if !errors.Is(err, models.ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{0.5, -1, 2.25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lit != "[0.5,-1,2.25]" {
		t.Fatalf("unexpected literal %q", lit)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}
