package server

import (
	"encoding/json"
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/tutorloop/tutorloop/internal/index"
	"github.com/tutorloop/tutorloop/internal/store"
)

type passagesFixture struct {
	askFixture
	mock sqlmock.Sqlmock
	kw   *index.KeywordIndex
}

func newPassagesFixture(t *testing.T) *passagesFixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	kw, err := index.NewKeywordIndex()
	if err != nil {
		t.Fatalf("keyword index: %v", err)
	}

	e := echo.New()
	ph := &PassagesHandler{Store: &store.Store{DB: db}, Index: kw}
	ph.Register(e.Group("/api"), testSecret)
	return &passagesFixture{askFixture: askFixture{e: e}, mock: mock, kw: kw}
}

func TestIngestChunksIndexesAndStores(t *testing.T) {
	f := newPassagesFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectPrepare(`INSERT INTO chunks`)
	f.mock.ExpectExec(`INSERT INTO chunks`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	body := `{"chunks":[{"text":"Force is a push or a pull.","embedding":[0.1,0.2],"grade":8,"syllabus":"cbse","subject":"physics","chapter":"2"}]}`
	rec := f.do(t, http.MethodPost, "/api/documents/doc-1/chunks", body, testToken(t, "editor"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	hits, err := f.kw.Search("force", 10)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != "doc-1" {
		t.Fatalf("chunk not indexed: %+v", hits)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestRejectsChunkWithoutEmbedding(t *testing.T) {
	f := newPassagesFixture(t)
	body := `{"chunks":[{"text":"no vector","grade":8,"syllabus":"cbse"}]}`
	rec := f.do(t, http.MethodPost, "/api/documents/doc-1/chunks", body, testToken(t, "editor"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteDocumentRemovesChunksAndIndexEntries(t *testing.T) {
	f := newPassagesFixture(t)
	_ = f.kw.Add("c1", "doc-1", "Force is a push.", "physics", "2")
	f.mock.ExpectExec(`DELETE FROM chunks WHERE document_id`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(t, http.MethodDelete, "/api/documents/doc-1", "", testToken(t, "editor"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["removed"].(float64) != 1 {
		t.Fatalf("removed count wrong: %v", out)
	}
	hits, _ := f.kw.Search("force", 10)
	if len(hits) != 0 {
		t.Fatalf("index entries survived deletion: %+v", hits)
	}
}

func TestPassageSearchRequiresQuery(t *testing.T) {
	f := newPassagesFixture(t)
	rec := f.do(t, http.MethodGet, "/api/passages/search", "", testToken(t, "editor"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPassageSearchReturnsHits(t *testing.T) {
	f := newPassagesFixture(t)
	_ = f.kw.Add("c1", "doc-1", "Gravity pulls objects toward the earth.", "physics", "3")

	rec := f.do(t, http.MethodGet, "/api/passages/search?q=gravity", "", testToken(t, "editor"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Hits []index.Hit `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Hits) != 1 || out.Hits[0].ChunkID != "c1" {
		t.Fatalf("hits wrong: %+v", out.Hits)
	}
}
