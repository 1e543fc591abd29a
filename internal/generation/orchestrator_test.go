package generation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tutorloop/tutorloop/config"
	"github.com/tutorloop/tutorloop/internal/credentials"
	"github.com/tutorloop/tutorloop/internal/llm"
	"github.com/tutorloop/tutorloop/models"
)

// stubProvider answers per API key so rotation is observable.
type stubProvider struct {
	byKey map[string]func() (string, error)
	calls []string
}

func (s *stubProvider) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	s.calls = append(s.calls, apiKey)
	if fn, ok := s.byKey[apiKey]; ok {
		return fn()
	}
	return "", llm.ErrUnavailable
}

func (s *stubProvider) Embed(ctx context.Context, apiKey string, input []string) ([][]float32, error) {
	return nil, llm.ErrUnavailable
}

func genRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Query: "what is force?",
		Candidates: []models.RetrievalCandidate{
			{Rank: 1, Chunk: models.Chunk{Subject: "physics", Chapter: "2", Text: "From Chapter 2: Force is a push or a pull acting on an object."}},
		},
		Grade:    8,
		Syllabus: models.SyllabusCBSE,
	}
}

func retrievalCfg() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 5, ContextBudget: 6000, HistoryWindow: 6, FallbackTopN: 3}
}

func TestGenerateFirstCredentialSucceeds(t *testing.T) {
	provider := &stubProvider{byKey: map[string]func() (string, error){
		"key-a": func() (string, error) { return "Force is a push or a pull.", nil },
	}}
	pool := credentials.NewPool([]string{"key-a", "key-b"}, time.Minute, nil, nil)
	o := NewOrchestrator(provider, pool, retrievalCfg(), time.Second, nil)

	text, origin, err := o.Generate(context.Background(), genRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if origin != OriginModel {
		t.Fatalf("expected llm origin, got %s", origin)
	}
	if text != "Force is a push or a pull." {
		t.Fatalf("unexpected text %q", text)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected a single provider call, got %d", len(provider.calls))
	}
	for _, slot := range pool.Snapshot() {
		if slot.Usage == 1 {
			return
		}
	}
	t.Fatalf("success was not recorded against any slot")
}

func TestGenerateRotatesPastRateLimitedCredential(t *testing.T) {
	provider := &stubProvider{byKey: map[string]func() (string, error){
		"key-a": func() (string, error) { return "", &llm.RateLimitError{RetryAfter: time.Minute} },
		"key-b": func() (string, error) { return "answer from second key", nil },
	}}
	pool := credentials.NewPool([]string{"key-a", "key-b"}, time.Minute, nil, nil)
	o := NewOrchestrator(provider, pool, retrievalCfg(), time.Second, nil)

	text, origin, err := o.Generate(context.Background(), genRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if origin != OriginModel || text != "answer from second key" {
		t.Fatalf("rotation failed: origin=%s text=%q", origin, text)
	}
	if len(provider.calls) != 2 || provider.calls[0] != "key-a" || provider.calls[1] != "key-b" {
		t.Fatalf("unexpected call order %v", provider.calls)
	}
	available := 0
	for _, slot := range pool.Snapshot() {
		if slot.Available {
			available++
		}
	}
	if available != 1 {
		t.Fatalf("expected the limited slot out of rotation, %d available", available)
	}
}

func TestGenerateExhaustedPoolFallsBack(t *testing.T) {
	provider := &stubProvider{byKey: map[string]func() (string, error){}}
	pool := credentials.NewPool([]string{"key-a", "key-b", "key-c"}, time.Minute, nil, nil)
	o := NewOrchestrator(provider, pool, retrievalCfg(), time.Second, nil)

	text, origin, err := o.Generate(context.Background(), genRequest())
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if origin != OriginFallback {
		t.Fatalf("expected fallback origin, got %s", origin)
	}
	if !strings.HasPrefix(text, FallbackDisclosure) {
		t.Fatalf("fallback output missing disclosure: %q", text)
	}
	if !strings.Contains(text, "Force is a push or a pull acting on an object.") {
		t.Fatalf("fallback output missing passage: %q", text)
	}
	if strings.Contains(text, "From Chapter") {
		t.Fatalf("source prefix survived: %q", text)
	}
	if len(provider.calls) != 3 {
		t.Fatalf("expected every credential tried once, got %d calls", len(provider.calls))
	}
}

func TestGenerateCancelledContextDoesNotFallBack(t *testing.T) {
	provider := &stubProvider{byKey: map[string]func() (string, error){}}
	pool := credentials.NewPool([]string{"key-a"}, time.Minute, nil, nil)
	o := NewOrchestrator(provider, pool, retrievalCfg(), time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := o.Generate(ctx, genRequest())
	if err == nil {
		t.Fatalf("expected context error")
	}
}
