package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutorloop/tutorloop/config"
	"github.com/tutorloop/tutorloop/internal/answers"
	"github.com/tutorloop/tutorloop/internal/credentials"
	"github.com/tutorloop/tutorloop/internal/generation"
	"github.com/tutorloop/tutorloop/internal/index"
	"github.com/tutorloop/tutorloop/internal/llm"
	"github.com/tutorloop/tutorloop/internal/retrieval"
	"github.com/tutorloop/tutorloop/internal/store"
)

func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Initialize shared dependencies (top-level DI)
	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	migrateOnBoot(baseLogger, "file://migrations", dsn)
	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	rdb, err := credentials.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return err
	}

	keys := cfg.LLM.Credentials
	if len(keys) == 0 {
		if k := os.Getenv("TUTORLOOP_LLM_API_KEY"); k != "" {
			keys = []string{k}
		}
	}
	poolLogger := log.New(log.Writer(), "[POOL] ", log.LstdFlags)
	pool := credentials.NewPool(keys, cfg.LLM.RateLimitCooldown, credentials.NewRedisSnapshotStore(rdb), poolLogger)
	if err := pool.Restore(ctx); err != nil {
		poolLogger.Printf("restore skipped: %v", err)
	}
	if err := pool.StartUsageResetLoop(ctx, cfg.LLM.UsageResetCron); err != nil {
		return err
	}

	provider := llm.NewOpenAIClient(cfg.LLM)
	embedder := newPoolEmbedder(provider, pool)
	retriever := retrieval.NewRetriever(embedder, st, cfg.Retrieval)
	ranker := retrieval.CurriculumRanker{Boost: cfg.Retrieval.CurriculumBoost}

	genLogger := log.New(log.Writer(), "[GEN] ", log.LstdFlags)
	orch := generation.NewOrchestrator(provider, pool, cfg.Retrieval, cfg.LLM.Timeout, genLogger)

	svc := answers.NewService(st)

	kw, err := index.NewKeywordIndex()
	if err != nil {
		return err
	}
	if err := warmKeywordIndex(ctx, st, kw); err != nil {
		baseLogger.Printf("keyword index warm-up failed: %v", err)
	}

	secret := []byte(cfg.Server.JWTSecret)
	api := e.Group("/api")

	ah := &AskHandler{
		Retriever: retriever,
		Ranker:    ranker,
		Orch:      orch,
		Answers:   svc,
		Threshold: cfg.Retrieval.ConfidenceThreshold,
		TopK:      cfg.Retrieval.TopK,
		Logger:    log.New(log.Writer(), "[ASK] ", log.LstdFlags),
	}
	ah.Register(api, secret)

	rh := &ResponsesHandler{
		Answers:   svc,
		Retriever: retriever,
		Ranker:    ranker,
		Orch:      orch,
		Threshold: cfg.Retrieval.ConfidenceThreshold,
		TopK:      cfg.Retrieval.TopK,
	}
	rh.Register(api.Group("/responses"), secret)

	ph := &PassagesHandler{Store: st, Index: kw}
	ph.Register(api, secret)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10002"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// chunkLister is implemented by the store for index warm-up.
type chunkLister interface {
	ListChunkSummaries(ctx context.Context) ([]store.ChunkSummary, error)
}

func warmKeywordIndex(ctx context.Context, st chunkLister, kw *index.KeywordIndex) error {
	summaries, err := st.ListChunkSummaries(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		if err := kw.Add(s.ID, s.DocumentID, s.Text, s.Subject, s.Chapter); err != nil {
			return err
		}
	}
	return nil
}
