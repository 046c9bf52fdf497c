package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covera-ai/covera/config"
	"github.com/covera-ai/covera/internal/llm"
	"github.com/covera-ai/covera/internal/profile"
	"github.com/covera-ai/covera/internal/research"
	"github.com/covera-ai/covera/internal/search"
	"github.com/covera-ai/covera/internal/store"
	"github.com/covera-ai/covera/internal/telemetry"
	"github.com/covera-ai/covera/internal/tools"
)

// Run loads configuration, wires every dependency and serves the API until
// the listener fails. addr overrides server.address when non-empty.
func Run(cfgPath, addr string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

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
	e.Validator = NewValidator()

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Shared dependencies (top-level DI)
	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	_ = Migrate("file://migrations", dsn, "up", 0)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.New(cfg.Telemetry)

	chatModel := cfg.LLM.Routing.Chat
	if chatModel == "" {
		chatModel = cfg.LLM.Routing.Fallback
	}
	if chatModel == "" {
		return fmt.Errorf("no chat model configured (llm.routing.chat)")
	}
	llmProvider, err := providerForModel(cfg.LLM, chatModel)
	if err != nil {
		return err
	}

	searcher, err := search.NewSearcher(
		search.Provider(cfg.Sources.WebSearch.Provider),
		searchAPIKey(cfg.Sources.WebSearch),
	)
	if err != nil {
		return err
	}
	previewer := search.NewPreviewer(cfg.General.DefaultTimeout, 0)

	// Research session repository: redis when configured, in-process otherwise.
	var repo research.Repository
	if cfg.Storage.Redis.Host != "" {
		rr := research.NewRedisRepository(
			fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			cfg.Research.SessionIdleTTL, cfg.Research.CompletedTTL,
		)
		if err := rr.Ping(ctx); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		repo = rr
	} else {
		repo = research.NewMemoryRepository(cfg.Research.SessionIdleTTL, cfg.Research.CompletedTTL)
	}
	sweepLogger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	sweeper := research.NewSweeper(repo, cfg.Research.SweepInterval, sweepLogger)
	sweeper.Start()
	defer sweeper.Stop()

	orch := research.NewOrchestrator(repo, searcher, llmProvider, previewer, cfg.Research, sweepLogger)
	orch.AnalysisModel = routedModel(cfg.LLM.Routing.Analysis, chatModel)
	orch.SynthesisModel = routedModel(cfg.LLM.Routing.Synthesis, chatModel)

	// Tool registry exposed to the chat model.
	registry := tools.NewRegistry(tele, nil)
	tools.RegisterProfileTools(registry, &tools.ProfileTools{
		Reader:   st,
		Gate:     profile.NewGate(st),
		Resolver: profile.NewResolver(st),
		Issues:   profile.NewIssueManager(st),
	})
	tools.RegisterResearchTools(registry, &tools.ResearchTools{Orchestrator: orch, Telemetry: tele})
	tools.RegisterMiscTools(registry, &tools.MiscTools{
		Searcher:   searcher,
		Profiles:   st,
		MaxResults: cfg.Sources.WebSearch.MaxResults,
	})

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	secret := []byte(cfg.Server.JWTSecret)

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(withAuth(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"user_id": c.Get("user_id").(string)})
	})

	ph := &ProfileHandler{Store: st}
	ph.Register(api.Group("/profile"), secret)

	ch := &ConversationsHandler{Store: st}
	ch.Register(api.Group("/conversations"), secret)

	chat := &ChatHandler{
		Store:     st,
		LLM:       llmProvider,
		Registry:  registry,
		Model:     chatModel,
		Chat:      cfg.Chat,
		Telemetry: tele,
		Logger:    log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
	chat.Register(api.Group("/conversations"), secret)

	if addr == "" {
		addr = cfg.Server.Address
	}
	return e.Start(addr)
}

// providerForModel picks the provider block defining the routed model, or the
// sole configured provider when models are left implicit.
func providerForModel(cfg config.LLMConfig, model string) (llm.Provider, error) {
	for _, pc := range cfg.Providers {
		if _, ok := pc.Models[model]; ok {
			return llm.NewOpenAIProvider(pc)
		}
	}
	if len(cfg.Providers) == 1 {
		for _, pc := range cfg.Providers {
			return llm.NewOpenAIProvider(pc)
		}
	}
	return nil, fmt.Errorf("no llm provider defines model %q", model)
}

func routedModel(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

func searchAPIKey(cfg config.WebSearchConfig) string {
	if search.Provider(cfg.Provider) == search.BraveProvider {
		return cfg.BraveAPIKey
	}
	return cfg.SerperAPIKey
}
