// Command server runs the interview API over plain HTTP with a local SQLite
// session store. Provider tokens and model refs still come from Parameter Store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"interview-agent/handler"
	"interview-agent/internal/integrations/anthropic"
	"interview-agent/internal/integrations/openai"
	"interview-agent/internal/integrations/paramstore"
	"interview-agent/internal/match"
	"interview-agent/internal/repository"
	"interview-agent/internal/usecase"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment")
	}

	addr := flag.String("addr", envOr("LISTEN_ADDR", ":8080"), "listen address")
	dbPath := flag.String("db", envOr("SQLITE_PATH", "data/sessions.db"), "SQLite session database path")
	candidatesPath := flag.String("candidates", os.Getenv("CANDIDATES_PATH"), "candidate dataset CSV")
	paramPrefix := flag.String("param-prefix", os.Getenv("PARAM_PREFIX"), "Parameter Store prefix")
	threshold := flag.Int("threshold", 3, "turns between evaluation rewrites")
	turnBudget := flag.Int("turn-budget", 12, "turns before the interview closes")
	matchCount := flag.Int("match-count", match.DefaultCount, "matches returned on finish")
	timeout := flag.Duration("generation-timeout", 30*time.Second, "per-call generation timeout")
	flag.Parse()

	if *paramPrefix == "" {
		logger.Error("parameter prefix is required", "flag", "param-prefix")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	store, err := repository.NewSQLite(*dbPath)
	if err != nil {
		logger.Error("failed to open session store", "path", *dbPath, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	openaiClient, err := openai.NewClient(params, *paramPrefix)
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	anthropicClient, err := anthropic.NewClient(params, *paramPrefix)
	if err != nil {
		logger.Error("failed to create Anthropic client", "err", err)
		os.Exit(1)
	}

	var candidates []match.Candidate
	if *candidatesPath != "" {
		candidates, err = match.LoadCandidatesFile(*candidatesPath, match.DefaultTextColumn)
		if err != nil {
			logger.Error("failed to load candidates", "path", *candidatesPath, "err", err)
			os.Exit(1)
		}
		logger.Info("candidates loaded", "count", len(candidates))
	}

	svc, err := usecase.NewInterviewService(usecase.Dependencies{
		Params: params,
		Providers: map[string]usecase.ChatClient{
			"openai":    openaiClient,
			"anthropic": anthropicClient,
		},
		Moderator:  openaiClient,
		Embedder:   openaiClient,
		Store:      store,
		Candidates: candidates,
	}, usecase.Config{
		ParamPrefix:       *paramPrefix,
		Threshold:         *threshold,
		TurnBudget:        *turnBudget,
		MatchCount:        *matchCount,
		GenerationTimeout: *timeout,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create interview service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:        *addr,
		Handler:     handler.NewRouter(h),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
