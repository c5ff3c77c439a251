package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"interview-agent/handler"
	"interview-agent/internal/integrations/anthropic"
	"interview-agent/internal/integrations/openai"
	"interview-agent/internal/integrations/paramstore"
	"interview-agent/internal/match"
	"interview-agent/internal/repository"
	"interview-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	sessionTable := mustEnv("SESSION_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	threshold := envInt("EVALUATION_THRESHOLD", 3)
	turnBudget := envInt("TURN_BUDGET", 12)
	maxResponseLen := envInt("MAX_RESPONSE_LENGTH", 2000)
	matchCount := envInt("MATCH_COUNT", match.DefaultCount)
	generationTimeout := envDuration("GENERATION_TIMEOUT", 30*time.Second)
	candidatesPath := os.Getenv("CANDIDATES_PATH")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), sessionTable)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	anthropicClient, err := anthropic.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Anthropic client", "err", err)
		os.Exit(1)
	}

	var candidates []match.Candidate
	if candidatesPath != "" {
		candidates, err = match.LoadCandidatesFile(candidatesPath, match.DefaultTextColumn)
		if err != nil {
			slog.Error("failed to load candidates", "path", candidatesPath, "err", err)
			os.Exit(1)
		}
	}

	// ---- Handler ----
	svc, err := usecase.NewInterviewService(usecase.Dependencies{
		Params: ssmClient,
		Providers: map[string]usecase.ChatClient{
			"openai":    openaiClient,
			"anthropic": anthropicClient,
		},
		Moderator:  openaiClient,
		Embedder:   openaiClient,
		Store:      store,
		Candidates: candidates,
	}, usecase.Config{
		ParamPrefix:       paramPrefix,
		Threshold:         threshold,
		TurnBudget:        turnBudget,
		MaxResponseLen:    maxResponseLen,
		MatchCount:        matchCount,
		GenerationTimeout: generationTimeout,
	})
	if err != nil {
		slog.Error("failed to create interview service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
