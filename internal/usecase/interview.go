package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"interview-agent/internal/domain"
	"interview-agent/internal/interview"
	"interview-agent/internal/match"
	"interview-agent/internal/repository"
)

const (
	defaultMaxResponse       = 2000
	defaultGenerationTimeout = 30 * time.Second
	defaultRetryBackoff      = 500 * time.Millisecond
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30 * time.Second
	maxTokens                = 1024
	maxRetries               = 2
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// ChatClient is one text generation provider.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, params domain.GenerationParams) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, id string) (domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session, expectedVersion int) error
	SaveRecord(ctx context.Context, s domain.Session, expectedVersion int, rec domain.InterviewRecord) error
	GetRecord(ctx context.Context, id string) (domain.InterviewRecord, error)
}

// Dependencies are the collaborators of InterviewService. Providers are keyed
// by the provider half of a model ref, e.g. "openai" or "anthropic".
type Dependencies struct {
	Params     ParamGetter
	Providers  map[string]ChatClient
	Moderator  Moderator
	Embedder   Embedder
	Store      SessionStore
	Candidates []match.Candidate
}

type Config struct {
	ParamPrefix       string
	Threshold         int
	TurnBudget        int
	MaxResponseLen    int
	MatchCount        int
	GenerationTimeout time.Duration
	RetryBackoff      time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	Logger            *slog.Logger
}

// InterviewService hosts interview sessions on top of a session store. Every
// call rebuilds the session from its stored snapshot.
type InterviewService struct {
	params      ParamGetter
	providers   map[string]ChatClient
	moderator   Moderator
	embedder    Embedder
	store       SessionStore
	candidates  []match.Candidate
	paramPrefix string
	cfg         Config
	logger      *slog.Logger
	breakers    map[string]*interview.Breaker
	locks       *keyedMutex
	now         func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	runtime     runtimeConfig
	matcher     *match.Matcher
}

type TurnInput struct {
	SessionID string
	Name      string
	Message   string
}

type TurnOutput struct {
	Question  string
	SessionID string
	Turn      int
	Done      bool
}

type FinishInput struct {
	SessionID string
}

type FinishOutput struct {
	Record  domain.InterviewRecord
	Matches []domain.Match
}

func NewInterviewService(deps Dependencies, cfg Config) (*InterviewService, error) {
	if deps.Params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if len(deps.Providers) == 0 {
		return nil, errors.New("usecase: at least one chat provider is required")
	}
	if deps.Moderator == nil {
		return nil, errors.New("usecase: moderator must not be nil")
	}
	if deps.Embedder == nil {
		return nil, errors.New("usecase: embedder must not be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	paramPrefix := strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = interview.DefaultThreshold
	}
	if cfg.TurnBudget < 0 {
		cfg.TurnBudget = interview.DefaultTurnBudget
	}
	if cfg.MaxResponseLen <= 0 {
		cfg.MaxResponseLen = defaultMaxResponse
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = match.DefaultCount
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	providers := make(map[string]ChatClient, len(deps.Providers))
	breakers := make(map[string]*interview.Breaker, len(deps.Providers))
	for name, client := range deps.Providers {
		name = strings.ToLower(name)
		providers[name] = client
		breakers[name] = interview.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}

	return &InterviewService{
		params:      deps.Params,
		providers:   providers,
		moderator:   deps.Moderator,
		embedder:    deps.Embedder,
		store:       deps.Store,
		candidates:  deps.Candidates,
		paramPrefix: paramPrefix,
		cfg:         cfg,
		logger:      cfg.Logger,
		breakers:    breakers,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}, nil
}

// Turn advances a session by one user message, creating the session when no id is given.
func (s *InterviewService) Turn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	message := strings.TrimSpace(in.Message)
	if len(message) > s.cfg.MaxResponseLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "response_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	isNew := sessionID == ""
	if isNew {
		sessionID = newUUID()
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess := domain.Session{ID: sessionID, Name: strings.TrimSpace(in.Name), Status: domain.SessionActive}
	var snap *interview.Snapshot
	if !isNew {
		loaded, restored, err := s.load(ctx, sessionID)
		if err != nil {
			return TurnOutput{}, err
		}
		sess, snap = loaded, restored
		if name := strings.TrimSpace(in.Name); name != "" {
			sess.Name = name
		}
	}

	o, err := interview.New(s.interviewConfig(), snap)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_state_corrupt", err)
	}
	logger := s.logger.With("session_id", sessionID)

	if o.State() == interview.StateTerminated {
		return TurnOutput{Question: interview.Closing, SessionID: sessionID, Turn: o.Counter(), Done: true}, nil
	}
	if !interview.IsStart(message) {
		if err := s.screen(ctx, message); err != nil {
			return TurnOutput{}, err
		}
	}

	question, err := o.Turn(ctx, message)
	if err != nil {
		logger.Warn("turn failed", "turn", o.Counter()+1, "err", err)
		return TurnOutput{}, turnError(err)
	}

	state, err := interview.MarshalSnapshot(o.Snapshot())
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "snapshot_encode_error", err)
	}
	expected := sess.Version
	sess.Version = expected + 1
	sess.State = state
	sess.Turns = o.Counter()
	if err := s.store.SaveSession(ctx, sess, expected); err != nil {
		return TurnOutput{}, storeError("session_write_error", err)
	}

	done := o.State() == interview.StateTerminated
	logger.Info("turn saved", "turn", o.Counter(), "version", sess.Version, "done", done)
	return TurnOutput{Question: question, SessionID: sessionID, Turn: o.Counter(), Done: done}, nil
}

// Finish terminates the session, stores its record and returns the record with
// its matches. Finishing an already finished session returns the stored record.
func (s *InterviewService) Finish(ctx context.Context, in FinishInput) (FinishOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return FinishOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return FinishOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.store.GetRecord(ctx, sessionID)
	switch {
	case err == nil:
		return s.withMatches(ctx, rec)
	case !errors.Is(err, repository.ErrNotFound):
		return FinishOutput{}, newError(ErrorInternal, "record_read_error", err)
	}

	sess, snap, err := s.load(ctx, sessionID)
	if err != nil {
		return FinishOutput{}, err
	}
	o, err := interview.New(s.interviewConfig(), snap)
	if err != nil {
		return FinishOutput{}, newError(ErrorInternal, "session_state_corrupt", err)
	}
	rec = o.Terminate(sessionID, sess.Name, s.now().UTC())

	state, err := interview.MarshalSnapshot(o.Snapshot())
	if err != nil {
		return FinishOutput{}, newError(ErrorInternal, "snapshot_encode_error", err)
	}
	expected := sess.Version
	sess.Version = expected + 1
	sess.State = state
	sess.Status = domain.SessionFinished
	if err := s.store.SaveRecord(ctx, sess, expected, rec); err != nil {
		return FinishOutput{}, storeError("record_write_error", err)
	}
	s.logger.Info("interview finished", "session_id", sessionID, "answers", len(rec.QuestionAnswer))
	return s.withMatches(ctx, rec)
}

func (s *InterviewService) withMatches(ctx context.Context, rec domain.InterviewRecord) (FinishOutput, error) {
	matches, err := s.currentMatcher().Match(ctx, rec, s.cfg.MatchCount)
	if err != nil {
		return FinishOutput{}, upstreamError("match", err)
	}
	return FinishOutput{Record: rec, Matches: matches}, nil
}

func (s *InterviewService) load(ctx context.Context, id string) (domain.Session, *interview.Snapshot, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Session{}, nil, newError(ErrorNotFound, "session_not_found", err)
	}
	if err != nil {
		return domain.Session{}, nil, newError(ErrorInternal, "session_read_error", err)
	}
	snap, err := interview.UnmarshalSnapshot(sess.State)
	if err != nil {
		s.logger.Error("stored session is corrupt", "session_id", id, "version", sess.Version, "err", err)
		return domain.Session{}, nil, newError(ErrorInternal, "session_state_corrupt", err)
	}
	return sess, &snap, nil
}

func (s *InterviewService) screen(ctx context.Context, message string) error {
	flagged, err := s.moderator.Moderate(ctx, message)
	if err != nil {
		return upstreamError("moderation", err)
	}
	if flagged {
		return newError(ErrorInvalidResponse, "moderation_flagged", nil)
	}
	return nil
}

func (s *InterviewService) interviewConfig() interview.Config {
	s.cacheMu.RLock()
	rc := s.runtime
	s.cacheMu.RUnlock()

	return interview.Config{
		Threshold:  s.cfg.Threshold,
		TurnBudget: s.cfg.TurnBudget,
		Questioner: s.agentConfig(rc.questioner, 0.8),
		Evaluator:  s.agentConfig(rc.evaluator, 1.0),
		Criticizer: s.agentConfig(rc.criticizer, 1.0),
		Retry:      interview.RetryPolicy{Backoff: s.cfg.RetryBackoff},
		Logger:     s.logger,
	}
}

func (s *InterviewService) agentConfig(ref modelRef, temperature float64) interview.AgentConfig {
	client := s.providers[ref.Provider]
	return interview.AgentConfig{
		Generator: interview.GeneratorFunc(func(ctx context.Context, messages []domain.ChatMessage, params domain.GenerationParams) (string, error) {
			return client.Chat(ctx, ref.Model, messages, params)
		}),
		Params: domain.GenerationParams{
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Timeout:     s.cfg.GenerationTimeout,
			MaxRetries:  maxRetries,
		},
		Breaker: s.breakers[ref.Provider],
	}
}

func (s *InterviewService) currentMatcher() *match.Matcher {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.matcher
}

func turnError(err error) error {
	var verr *interview.ValidationError
	if errors.As(err, &verr) {
		return newError(ErrorInvalidInput, "invalid_response", err)
	}
	var gerr *interview.GenerationError
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case interview.FailureRateLimited:
			return newError(ErrorRateLimited, gerr.Agent+"_rate_limited", err)
		case interview.FailureCircuitOpen:
			return newError(ErrorUpstream, gerr.Agent+"_unavailable", err)
		default:
			return newError(ErrorUpstream, fmt.Sprintf("%s_%s", gerr.Agent, gerr.Kind), err)
		}
	}
	return newError(ErrorInternal, "turn_error", err)
}

func upstreamError(source string, err error) error {
	if interview.Classify(err) == interview.FailureRateLimited {
		return newError(ErrorRateLimited, source+"_rate_limited", err)
	}
	return newError(ErrorUpstream, source+"_error", err)
}

func storeError(reason string, err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return newError(ErrorConflict, "session_conflict", err)
	}
	return newError(ErrorInternal, reason, err)
}

var newUUID = func() string {
	return uuid.NewString()
}
