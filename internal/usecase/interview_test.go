package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
	"interview-agent/internal/interview"
	"interview-agent/internal/match"
	"interview-agent/internal/repository"
)

type fakeParams struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := f.values[n]
		if !ok {
			return nil, fmt.Errorf("missing %s", n)
		}
		out[n] = v
	}
	return out, nil
}

func defaultParams() *fakeParams {
	return &fakeParams{values: map[string]string{
		"/interview-agent/config/questioner_model": "anthropic:claude-q",
		"/interview-agent/config/evaluator_model":  "anthropic:claude-e",
		"/interview-agent/config/criticizer_model": "openai:gpt-c",
		"/interview-agent/config/embedding_model":  "text-embedding-3-small",
	}}
}

type chatCall struct {
	model  string
	params domain.GenerationParams
}

type fakeChat struct {
	mu    sync.Mutex
	name  string
	calls []chatCall
	err   error
}

func (f *fakeChat) Chat(_ context.Context, model string, messages []domain.ChatMessage, params domain.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{model: model, params: params})
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s answer %d via %s", f.name, len(messages), model), nil
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeModerator struct {
	flagged bool
	err     error
	inputs  []string
}

func (f *fakeModerator) Moderate(_ context.Context, input string) (bool, error) {
	f.inputs = append(f.inputs, input)
	return f.flagged, f.err
}

type fakeEmbedder struct {
	models []string
}

func (f *fakeEmbedder) Embed(_ context.Context, model string, inputs []string) ([][]float64, error) {
	f.models = append(f.models, model)
	out := make([][]float64, len(inputs))
	for i, in := range inputs {
		out[i] = []float64{float64(len(in)), 1}
	}
	return out, nil
}

type memStore struct {
	mu          sync.Mutex
	sessions    map[string]domain.Session
	records     map[string]domain.InterviewRecord
	saveErr     error
	recordSaves int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]domain.Session{}, records: map[string]domain.InterviewRecord{}}
}

func (m *memStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memStore) put(s domain.Session, expected int) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.sessions[s.ID].Version != expected {
		return repository.ErrVersionConflict
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) SaveSession(_ context.Context, s domain.Session, expected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(s, expected)
}

func (m *memStore) SaveRecord(_ context.Context, s domain.Session, expected int, rec domain.InterviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.put(s, expected); err != nil {
		return err
	}
	m.recordSaves++
	m.records[s.ID] = rec
	return nil
}

func (m *memStore) GetRecord(_ context.Context, id string) (domain.InterviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.InterviewRecord{}, repository.ErrNotFound
	}
	return rec, nil
}

type fixture struct {
	svc       *InterviewService
	params    *fakeParams
	anthropic *fakeChat
	openai    *fakeChat
	moderator *fakeModerator
	embedder  *fakeEmbedder
	store     *memStore
}

func newFixture(t *testing.T, budget int) *fixture {
	t.Helper()
	f := &fixture{
		params:    defaultParams(),
		anthropic: &fakeChat{name: "anthropic"},
		openai:    &fakeChat{name: "openai"},
		moderator: &fakeModerator{},
		embedder:  &fakeEmbedder{},
		store:     newMemStore(),
	}
	svc, err := NewInterviewService(Dependencies{
		Params:    f.params,
		Providers: map[string]ChatClient{"anthropic": f.anthropic, "openai": f.openai},
		Moderator: f.moderator,
		Embedder:  f.embedder,
		Store:     f.store,
		Candidates: []match.Candidate{
			{ID: "c1", Name: "Short", Text: "tiny"},
			{ID: "c2", Name: "Long", Text: "a much longer summary of values"},
			{ID: "c3", Name: "Mid", Text: "medium text"},
		},
	}, Config{
		ParamPrefix:  "/interview-agent/",
		TurnBudget:   budget,
		RetryBackoff: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }
	f.svc = svc

	ids := 0
	orig := newUUID
	newUUID = func() string { ids++; return fmt.Sprintf("sess-%d", ids) }
	t.Cleanup(func() { newUUID = orig })
	return f
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	return ucErr
}

func TestNewInterviewService_ValidatesDependencies(t *testing.T) {
	full := Dependencies{
		Params:    defaultParams(),
		Providers: map[string]ChatClient{"openai": &fakeChat{}},
		Moderator: &fakeModerator{},
		Embedder:  &fakeEmbedder{},
		Store:     newMemStore(),
	}
	_, err := NewInterviewService(full, Config{ParamPrefix: "/p"})
	require.NoError(t, err)

	for name, mutate := range map[string]func(d *Dependencies){
		"params":    func(d *Dependencies) { d.Params = nil },
		"providers": func(d *Dependencies) { d.Providers = nil },
		"moderator": func(d *Dependencies) { d.Moderator = nil },
		"embedder":  func(d *Dependencies) { d.Embedder = nil },
		"store":     func(d *Dependencies) { d.Store = nil },
	} {
		deps := full
		mutate(&deps)
		_, err := NewInterviewService(deps, Config{ParamPrefix: "/p"})
		require.Error(t, err, name)
	}

	_, err = NewInterviewService(full, Config{ParamPrefix: " "})
	require.Error(t, err)
}

func TestTurn_NewSessionGreets(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)

	out, err := f.svc.Turn(context.Background(), TurnInput{Name: "Ada", Message: "start"})
	require.NoError(t, err)
	require.Equal(t, interview.Greeting, out.Question)
	require.Equal(t, "sess-1", out.SessionID)
	require.Equal(t, 1, out.Turn)
	require.False(t, out.Done)

	require.Zero(t, f.anthropic.count()+f.openai.count())
	require.Empty(t, f.moderator.inputs)

	stored := f.store.sessions["sess-1"]
	require.Equal(t, 1, stored.Version)
	require.Equal(t, "Ada", stored.Name)
	require.Equal(t, domain.SessionActive, stored.Status)
	snap, err := interview.UnmarshalSnapshot(stored.State)
	require.NoError(t, err)
	require.Equal(t, 1, snap.TurnCounter)
}

func TestTurn_RoutesAgentsToProviders(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()

	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)
	out, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "I care about community gardens"})
	require.NoError(t, err)
	require.Equal(t, 2, out.Turn)
	require.NotEmpty(t, out.Question)

	// questioner draft + final, evaluator self-critique on anthropic; criticizer on openai
	require.Equal(t, 3, f.anthropic.count())
	require.Equal(t, 1, f.openai.count())
	require.Equal(t, "gpt-c", f.openai.calls[0].model)
	require.Equal(t, "claude-q", f.anthropic.calls[0].model)
	require.InDelta(t, 0.8, f.anthropic.calls[0].params.Temperature, 1e-9)
	require.Equal(t, maxTokens, f.anthropic.calls[0].params.MaxTokens)
	require.Equal(t, maxRetries, f.openai.calls[0].params.MaxRetries)
	require.Equal(t, []string{"I care about community gardens"}, f.moderator.inputs)

	stored := f.store.sessions[out.SessionID]
	require.Equal(t, 2, stored.Version)
	require.Equal(t, 2, stored.Turns)
	require.Equal(t, 1, f.params.calls)
}

func TestTurn_Validation(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()

	long := make([]byte, defaultMaxResponse+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.svc.Turn(ctx, TurnInput{Message: string(long)})
	requireCode(t, err, ErrorInvalidInput)

	_, err = f.svc.Turn(ctx, TurnInput{SessionID: "missing", Message: "hello"})
	requireCode(t, err, ErrorNotFound)

	out, err := f.svc.Turn(ctx, TurnInput{Message: ""})
	require.NoError(t, err)
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "   "})
	requireCode(t, err, ErrorInvalidInput)
	require.Equal(t, 1, f.store.sessions[out.SessionID].Version)
}

func TestTurn_ModerationOutcomes(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()
	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)

	f.moderator.flagged = true
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "something unsafe"})
	ucErr := requireCode(t, err, ErrorInvalidResponse)
	require.Equal(t, "moderation_flagged", ucErr.Reason)

	f.moderator.flagged = false
	f.moderator.err = &testStatusErr{code: http.StatusTooManyRequests}
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "hello"})
	requireCode(t, err, ErrorRateLimited)

	f.moderator.err = errors.New("network down")
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "hello"})
	requireCode(t, err, ErrorUpstream)

	require.Zero(t, f.anthropic.count()+f.openai.count())
	require.Equal(t, 1, f.store.sessions[out.SessionID].Version)
}

type testStatusErr struct {
	code int
}

func (e *testStatusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *testStatusErr) HTTPStatusCode() int { return e.code }

func TestTurn_GenerationFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()
	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)
	before := f.store.sessions[out.SessionID]

	f.openai.err = &testStatusErr{code: http.StatusTooManyRequests}
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "I like maps"})
	ucErr := requireCode(t, err, ErrorRateLimited)
	require.Equal(t, "criticizer_rate_limited", ucErr.Reason)
	require.Equal(t, maxRetries+1, f.openai.count())
	require.Equal(t, before, f.store.sessions[out.SessionID])

	f.openai.err = nil
	out, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "I like maps"})
	require.NoError(t, err)
	require.Equal(t, 2, out.Turn)
}

func TestTurn_UpstreamKinds(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	f.anthropic.err = &testStatusErr{code: http.StatusUnauthorized}

	_, err := f.svc.Turn(context.Background(), TurnInput{Message: "I build furniture"})
	ucErr := requireCode(t, err, ErrorUpstream)
	require.Equal(t, "questioner_invalid_credential", ucErr.Reason)
	require.Equal(t, 1, f.anthropic.count())
	require.Empty(t, f.store.sessions)
}

func TestTurn_ConflictAndStoreErrors(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()
	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)

	f.store.saveErr = repository.ErrVersionConflict
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "hi"})
	requireCode(t, err, ErrorConflict)

	f.store.saveErr = errors.New("disk full")
	_, err = f.svc.Turn(ctx, TurnInput{SessionID: out.SessionID, Message: "hi"})
	ucErr := requireCode(t, err, ErrorInternal)
	require.Equal(t, "session_write_error", ucErr.Reason)
}

func TestTurn_CorruptStateIsInternal(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	f.store.sessions["bad"] = domain.Session{ID: "bad", Version: 3, State: []byte("garbage")}

	_, err := f.svc.Turn(context.Background(), TurnInput{SessionID: "bad", Message: "hello"})
	ucErr := requireCode(t, err, ErrorInternal)
	require.Equal(t, "session_state_corrupt", ucErr.Reason)
	var cerr *interview.StateCorruptionError
	require.ErrorAs(t, err, &cerr)
}

func TestTurn_BudgetEndsInterview(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)
	id := out.SessionID

	out, err = f.svc.Turn(ctx, TurnInput{SessionID: id, Message: "one"})
	require.NoError(t, err)
	require.False(t, out.Done)
	out, err = f.svc.Turn(ctx, TurnInput{SessionID: id, Message: "two"})
	require.NoError(t, err)
	require.True(t, out.Done)

	calls := f.anthropic.count() + f.openai.count()
	version := f.store.sessions[id].Version
	out, err = f.svc.Turn(ctx, TurnInput{SessionID: id, Message: "three"})
	require.NoError(t, err)
	require.Equal(t, interview.Closing, out.Question)
	require.True(t, out.Done)
	require.Equal(t, calls, f.anthropic.count()+f.openai.count())
	require.Equal(t, version, f.store.sessions[id].Version)
}

func TestFinish_StoresRecordOnce(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()
	out, err := f.svc.Turn(ctx, TurnInput{Name: "Ada", Message: "start"})
	require.NoError(t, err)
	id := out.SessionID
	for _, msg := range []string{"I teach kids", "I want to write a book"} {
		_, err = f.svc.Turn(ctx, TurnInput{SessionID: id, Message: msg})
		require.NoError(t, err)
	}

	first, err := f.svc.Finish(ctx, FinishInput{SessionID: id})
	require.NoError(t, err)
	require.Equal(t, id, first.Record.ID)
	require.Equal(t, "Ada", first.Record.Name)
	require.Len(t, first.Record.QuestionAnswer, 2)
	require.NotEmpty(t, first.Record.Impression)
	require.Len(t, first.Matches, 2)
	require.GreaterOrEqual(t, first.Matches[0].Score, first.Matches[1].Score)
	require.Contains(t, f.embedder.models, "text-embedding-3-small")

	stored := f.store.sessions[id]
	require.Equal(t, domain.SessionFinished, stored.Status)
	require.Equal(t, 4, stored.Version)

	second, err := f.svc.Finish(ctx, FinishInput{SessionID: id})
	require.NoError(t, err)
	require.Equal(t, first.Record, second.Record)
	require.Equal(t, 1, f.store.recordSaves)

	turn, err := f.svc.Turn(ctx, TurnInput{SessionID: id, Message: "more"})
	require.NoError(t, err)
	require.Equal(t, interview.Closing, turn.Question)
	require.True(t, turn.Done)
}

func TestFinish_Errors(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	ctx := context.Background()

	_, err := f.svc.Finish(ctx, FinishInput{})
	requireCode(t, err, ErrorInvalidInput)

	_, err = f.svc.Finish(ctx, FinishInput{SessionID: "missing"})
	requireCode(t, err, ErrorNotFound)

	out, err := f.svc.Turn(ctx, TurnInput{Message: "start"})
	require.NoError(t, err)
	f.store.saveErr = repository.ErrVersionConflict
	_, err = f.svc.Finish(ctx, FinishInput{SessionID: out.SessionID})
	requireCode(t, err, ErrorConflict)
}

func TestEnsureConfig(t *testing.T) {
	f := newFixture(t, interview.DefaultTurnBudget)
	f.params.values["/interview-agent/config/criticizer_model"] = "mistral:large"

	_, err := f.svc.Turn(context.Background(), TurnInput{Message: "start"})
	ucErr := requireCode(t, err, ErrorInternal)
	require.Equal(t, "ssm_load_error", ucErr.Reason)
	require.ErrorContains(t, err, "unknown provider")

	f.params.values["/interview-agent/config/criticizer_model"] = "openai:gpt-c"
	for i := 0; i < 3; i++ {
		_, err = f.svc.Turn(context.Background(), TurnInput{Message: "start"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.params.calls)
}

func TestParseModelRef(t *testing.T) {
	ref, err := parseModelRef(" Anthropic:claude-3-5-haiku-latest ")
	require.NoError(t, err)
	require.Equal(t, modelRef{Provider: "anthropic", Model: "claude-3-5-haiku-latest"}, ref)

	for _, raw := range []string{"", "gpt-4o-mini", ":model", "openai:"} {
		_, err := parseModelRef(raw)
		require.Error(t, err, raw)
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("sess")
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.False(t, overlap)
	require.Empty(t, k.locks)
}
