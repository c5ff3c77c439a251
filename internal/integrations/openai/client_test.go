package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
)

func TestEndpoint(t *testing.T) {
	cases := []struct {
		base string
		path string
		want string
	}{
		{"https://api.openai.com/v1", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "/moderations", "https://api.openai.com/v1/moderations"},
		{"http://localhost:8080", "/embeddings", "http://localhost:8080/v1/embeddings"},
		{"", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpoint(tc.base, tc.path), "base=%q", tc.base)
	}
}

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/interview-agent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/interview-agent/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/interview-agent", c.paramPrefix)
}

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	names  []string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/interview-agent")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"/interview-agent/open-ai-token"}, g.names)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{"json token", &fakeGetter{val: `{"token":"sk-from-json"}`}, "/p/open-ai-token", "sk-from-json", ""},
		{"missing token field", &fakeGetter{val: `{"other":"value"}`}, "/p/open-ai-token", "", "API token is empty"},
		{"malformed json", &fakeGetter{val: `{"broken`}, "/p/open-ai-token", "", "unmarshal"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p/open-ai-token", "", "ssm unavailable"},
		{"nil getter", nil, "/p/open-ai-token", "", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"x"}`}, " ", "", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

func TestFetchAPIKey_EmptyTokenIsInvalidCredential(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"token":""}`}, "/p/open-ai-token")
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/interview-agent",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Equal(t, 1024, req.MaxTokens)
		require.NotNil(t, req.Temperature)
		require.InDelta(t, 0.8, *req.Temperature, 1e-9)
		require.Equal(t, []wireMessage{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		}, req.Messages)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " What matters to you? "}}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "persona"},
		{Role: domain.RoleHuman, Content: "hi"},
		{Role: domain.RoleAI, Content: "hello"},
		{Role: domain.RoleUser, Content: "again"},
	}, domain.GenerationParams{Temperature: 0.8, MaxTokens: 1024})
	require.NoError(t, err)
	require.Equal(t, "What matters to you?", resp)
}

func TestClient_Chat_StatusErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := jsonServer(t, status, `{"error":"nope"}`)
		c := newTestClient(t, srv)

		_, err := c.Chat(context.Background(), "gpt-mock", nil, domain.GenerationParams{})
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Chat_MalformedReplies(t *testing.T) {
	cases := map[string]string{
		"invalid json":  `not-a-json`,
		"no choices":    `{"choices":[]}`,
		"empty content": `{"choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, jsonServer(t, http.StatusOK, body))
			_, err := c.Chat(context.Background(), "gpt-mock", nil, domain.GenerationParams{})
			require.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), "gpt-mock", nil, domain.GenerationParams{})
	require.Error(t, err)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/interview-agent")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil, domain.GenerationParams{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Chat_MissingToken(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{}`}, "/interview-agent", WithBaseURL("http://127.0.0.1:1"))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-mock", nil, domain.GenerationParams{})
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestClient_Moderate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"not flagged", `{"results":[{"flagged":false}]}`, false},
		{"flagged", `{"results":[{"flagged":true}]}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				var req moderationRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "I like to paint", req.Input)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			flagged, err := newTestClient(t, srv).Moderate(context.Background(), "I like to paint")
			require.NoError(t, err)
			require.Equal(t, tc.want, flagged)
		})
	}
}

func TestClient_Moderate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate limited"}`, "429"},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, "500"},
		{"malformed", http.StatusOK, `not-json`, "decode response"},
		{"empty results", http.StatusOK, `{"results":[]}`, "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, jsonServer(t, tc.status, tc.body))
			_, err := c.Moderate(context.Background(), "hello")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/interview-agent")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Embed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-embedding-3-small", req.Model)
		require.Equal(t, []string{"first", "second"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv).Embed(context.Background(), "text-embedding-3-small", []string{"first", "second"})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 0}, {0, 1}}, got)
}

func TestClient_Embed_CountMismatch(t *testing.T) {
	c := newTestClient(t, jsonServer(t, http.StatusOK, `{"data":[{"index":0,"embedding":[1]}]}`))
	_, err := c.Embed(context.Background(), "m", []string{"a", "b"})
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestClient_Embed_NoInputs(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/interview-agent")
	require.NoError(t, err)
	got, err := c.Embed(context.Background(), "m", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
