package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/auth"
	"github.com/sjsunlp/leetcode-assistant/internal/core"
	"github.com/sjsunlp/leetcode-assistant/internal/embedding/mock"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/session"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
	"github.com/sjsunlp/leetcode-assistant/internal/vectorindex"
)

type testServer struct {
	url      string
	db       *store.SQLiteStore
	embedder *mock.Embedder
	index    *vectorindex.MemoryIndex
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewNop()
	embedder := mock.NewEmbedder()
	index := vectorindex.NewMemoryIndex()
	signer, err := auth.NewSessionSigner("test-secret", nil)
	require.NoError(t, err)
	sessions := session.NewManager(log, session.NewCookieStore(signer, time.Hour), session.CookieOptions{TTL: time.Hour})

	handler := NewAPIHandler(log,
		core.NewAuthService(log, db),
		core.NewChatService(log, db, embedder, index, time.Second),
		core.NewRAGService(log, db, embedder, index, time.Second),
		sessions,
		db,
	)
	server := httptest.NewServer(NewRouter(log, handler, []string{"https://leetcode.com"}))
	t.Cleanup(server.Close)

	return &testServer{url: server.URL, db: db, embedder: embedder, index: index}
}

// client returns a browser-like client that keeps cookies.
func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (s *testServer) do(t *testing.T, c *http.Client, method, path string, body any, header ...string) response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, header: resp.Header, body: map[string]any{}}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	return out
}

func (s *testServer) register(t *testing.T, c *http.Client, name string) map[string]any {
	t.Helper()
	resp := s.do(t, c, http.MethodPost, "/api/auth/register", map[string]any{
		"username": name, "email": name + "@x.com", "password": "pw123456",
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	return resp.body["user"].(map[string]any)
}

func (s *testServer) send(t *testing.T, c *http.Client, payload map[string]any) map[string]any {
	t.Helper()
	resp := s.do(t, c, http.MethodPost, "/api/messages/send", payload)
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	assert.Equal(t, true, resp.body["success"])
	return resp.body["message"].(map[string]any)
}

func TestAliceAndBobScenario(t *testing.T) {
	s := newTestServer(t)
	alice := s.client(t)
	bob := s.client(t)

	aliceUser := s.register(t, alice, "alice")
	assert.Equal(t, "alice", aliceUser["username"])
	assert.Equal(t, "alice@x.com", aliceUser["email"])
	assert.NotEmpty(t, aliceUser["api_token"])
	assert.NotContains(t, aliceUser, "password_hash")

	first := s.send(t, alice, map[string]any{"role": "user", "content": "two pointer technique"})
	assert.Equal(t, "message_"+jsonID(first), first["embedding_id"])
	assert.Equal(t, aliceUser["id"], first["user_id"])
	second := s.send(t, alice, map[string]any{"role": "user", "content": "explain dp"})
	assert.NotNil(t, second["embedding_id"])

	s.register(t, bob, "bob")
	s.send(t, bob, map[string]any{"content": "pointer pointer pointer"})

	resp := s.do(t, alice, http.MethodPost, "/api/rag/search", map[string]any{"query": "pointer"})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	messages := resp.body["messages"].([]any)
	require.NotEmpty(t, messages)
	assert.EqualValues(t, len(messages), resp.body["count"])

	top := messages[0].(map[string]any)
	assert.Equal(t, first["id"], top["id"])
	assert.Equal(t, "two pointer technique", top["content"])
	assert.Greater(t, top["similarity_score"].(float64), 0.0)
	for _, m := range messages {
		assert.Equal(t, aliceUser["id"], m.(map[string]any)["user_id"])
	}
}

func jsonID(m map[string]any) string {
	raw, _ := json.Marshal(m["id"])
	return string(raw)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	user := s.register(t, c, "alice")

	resp := s.do(t, s.client(t), http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice", "email": "different@x.com", "password": "pw",
	})
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "User exists", resp.body["error"])

	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/register", map[string]any{"username": "carol", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.NotEmpty(t, resp.body["error"])

	fresh := s.client(t)
	resp = s.do(t, fresh, http.MethodPost, "/api/auth/login", map[string]any{"username": "alice@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, user["id"], resp.body["user"].(map[string]any)["id"])

	resp = s.do(t, fresh, http.MethodGet, "/api/auth/verify", nil)
	assert.Equal(t, true, resp.body["authenticated"])

	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/login", map[string]any{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Invalid credentials", resp.body["error"])
}

func TestLongPasswordRegistersAndMustMatchExactly(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	long := strings.Repeat("a", 80)
	resp := s.do(t, c, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice", "email": "alice@x.com", "password": long,
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)

	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/login", map[string]any{"username": "alice", "password": long})
	assert.Equal(t, http.StatusOK, resp.status, resp.body)
	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/login", map[string]any{"username": "alice", "password": long[:72]})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	at72 := strings.Repeat("b", 72)
	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/register", map[string]any{
		"username": "bob", "email": "bob@x.com", "password": at72,
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	resp = s.do(t, s.client(t), http.MethodPost, "/api/auth/login", map[string]any{"username": "bob", "password": at72 + "EXTRA"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestLogoutEndsSession(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	resp := s.do(t, c, http.MethodGet, "/api/auth/verify", nil)
	assert.Equal(t, true, resp.body["authenticated"])

	resp = s.do(t, c, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, true, resp.body["success"])

	resp = s.do(t, c, http.MethodGet, "/api/auth/verify", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, false, resp.body["authenticated"])
	assert.NotContains(t, resp.body, "user")

	resp = s.do(t, c, http.MethodGet, "/api/messages/history", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestTokenIsStableUntilRotated(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	user := s.register(t, c, "alice")

	first := s.do(t, c, http.MethodGet, "/api/auth/token", nil)
	require.Equal(t, http.StatusOK, first.status)
	second := s.do(t, c, http.MethodGet, "/api/auth/token", nil)
	assert.Equal(t, first.body["api_token"], second.body["api_token"])
	assert.Equal(t, user["api_token"], first.body["api_token"])

	rotated := s.do(t, c, http.MethodPost, "/api/auth/token/rotate", nil)
	require.Equal(t, http.StatusOK, rotated.status)
	assert.NotEqual(t, first.body["api_token"], rotated.body["api_token"])

	old := s.do(t, s.client(t), http.MethodGet, "/api/messages/history", nil, "Authorization", "Bearer "+first.body["api_token"].(string))
	assert.Equal(t, http.StatusUnauthorized, old.status)

	current := s.do(t, s.client(t), http.MethodGet, "/api/messages/history", nil, "Authorization", "Bearer "+rotated.body["api_token"].(string))
	assert.Equal(t, http.StatusOK, current.status)
}

func TestBearerTokenUpgradesToSession(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, s.client(t), "alice")["api_token"].(string)

	ext := s.client(t)
	resp := s.do(t, ext, http.MethodPost, "/api/messages/send", map[string]any{"content": "hello"}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, resp.status, resp.body)

	// the jar now holds a session cookie, so the header is no longer needed
	resp = s.do(t, ext, http.MethodGet, "/api/messages/history", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 1, resp.body["total"])

	resp = s.do(t, s.client(t), http.MethodGet, "/api/auth/verify", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, true, resp.body["authenticated"])
	assert.Empty(t, resp.header.Values("Set-Cookie"))

	resp = s.do(t, s.client(t), http.MethodGet, "/api/auth/token", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Authentication required", resp.body["error"])

	resp = s.do(t, s.client(t), http.MethodGet, "/api/auth/token", nil, "Authorization", "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestBearerTokenMustMatchExactly(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, s.client(t), "alice")["api_token"].(string)

	for _, header := range []string{"Bearer  " + token, "Bearer \t" + token} {
		resp := s.do(t, s.client(t), http.MethodGet, "/api/auth/token", nil, "Authorization", header)
		assert.Equal(t, http.StatusUnauthorized, resp.status, "%q", header)

		resp = s.do(t, s.client(t), http.MethodGet, "/api/auth/verify", nil, "Authorization", header)
		assert.Equal(t, false, resp.body["authenticated"], "%q", header)
	}

	resp := s.do(t, s.client(t), http.MethodGet, "/api/auth/token", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/token"},
		{http.MethodPost, "/api/auth/token/rotate"},
		{http.MethodPost, "/api/messages/send"},
		{http.MethodGet, "/api/messages/history"},
		{http.MethodPost, "/api/rag/search"},
	} {
		resp := s.do(t, c, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.status, tc.path)
		assert.Equal(t, "Authentication required", resp.body["error"], tc.path)
	}
}

func TestSendMessageVariants(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	assistant := s.send(t, c, map[string]any{"role": "assistant", "content": "x", "model_used": "gpt-4o"})
	assert.Nil(t, assistant["embedding_id"])
	assert.Equal(t, "gpt-4o", assistant["model_used"])
	assert.Equal(t, 0, s.embedder.CallCount())

	withContext := s.send(t, c, map[string]any{
		"content":      "  sliding window  ",
		"problem_slug": "two-sum",
		"problem_id":   "1",
		"problem_url":  "https://leetcode.com/problems/two-sum/",
		"code_context": "func twoSum() {}",
	})
	assert.Equal(t, "user", withContext["role"])
	assert.Equal(t, "sliding window", withContext["content"])
	assert.Equal(t, "two-sum", withContext["problem_slug"])
	assert.Equal(t, "func twoSum() {}", withContext["code_context"])
	assert.NotEmpty(t, withContext["created_at"])
	assert.NotNil(t, withContext["embedding_id"])

	for _, body := range []any{
		map[string]any{"content": "   "},
		map[string]any{"role": "system", "content": "x"},
		map[string]any{"content": "x", "unexpected": true},
		`{"content": `,
	} {
		resp := s.do(t, c, http.MethodPost, "/api/messages/send", body)
		assert.Equal(t, http.StatusBadRequest, resp.status, body)
		assert.NotEmpty(t, resp.body["error"])
	}
}

func TestProviderFailureKeepsMessageButFailsSearch(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	s.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, apierr.Provider("openai embeddings failed", errors.New("upstream 502 with secret detail"))
	}

	msg := s.send(t, c, map[string]any{"content": "x"})
	assert.Nil(t, msg["embedding_id"])

	resp := s.do(t, c, http.MethodGet, "/api/messages/history", nil)
	assert.EqualValues(t, 1, resp.body["total"])

	resp = s.do(t, c, http.MethodPost, "/api/rag/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, "5", resp.header.Get("Retry-After"))
	assert.Equal(t, "openai embeddings failed", resp.body["error"])
	assert.NotContains(t, resp.body["error"], "secret")

	s.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, apierr.Configuration("OPENAI_API_KEY not configured")
	}
	resp = s.do(t, c, http.MethodPost, "/api/rag/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Empty(t, resp.header.Get("Retry-After"))
}

func TestHistoryPagination(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	var ids []any
	for i := 0; i < 4; i++ {
		payload := map[string]any{"role": "assistant", "content": "m"}
		if i < 2 {
			payload["problem_slug"] = "two-sum"
		}
		ids = append(ids, s.send(t, c, payload)["id"])
	}

	resp := s.do(t, c, http.MethodGet, "/api/messages/history?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 4, resp.body["total"])
	assert.EqualValues(t, 2, resp.body["limit"])
	assert.EqualValues(t, 1, resp.body["offset"])
	page := resp.body["messages"].([]any)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].(map[string]any)["id"])
	assert.Equal(t, ids[1], page[1].(map[string]any)["id"])

	resp = s.do(t, c, http.MethodGet, "/api/messages/history?problem_slug=two-sum&limit=500", nil)
	assert.EqualValues(t, 2, resp.body["total"])
	assert.EqualValues(t, core.MaxPageSize, resp.body["limit"])

	resp = s.do(t, c, http.MethodGet, "/api/messages/history", nil)
	assert.EqualValues(t, core.DefaultHistoryLimit, resp.body["limit"])
	assert.EqualValues(t, 0, resp.body["offset"])

	resp = s.do(t, c, http.MethodGet, "/api/messages/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestSearchValidation(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	for _, body := range []any{
		map[string]any{"query": "  "},
		map[string]any{"query": "x", "top_k": 0},
		map[string]any{"query": "x", "top_k": "five"},
	} {
		resp := s.do(t, c, http.MethodPost, "/api/rag/search", body)
		assert.Equal(t, http.StatusBadRequest, resp.status, body)
	}

	resp := s.do(t, c, http.MethodPost, "/api/rag/search", map[string]any{"query": "x", "top_k": 1000, "problem_slug": "two-sum"})
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 0, resp.body["count"])
	assert.Equal(t, []any{}, resp.body["messages"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, s.client(t), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
	assert.Equal(t, "ok", resp.body["database"])
	_, err := time.Parse(time.RFC3339, resp.body["time"].(string))
	assert.NoError(t, err)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, s.url+"/api/messages/send", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("chrome-extension://abcdefghijklmnop")
	assert.Equal(t, "chrome-extension://abcdefghijklmnop", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://leetcode.com"}
	for origin, want := range map[string]bool{
		"chrome-extension://abc":    true,
		"http://localhost:3000":     true,
		"https://localhost":         true,
		"http://127.0.0.1:5173":     true,
		"https://leetcode.com":      true,
		"https://leetcode.com.evil": false,
		"http://localhost.evil.com": false,
		"ftp://localhost":           false,
		"":                          false,
	} {
		assert.Equal(t, want, originAllowed(origin, allowed), origin)
	}
}

func TestBearerTokenIsNotTrimmed(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"Bearer abc ":  "abc ",
		"Bearer  abc":  " abc",
		"Bearer abc\t": "abc\t",
		"bearer abc":   "",
		"abc":          "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/token", nil)
		req.Header["Authorization"] = []string{header}
		assert.Equal(t, want, bearerToken(req), "%q", header)
	}
}

func TestBadBodiesGetFixedMessages(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	for _, tc := range []struct {
		path string
		body any
		want string
	}{
		{"/api/messages/send", `{"content": `, "Invalid request body: malformed JSON"},
		{"/api/messages/send", `{"content": "x"}{}`, "Invalid request body: trailing data"},
		{"/api/messages/send", `not json`, "Invalid request body: malformed JSON"},
		{"/api/messages/send", map[string]any{"content": "x", "unexpected": true}, "Invalid request body: unknown field"},
		{"/api/messages/send", map[string]any{"content": 42}, "Invalid request body: field has the wrong type"},
		{"/api/rag/search", map[string]any{"query": "x", "top_k": "five"}, "Invalid request body: field has the wrong type"},
	} {
		resp := s.do(t, c, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.status, tc.body)
		assert.Equal(t, tc.want, resp.body["error"], tc.body)
		for _, leak := range []string{"json:", "Go value", "string", "int", "unexpected"} {
			assert.NotContains(t, resp.body["error"], leak, tc.body)
		}
	}
}

func TestDecodeJSONAcceptsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader(""))
	var dst SearchRequest
	assert.NoError(t, decodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Nil(t, dst.TopK)
}
