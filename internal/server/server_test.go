package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/document/handler"
	"github.com/gogotex/collabdocs/pkg/collabclient"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT.Secret = "server-test-secret-32-bytes-xxxxxxxx"
	cfg.JWT.AccessTokenTTL = time.Hour
	cfg.Realtime = config.RealtimeConfig{ChannelPrefix: "collab:", SendBuffer: 16, AllowedOrigins: []string{"*"}}
	return cfg
}

type testServer struct {
	t   *testing.T
	app *App
	srv *httptest.Server
}

func start(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(app.Engine)
	t.Cleanup(func() {
		require.NoError(t, app.Close(context.Background()))
		srv.Close()
	})
	return &testServer{t: t, app: app, srv: srv}
}

func (s *testServer) do(method, path, token, body string, headers ...string) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) register(name string) string {
	s.t.Helper()
	body := `{"name":"` + name + `","email":"` + strings.ToLower(name) + `@example.com","password":"secret-pass"}`
	resp := s.do(http.MethodPost, "/api/register", "", body)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func (s *testServer) createDocument(token, title string) *document.Document {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/documents", token, `{"title":"`+title+`"}`)
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	var d document.Document
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&d))
	return &d
}

func (s *testServer) dial(token string) *collabclient.Client {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/broadcasting/socket?token=" + token
	c, err := collabclient.Dial(ctx, url, "")
	require.NoError(s.t, err)
	s.t.Cleanup(func() { c.Close() })
	return c
}

func subscribe(t *testing.T, c *collabclient.Client, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.SubscribeDocument(ctx, id))
}

func awaitUpdate(t *testing.T, c *collabclient.Client) collabclient.Update {
	t.Helper()
	select {
	case u := <-c.Updates():
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("no update received")
		return collabclient.Update{}
	}
}

func requireNoUpdate(t *testing.T, c *collabclient.Client) {
	t.Helper()
	select {
	case u := <-c.Updates():
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServer_OpsEndpoints(t *testing.T) {
	s := start(t, testConfig())
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", "").StatusCode)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", "", "").StatusCode)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/swagger/doc.json", "", "").StatusCode)

	resp := s.do(http.MethodOptions, "/api/documents", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), handler.SocketIDHeader)
}

func TestServer_RequiresJWTSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = ""
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestServer_DocumentsRequireAuth(t *testing.T) {
	s := start(t, testConfig())
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/documents", "", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/broadcasting/socket", "", "").StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := collabclient.Dial(ctx, "ws"+strings.TrimPrefix(s.srv.URL, "http")+"/api/broadcasting/socket", "bogus")
	require.Error(t, err)
}

func TestServer_PresenceAndBroadcast(t *testing.T) {
	s := start(t, testConfig())
	ann := s.register("Ann")
	bob := s.register("Bob")
	d := s.createDocument(ann, "Notes")

	annSock := s.dial(ann)
	bobSock := s.dial(bob)
	subscribe(t, annSock, d.ID)
	subscribe(t, bobSock, d.ID)
	annSock.SetDocument(d)
	bobSock.SetDocument(d)

	channel := "document." + d.ID
	require.Len(t, bobSock.Members(channel), 2)
	require.Eventually(t, func() bool { return len(annSock.Members(channel)) == 2 }, 2*time.Second, 10*time.Millisecond)

	// ann writes from her socket; bob sees it, ann's socket does not
	resp := s.do(http.MethodPut, "/api/documents/"+d.ID, ann, `{"content":"hello"}`, handler.SocketIDHeader, annSock.SocketID())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u := awaitUpdate(t, bobSock)
	require.Equal(t, "hello", u.Document.Content)
	require.Equal(t, "hello", bobSock.Document().Content)
	requireNoUpdate(t, annSock)

	// a second write archives "hello"
	s.do(http.MethodPut, "/api/documents/"+d.ID, ann, `{"content":"world"}`, handler.SocketIDHeader, annSock.SocketID())
	require.Equal(t, "world", awaitUpdate(t, bobSock).Document.Content)
	resp = s.do(http.MethodGet, "/api/documents/"+d.ID+"/versions", bob, "")
	var versions []document.Version
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	require.Len(t, versions, 1)
	require.Equal(t, "hello", versions[0].Content)

	require.NoError(t, bobSock.Close())
	require.Eventually(t, func() bool { return len(annSock.Members(channel)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SubscribeRequiresLiveDocument(t *testing.T) {
	s := start(t, testConfig())
	ann := s.register("Ann")
	d := s.createDocument(ann, "Gone")
	c := s.dial(ann)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.Error(t, c.SubscribeDocument(ctx, "missing"))

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/documents/"+d.ID, ann, "").StatusCode)
	require.Error(t, c.SubscribeDocument(ctx, d.ID))
}

func TestServer_RedisRelay(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	cfg := testConfig()
	host, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)
	cfg.Redis = config.RedisConfig{Host: host, Port: port}

	s := start(t, cfg)
	require.NotNil(t, s.app.Relay)
	select {
	case <-s.app.Relay.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("relay not subscribed")
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", "", "").StatusCode)

	ann := s.register("Ann")
	bob := s.register("Bob")
	require.True(t, m.Exists("token:user:"+userID(t, s, ann)))

	d := s.createDocument(ann, "Shared")
	annSock := s.dial(ann)
	bobSock := s.dial(bob)
	subscribe(t, annSock, d.ID)
	subscribe(t, bobSock, d.ID)

	// without a socket id every connection of the author is skipped
	resp := s.do(http.MethodPut, "/api/documents/"+d.ID, ann, `{"content":"via redis"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "via redis", awaitUpdate(t, bobSock).Document.Content)
	requireNoUpdate(t, annSock)

	// logout revokes the token stored in Redis
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/logout", ann, "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/user", ann, "").StatusCode)
}

func userID(t *testing.T, s *testServer, token string) string {
	t.Helper()
	resp := s.do(http.MethodGet, "/api/user", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	return u.ID
}

func TestServer_QueryTokenOnlyOnSocket(t *testing.T) {
	s := start(t, testConfig())
	ann := s.register("Ann")

	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/documents?token="+ann, "", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/user?token="+ann, "", "").StatusCode)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/documents", ann, "").StatusCode)

	// the websocket route still takes the query parameter
	s.dial(ann)
}

func TestServer_RateLimitPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	s := start(t, cfg)

	// both registrations share the loopback address and fit its burst
	ann := s.register("Ann")
	bob := s.register("Bob")
	require.Equal(t, http.StatusTooManyRequests,
		s.do(http.MethodPost, "/api/login", "", `{"email":"ann@example.com","password":"secret-pass"}`).StatusCode)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/documents", ann, "").StatusCode)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/documents", ann, "").StatusCode)
	require.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/api/documents", ann, "").StatusCode)

	// same address, different user
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/documents", bob, "").StatusCode)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/user", bob, "").StatusCode)
}
