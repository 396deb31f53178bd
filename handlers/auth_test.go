package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/sessions"
	"github.com/gogotex/collabdocs/internal/tokens"
	"github.com/gogotex/collabdocs/internal/users"
	"github.com/gogotex/collabdocs/pkg/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	cfg := &config.Config{}
	cfg.JWT.Secret = "handler-test-secret-32-bytes-xxxxxxx"
	cfg.JWT.AccessTokenTTL = time.Hour

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sess := sessions.NewService(sessions.NewRedisRepository(client, "test:token:"))
	h := NewAuthHandler(cfg, users.NewService(users.NewMemoryUserRepository()), sess)

	gin.SetMode(gin.TestMode)
	g := gin.New()
	h.Register(g.Group("/api"), middleware.AuthMiddleware(tokens.NewVerifier(cfg.JWT.Secret, sess)))
	return g
}

func post(g *gin.Engine, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func getUser(g *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

type authResponse struct {
	User struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

func TestRegisterLoginLogout(t *testing.T) {
	g := newAuthRouter(t)

	w := post(g, "/api/register", `{"name":"Ann","email":"ann@example.com","password":"secret-pass","password_confirmation":"secret-pass"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.Equal(t, "Ann", reg.User.Name)
	assert.NotEmpty(t, reg.Token)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = post(g, "/api/login", `{"email":"ann@example.com","password":"secret-pass"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var login authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.Equal(t, reg.User.ID, login.User.ID)

	// both tokens work
	for _, tok := range []string{reg.Token, login.Token} {
		w = getUser(g, tok)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ann@example.com")
	}

	// logout with one token revokes every token of the user
	w = post(g, "/api/logout", ``, login.Token)
	require.Equal(t, http.StatusOK, w.Code)
	for _, tok := range []string{reg.Token, login.Token} {
		assert.Equal(t, http.StatusUnauthorized, getUser(g, tok).Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	g := newAuthRouter(t)
	require.Equal(t, http.StatusCreated, post(g, "/api/register", `{"name":"Ann","email":"ann@example.com","password":"secret-pass"}`, "").Code)

	assert.Equal(t, http.StatusUnauthorized, post(g, "/api/login", `{"email":"ann@example.com","password":"wrong-pass"}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(g, "/api/login", `{"email":"bob@example.com","password":"secret-pass"}`, "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, post(g, "/api/login", `{"email":"ann@example.com"}`, "").Code)
}

func TestRegister_Validation(t *testing.T) {
	g := newAuthRouter(t)
	require.Equal(t, http.StatusCreated, post(g, "/api/register", `{"name":"Ann","email":"ann@example.com","password":"secret-pass"}`, "").Code)

	cases := []string{
		`{"name":"Ann","email":"ann@example.com","password":"secret-pass"}`,                                       // duplicate
		`{"name":"Bob","email":"not-an-email","password":"secret-pass"}`,                                          // email
		`{"name":"Bob","email":"bob@example.com","password":"short"}`,                                             // length
		`{"email":"bob@example.com","password":"secret-pass"}`,                                                    // name
		`{"name":"Bob","email":"bob@example.com","password":"secret-pass","password_confirmation":"different!!"}`, // confirmation
	}
	for _, body := range cases {
		assert.Equal(t, http.StatusUnprocessableEntity, post(g, "/api/register", body, "").Code, body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	g := newAuthRouter(t)
	assert.Equal(t, http.StatusUnauthorized, post(g, "/api/logout", ``, "").Code)
	assert.Equal(t, http.StatusUnauthorized, getUser(g, "garbage").Code)
}
