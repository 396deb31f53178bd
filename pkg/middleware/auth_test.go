package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier accepts exactly one raw token.
type fakeVerifier struct {
	accept string
	claims map[string]interface{}
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	if raw == f.accept {
		return &fakeToken{data: f.claims}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

var goodVerifier = &fakeVerifier{accept: "goodtoken", claims: map[string]interface{}{
	"sub": "user1", "email": "test@example.com", "name": "Test", "jti": "j1",
}}

func serveAuth(t *testing.T, req *http.Request, verifiers ...Verifier) *httptest.ResponseRecorder {
	t.Helper()
	g := gin.New()
	g.GET("/", AuthMiddleware(verifiers...), func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		require.True(t, ok)
		claims, ok := c.Get("claims")
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"identity": id, "tokenId": id.TokenID, "claims": claims})
	})
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rw := serveAuth(t, req, goodVerifier)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BadHeader")
	rw := serveAuth(t, req, goodVerifier)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rw := serveAuth(t, req, goodVerifier)

	require.Equal(t, http.StatusOK, rw.Code)
	var got struct {
		Identity Identity               `json:"identity"`
		TokenID  string                 `json:"tokenId"`
		Claims   map[string]interface{} `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, "user1", got.Identity.ID)
	require.Equal(t, "Test", got.Identity.Name)
	require.Equal(t, "j1", got.TokenID)
	require.Equal(t, "user1", got.Claims["sub"])
}

func TestAuthMiddleware_IgnoresQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=goodtoken", nil)
	rw := serveAuth(t, req, goodVerifier)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestSocketAuthMiddleware_QueryToken(t *testing.T) {
	g := gin.New()
	g.GET("/socket", SocketAuthMiddleware(goodVerifier), func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.String(http.StatusOK, id.ID)
	})

	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/socket?token=goodtoken", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "user1", rw.Body.String())

	// the header wins over the query parameter
	req := httptest.NewRequest(http.MethodGet, "/socket?token=goodtoken", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	rw = httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	require.Equal(t, http.StatusUnauthorized, rw.Code)

	rw = httptest.NewRecorder()
	g.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/socket", nil))
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_TriesVerifiersInOrder(t *testing.T) {
	oidcLike := &fakeVerifier{accept: "idtoken", claims: map[string]interface{}{
		"sub": "kc-1", "preferred_username": "kc-user",
	}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer idtoken")
	rw := serveAuth(t, req, goodVerifier, oidcLike)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "kc-user")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	rw = serveAuth(t, req, goodVerifier, oidcLike)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_RequiresSubject(t *testing.T) {
	noSub := &fakeVerifier{accept: "t", claims: map[string]interface{}{"email": "x@example.com"}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	rw := serveAuth(t, req, noSub)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_NoVerifiers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rw := serveAuth(t, req)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}
