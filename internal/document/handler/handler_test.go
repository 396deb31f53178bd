package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/broadcast"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/document/repository"
	"github.com/gogotex/collabdocs/internal/document/service"
	"github.com/gogotex/collabdocs/pkg/middleware"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []broadcast.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n broadcast.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	return nil
}

type memObjects struct {
	objects map[string]string
	failPut bool
}

func (m *memObjects) UploadFile(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = string(b)
	return nil
}

func (m *memObjects) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.local/" + key + "?sig=x", nil
}

func newRouter(svc *service.Service, objects ObjectStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	api := g.Group("/api", func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{ID: "u1", Name: "Ann"})
		c.Next()
	})
	RegisterDocumentRoutes(api, svc, objects, time.Minute)
	return g
}

func do(g *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func TestDocumentHandler_CRUD(t *testing.T) {
	g := newRouter(service.NewMemoryService(nil), nil)

	// create
	w := do(g, http.MethodPost, "/api/documents", `{"title":"Notes"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var created document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Notes", created.Title)
	require.Empty(t, created.Content)

	// get
	w = do(g, http.MethodGet, "/api/documents/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	// list
	w = do(g, http.MethodGet, "/api/documents", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []document.Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)

	// delete
	w = do(g, http.MethodDelete, "/api/documents/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(g, http.MethodGet, "/api/documents/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = do(g, http.MethodDelete, "/api/documents/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_CreateValidation(t *testing.T) {
	g := newRouter(service.NewMemoryService(nil), nil)
	require.Equal(t, http.StatusUnprocessableEntity, do(g, http.MethodPost, "/api/documents", `{"content":"x"}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(g, http.MethodPost, "/api/documents", `{"title":"   "}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(g, http.MethodPost, "/api/documents", `not json`).Code)
}

func TestDocumentHandler_UpdateArchivesAndBroadcasts(t *testing.T) {
	pub := &recordingPublisher{}
	g := newRouter(service.NewMemoryService(pub), nil)

	w := do(g, http.MethodPost, "/api/documents", `{"title":"T"}`)
	var d document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))

	for _, c := range []string{"v1", "v2", "v3"} {
		w = do(g, http.MethodPut, "/api/documents/"+d.ID, `{"content":"`+c+`"}`, SocketIDHeader, "sock-9")
		require.Equal(t, http.StatusOK, w.Code)
	}
	var updated document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, "v3", updated.Content)
	require.Equal(t, "T", updated.Title)

	w = do(g, http.MethodGet, "/api/documents/"+d.ID+"/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var vs []document.Version
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vs))
	require.Len(t, vs, 2)
	require.Equal(t, "v2", vs[0].Content)
	require.Equal(t, "v1", vs[1].Content)

	require.Len(t, pub.got, 3)
	last := pub.got[2]
	require.Equal(t, "sock-9", last.SocketID)
	require.Equal(t, document.Actor{ID: "u1", Name: "Ann"}, last.Actor)
	require.Equal(t, "v3", last.Document.Content)
}

func TestDocumentHandler_UpdateErrors(t *testing.T) {
	g := newRouter(service.NewMemoryService(nil), nil)
	w := do(g, http.MethodPost, "/api/documents", `{"title":"T"}`)
	var d document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))

	require.Equal(t, http.StatusNotFound, do(g, http.MethodPut, "/api/documents/missing", `{"content":"x"}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(g, http.MethodPut, "/api/documents/"+d.ID, `{"title":""}`).Code)
	require.Equal(t, http.StatusNotFound, do(g, http.MethodGet, "/api/documents/missing/versions", "").Code)
}

// brokenStore fails every Save after archiving.
type brokenStore struct {
	*repository.MemoryStore
}

func (brokenStore) Save(context.Context, *document.Document) error {
	return errors.New("write conflict")
}

func TestDocumentHandler_StorageFailureReturnsPriorDocument(t *testing.T) {
	svc := service.New(brokenStore{repository.NewMemoryStore()}, nil)
	g := newRouter(svc, nil)
	w := do(g, http.MethodPost, "/api/documents", `{"title":"T","content":"before"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var d document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))

	w = do(g, http.MethodPut, "/api/documents/"+d.ID, `{"content":"after"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body struct {
		Error    string            `json:"error"`
		Document document.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "before", body.Document.Content)
}

func TestDocumentHandler_Export(t *testing.T) {
	objects := &memObjects{objects: map[string]string{}}
	g := newRouter(service.NewMemoryService(nil), objects)

	w := do(g, http.MethodPost, "/api/documents", `{"title":"T","content":"hello"}`)
	var d document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))

	w = do(g, http.MethodPost, "/api/documents/"+d.ID+"/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Key, "documents/"+d.ID+"/"))
	require.Equal(t, "hello", objects.objects[out.Key])
	require.Contains(t, out.URL, out.Key)

	require.Equal(t, http.StatusNotFound, do(g, http.MethodPost, "/api/documents/missing/export", "").Code)

	objects.failPut = true
	require.Equal(t, http.StatusInternalServerError, do(g, http.MethodPost, "/api/documents/"+d.ID+"/export", "").Code)
}

func TestDocumentHandler_ExportDisabledWithoutStore(t *testing.T) {
	g := newRouter(service.NewMemoryService(nil), nil)
	w := do(g, http.MethodPost, "/api/documents", `{"title":"T"}`)
	var d document.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, http.StatusNotFound, do(g, http.MethodPost, "/api/documents/"+d.ID+"/export", "").Code)
}
