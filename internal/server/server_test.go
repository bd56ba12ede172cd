package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaingest/internal/content"
	"mediaingest/internal/models"
	"mediaingest/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []models.ImageTask
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, tasks ...models.ImageTask) ([]models.ImageTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.ImageTask, len(tasks))
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		t.ID = uuid.New()
		out[i] = t
	}
	f.tasks = append(f.tasks, out...)
	return out, nil
}

type testServer struct {
	srv   *Server
	db    *storage.Storage
	store *content.MemoryStore
	queue *fakeEnqueuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := storage.NewStorage(context.Background(), storage.DriverSQLite, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	store := content.NewMemoryStore()
	q := &fakeEnqueuer{}
	cfg := &models.Config{ServerAddr: ":0"}
	return &testServer{
		srv:   NewServer(cfg, db, store, q, zerolog.Nop()),
		db:    db,
		store: store,
		queue: q,
	}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestCreateTask(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/tasks",
		`{"kind":"variant_image","source_url":"https://cdn.example.com/a.png","product_id":3,"variant_id":9,"order":2}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct{ ID string }
	decode(t, w, &resp)
	require.Len(t, ts.queue.tasks, 1)
	assert.Equal(t, ts.queue.tasks[0].ID.String(), resp.ID)
	assert.Equal(t, models.TaskVariantImage, ts.queue.tasks[0].Kind)
	assert.Equal(t, int64(9), ts.queue.tasks[0].VariantID)
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"logo","source_url":"https://a.b/c.png","product_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.queue.tasks)
}

func TestCreateTaskQueueDown(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.err = errors.New("broker unavailable")

	w := ts.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"product_image","source_url":"https://a.b/c.png","product_id":1}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestImportImages(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/products/12/images",
		`{"urls":["https://cdn.example.com/a.png","https://cdn.example.com/b"],"start_order":5}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct{ IDs []string }
	decode(t, w, &resp)
	assert.Len(t, resp.IDs, 2)

	require.Len(t, ts.queue.tasks, 2)
	for i, task := range ts.queue.tasks {
		assert.Equal(t, models.TaskProductImage, task.Kind)
		assert.Equal(t, int64(12), task.ProductID)
		assert.Equal(t, 5+i, task.Order)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/products/12/images", `{"urls":["https://cdn.example.com/c.png"],"variant_id":7}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	last := ts.queue.tasks[len(ts.queue.tasks)-1]
	assert.Equal(t, models.TaskVariantImage, last.Kind)
	assert.Equal(t, int64(7), last.VariantID)
	assert.Equal(t, 0, last.Order)
}

func TestImportImagesValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/products/abc/images", `{"urls":["https://a.b/c.png"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/products/1/images", `{"urls":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/products/1/images", `{"urls":["ftp://a.b/c.png"]}`).Code)
	assert.Empty(t, ts.queue.tasks)
}

func TestPutProduct(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/v1/products/4", `{"name":"Linen Shirt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var p models.Product
	decode(t, w, &p)
	assert.Equal(t, int64(4), p.ID)
	assert.Equal(t, "linen-shirt", p.Slug)

	w = ts.do(t, http.MethodPut, "/api/v1/products/4", `{"name":"Linen Shirt","slug":"Summer Linen"}`)
	require.Equal(t, http.StatusOK, w.Code)
	stored, err := ts.db.GetProduct(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "summer-linen", stored.Slug)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/v1/products/4", `{"name":" "}`).Code)
}

func seedMedia(t *testing.T, ts *testServer, productID int64, order int, thumb string) *models.MediaRecord {
	t.Helper()
	rec := &models.MediaRecord{
		OwnerType:     models.OwnerProduct,
		OwnerID:       productID,
		Collection:    models.CollectionImages,
		FileName:      "a.png",
		FilePath:      "product/a.png",
		ThumbnailPath: thumb,
		MimeType:      "image/png",
		Size:          3,
		DisplayOrder:  order,
	}
	_, err := ts.db.UpsertProductMedia(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func TestMediaLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	thumb := "conversions/product/a.png-thumb.jpg"
	require.NoError(t, ts.store.Write(ctx, thumb, bytes.NewReader([]byte("jpg")), 3, "image/jpeg"))
	second := seedMedia(t, ts, 12, 1, "")
	first := seedMedia(t, ts, 12, 0, thumb)

	w := ts.do(t, http.MethodGet, "/api/v1/products/12/media", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct{ Items []models.MediaRecord }
	decode(t, w, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, first.ID, list.Items[0].ID)
	assert.Equal(t, second.ID, list.Items[1].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/media/"+itoa(first.ID), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/media/"+itoa(first.ID), "")
	require.Equal(t, http.StatusNoContent, w.Code)
	ok, err := ts.store.Exists(ctx, thumb)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/media/"+itoa(first.ID), "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/media/"+itoa(first.ID), "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/media/x", "").Code)
}

func TestListVariantImagesEmpty(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/variants/7/images", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestGetFile(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Write(context.Background(), "product/a.png", bytes.NewReader([]byte("png-bytes")), 9, "image/png"))

	w := ts.do(t, http.MethodGet, "/files/product/a.png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/files/product/missing.png", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/files/product/../../etc/passwd", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"database":"ok","content":"ok"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mediaingest_http_requests_total")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
