package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mediaingest/internal/content"
	"mediaingest/internal/storage"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageServer serves the same body for every path and counts requests per path.
type imageServer struct {
	*httptest.Server
	body   []byte
	status atomic.Int32
	hits   atomic.Int32

	mu     sync.Mutex
	byPath map[string][]byte
}

func newImageServer(t *testing.T, body []byte) *imageServer {
	t.Helper()
	s := &imageServer{body: body, byPath: map[string][]byte{}}
	s.status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if code := int(s.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		s.mu.Lock()
		body, ok := s.byPath[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			body = s.body
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) serve(path string, body []byte) {
	s.mu.Lock()
	s.byPath[path] = body
	s.mu.Unlock()
}

type testEnv struct {
	db       *storage.Storage
	store    *content.MemoryStore
	fetcher  *Fetcher
	attacher *Attacher
	pipeline *Pipeline
	logs     *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.NewStorage(context.Background(), storage.DriverSQLite, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	logs := &syncBuffer{}
	log := zerolog.New(logs).Level(zerolog.InfoLevel)

	store := content.NewMemoryStore()
	fetcher := NewFetcher(store, db, &http.Client{Timeout: 2 * time.Second}, 1<<20, log)
	attacher := NewAttacher(db, store, SlugNamer{}, NewThumbnailer(store, 16, 16, log), log)
	return &testEnv{
		db:       db,
		store:    store,
		fetcher:  fetcher,
		attacher: attacher,
		pipeline: NewPipeline(fetcher, attacher, log),
		logs:     logs,
	}
}
