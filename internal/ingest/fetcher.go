package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mediaingest/internal/content"
	"mediaingest/internal/metrics"
	"mediaingest/internal/models"
)

var ErrTooLarge = errors.New("ingest: response exceeds max image size")

// FileIndex maps content store paths to the URL they were fetched from.
// ClaimStoredFile is insert-if-absent: the first URL to claim a path owns it.
type FileIndex interface {
	ClaimStoredFile(ctx context.Context, path, sourceURL string) (*models.StoredFile, error)
	SaveStoredFile(ctx context.Context, f *models.StoredFile) error
}

type FetchResult struct {
	Path     string
	CacheHit bool
	MimeType string
	Size     int64
}

// FetchError reports a failed download. Nothing has been written when it is returned.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch {
	case errors.Is(e.Err, ErrTooLarge):
		return false
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

type Fetcher struct {
	store    content.Store
	index    FileIndex
	client   *http.Client
	maxBytes int64
	log      zerolog.Logger
	group    singleflight.Group
}

func NewFetcher(store content.Store, index FileIndex, client *http.Client, maxBytes int64, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{
		store:    store,
		index:    index,
		client:   client,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch makes sourceURL available in the content store under namespace and
// returns its path. An existing object is reused without any outbound request.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, namespace string) (*FetchResult, error) {
	name, err := Basename(sourceURL)
	if err != nil {
		return nil, err
	}

	key, indexed, err := f.resolveKey(ctx, namespace, sourceURL, name)
	if err != nil {
		return nil, err
	}
	log := f.log.With().Str("url", sourceURL).Str("path", key).Logger()

	exists, err := f.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		metrics.RecordFetch("cache_hit")
		log.Info().Msg("cache hit, skipping download")
		if indexed.SHA256 == "" {
			return f.backfill(ctx, key, sourceURL, log)
		}
		return &FetchResult{Path: key, CacheHit: true, MimeType: indexed.MimeType, Size: indexed.Size}, nil
	}

	v, err, shared := f.group.Do(key+"\x00"+sourceURL, func() (any, error) {
		return f.download(ctx, sourceURL, key, log)
	})
	if err != nil {
		metrics.RecordFetch("failed")
		log.Warn().Err(err).Msg("fetch failed")
		return nil, err
	}
	res := *v.(*FetchResult)
	if shared {
		log.Debug().Msg("download shared with a concurrent task")
	}
	return &res, nil
}

// resolveKey claims "{namespace}/{name}" for sourceURL, falling back to the
// hash-prefixed collision path when a different URL already owns it.
func (f *Fetcher) resolveKey(ctx context.Context, namespace, sourceURL, name string) (string, *models.StoredFile, error) {
	key := namespace + "/" + name
	rec, err := f.index.ClaimStoredFile(ctx, key, sourceURL)
	if err != nil {
		return "", nil, err
	}
	if rec.SourceURL == sourceURL {
		return key, rec, nil
	}

	alt := collisionPath(namespace, sourceURL, name)
	f.log.Warn().Str("url", sourceURL).Str("path", key).Str("owner_url", rec.SourceURL).Str("alt_path", alt).
		Msg("basename already taken by another url")

	rec, err = f.index.ClaimStoredFile(ctx, alt, sourceURL)
	if err != nil {
		return "", nil, err
	}
	if rec.SourceURL != sourceURL {
		return "", nil, fmt.Errorf("ingest: %s and %s are both owned by other urls", key, alt)
	}
	return alt, rec, nil
}

func (f *Fetcher) download(ctx context.Context, sourceURL, key string, log zerolog.Logger) (*FetchResult, error) {
	start := time.Now()
	log.Info().Msg("fetching image")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: sourceURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: sourceURL, Err: ErrTooLarge}
	}

	file := describe(key, sourceURL, data)
	if err := f.store.Write(ctx, key, bytes.NewReader(data), file.Size, file.MimeType); err != nil {
		return nil, err
	}
	if err := f.index.SaveStoredFile(ctx, file); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.RecordFetch("fetched")
	metrics.RecordDownload(file.Size, elapsed.Seconds())
	log.Info().Str("mime", file.MimeType).Int64("bytes", file.Size).Dur("elapsed", elapsed).Msg("image stored")

	return &FetchResult{Path: key, MimeType: file.MimeType, Size: file.Size}, nil
}

// backfill indexes an object that exists without a digest, either because it
// predates the index or because indexing failed after the write. The object is
// trusted to hold sourceURL's bytes; nothing re-downloads it to check.
func (f *Fetcher) backfill(ctx context.Context, key, sourceURL string, log zerolog.Logger) (*FetchResult, error) {
	r, err := f.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}

	file := describe(key, sourceURL, data)
	if err := f.index.SaveStoredFile(ctx, file); err != nil {
		return nil, err
	}
	log.Warn().Str("sha256", file.SHA256).Msg("existing object attributed to url without verification")
	return &FetchResult{Path: key, CacheHit: true, MimeType: file.MimeType, Size: file.Size}, nil
}

func describe(key, sourceURL string, data []byte) *models.StoredFile {
	sum := sha256.Sum256(data)
	return &models.StoredFile{
		Path:      key,
		SourceURL: sourceURL,
		MimeType:  mimetype.Detect(data).String(),
		Size:      int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
	}
}
