package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"mediaingest/internal/content"
)

// Thumbnailer renders the JPEG thumbnail conversion for stored images.
type Thumbnailer struct {
	store  content.Store
	width  int
	height int
	log    zerolog.Logger
}

func NewThumbnailer(store content.Store, width, height int, log zerolog.Logger) *Thumbnailer {
	return &Thumbnailer{
		store:  store,
		width:  width,
		height: height,
		log:    log.With().Str("component", "thumbnailer").Logger(),
	}
}

// Generate writes the thumbnail of key to ThumbnailKey(key) and returns that key.
func (t *Thumbnailer) Generate(ctx context.Context, key string) (string, error) {
	const op = "ingest.Thumbnailer.Generate"

	r, err := t.store.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer r.Close()

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%s: decode %s: %w", op, key, err)
	}

	thumb := imaging.Thumbnail(src, t.width, t.height, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("%s: encode: %w", op, err)
	}

	thumbKey := ThumbnailKey(key)
	if err := t.store.Write(ctx, thumbKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg"); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	t.log.Debug().Str("path", key).Str("thumbnail", thumbKey).Msg("thumbnail generated")
	return thumbKey, nil
}
