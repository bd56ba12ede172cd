package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaingest/internal/models"
)

func TestStoragePath(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		namespace string
		want      string
	}{
		{"keeps extension", "https://cdn.example.com/img/shirt-01.png", "product", "product/shirt-01.png"},
		{"appends default extension", "https://cdn.example.com/img/shirt-02", "product", "product/shirt-02.jpg"},
		{"variant namespace", "https://cdn.example.com/a/b/hoodie.webp", "tmp", "tmp/hoodie.webp"},
		{"ignores query", "https://cdn.example.com/img/cap.JPEG?w=800", "product", "product/cap.JPEG"},
		{"sanitises characters", "https://cdn.example.com/img/summer%20dress(1).png", "product", "product/summer-dress-1-.png"},
		{"trailing dot", "https://cdn.example.com/img/scarf.", "product", "product/scarf..jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StoragePath(tt.namespace, tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoragePathWithoutSegmentUsesHash(t *testing.T) {
	got, err := StoragePath("product", "https://cdn.example.com/")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "product/"))
	assert.True(t, strings.HasSuffix(got, DefaultExtension))
	assert.Len(t, got, len("product/")+16+len(DefaultExtension))

	again, err := StoragePath("product", "https://cdn.example.com/")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestStoragePathExtensionProperty(t *testing.T) {
	exts := []string{".png", ".jpg", ".gif", ".webp", ".tiff", ".PNG", ".j2k"}
	for i, ext := range exts {
		withExt := fmt.Sprintf("https://img.example.com/p/%d/item%d%s", i, i, ext)
		got, err := StoragePath("product", withExt)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got, ext), got)

		bare := fmt.Sprintf("https://img.example.com/p/%d/item-%d", i, i)
		got, err = StoragePath("product", bare)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got, ".jpg"), got)
	}
}

func TestBasenameRejectsInvalidURLs(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/a.png", "ftp://host/a.png", "https:///a.png"} {
		_, err := Basename(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestCollisionPathIsStable(t *testing.T) {
	a := collisionPath("product", "https://a.example.com/x/shirt.png", "shirt.png")
	b := collisionPath("product", "https://a.example.com/y/shirt.png", "shirt.png")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, collisionPath("product", "https://a.example.com/x/shirt.png", "shirt.png"))
	assert.True(t, strings.HasSuffix(a, "-shirt.png"))
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "conversions/product/shirt-01.png-thumb.jpg", ThumbnailKey("product/shirt-01.png"))
	assert.Equal(t, "conversions/variants/3/a-v1-0.webp-thumb.jpg", ThumbnailKey("variants/3/a-v1-0.webp"))
	assert.NotEqual(t, ThumbnailKey("product/a.png"), ThumbnailKey("product/a.jpg"))
}

func TestSlugNamer(t *testing.T) {
	namer := SlugNamer{}

	name, err := namer.FileName(&models.Product{ID: 1, Name: "Linen Shirt", Slug: "linen-shirt"}, 7, 2, ".PNG")
	require.NoError(t, err)
	assert.Equal(t, "linen-shirt-v7-2.png", name)

	name, err = namer.FileName(&models.Product{ID: 1, Name: "Über Hoodie & Co"}, 3, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "ber-hoodie-co-v3-0.jpg", name)

	_, err = namer.FileName(&models.Product{ID: 2}, 3, 0, ".png")
	assert.ErrorIs(t, err, ErrNaming)

	_, err = namer.FileName(nil, 3, 0, ".png")
	assert.ErrorIs(t, err, ErrNaming)
}
