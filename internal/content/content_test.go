package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "product/shirt-01.png", want: "product/shirt-01.png"},
		{key: "product//shirt.png", want: "product/shirt.png"},
		{key: " tmp/a.jpg ", want: "tmp/a.jpg"},
		{key: "", wantErr: true},
		{key: "/etc/passwd", wantErr: true},
		{key: "product/../../etc/passwd", wantErr: true},
		{key: `product\a.png`, wantErr: true},
		{key: ".", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "product/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, "product/a.png")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Write(ctx, "product/a.png", strings.NewReader("first"), 5, "image/png"))
	require.NoError(t, s.Write(ctx, "product/a.png", strings.NewReader("second"), 6, "image/png"))

	ok, err = s.Exists(ctx, "product/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.Open(ctx, "product/a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "second", string(data))

	require.NoError(t, Copy(ctx, s, "product/a.png", "variants/1/b.png", "image/png"))
	r, err = s.Open(ctx, "variants/1/b.png")
	require.NoError(t, err)
	data, _ = io.ReadAll(r)
	r.Close()
	assert.Equal(t, "second", string(data))

	require.NoError(t, s.Delete(ctx, "product/a.png"))
	require.NoError(t, s.Delete(ctx, "product/a.png"))
	ok, err = s.Exists(ctx, "product/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Write(ctx, "../escape", strings.NewReader("x"), 1, ""), ErrInvalidKey)
	assert.NoError(t, s.Health(ctx))
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestLocalStoreRequiresPath(t *testing.T) {
	_, err := NewLocalStore("  ", zerolog.Nop())
	assert.Error(t, err)
}
