package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaingest/internal/models"
)

func TestProducerEnqueue(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, zerolog.Nop())

	tasks, err := p.Enqueue(context.Background(),
		models.NewProductImageTask("https://cdn.example.com/img/shirt-01.png", 12, 0),
		models.NewVariantImageTask("https://cdn.example.com/img/shirt-blue.png", 7, 12, 1),
	)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "product:12", string(msgs[0].Key))
	assert.Equal(t, "product_variant:7", string(msgs[1].Key))

	var decoded models.ImageTask
	require.NoError(t, json.Unmarshal(msgs[1].Value, &decoded))
	assert.NotEqual(t, uuid.Nil, decoded.ID)
	assert.Equal(t, tasks[1].ID, decoded.ID)
	assert.Equal(t, models.TaskVariantImage, decoded.Kind)
	assert.Equal(t, int64(7), decoded.VariantID)
	assert.False(t, decoded.EnqueuedAt.IsZero())
}

func TestProducerKeepsCallerID(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, zerolog.Nop())

	task := models.NewProductImageTask("https://cdn.example.com/a.png", 1, 0)
	task.ID = uuid.New()
	out, err := p.Enqueue(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, task.ID, out[0].ID)
}

func TestProducerRejectsInvalidBatch(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, zerolog.Nop())

	_, err := p.Enqueue(context.Background(),
		models.NewProductImageTask("https://cdn.example.com/a.png", 1, 0),
		models.NewProductImageTask("not a url", 1, 1),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTask))
	assert.Empty(t, w.written(), "nothing is published when any task is invalid")

	_, err = p.Enqueue(context.Background())
	assert.True(t, errors.Is(err, models.ErrInvalidTask))
}

func TestProducerWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducer(w, zerolog.Nop())

	_, err := p.Enqueue(context.Background(), models.NewProductImageTask("https://cdn.example.com/a.png", 1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
