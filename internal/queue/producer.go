package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"mediaingest/internal/models"
)

type Producer struct {
	w   MessageWriter
	log zerolog.Logger
}

func NewProducer(w MessageWriter, log zerolog.Logger) *Producer {
	return &Producer{w: w, log: log.With().Str("component", "producer").Logger()}
}

// Enqueue validates every task before writing any of them, then publishes
// them in one batch. The returned tasks carry their assigned ids.
func (p *Producer) Enqueue(ctx context.Context, tasks ...models.ImageTask) ([]models.ImageTask, error) {
	const op = "queue.Producer.Enqueue"

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s: %w: no tasks", op, models.ErrInvalidTask)
	}

	now := time.Now().UTC()
	out := make([]models.ImageTask, len(tasks))
	msgs := make([]kafka.Message, len(tasks))
	for i, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("%s: task %d: %w", op, i, err)
		}
		if task.ID == uuid.Nil {
			task.ID = uuid.New()
		}
		task.EnqueuedAt = now

		value, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[i] = task
		msgs[i] = kafka.Message{Key: []byte(task.OwnerKey()), Value: value}
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, task := range out {
		p.log.Debug().Str("task_id", task.ID.String()).Str("kind", string(task.Kind)).
			Str("owner", task.OwnerKey()).Int("order", task.Order).Msg("task enqueued")
	}
	return out, nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
