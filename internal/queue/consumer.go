package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"mediaingest/internal/ingest"
	"mediaingest/internal/metrics"
	"mediaingest/internal/models"
)

// TaskRunner executes one task. *ingest.Pipeline satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task models.ImageTask) ingest.Result
}

const deadLetterMaxBackoff = 30 * time.Second

type ConsumerConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Consumer struct {
	newReader   func() MessageReader
	deadLetters MessageWriter
	runner      TaskRunner
	cfg         ConsumerConfig
	log         zerolog.Logger
}

func NewConsumer(newReader func() MessageReader, deadLetters MessageWriter, runner TaskRunner, cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Consumer{
		newReader:   newReader,
		deadLetters: deadLetters,
		runner:      runner,
		cfg:         cfg,
		log:         log.With().Str("component", "consumer").Logger(),
	}
}

// Run blocks until ctx is cancelled or a worker hits an unrecoverable error.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error { return c.work(ctx, worker) })
	}
	c.log.Info().Int("workers", c.cfg.Workers).Msg("consumer started")
	err := g.Wait()
	c.log.Info().Msg("consumer stopped")
	return err
}

func (c *Consumer) work(ctx context.Context, worker int) error {
	log := c.log.With().Int("worker", worker).Logger()
	r := c.newReader()
	defer r.Close()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			log.Error().Err(err).Msg("fetch message failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.RetryBackoff):
			}
			continue
		}

		if !c.handle(ctx, msg, log) {
			// shutting down before the task or its dead letter finished; leave
			// the message uncommitted for redelivery
			return nil
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// handle runs the message to a final outcome and reports whether it may be
// committed. A failed task is only committed once its dead letter is written.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, log zerolog.Logger) bool {
	var task models.ImageTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		log.Warn().Err(err).Int64("offset", msg.Offset).Msg("undecodable task")
		err = c.deadLetter(ctx, models.DeadLetter{
			Raw:       string(msg.Value),
			ErrorKind: string(ingest.ErrorInvalidTask),
			Error:     err.Error(),
			FailedAt:  time.Now().UTC(),
		}, msg.Key, log)
		return err == nil
	}

	res, attempts := c.process(ctx, task)
	if !res.Failed() {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	err := c.deadLetter(ctx, models.DeadLetter{
		Task:      &task,
		ErrorKind: string(res.ErrorKind),
		Error:     errString(res.Err),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}, []byte(task.OwnerKey()), log)
	return err == nil
}

func (c *Consumer) process(ctx context.Context, task models.ImageTask) (ingest.Result, int) {
	var (
		res      ingest.Result
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), retry.NewExponential(c.cfg.RetryBackoff))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res = c.runner.Run(ctx, task)
		if !res.Failed() {
			return nil
		}
		err := res.Err
		if err == nil {
			err = fmt.Errorf("task failed: %s", res.ErrorKind)
		}
		if res.Retryable {
			c.log.Debug().Str("task_id", res.TaskID).Int("attempt", attempts).Err(err).Msg("retrying task")
			return retry.RetryableError(err)
		}
		return err
	})
	return res, attempts
}

// deadLetter publishes dl, retrying the write until it succeeds or ctx ends.
// The source message must stay uncommitted until this returns nil.
func (c *Consumer) deadLetter(ctx context.Context, dl models.DeadLetter, key []byte, log zerolog.Logger) error {
	value, err := json.Marshal(dl)
	if err != nil {
		log.Error().Err(err).Msg("encode dead letter")
		return err
	}

	backoff := retry.WithCappedDuration(deadLetterMaxBackoff, retry.NewExponential(c.cfg.RetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.deadLetters.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
			log.Error().Err(err).Str("error_kind", dl.ErrorKind).Msg("dead letter write failed, message stays uncommitted")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordDeadLetter(dl.ErrorKind)

	ev := log.Warn().Str("error_kind", dl.ErrorKind).Str("error", dl.Error).Int("attempts", dl.Attempts)
	if dl.Task != nil {
		ev = ev.Str("task_id", dl.Task.ID.String()).Str("url", dl.Task.SourceURL)
	}
	ev.Msg("task dead-lettered")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
