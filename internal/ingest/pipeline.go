package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mediaingest/internal/metrics"
	"mediaingest/internal/models"
	"mediaingest/internal/storage"
)

type State string

const (
	StatePending   State = "pending"
	StateFetching  State = "fetching"
	StateCacheHit  State = "cache_hit"
	StateFetched   State = "fetched"
	StateAttaching State = "attaching"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeFailed    Outcome = "failed"
)

type ErrorKind string

const (
	ErrorInvalidTask ErrorKind = "invalid_task"
	ErrorFetch       ErrorKind = "fetch"
	ErrorNaming      ErrorKind = "naming"
	ErrorPersist     ErrorKind = "persist"
	ErrorInternal    ErrorKind = "internal"
)

// Result is what a single task run reports back to the queue runner.
type Result struct {
	TaskID      string
	Kind        models.TaskKind
	Outcome     Outcome
	Record      *models.MediaRecord
	Link        *models.VariantImageLink
	Created     bool
	ErrorKind   ErrorKind
	Err         error
	Retryable   bool
	Transitions []State
	Duration    time.Duration
}

func (r *Result) Failed() bool { return r.Outcome == OutcomeFailed }

func (r *Result) enter(s State, log zerolog.Logger) {
	r.Transitions = append(r.Transitions, s)
	log.Debug().Str("state", string(s)).Msg("task state")
}

func (r *Result) fail(kind ErrorKind, err error, retryable bool, log zerolog.Logger) {
	r.Outcome = OutcomeFailed
	r.ErrorKind = kind
	r.Err = err
	r.Retryable = retryable
	r.enter(StateFailed, log)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, sourceURL, namespace string) (*FetchResult, error)
}

// Pipeline runs one image task: fetch, then attach.
type Pipeline struct {
	fetcher  ImageFetcher
	attacher *Attacher
	log      zerolog.Logger
}

func NewPipeline(fetcher ImageFetcher, attacher *Attacher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		attacher: attacher,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes task to completion. Failures are reported in the Result and
// never returned or panicked.
func (p *Pipeline) Run(ctx context.Context, task models.ImageTask) (res Result) {
	start := time.Now()
	res = Result{TaskID: task.ID.String(), Kind: task.Kind}
	log := p.log.With().
		Str("task_id", res.TaskID).
		Str("kind", string(task.Kind)).
		Str("url", task.SourceURL).
		Int64("product_id", task.ProductID).
		Int64("variant_id", task.VariantID).
		Int("order", task.Order).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			res.fail(ErrorInternal, fmt.Errorf("panic: %v", r), false, log)
		}
		res.Duration = time.Since(start)
		metrics.RecordTask(string(task.Kind), string(res.Outcome), res.Duration.Seconds())
		if res.Failed() {
			log.Error().Err(res.Err).Str("error_kind", string(res.ErrorKind)).Bool("retryable", res.Retryable).
				Msg("task failed")
			return
		}
		log.Info().Str("outcome", string(res.Outcome)).Dur("elapsed", res.Duration).Msg("task completed")
	}()

	res.enter(StatePending, log)
	if err := task.Validate(); err != nil {
		res.fail(ErrorInvalidTask, err, false, log)
		return res
	}

	res.enter(StateFetching, log)
	file, err := p.fetcher.Fetch(ctx, task.SourceURL, task.Namespace())
	if err != nil {
		kind, retryable := classifyFetch(err)
		res.fail(kind, err, retryable, log)
		return res
	}
	if file.CacheHit {
		res.enter(StateCacheHit, log)
	} else {
		res.enter(StateFetched, log)
	}

	res.enter(StateAttaching, log)
	var att *Attachment
	switch task.Kind {
	case models.TaskVariantImage:
		att, err = p.attacher.AttachVariant(ctx, task.VariantID, task.ProductID, file, task.Order)
	default:
		att, err = p.attacher.AttachProduct(ctx, task.ProductID, file, task.Order)
	}
	if err != nil {
		kind, retryable := classifyAttach(err)
		res.fail(kind, err, retryable, log)
		return res
	}

	res.Record = att.Record
	res.Link = att.Link
	res.Created = att.Created
	res.Outcome = OutcomeCompleted
	if file.CacheHit {
		res.Outcome = OutcomeCacheHit
	}
	res.enter(StateCompleted, log)
	return res
}

func classifyFetch(err error) (ErrorKind, bool) {
	var fe *FetchError
	switch {
	case errors.Is(err, ErrInvalidURL):
		return ErrorInvalidTask, false
	case errors.As(err, &fe):
		return ErrorFetch, fe.Retryable()
	case errors.Is(err, context.Canceled):
		return ErrorFetch, true
	default:
		// content store or index failure
		return ErrorPersist, true
	}
}

func classifyAttach(err error) (ErrorKind, bool) {
	switch {
	case errors.Is(err, ErrNaming):
		return ErrorNaming, false
	case errors.Is(err, storage.ErrNotFound):
		return ErrorPersist, false
	default:
		return ErrorPersist, true
	}
}
