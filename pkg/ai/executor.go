// Package ai wraps calls to the upstream LLM provider with bounded retry,
// exponential backoff with jitter, retryability classification and a single
// audit log entry per call.
package ai

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/storage"
)

// Operation names, used for log entries and metric labels.
const (
	OpChatCompletion      = "chat_completion"
	OpCreateVectorStore   = "create_vector_store"
	OpCreateFileBatch     = "create_file_batch"
	OpDeleteVectorStore   = "delete_vector_store"
	OpCreateFile          = "create_file"
	OpRetrieveVectorStore = "retrieve_vector_store"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultTimeout    = 75 * time.Second

	logWriteTimeout = 5 * time.Second
)

// Options are read once at construction.
type Options struct {
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	return o
}

// LogSink receives the one audit entry written per call.
type LogSink interface {
	SaveRequestLog(ctx context.Context, entry *storage.RequestLogEntry) error
}

// Executor runs provider operations with retry. It holds no mutable state after
// New returns and is safe for concurrent use.
type Executor struct {
	opts     Options
	provider Provider
	initErr  error
	sink     LogSink
	logger   *zap.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New builds the executor. A missing API key or a factory failure leaves the
// executor permanently unusable: every operation then fails with a configuration error.
func New(opts Options, factory ProviderFactory, sink LogSink, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		opts:   opts.withDefaults(),
		sink:   sink,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}

	switch {
	case e.opts.APIKey == "":
		e.initErr = ErrNotConfigured
	case factory == nil:
		e.initErr = fmt.Errorf("%w: no provider factory", ErrClientInit)
	default:
		p, err := factory(e.opts.APIKey, e.opts.Timeout)
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", ErrClientInit, err)
		} else if p == nil {
			e.initErr = fmt.Errorf("%w: factory returned no provider", ErrClientInit)
		}
		e.provider = p
	}

	if e.initErr != nil {
		logger.Error("executor initialization failed", zap.Error(e.initErr))
	} else {
		logger.Info("executor initialized",
			zap.Duration("timeout", e.opts.Timeout),
			zap.Int("max_retries", e.opts.MaxRetries))
	}
	return e
}

// Ready returns the initialization error, if any.
func (e *Executor) Ready() error {
	return e.initErr
}

// ChatCompletion runs a chat completion. fileIDs and userID are recorded in the log only.
func (e *Executor) ChatCompletion(ctx context.Context, params ChatCompletionParams, fileIDs []string, userID string) (*ChatCompletion, error) {
	c := call{op: OpChatCompletion, body: params.Messages, fileIDs: fileIDs, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*ChatCompletion, error) {
		return p.ChatCompletion(ctx, params)
	}, (*ChatCompletion).TotalTokens)
}

func (e *Executor) CreateVectorStore(ctx context.Context, params VectorStoreParams, userID string) (*VectorStore, error) {
	c := call{op: OpCreateVectorStore, body: params, fileIDs: params.FileIDs, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*VectorStore, error) {
		return p.CreateVectorStore(ctx, params)
	}, nil)
}

func (e *Executor) CreateFileBatch(ctx context.Context, vectorStoreID string, params FileBatchParams, userID string) (*FileBatch, error) {
	body := struct {
		VectorStoreID string          `json:"vector_store_id"`
		Params        FileBatchParams `json:"params"`
	}{vectorStoreID, params}
	c := call{op: OpCreateFileBatch, body: body, fileIDs: params.FileIDs, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*FileBatch, error) {
		return p.CreateFileBatch(ctx, vectorStoreID, params)
	}, nil)
}

func (e *Executor) DeleteVectorStore(ctx context.Context, vectorStoreID string, userID string) (*Deletion, error) {
	c := call{op: OpDeleteVectorStore, body: vectorStoreID, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*Deletion, error) {
		return p.DeleteVectorStore(ctx, vectorStoreID)
	}, nil)
}

func (e *Executor) CreateFile(ctx context.Context, params FileParams, userID string) (*File, error) {
	body := struct {
		FileParams
		Size int `json:"size"`
	}{params, len(params.Data)}
	c := call{op: OpCreateFile, body: body, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*File, error) {
		return p.CreateFile(ctx, params)
	}, nil)
}

func (e *Executor) RetrieveVectorStore(ctx context.Context, vectorStoreID string, userID string) (*VectorStore, error) {
	c := call{op: OpRetrieveVectorStore, body: vectorStoreID, userID: userID}
	return run(ctx, e, c, func(ctx context.Context, p Provider) (*VectorStore, error) {
		return p.RetrieveVectorStore(ctx, vectorStoreID)
	}, nil)
}

type call struct {
	op      string
	body    any
	fileIDs []string
	userID  string
}

// run is the retry loop shared by every operation.
func run[T any](ctx context.Context, e *Executor, c call, fn func(context.Context, Provider) (T, error), tokens func(T) int) (T, error) {
	var zero T
	if e.initErr != nil {
		return zero, newConfigError(c.op, e.initErr)
	}

	log := e.logger.With(zap.String("operation", c.op), zap.String("user_id", c.userID))
	start := e.now()
	hash := PromptHash(c.body)
	maxAttempts := e.opts.MaxRetries + 1

	var (
		lastErr  error
		elapsed  time.Duration
		attempts int
	)
	for a := 0; a <= e.opts.MaxRetries; a++ {
		attempts++
		attemptsTotal.WithLabelValues(c.op).Inc()
		log.Debug("provider attempt", zap.Int("attempt", a+1), zap.Int("max_attempts", maxAttempts))

		res, err := fn(ctx, e.provider)
		if err == nil {
			elapsed = e.now().Sub(start)
			n := 0
			if tokens != nil {
				n = tokens(res)
			}
			e.record(log, &storage.RequestLogEntry{
				Operation:  c.op,
				PromptHash: hash,
				FileIDs:    c.fileIDs,
				TokenCount: n,
				DurationMs: elapsed.Milliseconds(),
				Status:     storage.StatusSuccess,
				RetryCount: attempts - 1,
				UserID:     c.userID,
			})
			callsTotal.WithLabelValues(c.op, storage.StatusSuccess).Inc()
			callDuration.WithLabelValues(c.op).Observe(elapsed.Seconds())
			tokensTotal.WithLabelValues(c.op).Add(float64(n))
			log.Info("provider call succeeded", zap.Duration("duration", elapsed), zap.Int("attempts", attempts))
			return res, nil
		}

		lastErr = err
		elapsed = e.now().Sub(start)
		log.Warn("provider attempt failed", zap.Int("attempt", a+1), zap.Error(err))

		if a == e.opts.MaxRetries {
			break
		}
		if !IsRetryable(err) {
			log.Info("error not retryable", zap.Int("status", Inspect(err).Status))
			break
		}

		delay := Backoff(a, e.opts.BaseDelay, e.opts.MaxDelay, e.jitter())
		backoffSeconds.Observe(delay.Seconds())
		log.Info("retrying after backoff", zap.Duration("delay", delay))
		if serr := e.sleep(ctx, delay); serr != nil {
			lastErr = fmt.Errorf("%w; backoff interrupted: %w", lastErr, serr)
			elapsed = e.now().Sub(start)
			break
		}
	}

	f := Inspect(lastErr)
	status := failureStatus(f, elapsed, e.opts.Timeout)
	e.record(log, &storage.RequestLogEntry{
		Operation:    c.op,
		PromptHash:   hash,
		FileIDs:      c.fileIDs,
		DurationMs:   elapsed.Milliseconds(),
		Status:       status,
		ErrorMessage: f.Message,
		RetryCount:   attempts - 1,
		UserID:       c.userID,
	})
	callsTotal.WithLabelValues(c.op, status).Inc()
	callDuration.WithLabelValues(c.op).Observe(elapsed.Seconds())

	return zero, newOperationError(c.op, lastErr, attempts-1)
}

func failureStatus(f Failure, elapsed, timeout time.Duration) string {
	switch {
	case f.Status == 429:
		return storage.StatusRateLimited
	case elapsed >= timeout:
		return storage.StatusTimeout
	default:
		return storage.StatusError
	}
}

// record writes the audit entry. The write is best effort: a failing or panicking
// sink is logged and otherwise ignored so it can never change the call's outcome.
func (e *Executor) record(log *zap.Logger, entry *storage.RequestLogEntry) {
	if e.sink == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = e.now().UTC()
	if entry.FileIDs == nil {
		entry.FileIDs = []string{}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("request log sink panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()
	if err := e.sink.SaveRequestLog(ctx, entry); err != nil {
		log.Warn("failed to persist request log", zap.String("log_id", entry.ID), zap.Error(err))
	}
}
