package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
	"ai-companion-demo/backend/shared/observability"
	"ai-companion-demo/backend/shared/redis"

	"github.com/cenkalti/backoff/v4"
)

// Spool is a durable list holding records whose writes failed
type Spool interface {
	Push(ctx context.Context, key string, values ...any) error
	Pop(ctx context.Context, key string) (string, error)
	Len(ctx context.Context, key string) (int64, error)
}

// Config tunes the sink
type Config struct {
	Workers        int
	QueueSize      int
	MaxRetries     uint64
	WriteTimeout   time.Duration
	ReplayInterval time.Duration
	ReplayBatch    int
	SpoolKey       string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = time.Minute
	}
	if c.ReplayBatch <= 0 {
		c.ReplayBatch = 100
	}
	if c.SpoolKey == "" {
		c.SpoolKey = "chat_logs:spool"
	}
}

// Sink persists chat logs off the message delivery path. Submit never blocks;
// a pool of workers writes with bounded retries, and records that still fail
// go to the spool to be replayed later.
type Sink struct {
	repo    Repository
	spool   Spool
	cfg     Config
	metrics *observability.Metrics
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	wg     sync.WaitGroup

	// backoff policy factory, replaced in tests
	newBackOff func() backoff.BackOff
}

// NewSink creates a sink. spool may be nil, in which case failed writes are dropped.
func NewSink(repo Repository, spool Spool, cfg Config, metrics *observability.Metrics, log *logger.Logger) *Sink {
	cfg.applyDefaults()
	if log == nil {
		log = logger.GetGlobal()
	}
	s := &Sink{
		repo:    repo,
		spool:   spool,
		cfg:     cfg,
		metrics: metrics,
		log:     log.With("component", "chatlog"),
		queue:   make(chan Record, cfg.QueueSize),
	}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return b
	}
	return s
}

// Start launches the workers and, when a spool is configured, the replay loop.
// Workers drain the queue until Close; the replay loop stops with ctx.
func (s *Sink) Start(ctx context.Context) {
	for n := 0; n < s.cfg.Workers; n++ {
		s.wg.Add(1)
		go s.worker()
	}
	if s.spool != nil {
		go s.replayLoop(ctx)
	}
}

// Submit enqueues rec without blocking. It reports whether the record was
// accepted by the queue or handed to the spool.
func (s *Sink) Submit(rec Record) bool {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.closed {
		select {
		case s.queue <- rec:
			return true
		default:
		}
	}

	if s.spool == nil {
		s.log.Warn("Chat log dropped", "user_id", rec.UserID, "companion_id", rec.CompanionID, "closed", s.closed)
		s.metrics.RecordChatLog(context.Background(), observability.ChatLogDropped)
		return false
	}
	go s.spoolRecord(rec)
	return true
}

// Close stops accepting records and waits for queued ones to be written, or
// for ctx to expire
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for rec := range s.queue {
		s.persist(rec)
	}
}

// persist writes rec with retries and spools it on final failure
func (s *Sink) persist(rec Record) {
	ctx := context.Background()
	if err := s.write(ctx, rec); err != nil {
		appErr := apperrors.NewPersistenceError(err)
		s.log.LogError(appErr, "Chat log write failed",
			"user_id", rec.UserID,
			"companion_id", rec.CompanionID,
		)
		s.metrics.RecordChatLog(ctx, observability.ChatLogFailed)
		if s.spool != nil {
			s.spoolRecord(rec)
		}
		return
	}
	s.metrics.RecordChatLog(ctx, observability.ChatLogWritten)
}

func (s *Sink) write(ctx context.Context, rec Record) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.cfg.MaxRetries), ctx)
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
		row := rec
		return s.repo.Insert(attemptCtx, &row)
	}, policy)
}

func (s *Sink) spoolRecord(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err == nil {
		err = s.spool.Push(ctx, s.cfg.SpoolKey, payload)
	}
	if err != nil {
		s.log.LogError(err, "Chat log spool failed, record lost",
			"user_id", rec.UserID,
			"companion_id", rec.CompanionID,
		)
		s.metrics.RecordChatLog(ctx, observability.ChatLogDropped)
		return
	}
	s.metrics.RecordChatLog(ctx, observability.ChatLogSpooled)
}

func (s *Sink) replayLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Replay(ctx); n > 0 {
				s.log.Info("Replayed spooled chat logs", "count", n)
			}
		}
	}
}

// Replay drains up to one batch from the spool and returns how many records
// were written. A record that fails again is pushed back and the round ends.
func (s *Sink) Replay(ctx context.Context) int {
	if s.spool == nil {
		return 0
	}

	written := 0
	for n := 0; n < s.cfg.ReplayBatch; n++ {
		raw, err := s.spool.Pop(ctx, s.cfg.SpoolKey)
		if errors.Is(err, redis.Nil) {
			return written
		}
		if err != nil {
			s.log.LogError(err, "Chat log spool read failed")
			return written
		}

		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.LogError(err, "Discarding malformed spooled chat log")
			continue
		}
		rec.ID = 0

		if err := s.write(ctx, rec); err != nil {
			s.log.LogError(err, "Spooled chat log write failed")
			if pushErr := s.spool.Push(ctx, s.cfg.SpoolKey, raw); pushErr != nil {
				s.log.LogError(pushErr, "Chat log spool requeue failed, record lost")
				s.metrics.RecordChatLog(ctx, observability.ChatLogDropped)
			}
			return written
		}
		s.metrics.RecordChatLog(ctx, observability.ChatLogWritten)
		written++
	}
	return written
}

// SpoolDepth reports how many records are waiting for replay
func (s *Sink) SpoolDepth(ctx context.Context) (int64, error) {
	if s.spool == nil {
		return 0, nil
	}
	return s.spool.Len(ctx, s.cfg.SpoolKey)
}
