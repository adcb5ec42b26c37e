package chatlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-companion-demo/backend/pkg/logger"
	"ai-companion-demo/backend/shared/redis"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	failNext int
	failAll  bool
	attempts int
	rows     []Record
	block    chan struct{}
}

func (r *fakeRepo) Insert(_ context.Context, rec *Record) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failAll || r.failNext > 0 {
		r.failNext--
		return errors.New("connection reset by peer")
	}
	r.rows = append(r.rows, *rec)
	return nil
}

func (r *fakeRepo) written() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.rows...)
}

type memSpool struct {
	mu    sync.Mutex
	items []string
}

func (s *memSpool) Push(_ context.Context, _ string, values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		switch t := v.(type) {
		case []byte:
			s.items = append(s.items, string(t))
		case string:
			s.items = append(s.items, t)
		}
	}
	return nil
}

func (s *memSpool) Pop(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return "", redis.Nil
	}
	head := s.items[0]
	s.items = s.items[1:]
	return head, nil
}

func (s *memSpool) Len(context.Context, string) (int64, error) {
	return int64(s.len()), nil
}

func (s *memSpool) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newTestSink(repo Repository, spool Spool, cfg Config) *Sink {
	cfg.WriteTimeout = time.Second
	s := NewSink(repo, spool, cfg, nil, logger.Nop())
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s
}

func sample(msg string) Record {
	return Record{UserID: "u-1", CompanionID: "c-1", UserMessage: msg, CompanionMessage: "re: " + msg}
}

func TestSinkWritesSubmittedRecords(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSink(repo, nil, Config{Workers: 2, MaxRetries: 3})
	s.Start(context.Background())

	for _, m := range []string{"a", "b", "c"} {
		assert.True(t, s.Submit(sample(m)))
	}
	require.NoError(t, s.Close(context.Background()))

	rows := repo.written()
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.False(t, r.CreatedAt.IsZero())
	}
}

func TestSinkRetriesTransientFailures(t *testing.T) {
	repo := &fakeRepo{failNext: 2}
	s := newTestSink(repo, nil, Config{Workers: 1, MaxRetries: 3})
	s.Start(context.Background())

	s.Submit(sample("hello"))
	require.NoError(t, s.Close(context.Background()))

	assert.Len(t, repo.written(), 1)
	assert.Equal(t, 3, repo.attempts)
}

func TestSinkSpoolsAndReplaysFailedWrites(t *testing.T) {
	repo := &fakeRepo{failAll: true}
	spool := &memSpool{}
	s := newTestSink(repo, spool, Config{Workers: 1, MaxRetries: 1})
	s.Start(context.Background())

	s.Submit(sample("persist me"))
	require.NoError(t, s.Close(context.Background()))
	assert.Empty(t, repo.written())
	assert.Equal(t, 1, spool.len())
	depth, err := s.SpoolDepth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	// still failing: the record goes back on the spool
	assert.Equal(t, 0, s.Replay(context.Background()))
	assert.Equal(t, 1, spool.len())

	repo.mu.Lock()
	repo.failAll = false
	repo.mu.Unlock()

	assert.Equal(t, 1, s.Replay(context.Background()))
	assert.Equal(t, 0, spool.len())
	depth, err = s.SpoolDepth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
	rows := repo.written()
	require.Len(t, rows, 1)
	assert.Equal(t, "persist me", rows[0].UserMessage)
}

func TestSubmitNeverBlocks(t *testing.T) {
	repo := &fakeRepo{block: make(chan struct{})}
	s := newTestSink(repo, nil, Config{Workers: 1, QueueSize: 1, MaxRetries: 0})
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for n := 0; n < 10; n++ {
			s.Submit(sample("flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(repo.block)
	require.NoError(t, s.Close(context.Background()))
	assert.NotEmpty(t, repo.written())
}

func TestSubmitAfterCloseIsSafe(t *testing.T) {
	s := newTestSink(&fakeRepo{}, nil, Config{Workers: 1})
	s.Start(context.Background())
	require.NoError(t, s.Close(context.Background()))

	assert.NotPanics(t, func() {
		assert.False(t, s.Submit(sample("late")))
	})
	require.NoError(t, s.Close(context.Background()))
}

func TestSpoolDepthWithoutSpool(t *testing.T) {
	s := newTestSink(&fakeRepo{}, nil, Config{Workers: 1})

	depth, err := s.SpoolDepth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}
