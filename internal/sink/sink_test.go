package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

// stubBackend records upserts and optionally fails or blocks selected
// tables.
type stubBackend struct {
	mu       sync.Mutex
	upserts  map[entity.Table][][]backend.Row
	failures map[entity.Table]error
	blocked  map[entity.Table]chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		upserts:  make(map[entity.Table][][]backend.Row),
		failures: make(map[entity.Table]error),
		blocked:  make(map[entity.Table]chan struct{}),
	}
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) block(table entity.Table) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.blocked[table] = gate
	return gate
}

func (s *stubBackend) Upsert(_ context.Context, table entity.Table, rows []backend.Row) error {
	s.mu.Lock()
	gate := s.blocked[table]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[table]; err != nil {
		return err
	}
	s.upserts[table] = append(s.upserts[table], rows)
	return nil
}

func (s *stubBackend) Close() error { return nil }

func (s *stubBackend) rows(table entity.Table) []backend.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []backend.Row
	for _, batch := range s.upserts[table] {
		out = append(out, batch...)
	}
	return out
}

func testCommit(repo, hash string) *entity.Commit {
	return &entity.Commit{
		RepoID: entity.RepoUUID(entity.ProviderGitHub, repo),
		Hash:   hash,
	}
}

func fastConfig() Config {
	return Config{FlushSize: 100, FlushInterval: 50 * time.Millisecond}
}

func TestSink_SubmitAndWaitFlushes(t *testing.T) {
	be := newStubBackend()
	s := New(be, fastConfig())
	defer s.FlushAndClose(context.Background())

	ctx := context.Background()
	sess := s.Begin("github:acme/api")
	require.NoError(t, sess.Submit(ctx, []entity.Record{
		testCommit("acme/api", "aaa"),
		testCommit("acme/api", "bbb"),
	}))

	written, err := sess.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)
	assert.Len(t, be.rows(entity.TableCommits), 2)
}

func TestSink_FlushOnSize(t *testing.T) {
	be := newStubBackend()
	s := New(be, Config{FlushSize: 3, FlushInterval: time.Hour})
	defer s.FlushAndClose(context.Background())

	ctx := context.Background()
	sess := s.Begin("github:acme/api")
	require.NoError(t, sess.Submit(ctx, []entity.Record{
		testCommit("acme/api", "a"),
		testCommit("acme/api", "b"),
		testCommit("acme/api", "c"),
	}))

	// The size trigger must flush without Wait or an interval tick.
	assert.Eventually(t, func() bool {
		return len(be.rows(entity.TableCommits)) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSink_CompactsDuplicateKeysWithinFlush(t *testing.T) {
	be := newStubBackend()
	s := New(be, Config{FlushSize: 100, FlushInterval: time.Hour})
	defer s.FlushAndClose(context.Background())

	ctx := context.Background()
	sess := s.Begin("github:acme/api")
	first := testCommit("acme/api", "dup")
	first.Message = "first"
	second := testCommit("acme/api", "dup")
	second.Message = "second"
	require.NoError(t, sess.Submit(ctx, []entity.Record{first, second}))

	_, err := sess.Wait(ctx)
	require.NoError(t, err)

	rows := be.rows(entity.TableCommits)
	require.Len(t, rows, 1, "one statement row per key")
	got := rows[0].Record.(*entity.Commit)
	assert.Equal(t, "second", got.Message, "later submission wins the compaction")
}

func TestSink_FlushErrorReachesOnlyOwningSession(t *testing.T) {
	be := newStubBackend()
	be.failures[entity.TablePullRequests] = errors.New("disk full")
	s := New(be, fastConfig())
	defer s.FlushAndClose(context.Background())

	ctx := context.Background()
	good := s.Begin("github:acme/api")
	bad := s.Begin("github:acme/web")

	require.NoError(t, good.Submit(ctx, []entity.Record{testCommit("acme/api", "ok")}))
	require.NoError(t, bad.Submit(ctx, []entity.Record{&entity.PullRequest{
		RepoID: entity.RepoUUID(entity.ProviderGitHub, "acme/web"),
		Number: 7,
	}}))

	written, err := good.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)

	_, err = bad.Wait(ctx)
	var sinkErr *entity.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, entity.TablePullRequests, sinkErr.Table)
}

func TestSession_WaitReportsWrittenOnCancel(t *testing.T) {
	be := newStubBackend()
	s := New(be, fastConfig())

	ctx := context.Background()
	sess := s.Begin("github:acme/api")
	require.NoError(t, sess.Submit(ctx, []entity.Record{testCommit("acme/api", "landed")}))
	require.Eventually(t, func() bool {
		return len(be.rows(entity.TableCommits)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The next flush hangs, so the session stays inflight past the wait
	// deadline.
	gate := be.block(entity.TablePullRequests)
	require.NoError(t, sess.Submit(ctx, []entity.Record{&entity.PullRequest{
		RepoID: entity.RepoUUID(entity.ProviderGitHub, "acme/api"),
		Number: 9,
	}}))

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	written, err := sess.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), written, "rows flushed before the cancel still count")

	close(gate)
	require.NoError(t, s.FlushAndClose(context.Background()))
}

func TestSink_SubmitAfterCloseFails(t *testing.T) {
	s := New(newStubBackend(), fastConfig())
	require.NoError(t, s.FlushAndClose(context.Background()))

	sess := s.Begin("github:acme/api")
	err := sess.Submit(context.Background(), []entity.Record{testCommit("acme/api", "x")})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSink_FlushAndCloseDrainsPending(t *testing.T) {
	be := newStubBackend()
	s := New(be, Config{FlushSize: 1000, FlushInterval: time.Hour})

	sess := s.Begin("github:acme/api")
	require.NoError(t, sess.Submit(context.Background(), []entity.Record{testCommit("acme/api", "z")}))

	require.NoError(t, s.FlushAndClose(context.Background()))
	assert.Len(t, be.rows(entity.TableCommits), 1)
}

func TestSink_SeqIsMonotonic(t *testing.T) {
	be := newStubBackend()
	s := New(be, Config{FlushSize: 1000, FlushInterval: time.Hour})

	ctx := context.Background()
	sess := s.Begin("github:acme/api")
	require.NoError(t, sess.Submit(ctx, []entity.Record{testCommit("acme/api", "1")}))
	require.NoError(t, sess.Submit(ctx, []entity.Record{testCommit("acme/api", "2")}))
	require.NoError(t, s.FlushAndClose(ctx))

	rows := be.rows(entity.TableCommits)
	require.Len(t, rows, 2)
	assert.Less(t, rows[0].Seq, rows[1].Seq)
}

func TestOpen_SchemeDetection(t *testing.T) {
	ctx := context.Background()

	be, err := Open(ctx, "memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", be.Name())

	_, err = Open(ctx, "")
	assert.Error(t, err)

	_, err = Open(ctx, "clickhouse://host/db")
	assert.Error(t, err)
}
