package retryqueue_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

type payload struct {
	TrackingNumber string `json:"tracking_number"`
}

func newQueue(store retryqueue.Store, clock clockz.Clock) *retryqueue.Queue {
	return retryqueue.New(retryqueue.DefaultConfig(), store, otelzap.New(zap.NewNop())).
		WithClock(clock).
		WithRand(func() float64 { return 0 })
}

func TestBackoff_DoublesFromOneSecondAndCaps(t *testing.T) {
	q := newQueue(retryqueue.NewMemoryStore(), clockz.NewFakeClock())

	assert.Equal(t, time.Second, q.Backoff(1))
	assert.Equal(t, 2*time.Second, q.Backoff(2))
	assert.Equal(t, 16*time.Second, q.Backoff(5))
	assert.Equal(t, 32*time.Second, q.Backoff(6))
	assert.Equal(t, 60*time.Second, q.Backoff(7))
	assert.Equal(t, 60*time.Second, q.Backoff(20))
	assert.Equal(t, time.Second, q.Backoff(0))
}

func TestBackoff_JitterAtMostTenPercent(t *testing.T) {
	q := retryqueue.New(retryqueue.DefaultConfig(), retryqueue.NewMemoryStore(), otelzap.New(zap.NewNop()))

	for i := 0; i < 200; i++ {
		d := q.Backoff(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)

		d = q.Backoff(5)
		assert.GreaterOrEqual(t, d, 16*time.Second)
		assert.LessOrEqual(t, d, 17600*time.Millisecond)

		assert.Equal(t, 60*time.Second, q.Backoff(8))
	}
}

func TestQueue_ProcessDue_Success(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	q := newQueue(retryqueue.NewMemoryStore(), clock)

	var got payload
	var retryCtx bool
	q.Register("track_shipment", func(ctx context.Context, job *retryqueue.Job) error {
		_, retryCtx = retryqueue.RetryExecution(ctx)
		return job.Decode(&got)
	})

	job, err := q.Enqueue(ctx, "track_shipment", payload{TrackingNumber: "TN1"}, "carrier unavailable")
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, job.Status)
	assert.Equal(t, 5, job.MaxAttempts)

	n, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Empty(t, stored.LastError)
	assert.Equal(t, "TN1", got.TrackingNumber)
	assert.True(t, retryCtx)
}

func TestQueue_ProcessDue_FailureReschedulesWithBackoff(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	q := newQueue(retryqueue.NewMemoryStore(), clock)
	q.Register("print_label", func(ctx context.Context, job *retryqueue.Job) error {
		return errors.New("rate limited")
	})

	job, err := q.Enqueue(ctx, "print_label", payload{}, "")
	require.NoError(t, err)

	_, err = q.ProcessDue(ctx)
	require.NoError(t, err)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "rate limited", stored.LastError)
	assert.Equal(t, clock.Now().UTC().Add(time.Second), stored.NextAttemptAt)

	n, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "not due before the backoff elapses")

	clock.Advance(time.Second)
	n, err = q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, clock.Now().UTC().Add(2*time.Second), stored.NextAttemptAt)
}

func TestQueue_ExhaustedJobsFailAndAreNeverPickedAgain(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	q := newQueue(retryqueue.NewMemoryStore(), clock)

	var calls atomic.Int32
	q.Register("create_shipment", func(ctx context.Context, job *retryqueue.Job) error {
		calls.Add(1)
		return errors.New("carrier unavailable")
	})

	job, err := q.Enqueue(ctx, "create_shipment", payload{}, "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := q.ProcessDue(ctx)
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
	}

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusFailed, stored.Status)
	assert.Equal(t, 5, stored.Attempts)
	assert.Equal(t, int32(5), calls.Load())

	failed, err := q.List(ctx, retryqueue.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestQueue_UnknownJobTypeFails(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	q := newQueue(retryqueue.NewMemoryStore(), clock)

	job, err := q.Enqueue(ctx, "void_label", payload{}, "")
	require.NoError(t, err)
	_, err = q.ProcessDue(ctx)
	require.NoError(t, err)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "no handler registered")
}

func TestQueue_MultiplePendingJobsOfSameType(t *testing.T) {
	ctx := context.Background()
	q := newQueue(retryqueue.NewMemoryStore(), clockz.NewFakeClock())

	var calls atomic.Int32
	q.Register("track_shipment", func(ctx context.Context, job *retryqueue.Job) error {
		calls.Add(1)
		return nil
	})
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "track_shipment", payload{}, "")
		require.NoError(t, err)
	}

	n, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemoryStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := retryqueue.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Insert(ctx, &retryqueue.Job{ID: "job-1", Status: retryqueue.StatusPending, NextAttemptAt: now}))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(ctx, "job-1", now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusProcessing, job.Status)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := retryqueue.NewMemoryStore()
	require.NoError(t, store.Insert(ctx, &retryqueue.Job{ID: "a"}))

	assert.ErrorIs(t, store.Insert(ctx, &retryqueue.Job{ID: "a"}), retryqueue.ErrDuplicateJob)
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, retryqueue.ErrJobNotFound)
	assert.ErrorIs(t, store.Update(ctx, &retryqueue.Job{ID: "missing"}), retryqueue.ErrJobNotFound)
	_, err = store.Claim(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, retryqueue.ErrJobNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := retryqueue.NewMemoryStore()
	require.NoError(t, store.Insert(ctx, &retryqueue.Job{ID: "a", Status: retryqueue.StatusPending}))

	job, err := store.Get(ctx, "a")
	require.NoError(t, err)
	job.Status = retryqueue.StatusFailed

	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, again.Status)
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "retry.json")
	clock := clockz.NewFakeClock()

	store, err := retryqueue.OpenFileStore(path)
	require.NoError(t, err)
	q := newQueue(store, clock)
	job, err := q.Enqueue(ctx, "track_shipment", payload{TrackingNumber: "TN9"}, "")
	require.NoError(t, err)

	reopened, err := retryqueue.OpenFileStore(path)
	require.NoError(t, err)
	stored, err := reopened.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, stored.Status)
	assert.JSONEq(t, `{"tracking_number":"TN9"}`, string(stored.Payload))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_ResetsProcessingOnLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "retry.json")

	store, err := retryqueue.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, &retryqueue.Job{ID: "a", Status: retryqueue.StatusPending}))
	ok, err := store.Claim(ctx, "a", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	reopened, err := retryqueue.OpenFileStore(path)
	require.NoError(t, err)
	job, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, job.Status)
}

func TestFileStore_ClaimRollsBackWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "retry.json")
	clock := clockz.NewFakeClock()

	store, err := retryqueue.OpenFileStore(path)
	require.NoError(t, err)
	q := newQueue(store, clock)
	var runs atomic.Int32
	q.Register("track_shipment", func(context.Context, *retryqueue.Job) error {
		runs.Add(1)
		return nil
	})
	job, err := q.Enqueue(ctx, "track_shipment", payload{TrackingNumber: "TN1"}, "")
	require.NoError(t, err)

	// A directory at the temporary path makes the snapshot write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	ok, err := store.Claim(ctx, job.ID, clock.Now())
	require.Error(t, err)
	assert.False(t, ok)
	stored, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, retryqueue.StatusPending, stored.Status)

	clock.Advance(time.Minute)
	processed, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, int32(0), runs.Load())

	require.NoError(t, os.Remove(path+".tmp"))
	processed, err = q.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, int32(1), runs.Load())
}

func TestFileStore_CorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := retryqueue.OpenFileStore(path)
	assert.Error(t, err)
}

func TestQueue_StartStopRestart(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	q := newQueue(retryqueue.NewMemoryStore(), clock)

	done := make(chan string, 4)
	q.Register("track_shipment", func(ctx context.Context, job *retryqueue.Job) error {
		done <- job.ID
		return nil
	})

	first, err := q.Enqueue(ctx, "track_shipment", payload{}, "")
	require.NoError(t, err)

	q.Start(ctx)
	assert.True(t, q.Running())
	select {
	case id := <-done:
		assert.Equal(t, first.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	q.Stop()
	assert.False(t, q.Running())

	second, err := q.Enqueue(ctx, "track_shipment", payload{}, "")
	require.NoError(t, err)

	q.Start(ctx)
	defer q.Stop()
	select {
	case id := <-done:
		assert.Equal(t, second.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed after restart")
	}
}

func TestStatus(t *testing.T) {
	assert.True(t, retryqueue.StatusFailed.Terminal())
	assert.True(t, retryqueue.StatusCompleted.Terminal())
	assert.False(t, retryqueue.StatusPending.Terminal())
	assert.True(t, retryqueue.StatusProcessing.Valid())
	assert.False(t, retryqueue.Status("lost").Valid())
}
