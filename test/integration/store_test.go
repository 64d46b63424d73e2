//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/queue"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/joshu-sajeev/jobqueue/internal/storage/postgres"
	redisstore "github.com/joshu-sajeev/jobqueue/internal/storage/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// stores returns one fresh instance of every durable backend.
func stores(t *testing.T) map[string]storage.Store {
	t.Helper()

	db, _ := setupTestDB(t)

	rdb, err := redisstore.Connect(context.Background(), &redisstore.Config{Addr: redisAddr})
	require.NoError(t, err)
	prefix := fmt.Sprintf("test:%s:", t.Name())
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})

	return map[string]storage.Store{
		"postgres": postgres.NewJobRepository(db),
		"redis":    redisstore.New(rdb, prefix),
	}
}

func newJob(id, jobType string, priority int, created time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		Type:        jobType,
		Payload:     datatypes.JSON(`{"input":"` + id + `"}`),
		Priority:    priority,
		MaxAttempts: 3,
		Backoff:     models.BackoffPolicy{Kind: models.BackoffExponential, BaseDelayMs: 1000},
		Status:      config.JobStatusWaiting,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestStore_CreateGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := newJob("a", config.JobTypeEmailSending, config.PriorityHigh, t0)
			j.RemoveOnComplete = true

			require.NoError(t, store.Create(ctx, j))
			assert.ErrorIs(t, store.Create(ctx, j), storage.ErrAlreadyExists)

			got, err := store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, j.Type, got.Type)
			assert.Equal(t, j.Priority, got.Priority)
			assert.Equal(t, j.Backoff, got.Backoff)
			assert.True(t, got.RemoveOnComplete)
			assert.JSONEq(t, `{"input":"a"}`, string(got.Payload))
			assert.True(t, t0.Equal(got.CreatedAt))

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestStore_UpdatePrecondition(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newJob("u", "t", config.PriorityNormal, t0)))

			claimed, err := store.Update(ctx, "u", []config.JobStatus{config.JobStatusWaiting}, func(j *models.Job) error {
				j.AttemptsMade++
				return j.TransitionTo(config.JobStatusActive, t0.Add(time.Second))
			})
			require.NoError(t, err)
			assert.Equal(t, config.JobStatusActive, claimed.Status)
			assert.Equal(t, 1, claimed.AttemptsMade)

			_, err = store.Update(ctx, "u", []config.JobStatus{config.JobStatusWaiting}, func(j *models.Job) error {
				return j.TransitionTo(config.JobStatusActive, t0)
			})
			assert.ErrorIs(t, err, storage.ErrStatusConflict)

			boom := errors.New("boom")
			_, err = store.Update(ctx, "u", nil, func(j *models.Job) error {
				j.Progress = 99
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := store.Get(ctx, "u")
			require.NoError(t, err)
			assert.Equal(t, 0, got.Progress)

			_, err = store.Update(ctx, "missing", nil, func(*models.Job) error { return nil })
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const jobs = 20
			for i := range jobs {
				require.NoError(t, store.Create(ctx, newJob(fmt.Sprintf("c%02d", i), "t", config.PriorityNormal, t0.Add(time.Duration(i)*time.Microsecond))))
			}

			// two dispatchers stand in for two processes sharing the store
			dispatchers := []*queue.Dispatcher{queue.NewDispatcher(store), queue.NewDispatcher(store)}

			var (
				mu      sync.Mutex
				claimed = map[string]int{}
				wg      sync.WaitGroup
			)
			for i := range 8 {
				d := dispatchers[i%2]
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						j, err := d.TryClaim(ctx)
						if err != nil || j == nil {
							return
						}
						mu.Lock()
						claimed[j.ID]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, claimed, jobs)
			for id, n := range claimed {
				assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
			}
		})
	}
}

func TestStore_QueryAndCount(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newJob("low", "a", config.PriorityLow, t0)))
			require.NoError(t, store.Create(ctx, newJob("crit", "a", config.PriorityCritical, t0.Add(2*time.Second))))
			require.NoError(t, store.Create(ctx, newJob("norm1", "a", config.PriorityNormal, t0.Add(time.Second))))
			require.NoError(t, store.Create(ctx, newJob("norm2", "b", config.PriorityNormal, t0.Add(3*time.Second))))

			delayed := newJob("later", "b", config.PriorityCritical, t0)
			delayed.Status = config.JobStatusDelayed
			until := t0.Add(time.Hour)
			delayed.DelayUntil = &until
			require.NoError(t, store.Create(ctx, delayed))

			waiting, err := store.Query(ctx, storage.Filter{
				Statuses: []config.JobStatus{config.JobStatusWaiting},
				Order:    storage.OrderDispatch,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"crit", "norm1", "norm2", "low"}, ids(waiting))

			paged, err := store.Query(ctx, storage.Filter{
				Statuses: []config.JobStatus{config.JobStatusWaiting},
				Type:     "a",
				Order:    storage.OrderDispatch,
				Offset:   1,
				Limit:    1,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"norm1"}, ids(paged))

			notDue := t0.Add(time.Minute)
			due, err := store.Query(ctx, storage.Filter{
				Statuses:  []config.JobStatus{config.JobStatusDelayed},
				DueBefore: &notDue,
			})
			require.NoError(t, err)
			assert.Empty(t, due)

			counts, err := store.Count(ctx)
			require.NoError(t, err)
			byBucket := map[string]int64{}
			for _, c := range counts {
				byBucket[c.Type+"/"+string(c.Status)] = c.Count
			}
			assert.Equal(t, map[string]int64{
				"a/waiting": 3,
				"b/waiting": 1,
				"b/delayed": 1,
			}, byBucket)
		})
	}
}

func TestStore_FinishedWindowAndRemove(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"old", "new"} {
				j := newJob(id, "t", config.PriorityNormal, t0)
				require.NoError(t, store.Create(ctx, j))
				finishAt := t0.Add(time.Duration(i+1) * time.Minute)
				_, err := store.Update(ctx, id, nil, func(j *models.Job) error {
					j.Status = config.JobStatusActive
					return j.TransitionTo(config.JobStatusFailed, finishAt)
				})
				require.NoError(t, err)
			}

			cutoff := t0.Add(90 * time.Second)
			recent, err := store.Query(ctx, storage.Filter{
				Statuses:      []config.JobStatus{config.JobStatusFailed},
				FinishedAfter: &cutoff,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"new"}, ids(recent))

			all, err := store.Query(ctx, storage.Filter{
				Statuses: []config.JobStatus{config.JobStatusFailed},
				Order:    storage.OrderFinishedDesc,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"new", "old"}, ids(all))

			require.NoError(t, store.Remove(ctx, "old"))
			assert.ErrorIs(t, store.Remove(ctx, "old"), storage.ErrNotFound)

			counts, err := store.Count(ctx)
			require.NoError(t, err)
			require.Len(t, counts, 1)
			assert.Equal(t, int64(1), counts[0].Count)
		})
	}
}

func ids(jobs []models.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
