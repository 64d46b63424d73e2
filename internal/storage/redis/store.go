// Package redis stores jobs in Redis. Each job is a JSON string; set
// indexes keyed by (type, status) back filtered queries and counts.
// Updates are optimistic transactions (WATCH/MULTI) on the job key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

const maxTxAttempts = 8

type Config struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Prefix   string `env:"REDIS_PREFIX,default=jobqueue:"`
}

// to help with testing
var envProcess = envconfig.Process

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("config validation failed: REDIS_ADDR is required")
	}
	return &cfg, nil
}

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, cfg *Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.Store = (*Store)(nil)

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

func (s *Store) bucketKey(jobType string, status config.JobStatus) string {
	return s.prefix + "bucket:" + jobType + ":" + string(status)
}

func (s *Store) typesKey() string { return s.prefix + "types" }

func (s *Store) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("create job: encode: %w", err)
	}

	key := s.jobKey(job.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return storage.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.bucketKey(job.Type, job.Status), job.ID)
			pipe.SAdd(ctx, s.typesKey(), job.Type)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("create job: %w", err)
	default:
		return fmt.Errorf("create job: %w: %w", storage.ErrUnavailable, err)
	}
}

func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.get(ctx, s.rdb, id)
}

func (s *Store) get(ctx context.Context, c redis.Cmdable, id string) (*models.Job, error) {
	data, err := c.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w: %w", storage.ErrUnavailable, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("get job: decode: %w", err)
	}
	return &job, nil
}

func (s *Store) Update(ctx context.Context, id string, from []config.JobStatus, mutate storage.Mutation) (*models.Job, error) {
	key := s.jobKey(id)

	var (
		out       *models.Job
		mutateErr error
	)
	txf := func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(from) > 0 && !slices.Contains(from, cur.Status) {
			return storage.ErrStatusConflict
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			mutateErr = err
			return err
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if cur.Type != next.Type || cur.Status != next.Status {
				pipe.SRem(ctx, s.bucketKey(cur.Type, cur.Status), id)
				pipe.SAdd(ctx, s.bucketKey(next.Type, next.Status), id)
				pipe.SAdd(ctx, s.typesKey(), next.Type)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for range maxTxAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if mutateErr != nil || isStoreError(err) {
				return nil, err
			}
			return nil, fmt.Errorf("update job: %w: %w", storage.ErrUnavailable, err)
		}
		return out, nil
	}
	return nil, storage.ErrStatusConflict
}

func (s *Store) Remove(ctx context.Context, id string) error {
	key := s.jobKey(id)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.bucketKey(cur.Type, cur.Status), id)
			return nil
		})
		return err
	}, key)

	if err != nil && !isStoreError(err) {
		return fmt.Errorf("remove job: %w: %w", storage.ErrUnavailable, err)
	}
	return err
}

func (s *Store) Query(ctx context.Context, f storage.Filter) ([]models.Job, error) {
	buckets, err := s.buckets(ctx, f.Type, f.Statuses)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, b := range buckets {
		members, err := s.rdb.SMembers(ctx, b).Result()
		if err != nil {
			return nil, fmt.Errorf("query jobs: %w: %w", storage.ErrUnavailable, err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []models.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w: %w", storage.ErrUnavailable, err)
	}

	candidates := make([]*models.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("query jobs: decode: %w", err)
		}
		if f.Matches(&job) {
			candidates = append(candidates, &job)
		}
	}

	storage.Sort(candidates, f.Order)
	candidates = storage.Page(candidates, f.Offset, f.Limit)

	out := make([]models.Job, len(candidates))
	for i, j := range candidates {
		out[i] = *j
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) ([]storage.StatusCount, error) {
	types, err := s.rdb.SMembers(ctx, s.typesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w: %w", storage.ErrUnavailable, err)
	}

	type pending struct {
		jobType string
		status  config.JobStatus
		cmd     *redis.IntCmd
	}
	var cmds []pending

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range types {
			for _, st := range config.AllJobStatuses {
				cmds = append(cmds, pending{t, st, pipe.SCard(ctx, s.bucketKey(t, st))})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w: %w", storage.ErrUnavailable, err)
	}

	var out []storage.StatusCount
	for _, c := range cmds {
		if n := c.cmd.Val(); n > 0 {
			out = append(out, storage.StatusCount{Type: c.jobType, Status: c.status, Count: n})
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) buckets(ctx context.Context, jobType string, statuses []config.JobStatus) ([]string, error) {
	types := []string{jobType}
	if jobType == "" {
		var err error
		types, err = s.rdb.SMembers(ctx, s.typesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("query jobs: %w: %w", storage.ErrUnavailable, err)
		}
	}
	if len(statuses) == 0 {
		statuses = config.AllJobStatuses
	}

	keys := make([]string, 0, len(types)*len(statuses))
	for _, t := range types {
		for _, st := range statuses {
			keys = append(keys, s.bucketKey(t, st))
		}
	}
	return keys, nil
}

func isStoreError(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrStatusConflict) ||
		errors.Is(err, storage.ErrAlreadyExists)
}
