// Package redis mirrors job status snapshots into Redis so other processes can
// poll them without reaching the coordinator.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "job_status:"

type Config struct {
	Addr string
	DB   int
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// StatusRepo stores the latest snapshot of every job under job_status:<id>.
type StatusRepo struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewStatusRepo(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StatusRepo {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StatusRepo{client: client, ttl: ttl, logger: logging.OrNop(logger)}
}

func statusKey(jobID string) string {
	return keyPrefix + jobID
}

func (r *StatusRepo) SetStatus(ctx context.Context, snap jobs.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode job status: %w", err)
	}
	return r.client.Set(ctx, statusKey(snap.ID), body, r.ttl).Err()
}

func (r *StatusRepo) GetStatus(ctx context.Context, jobID string) (jobs.Snapshot, error) {
	body, err := r.client.Get(ctx, statusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return jobs.Snapshot{}, apperr.NotFound("no status for job %s", jobID)
	}
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("redis get: %w", err)
	}
	var snap jobs.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return jobs.Snapshot{}, fmt.Errorf("decode job status: %w", err)
	}
	return snap, nil
}

// JobChanged implements jobs.Observer. Write failures are logged; the job goes on.
func (r *StatusRepo) JobChanged(ctx context.Context, snap jobs.Snapshot) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.SetStatus(ctx, snap); err != nil {
		r.logger.Warn("Failed to mirror job status",
			zap.String("job_id", snap.ID),
			zap.String("status", string(snap.Status)),
			zap.Error(err))
	}
}
