// Package jobs runs export and report pipelines in the background, with at most
// one running job per owner and kind.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/artifact"
	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultRetention = 5

// Observer is notified of every job state change. Calls happen on the job's
// goroutine, in order, outside any coordinator lock.
type Observer interface {
	JobChanged(ctx context.Context, snap Snapshot)
}

// ArtifactStore keeps completed artifacts outside the process and hands out a
// download URL for them.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, a *artifact.Artifact) (string, error)
	Delete(ctx context.Context, jobID string, a *artifact.Artifact) error
}

type Config struct {
	Retention int
	Observers []Observer
	Store     ArtifactStore
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type key struct {
	owner string
	kind  Kind
}

type Coordinator struct {
	mu       sync.RWMutex
	jobs     map[string]*job
	active   map[key]*job
	finished map[key][]*job

	retention int
	observers []Observer
	store     ArtifactStore
	metrics   *metrics.Metrics
	logger    *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Retention < 1 {
		cfg.Retention = DefaultRetention
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		jobs:      make(map[string]*job),
		active:    make(map[key]*job),
		finished:  make(map[key][]*job),
		retention: cfg.Retention,
		observers: cfg.Observers,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		logger:    logging.OrNop(cfg.Logger),
		baseCtx:   ctx,
		stop:      stop,
	}
}

// Start launches pipeline as a new job and returns immediately. A second job of
// the same kind for the same owner is rejected while one is running.
func (c *Coordinator) Start(ctx context.Context, owner string, kind Kind, p Pipeline) (Snapshot, error) {
	if owner == "" {
		return Snapshot{}, apperr.Validation("job owner is required")
	}
	if err := kind.Validate(); err != nil {
		return Snapshot{}, err
	}
	if len(p.Stages) == 0 || p.Result == nil {
		return Snapshot{}, apperr.Validation("job pipeline is empty")
	}

	k := key{owner: owner, kind: kind}
	jobCtx, cancel := context.WithCancel(c.baseCtx)
	j := &job{
		id:        uuid.NewString(),
		owner:     owner,
		kind:      kind,
		status:    StatusRunning,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.baseCtx.Err() != nil {
		c.mu.Unlock()
		cancel()
		return Snapshot{}, apperr.InvalidState("job coordinator is shut down")
	}
	if running, ok := c.active[k]; ok {
		c.mu.Unlock()
		cancel()
		return Snapshot{}, apperr.Conflict("%s job %s is already running", kind, running.id)
	}
	c.jobs[j.id] = j
	c.active[k] = j
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.JobStarted(string(kind))
	c.logger.Info("Job started",
		zap.String("job_id", j.id),
		zap.String("owner_id", owner),
		zap.String("kind", string(kind)))

	snap := j.snapshot()
	c.notify(ctx, snap)

	go c.run(jobCtx, j, p)
	return snap, nil
}

func (c *Coordinator) run(ctx context.Context, j *job, p Pipeline) {
	defer c.wg.Done()
	defer j.cancel()

	for _, st := range p.Stages {
		if ctx.Err() != nil || j.cancelled() {
			c.finish(j, StatusCancelled, nil, nil)
			return
		}
		c.notify(ctx, j.enterStage(st.Name, st.Message))

		if err := runStage(ctx, st); err != nil {
			if j.cancelled() || ctx.Err() != nil {
				c.finish(j, StatusCancelled, nil, nil)
				return
			}
			c.finish(j, StatusFailed, apperr.StageFailure(st.Name, err), nil)
			return
		}
		j.advance(st.Progress)
	}

	if j.cancelled() {
		c.finish(j, StatusCancelled, nil, nil)
		return
	}

	art, err := p.Result()
	if err != nil {
		c.finish(j, StatusFailed, err, nil)
		return
	}
	c.finish(j, StatusCompleted, nil, art)
}

func runStage(ctx context.Context, st Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Run(ctx)
}

// finish moves j to a terminal status, uploads the artifact when a store is
// configured and applies retention for the job's owner and kind. A cancellation
// accepted before the status is committed wins over completion.
func (c *Coordinator) finish(j *job, status Status, err error, art *artifact.Artifact) {
	var url string
	if status == StatusCompleted && c.store != nil {
		u, putErr := c.store.Put(c.baseCtxOrBackground(), j.id, art)
		if putErr != nil {
			c.logger.Warn("Failed to store job artifact, serving from memory",
				zap.String("job_id", j.id), zap.Error(putErr))
		} else {
			url = u
		}
	}

	j.mu.Lock()
	var discard *artifact.Artifact
	if status == StatusCompleted && j.cancelRequested {
		status = StatusCancelled
		if url != "" {
			discard = art
		}
		art, url = nil, ""
	}
	j.status = status
	j.err = err
	j.finished = time.Now().UTC()
	if status == StatusCompleted {
		j.progress = 100
		j.artifact = art
		j.url = url
	}
	j.stage = ""
	j.message = ""
	snap := j.snapshotLocked()
	j.mu.Unlock()

	k := key{owner: j.owner, kind: j.kind}
	c.mu.Lock()
	if c.active[k] == j {
		delete(c.active, k)
	}
	list := append(c.finished[k], j)
	var evicted []*job
	for len(list) > c.retention {
		evicted = append(evicted, list[0])
		delete(c.jobs, list[0].id)
		list = list[1:]
	}
	c.finished[k] = list
	c.mu.Unlock()

	c.metrics.JobFinished(string(j.kind), string(status))
	fields := []zap.Field{
		zap.String("job_id", j.id),
		zap.String("owner_id", j.owner),
		zap.String("kind", string(j.kind)),
		zap.String("status", string(status)),
	}
	if err != nil {
		c.logger.Warn("Job failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info("Job finished", fields...)
	}

	for _, old := range evicted {
		c.release(old)
	}
	if discard != nil {
		if err := c.store.Delete(context.Background(), j.id, discard); err != nil {
			c.logger.Warn("Failed to delete artifact of cancelled job",
				zap.String("job_id", j.id), zap.Error(err))
		}
	}

	c.notify(context.Background(), snap)
	close(j.done)
}

func (c *Coordinator) baseCtxOrBackground() context.Context {
	if c.baseCtx.Err() != nil {
		return context.Background()
	}
	return c.baseCtx
}

// release drops an evicted job's artifact and removes its stored copy.
func (c *Coordinator) release(j *job) {
	j.mu.Lock()
	art, url := j.artifact, j.url
	j.artifact = nil
	j.url = ""
	j.mu.Unlock()

	if c.store != nil && art != nil && url != "" {
		if err := c.store.Delete(context.Background(), j.id, art); err != nil {
			c.logger.Warn("Failed to delete evicted artifact",
				zap.String("job_id", j.id), zap.Error(err))
		}
	}
}

func (c *Coordinator) notify(ctx context.Context, snap Snapshot) {
	for _, o := range c.observers {
		o.JobChanged(ctx, snap)
	}
}

func (c *Coordinator) lookup(owner, id string) (*job, error) {
	c.mu.RLock()
	j, ok := c.jobs[id]
	c.mu.RUnlock()
	if !ok || j.owner != owner {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return j, nil
}

func (c *Coordinator) Get(owner, id string) (Snapshot, error) {
	j, err := c.lookup(owner, id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Cancel requests cooperative cancellation. A running stage is not interrupted;
// the job turns cancelled at its next stage boundary and Wait observes the transition.
func (c *Coordinator) Cancel(owner, id string) (Snapshot, error) {
	j, err := c.lookup(owner, id)
	if err != nil {
		return Snapshot{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return Snapshot{}, apperr.InvalidState("job %s is already %s", id, j.status)
	}
	if !j.cancelRequested {
		j.cancelRequested = true
		j.message = "Cancellation requested"
		c.logger.Info("Job cancellation requested", zap.String("job_id", id))
	}
	return j.snapshotLocked(), nil
}

// Artifact returns the output of a completed job together with its stored URL, if any.
func (c *Coordinator) Artifact(owner, id string) (*artifact.Artifact, string, error) {
	j, err := c.lookup(owner, id)
	if err != nil {
		return nil, "", err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCompleted {
		return nil, "", apperr.InvalidState("job %s is %s", id, j.status)
	}
	if j.artifact == nil {
		return nil, "", apperr.NotFound("artifact of job %s was released", id)
	}
	return j.artifact, j.url, nil
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, owner, id string) (Snapshot, error) {
	j, err := c.lookup(owner, id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// List returns the owner's retained jobs of kind, newest first. An empty kind lists every kind.
func (c *Coordinator) List(owner string, kind Kind) []Snapshot {
	c.mu.RLock()
	var js []*job
	for _, j := range c.jobs {
		if j.owner == owner && (kind == "" || j.kind == kind) {
			js = append(js, j)
		}
	}
	c.mu.RUnlock()

	out := make([]Snapshot, 0, len(js))
	for _, j := range js {
		out = append(out, j.snapshot())
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Shutdown cancels every running job and waits for them to settle.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stop()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
