package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solar-telemetry/internal/gateway"
	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/metrics"
	"solar-telemetry/internal/storage"

	"go.uber.org/zap"
)

// InverterSource lists the inverters to poll and records their status transitions.
type InverterSource interface {
	ListEnabledInverters(ctx context.Context) ([]storage.Inverter, error)
	SetInverterStatus(ctx context.Context, id string, status storage.InverterStatus, lastSeen *time.Time) error
}

type SampleAppender interface {
	Append(ctx context.Context, inverterID string, sample storage.PowerSample) error
}

// Sink receives every sample that was stored. Sink errors never fail a poll.
type Sink interface {
	Name() string
	Publish(ctx context.Context, inv storage.Inverter, sample storage.PowerSample) error
}

// errSampleRejected marks a poll where the device answered but the store refused
// the sample. It never counts toward the offline threshold.
var errSampleRejected = errors.New("sample rejected")

type GatewayFactory func(address string, timeout time.Duration) (gateway.Gateway, error)

// Snapshot is the most recent live state of one inverter.
type Snapshot struct {
	InverterID          string                 `json:"inverter_id"`
	Status              storage.InverterStatus `json:"status"`
	Sample              *storage.PowerSample   `json:"sample,omitempty"`
	DeviceState         string                 `json:"device_state,omitempty"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	LastError           string                 `json:"last_error,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

type Config struct {
	Inverters        InverterSource
	Samples          SampleAppender
	NewGateway       GatewayFactory
	Sinks            []Sink
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SyncInterval     time.Duration
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

// Poller runs one independent polling task per enabled inverter.
type Poller struct {
	inverters        InverterSource
	samples          SampleAppender
	newGateway       GatewayFactory
	sinks            []Sink
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	syncInterval     time.Duration
	metrics          *metrics.Metrics
	logger           *zap.Logger

	mu     sync.RWMutex
	tasks  map[string]*task
	latest map[string]Snapshot
	wg     sync.WaitGroup
}

type task struct {
	inverter storage.Inverter
	gw       gateway.Gateway
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config) *Poller {
	if cfg.NewGateway == nil {
		cfg.NewGateway = gateway.New
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	return &Poller{
		inverters:        cfg.Inverters,
		samples:          cfg.Samples,
		newGateway:       cfg.NewGateway,
		sinks:            cfg.Sinks,
		interval:         cfg.Interval,
		timeout:          cfg.Timeout,
		failureThreshold: cfg.FailureThreshold,
		syncInterval:     cfg.SyncInterval,
		metrics:          cfg.Metrics,
		logger:           logging.OrNop(cfg.Logger),
		tasks:            make(map[string]*task),
		latest:           make(map[string]Snapshot),
	}
}

// Run reconciles the task set every sync interval until ctx is cancelled,
// then stops every task and waits for them.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting poller",
		zap.Duration("interval", p.interval),
		zap.Duration("sync_interval", p.syncInterval),
		zap.Int("failure_threshold", p.failureThreshold))

	p.reconcile(ctx)

	ticker := time.NewTicker(p.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
			p.reconcile(ctx)
		}
	}
}

func (p *Poller) reconcile(ctx context.Context) {
	inverters, err := p.inverters.ListEnabledInverters(ctx)
	if err != nil {
		p.logger.Error("Failed to list inverters", zap.Error(err))
		return
	}

	wanted := make(map[string]storage.Inverter, len(inverters))
	for _, inv := range inverters {
		wanted[inv.ID] = inv
	}

	p.mu.Lock()
	var stopping []*task
	var removed []string
	for id, t := range p.tasks {
		inv, ok := wanted[id]
		if !ok || inv.GatewayURL != t.inverter.GatewayURL {
			stopping = append(stopping, t)
			delete(p.tasks, id)
			if !ok {
				removed = append(removed, id)
			}
		}
	}
	p.mu.Unlock()

	for _, t := range stopping {
		t.stop()
	}
	if len(removed) > 0 {
		p.mu.Lock()
		for _, id := range removed {
			delete(p.latest, id)
		}
		p.mu.Unlock()
		p.updateOnlineGauge()
	}

	for _, inv := range inverters {
		p.mu.RLock()
		_, running := p.tasks[inv.ID]
		p.mu.RUnlock()
		if running {
			continue
		}
		if err := p.startTask(ctx, inv); err != nil {
			p.logger.Warn("Failed to start polling task",
				zap.String("inverter_id", inv.ID), zap.Error(err))
		}
	}
}

func (p *Poller) startTask(parent context.Context, inv storage.Inverter) error {
	gw, err := p.newGateway(inv.GatewayURL, p.timeout)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	t := &task{inverter: inv, gw: gw, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.tasks[inv.ID] = t
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer gw.Close()
		p.runTask(ctx, t)
	}()
	return nil
}

func (t *task) stop() {
	t.cancel()
	<-t.done
}

func (p *Poller) stopAll() {
	p.mu.Lock()
	tasks := make([]*task, 0, len(p.tasks))
	for id, t := range p.tasks {
		tasks = append(tasks, t)
		delete(p.tasks, id)
	}
	p.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	p.wg.Wait()
}

// runTask polls one inverter. The failure counter is local to the task.
func (p *Poller) runTask(ctx context.Context, t *task) {
	inv := t.inverter
	p.logger.Info("Polling inverter",
		zap.String("inverter_id", inv.ID), zap.String("gateway", inv.GatewayURL))

	failures := 0
	markedOffline := false

	poll := func() {
		_, err := p.poll(ctx, inv, t.gw)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			markedOffline = false
			return
		}
		if errors.Is(err, errSampleRejected) {
			failures = 0
			markedOffline = false
			p.logger.Warn("Sample rejected",
				zap.String("inverter_id", inv.ID), zap.Error(err))
			return
		}

		failures++
		p.logger.Warn("Poll failed",
			zap.String("inverter_id", inv.ID),
			zap.Error(err),
			zap.Int("consecutive_failures", failures))
		p.recordFailure(inv.ID, failures, err)

		if failures >= p.failureThreshold && !markedOffline {
			if err := p.inverters.SetInverterStatus(ctx, inv.ID, storage.StatusOffline, nil); err != nil {
				p.logger.Error("Failed to mark inverter offline",
					zap.String("inverter_id", inv.ID), zap.Error(err))
				return
			}
			markedOffline = true
			p.setStatus(inv.ID, storage.StatusOffline)
			p.logger.Warn("Inverter offline",
				zap.String("inverter_id", inv.ID), zap.Int("consecutive_failures", failures))
		}
	}

	poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// poll fetches, normalizes, stores and fans out a single reading.
func (p *Poller) poll(ctx context.Context, inv storage.Inverter, gw gateway.Gateway) (*storage.PowerSample, error) {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	reading, err := gw.Live(fetchCtx)
	cancel()
	if err != nil {
		p.metrics.ObservePoll("unreachable", time.Since(start))
		return nil, err
	}

	sample := reading.ToSample(time.Now())
	seen := sample.Timestamp
	if err := p.samples.Append(ctx, inv.ID, sample); err != nil {
		err = fmt.Errorf("%w: %w", errSampleRejected, err)
		p.markReachable(ctx, inv.ID, reading.State, seen, err)
		p.metrics.ObservePoll("rejected", time.Since(start))
		return nil, err
	}
	sample.InverterID = inv.ID
	sample.OwnerID = inv.OwnerID

	if err := p.inverters.SetInverterStatus(ctx, inv.ID, storage.StatusOnline, &seen); err != nil {
		p.logger.Error("Failed to mark inverter online",
			zap.String("inverter_id", inv.ID), zap.Error(err))
	}

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, inv, sample); err != nil {
			p.logger.Warn("Sink publish failed",
				zap.String("sink", sink.Name()),
				zap.String("inverter_id", inv.ID),
				zap.Error(err))
		}
	}

	p.mu.Lock()
	p.latest[inv.ID] = Snapshot{
		InverterID:  inv.ID,
		Status:      storage.StatusOnline,
		Sample:      &sample,
		DeviceState: reading.State,
		UpdatedAt:   time.Now().UTC(),
	}
	p.mu.Unlock()
	p.updateOnlineGauge()

	p.metrics.ObservePoll("ok", time.Since(start))
	p.logger.Debug("Collected",
		zap.String("inverter_id", inv.ID),
		zap.Float64("ac_power_w", sample.ACPowerW),
		zap.Float64("yield_today_kwh", sample.YieldTodayKWh))

	return &sample, nil
}

// markReachable records a device that answered even though its sample was not
// stored. The previous sample stays in the snapshot.
func (p *Poller) markReachable(ctx context.Context, id, state string, seen time.Time, rejection error) {
	if err := p.inverters.SetInverterStatus(ctx, id, storage.StatusOnline, &seen); err != nil {
		p.logger.Error("Failed to mark inverter online",
			zap.String("inverter_id", id), zap.Error(err))
	}
	p.mu.Lock()
	snap := p.latest[id]
	snap.InverterID = id
	snap.Status = storage.StatusOnline
	snap.DeviceState = state
	snap.ConsecutiveFailures = 0
	snap.LastError = rejection.Error()
	snap.UpdatedAt = time.Now().UTC()
	p.latest[id] = snap
	p.mu.Unlock()
	p.updateOnlineGauge()
}

func (p *Poller) recordFailure(id string, failures int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.latest[id]
	if !ok {
		snap = Snapshot{InverterID: id, Status: storage.StatusOffline}
	}
	snap.ConsecutiveFailures = failures
	snap.LastError = err.Error()
	snap.UpdatedAt = time.Now().UTC()
	p.latest[id] = snap
}

func (p *Poller) setStatus(id string, status storage.InverterStatus) {
	p.mu.Lock()
	snap := p.latest[id]
	snap.InverterID = id
	snap.Status = status
	p.latest[id] = snap
	p.mu.Unlock()
	p.updateOnlineGauge()
}

func (p *Poller) updateOnlineGauge() {
	p.mu.RLock()
	online := 0
	for _, snap := range p.latest {
		if snap.Status == storage.StatusOnline {
			online++
		}
	}
	p.mu.RUnlock()
	p.metrics.SetInvertersOnline(online)
}

// Latest returns the last live snapshot for the inverter.
func (p *Poller) Latest(inverterID string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.latest[inverterID]
	return snap, ok
}

// PollOnce performs a single poll outside the scheduled tasks.
func (p *Poller) PollOnce(ctx context.Context, inv storage.Inverter) (*storage.PowerSample, error) {
	gw, err := p.newGateway(inv.GatewayURL, p.timeout)
	if err != nil {
		return nil, err
	}
	defer gw.Close()
	return p.poll(ctx, inv, gw)
}

// Running reports how many inverter tasks are active.
func (p *Poller) Running() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}
