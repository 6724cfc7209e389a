package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/health"
	"github.com/filestand/filestand/internal/metrics"
	"github.com/filestand/filestand/internal/transport"
)

// Discoverer yields the current server set.
type Discoverer interface {
	DiscoverServers(ctx context.Context) ([]discovery.Server, error)
}

// Prober checks reachability for a server set.
type Prober interface {
	CheckAll(ctx context.Context, servers []discovery.Server) []health.Result
}

// UsageSource optionally supplies pod usage keyed by pod name.
type UsageSource interface {
	Collect(ctx context.Context, servers []discovery.Server) map[string]ResourceUsage
}

// Broadcaster drives the status cycle: discover, probe, snapshot, publish,
// record. A failed cycle logs and leaves the previous snapshot in place; the
// cached snapshot only ever advances whole cycles at a time.
type Broadcaster struct {
	discoverer Discoverer
	prober     Prober
	usage      UsageSource
	hub        transport.Publisher
	recorder   transport.SampleRecorder
	metrics    *metrics.ControlPlaneMetrics
	logger     logr.Logger

	interval     time.Duration
	initialDelay time.Duration

	stopCh  chan struct{}
	stopped sync.Once

	mu      sync.RWMutex
	latest  *Snapshot
	started bool
}

// BroadcasterOptions wires the loop's collaborators. Usage, Recorder and
// Metrics may be nil; the corresponding step is skipped.
type BroadcasterOptions struct {
	Discoverer   Discoverer
	Prober       Prober
	Usage        UsageSource
	Hub          transport.Publisher
	Recorder     transport.SampleRecorder
	Metrics      *metrics.ControlPlaneMetrics
	Interval     time.Duration
	InitialDelay time.Duration
}

func NewBroadcaster(opts BroadcasterOptions, logger logr.Logger) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Broadcaster{
		discoverer:   opts.Discoverer,
		prober:       opts.Prober,
		usage:        opts.Usage,
		hub:          opts.Hub,
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
		logger:       logger.WithName("status-broadcaster"),
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the broadcast loop in the background.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	b.logger.Info("Starting status broadcaster",
		"interval", b.interval,
		"initialDelay", b.initialDelay)

	go b.broadcastLoop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			b.Stop()
		case <-b.stopCh:
		}
	}()

	return nil
}

// Stop halts the loop. Safe to call more than once.
func (b *Broadcaster) Stop() error {
	b.stopped.Do(func() {
		b.logger.Info("Stopping status broadcaster")
		close(b.stopCh)
	})
	return nil
}

// GetLatestSnapshot returns the most recent complete snapshot, or nil before
// the first successful cycle. The snapshot is shared and must not be
// modified.
func (b *Broadcaster) GetLatestSnapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

func (b *Broadcaster) broadcastLoop(ctx context.Context) {
	if b.initialDelay > 0 {
		select {
		case <-time.After(b.initialDelay):
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.runCycle(ctx)

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runCycle(ctx)
		}
	}
}

// runCycle executes one pass. Errors are terminal for the pass, not the
// loop.
func (b *Broadcaster) runCycle(ctx context.Context) {
	start := time.Now()
	snapshot, err := b.captureSnapshot(ctx)
	if b.metrics != nil {
		b.metrics.ObserveCycle(time.Since(start), err)
	}
	if err != nil {
		b.logger.Error(err, "Status cycle failed, keeping previous snapshot")
		return
	}

	b.mu.Lock()
	b.latest = snapshot
	b.mu.Unlock()

	samples := samplesFrom(snapshot)
	if b.hub != nil {
		b.hub.Publish(transport.EventServerStatusUpdate, snapshot)
		b.hub.Publish(transport.EventMetricsSample, samples)
	}
	if b.recorder != nil {
		for _, s := range samples {
			b.recorder.Record(s)
		}
	}
	if b.metrics != nil {
		b.metrics.SetServerCounts(snapshot.HealthyCount, snapshot.TotalCount)
		for _, st := range snapshot.Servers {
			b.metrics.ObserveProbe(st.Protocol.String(), st.Healthy, time.Duration(st.LatencyMillis)*time.Millisecond)
		}
	}

	b.logger.V(1).Info("Status cycle complete",
		"servers", snapshot.TotalCount,
		"healthy", snapshot.HealthyCount,
		"duration", time.Since(start))
}

func (b *Broadcaster) captureSnapshot(ctx context.Context) (*Snapshot, error) {
	servers, err := b.discoverer.DiscoverServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover servers: %w", err)
	}

	results := b.prober.CheckAll(ctx, servers)

	var usage map[string]ResourceUsage
	if b.usage != nil {
		usage = b.usage.Collect(ctx, servers)
	}

	statuses := make([]ServerStatus, 0, len(results))
	healthy := 0
	for _, res := range results {
		st := ServerStatus{
			Name:          res.Server.Name,
			Protocol:      res.Server.Protocol,
			PodPhase:      res.Server.PodPhase,
			Healthy:       res.Healthy,
			Message:       res.Message,
			LatencyMillis: res.Latency.Milliseconds(),
		}
		if podUsage, ok := usage[res.Server.PodName]; ok {
			st.Usage = &podUsage
		}
		if res.Healthy {
			healthy++
		}
		statuses = append(statuses, st)
	}

	return &Snapshot{
		CycleID:      uuid.NewString(),
		CapturedAt:   time.Now().UTC(),
		Servers:      statuses,
		HealthyCount: healthy,
		TotalCount:   len(statuses),
	}, nil
}

func samplesFrom(snapshot *Snapshot) []transport.HealthSample {
	samples := make([]transport.HealthSample, 0, len(snapshot.Servers))
	for _, st := range snapshot.Servers {
		samples = append(samples, transport.HealthSample{
			ServerID:   st.Name,
			ServerType: st.Protocol.String(),
			Healthy:    st.Healthy,
			LatencyMS:  st.LatencyMillis,
			Timestamp:  snapshot.CapturedAt,
		})
	}
	return samples
}
