// internal/transport/recorder.go
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// BufferedRecorder queues health samples and delivers them to a SampleStore
// in the background. Record never touches the store directly, so a stalled
// store stalls delivery, not the status loop. When the queue is full the
// oldest sample is discarded; recent data is worth more than complete data
// here.
type BufferedRecorder struct {
	store  SampleStore
	logger logr.Logger

	mu     sync.Mutex
	buffer []bufferedSample

	stopCh     chan struct{}
	workerDone chan struct{}
	started    bool

	flushInterval  time.Duration
	maxBufferSize  int
	maxAttempts    int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
}

type bufferedSample struct {
	Sample    HealthSample
	Attempts  int
	NextRetry time.Time
}

// BufferedRecorderOptions configures the recorder.
type BufferedRecorderOptions struct {
	MaxBufferSize  int           // Maximum number of queued samples
	FlushInterval  time.Duration // How often the worker attempts delivery
	MaxAttempts    int           // Delivery attempts per sample before discarding
	BaseRetryDelay time.Duration // Initial retry delay
	MaxRetryDelay  time.Duration // Retry delay cap with backoff
}

// DefaultBufferedRecorderOptions returns sensible defaults. At a five second
// cycle the buffer covers well over an hour of store downtime for a typical
// fleet.
func DefaultBufferedRecorderOptions() BufferedRecorderOptions {
	return BufferedRecorderOptions{
		MaxBufferSize:  10000,
		FlushInterval:  2 * time.Second,
		MaxAttempts:    5,
		BaseRetryDelay: 1 * time.Second,
		MaxRetryDelay:  30 * time.Second,
	}
}

// NewBufferedRecorder creates a recorder in front of the given store.
func NewBufferedRecorder(store SampleStore, logger logr.Logger, options BufferedRecorderOptions) *BufferedRecorder {
	return &BufferedRecorder{
		store:          store,
		logger:         logger.WithName("sample-recorder"),
		buffer:         make([]bufferedSample, 0, options.MaxBufferSize),
		stopCh:         make(chan struct{}),
		workerDone:     make(chan struct{}),
		flushInterval:  options.FlushInterval,
		maxBufferSize:  options.MaxBufferSize,
		maxAttempts:    options.MaxAttempts,
		baseRetryDelay: options.BaseRetryDelay,
		maxRetryDelay:  options.MaxRetryDelay,
	}
}

// Start launches the delivery worker.
func (r *BufferedRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.logger.Info("Starting sample recorder",
		"maxBufferSize", r.maxBufferSize,
		"flushInterval", r.flushInterval)

	go r.deliverLoop(ctx)
	r.started = true
	return nil
}

// Stop shuts the worker down and makes a final delivery attempt for whatever
// is still queued.
func (r *BufferedRecorder) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	r.logger.Info("Stopping sample recorder", "queuedSamples", r.QueueSize())
	close(r.stopCh)
	<-r.workerDone
	return nil
}

// Record enqueues a sample. It never blocks; when the buffer is full the
// oldest sample makes room.
func (r *BufferedRecorder) Record(sample HealthSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) >= r.maxBufferSize {
		r.logger.V(1).Info("Sample buffer full, discarding oldest sample",
			"bufferSize", len(r.buffer))
		r.buffer = r.buffer[1:]
	}
	r.buffer = append(r.buffer, bufferedSample{Sample: sample, NextRetry: time.Now()})
}

// QueueSize returns the number of samples waiting for delivery.
func (r *BufferedRecorder) QueueSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

func (r *BufferedRecorder) deliverLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer func() {
		ticker.Stop()
		close(r.workerDone)
	}()

	for {
		select {
		case <-r.stopCh:
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.deliverDue(flushCtx, time.Now().Add(r.maxRetryDelay))
			cancel()
			return
		case <-ctx.Done():
			r.logger.Info("Context done, stopping sample delivery")
			return
		case <-ticker.C:
			r.deliverDue(ctx, time.Now())
		}
	}
}

// deliverDue sends every sample whose retry time has passed. Failed samples
// go back into the queue with backoff until maxAttempts is reached.
func (r *BufferedRecorder) deliverDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	var due []bufferedSample
	var remaining []bufferedSample
	for _, item := range r.buffer {
		if now.After(item.NextRetry) || now.Equal(item.NextRetry) {
			due = append(due, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	r.buffer = remaining
	r.mu.Unlock()

	for _, item := range due {
		err := r.store.RecordSample(ctx, item.Sample)
		if err == nil {
			continue
		}
		item.Attempts++
		if item.Attempts >= r.maxAttempts {
			r.logger.Info("Discarding sample after max delivery attempts",
				"server", item.Sample.ServerID,
				"attempts", item.Attempts)
			continue
		}
		item.NextRetry = time.Now().Add(r.backoff(item.Attempts))

		r.mu.Lock()
		if len(r.buffer) < r.maxBufferSize {
			r.buffer = append(r.buffer, item)
		} else {
			r.logger.V(1).Info("Sample buffer full, discarding failed sample",
				"server", item.Sample.ServerID,
				"attempts", item.Attempts)
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// backoff doubles the delay per attempt up to the cap.
func (r *BufferedRecorder) backoff(attempt int) time.Duration {
	delay := r.baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > r.maxRetryDelay {
		delay = r.maxRetryDelay
	}
	return delay
}
