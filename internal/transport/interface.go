// internal/transport/interface.go
package transport

import (
	"context"
	"time"
)

// HealthSample is the per server, per cycle measurement handed to the
// external metrics pipeline.
type HealthSample struct {
	ServerID   string    `json:"serverId"`
	ServerType string    `json:"serverType"`
	Healthy    bool      `json:"healthy"`
	LatencyMS  int64     `json:"latencyMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleStore persists health samples. Implementations live outside this
// repo; the broadcaster only ever talks to a SampleRecorder in front of one.
type SampleStore interface {
	RecordSample(ctx context.Context, sample HealthSample) error
}

// SampleRecorder accepts samples from the status loop. Record must return
// immediately regardless of store health; a slow store may cost samples but
// never a broadcast cycle.
type SampleRecorder interface {
	// Record enqueues a sample without blocking.
	Record(sample HealthSample)

	// Start begins background delivery to the store.
	Start(ctx context.Context) error

	// Stop drains what it can and shuts delivery down.
	Stop() error
}

// Publisher fans events out to in-process subscribers.
type Publisher interface {
	Publish(event string, payload any)
}
