// internal/transport/log_store.go
package transport

import (
	"context"

	"github.com/go-logr/logr"
)

// LogStore is the sample sink used when no external metrics pipeline is
// configured. Samples go to the debug log and are otherwise dropped, which
// keeps the recorder and the status loop exercising the same code path in
// every deployment.
type LogStore struct {
	logger logr.Logger
}

// NewLogStore creates a log backed sample store.
func NewLogStore(logger logr.Logger) *LogStore {
	return &LogStore{logger: logger.WithName("sample-log-store")}
}

// RecordSample writes the sample to the debug log. It never fails.
func (s *LogStore) RecordSample(_ context.Context, sample HealthSample) error {
	s.logger.V(1).Info("health sample",
		"server", sample.ServerID,
		"type", sample.ServerType,
		"healthy", sample.Healthy,
		"latencyMs", sample.LatencyMS)
	return nil
}
