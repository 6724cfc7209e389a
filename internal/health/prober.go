// Package health answers one question per server: does its port accept a TCP
// connection right now. Protocol handshakes are deliberately out of scope,
// reachability is the health definition here.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/filestand/filestand/internal/discovery"
)

// maxConcurrentProbes bounds the fan-out so a large server set cannot open an
// unbounded number of sockets at once.
const maxConcurrentProbes = 8

// DialFunc matches net.Dialer.DialContext and is swappable in tests.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Result is the outcome of probing one server.
type Result struct {
	Server  discovery.Server
	Healthy bool
	Message string
	Latency time.Duration
}

// Prober runs TCP reachability checks with a bounded timeout per probe.
type Prober struct {
	timeout time.Duration
	dial    DialFunc
	logger  logr.Logger
}

func NewProber(timeout time.Duration, logger logr.Logger) *Prober {
	dialer := &net.Dialer{}
	return &Prober{
		timeout: timeout,
		dial:    dialer.DialContext,
		logger:  logger.WithName("health-prober"),
	}
}

// Check probes a single server. A pod that is not ready is reported unhealthy
// without dialing; its endpoints are not routable and dialing would only burn
// the timeout. Latency spans the whole check.
func (p *Prober) Check(ctx context.Context, srv discovery.Server) Result {
	start := time.Now()
	if !srv.PodReady {
		return Result{
			Server:  srv,
			Message: fmt.Sprintf("pod not ready (phase=%s)", srv.PodPhase),
			Latency: time.Since(start),
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", srv.ClusterAddress)
	if err != nil {
		p.logger.V(1).Info("probe failed", "server", srv.Name, "address", srv.ClusterAddress, "error", err.Error())
		return Result{
			Server:  srv,
			Message: fmt.Sprintf("tcp connect failed: %v", err),
			Latency: time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Server:  srv,
		Healthy: true,
		Message: "ok",
		Latency: time.Since(start),
	}
}

// CheckAll probes every server concurrently. The result slice is parallel to
// the input: results[i] describes servers[i].
func (p *Prober) CheckAll(ctx context.Context, servers []discovery.Server) []Result {
	results := make([]Result, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for i := range servers {
		g.Go(func() error {
			results[i] = p.Check(gctx, servers[i])
			return nil
		})
	}
	g.Wait()
	return results
}
