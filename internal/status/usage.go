package status

import (
	"context"
	"sync"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/filestand/filestand/internal/discovery"
)

// Metrics server scrapes land every 15 to 30 seconds, so results are cached
// slightly below that and availability is rechecked on a long interval to
// keep a missing metrics server from adding a failed call to every cycle.
const (
	usageCacheTTL             = 15 * time.Second
	availabilityCheckInterval = 5 * time.Minute
)

// UsageCollector enriches snapshots with pod CPU and memory usage. A cluster
// without a metrics server is normal; Collect then returns nil and the
// snapshot simply carries no usage.
type UsageCollector struct {
	metricsClient metricsclient.Interface
	namespace     string
	logger        logr.Logger

	mu            sync.Mutex
	available     bool
	lastCheck     time.Time
	checkInterval time.Duration

	usageCache *cache.Cache[string, ResourceUsage]
}

func NewUsageCollector(client metricsclient.Interface, namespace string, logger logr.Logger) *UsageCollector {
	return &UsageCollector{
		metricsClient: client,
		namespace:     namespace,
		logger:        logger.WithName("usage-collector"),
		checkInterval: availabilityCheckInterval,
		usageCache:    cache.New[string, ResourceUsage](),
	}
}

// Collect returns usage keyed by pod name for the given servers, or nil when
// the metrics API is unavailable.
func (u *UsageCollector) Collect(ctx context.Context, servers []discovery.Server) map[string]ResourceUsage {
	if len(servers) == 0 || !u.isAvailable(ctx) {
		return nil
	}

	if usage, ok := u.fromCache(servers); ok {
		return usage
	}

	podMetricsList, err := u.metricsClient.MetricsV1beta1().PodMetricses(u.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		u.logger.V(1).Info("failed to list pod metrics", "error", err.Error())
		return nil
	}

	byPod := make(map[string]ResourceUsage, len(podMetricsList.Items))
	for _, podMetrics := range podMetricsList.Items {
		var usage ResourceUsage
		for _, container := range podMetrics.Containers {
			usage.CPUMilli += container.Usage.Cpu().MilliValue()
			usage.MemoryBytes += container.Usage.Memory().Value()
		}
		byPod[podMetrics.Name] = usage
		u.usageCache.Set(podMetrics.Name, usage, cache.WithExpiration(usageCacheTTL))
	}

	result := make(map[string]ResourceUsage, len(servers))
	for _, srv := range servers {
		if usage, ok := byPod[srv.PodName]; ok {
			result[srv.PodName] = usage
		}
	}
	return result
}

// fromCache serves the request entirely from cached entries when every pod
// is still fresh, skipping the API call between scrape windows.
func (u *UsageCollector) fromCache(servers []discovery.Server) (map[string]ResourceUsage, bool) {
	result := make(map[string]ResourceUsage, len(servers))
	for _, srv := range servers {
		usage, ok := u.usageCache.Get(srv.PodName)
		if !ok {
			return nil, false
		}
		result[srv.PodName] = usage
	}
	return result, true
}

// isAvailable probes the metrics API at most once per check interval and
// otherwise answers from the last result.
func (u *UsageCollector) isAvailable(ctx context.Context) bool {
	if u.metricsClient == nil {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if time.Since(u.lastCheck) < u.checkInterval {
		return u.available
	}
	u.lastCheck = time.Now()

	_, err := u.metricsClient.MetricsV1beta1().PodMetricses(u.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		if u.available {
			u.logger.Info("metrics server no longer reachable, skipping usage enrichment", "error", err.Error())
		} else {
			u.logger.V(1).Info("metrics server not available", "error", err.Error())
		}
		u.available = false
		return false
	}
	if !u.available {
		u.logger.Info("metrics server available, enriching snapshots with pod usage")
	}
	u.available = true
	return true
}
