// Package servicemap maintains the discovery ConfigMap that client workloads
// mount to find the file servers. The map is regenerated wholesale from live
// state on every reconcile; entries for servers that disappeared vanish with
// it.
package servicemap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/filestand/filestand/internal/discovery"
)

const (
	keyUpdatedAt   = "UPDATED_AT"
	keyServerCount = "SERVER_COUNT"
	nodePortSuffix = "_NODEPORT"
)

// Discoverer yields the current server set.
type Discoverer interface {
	DiscoverServers(ctx context.Context) ([]discovery.Server, error)
}

// Reconciler rewrites the discovery ConfigMap from live cluster state.
type Reconciler struct {
	client        kubernetes.Interface
	discoverer    Discoverer
	namespace     string
	configMapName string
	logger        logr.Logger

	// Serializes whole reconcile passes; concurrent callers degrade to
	// last write wins instead of interleaving.
	mu sync.Mutex
}

func NewReconciler(client kubernetes.Interface, discoverer Discoverer, namespace, configMapName string, logger logr.Logger) *Reconciler {
	return &Reconciler{
		client:        client,
		discoverer:    discoverer,
		namespace:     namespace,
		configMapName: configMapName,
		logger:        logger.WithName("servicemap-reconciler"),
	}
}

// Reconcile regenerates the ConfigMap. Idempotent; a failed pass is healed
// by the next one.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.discoverer.DiscoverServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover servers for service map: %w", err)
	}

	data := BuildData(servers, time.Now())
	if err := r.apply(ctx, data); err != nil {
		r.logger.Error(err, "Failed to apply service map", "configMap", r.configMapName)
		return err
	}

	r.logger.V(1).Info("Service map reconciled",
		"configMap", r.configMapName,
		"servers", data[keyServerCount])
	return nil
}

// BuildData renders the ConfigMap payload. Only servers whose pod is ready
// are listed; consumers treat presence as dialable.
func BuildData(servers []discovery.Server, now time.Time) map[string]string {
	data := make(map[string]string, 2*len(servers)+2)
	count := 0
	for _, srv := range servers {
		if !srv.PodReady {
			continue
		}
		key := entryKey(srv)
		data[key] = srv.ClusterDNSAddress
		if srv.ExternalPort > 0 {
			data[key+nodePortSuffix] = strconv.Itoa(int(srv.ExternalPort))
		}
		count++
	}
	data[keyUpdatedAt] = now.UTC().Format(time.RFC3339)
	data[keyServerCount] = strconv.Itoa(count)
	return data
}

// entryKey renders "FTP_FTP_TEST" style keys, env var safe for consumers
// that import the map with envFrom.
func entryKey(srv discovery.Server) string {
	name := strings.ToUpper(strings.ReplaceAll(srv.Name, "-", "_"))
	return strings.ToUpper(srv.Protocol.String()) + "_" + name
}

// apply writes the data with a full replace, creating the ConfigMap on first
// use. Update conflicts with other writers are retried on the fresh object.
func (r *Reconciler) apply(ctx context.Context, data map[string]string) error {
	configMaps := r.client.CoreV1().ConfigMaps(r.namespace)

	existing, err := configMaps.Get(ctx, r.configMapName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      r.configMapName,
				Namespace: r.namespace,
				Labels: map[string]string{
					discovery.LabelName:      discovery.AppName,
					discovery.LabelComponent: discovery.ComponentControl,
					discovery.LabelManagedBy: discovery.ManagedByControl,
					discovery.LabelPartOf:    discovery.AppName,
				},
			},
			Data: data,
		}
		if _, err := configMaps.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create service map: %w", err)
		}
		r.logger.Info("Created service map", "configMap", r.configMapName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get service map: %w", err)
	}

	existing.Data = data
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		_, err := configMaps.Update(ctx, existing, metav1.UpdateOptions{})
		if apierrors.IsConflict(err) {
			fresh, getErr := configMaps.Get(ctx, r.configMapName, metav1.GetOptions{})
			if getErr != nil {
				return getErr
			}
			fresh.Data = data
			existing = fresh
		}
		return err
	})
}
