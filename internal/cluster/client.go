// Package cluster builds the Kubernetes clients the control plane talks
// through.
package cluster

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Var so tests can point it at a fixture.
var serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// Clients bundles the typed clientsets. Metrics may be nil-usable: the
// clientset is always constructed, but calls fail gracefully on clusters
// without a metrics server and callers treat that as absence, not an error.
type Clients struct {
	Kubernetes kubernetes.Interface
	Metrics    metricsclient.Interface
}

// NewClients builds clientsets from the first working configuration source:
// an explicit kubeconfig path, the in-cluster service account, then the
// default local kubeconfig.
func NewClients(kubeconfigPath string) (*Clients, error) {
	cfg, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	k8s, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	metrics, err := metricsclient.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}
	return &Clients{Kubernetes: k8s, Metrics: metrics}, nil
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}
	// Fallback to default local rules (e.g. ~/.kube/config)
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}

// CurrentNamespace returns the namespace the control plane runs in, read
// from the service account mount when present. The mount wins over the
// configured value: owner references to the control-plane pod only resolve
// in its own namespace. Outside a cluster the configured value is returned
// unchanged.
func CurrentNamespace(configured string, logger logr.Logger) string {
	if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			if configured != "" && configured != ns {
				logger.Info("Ignoring configured namespace in favor of the pod's own",
					"configured", configured,
					"namespace", ns)
			}
			return ns
		}
	}
	return configured
}
