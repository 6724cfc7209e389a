package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// Engine performs one-shot discovery passes against the target namespace.
type Engine struct {
	client    kubernetes.Interface
	namespace string
	logger    logr.Logger
}

func NewEngine(client kubernetes.Interface, namespace string, logger logr.Logger) *Engine {
	return &Engine{
		client:    client,
		namespace: namespace,
		logger:    logger.WithName("discovery-engine"),
	}
}

// DiscoverServers lists labeled pods and services and correlates them into
// servers. Pods belonging to the control plane itself, pods with no
// classifiable protocol and pods with no matching service are skipped. A
// failed service list degrades the pass instead of failing it; every pod then
// lacks a service and the result is empty.
func (e *Engine) DiscoverServers(ctx context.Context) ([]Server, error) {
	pods, err := e.client.CoreV1().Pods(e.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ServerSelector(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	if len(pods.Items) == 0 {
		e.logger.Info("no file server pods found, check namespace and RBAC list permissions",
			"namespace", e.namespace,
			"selector", ServerSelector())
		return []Server{}, nil
	}

	services, err := e.client.CoreV1().Services(e.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ServerSelector(),
	})
	if err != nil {
		e.logger.Error(err, "failed to list services, continuing without correlation")
		services = &corev1.ServiceList{}
	}

	servers := make([]Server, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if strings.Contains(pod.Name, controlPlaneMarker) {
			continue
		}
		protocol := ClassifyPodName(pod.Name)
		if protocol == ProtocolUnknown {
			e.logger.V(1).Info("skipping pod with unrecognized protocol", "pod", pod.Name)
			continue
		}
		svc := matchService(pod, services.Items)
		if svc == nil {
			e.logger.V(1).Info("skipping pod without a matching service", "pod", pod.Name)
			continue
		}
		servers = append(servers, e.buildServer(pod, svc, protocol))
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	e.logger.V(1).Info("discovery pass complete", "pods", len(pods.Items), "servers", len(servers))
	return servers, nil
}

// matchService returns the first service whose selector matches the pod's
// labels. Services with an empty selector would match everything and are
// ignored.
func matchService(pod *corev1.Pod, services []corev1.Service) *corev1.Service {
	for i := range services {
		svc := &services[i]
		if len(svc.Spec.Selector) == 0 {
			continue
		}
		if labels.SelectorFromSet(svc.Spec.Selector).Matches(labels.Set(pod.Labels)) {
			return svc
		}
	}
	return nil
}

func (e *Engine) buildServer(pod *corev1.Pod, svc *corev1.Service, protocol Protocol) Server {
	port := servicePort(svc)
	host := svc.Spec.ClusterIP
	if host == "" || host == corev1.ClusterIPNone {
		// Headless service, the NAS StatefulSets use these. Dial the pod
		// directly.
		host = pod.Status.PodIP
	}
	return Server{
		Name:              ServerName(pod.Name, pod.Labels),
		PodName:           pod.Name,
		Protocol:          protocol,
		ServiceName:       svc.Name,
		ClusterAddress:    fmt.Sprintf("%s:%d", host, port),
		ClusterDNSAddress: fmt.Sprintf("%s.%s.svc.cluster.local:%d", svc.Name, e.namespace, port),
		ExternalPort:      nodePort(svc),
		PodPhase:          string(pod.Status.Phase),
		PodReady:          IsPodReady(pod),
		Dynamic:           pod.Labels[LabelManagedBy] == ManagedByControl,
		ManagedBy:         pod.Labels[LabelManagedBy],
		Directory:         InferDirectory(pod, protocol),
		Credentials:       ExtractCredentials(&pod.Spec, protocol),
	}
}

func servicePort(svc *corev1.Service) int32 {
	if len(svc.Spec.Ports) == 0 {
		return 0
	}
	return svc.Spec.Ports[0].Port
}

func nodePort(svc *corev1.Service) int32 {
	for _, p := range svc.Spec.Ports {
		if p.NodePort != 0 {
			return p.NodePort
		}
	}
	return 0
}

// IsPodReady reports the pod's Ready condition.
func IsPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
