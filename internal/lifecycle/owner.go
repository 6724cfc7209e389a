package lifecycle

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"

	"github.com/filestand/filestand/internal/discovery"
)

// resolveOwner finds the running control plane pod and turns it into the
// owner reference stamped on every dynamically created resource. Tying
// ownership to the pod means a helm uninstall of the control plane garbage
// collects the dynamic fleet with it.
func (m *Manager) resolveOwner(ctx context.Context) (*metav1.OwnerReference, error) {
	selector := labels.SelectorFromSet(labels.Set{
		discovery.LabelName:      discovery.AppName,
		discovery.LabelComponent: discovery.ComponentControl,
	})

	pods, err := m.client.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list control plane pods: %w", err)
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		return &metav1.OwnerReference{
			APIVersion: "v1",
			Kind:       "Pod",
			Name:       pod.Name,
			UID:        pod.UID,
			Controller: ptr.To(true),
		}, nil
	}

	return nil, ErrControlPlaneNotFound
}
