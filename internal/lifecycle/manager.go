// Package lifecycle creates, scales and removes the dynamic file servers the
// control plane owns. Statically installed servers are visible to discovery
// but refuse every mutation here.
package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/ptr"

	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/metrics"
)

// Reconciler refreshes the discovery ConfigMap after a successful mutation.
// Failures are logged and do not fail the mutation; the broadcaster loop
// repairs the map on its next pass anyway.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Manager performs lifecycle mutations against the cluster.
type Manager struct {
	client       kubernetes.Interface
	namespace    string
	storageClaim string
	images       config.ImagesConfig
	reconciler   Reconciler
	metrics      *metrics.ControlPlaneMetrics
	logger       logr.Logger
}

// ManagerOptions configures a Manager. Reconciler and Metrics are optional.
type ManagerOptions struct {
	Client     kubernetes.Interface
	Namespace  string
	Servers    config.ServersConfig
	Reconciler Reconciler
	Metrics    *metrics.ControlPlaneMetrics
	Logger     logr.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		client:       opts.Client,
		namespace:    opts.Namespace,
		storageClaim: opts.Servers.StorageClaim,
		images:       opts.Servers.Images,
		reconciler:   opts.Reconciler,
		metrics:      opts.Metrics,
		logger:       opts.Logger.WithName("lifecycle-manager"),
	}
}

// CreateFTPServerRequest describes a new FTP server.
type CreateFTPServerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`

	// NodePort pins the external port. Zero lets the API server pick one.
	NodePort int32 `json:"nodePort,omitempty"`

	// SubPath on the shared claim the server serves. Defaults to the
	// server name.
	SubPath string `json:"subPath,omitempty"`
}

// CreateSFTPServerRequest describes a new SFTP server.
type CreateSFTPServerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	NodePort int32  `json:"nodePort,omitempty"`
	SubPath  string `json:"subPath,omitempty"`
}

// CreateSMBServerRequest describes a new SMB server.
type CreateSMBServerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	NodePort int32  `json:"nodePort,omitempty"`
	SubPath  string `json:"subPath,omitempty"`

	// ShareName is the exported SMB share. Defaults to "data".
	ShareName string `json:"shareName,omitempty"`
}

// CreateFTPServer provisions an FTP server and returns its provisional
// record. The pod is not running yet when this returns; the next discovery
// pass picks it up with live state.
func (m *Manager) CreateFTPServer(ctx context.Context, req CreateFTPServerRequest) (*discovery.Server, error) {
	if err := validateCreate(req.Name, req.Username, req.Password, discovery.ProtocolFTP); err != nil {
		return nil, err
	}
	creds := &discovery.Credentials{Username: req.Username, Password: req.Password}
	return m.create(ctx, "create_ftp", req.Name, req.NodePort, m.ftpBlueprint(req), creds)
}

// CreateSFTPServer provisions an SFTP server.
func (m *Manager) CreateSFTPServer(ctx context.Context, req CreateSFTPServerRequest) (*discovery.Server, error) {
	if err := validateCreate(req.Name, req.Username, req.Password, discovery.ProtocolSFTP); err != nil {
		return nil, err
	}
	creds := &discovery.Credentials{Username: req.Username, Password: req.Password}
	return m.create(ctx, "create_sftp", req.Name, req.NodePort, m.sftpBlueprint(req), creds)
}

// CreateSMBServer provisions an SMB server.
func (m *Manager) CreateSMBServer(ctx context.Context, req CreateSMBServerRequest) (*discovery.Server, error) {
	if err := validateCreate(req.Name, req.Username, req.Password, discovery.ProtocolSMB); err != nil {
		return nil, err
	}
	creds := &discovery.Credentials{Username: req.Username, Password: req.Password}
	return m.create(ctx, "create_smb", req.Name, req.NodePort, m.smbBlueprint(req), creds)
}

func (m *Manager) create(ctx context.Context, op, name string, nodePort int32, bp blueprint, creds *discovery.Credentials) (*discovery.Server, error) {
	server, err := m.doCreate(ctx, name, nodePort, bp, creds)
	if m.metrics != nil {
		m.metrics.ObserveLifecycleOp(op, err)
	}
	if err != nil {
		return nil, err
	}
	m.refreshServiceMap(ctx)
	return server, nil
}

func (m *Manager) doCreate(ctx context.Context, name string, nodePort int32, bp blueprint, creds *discovery.Credentials) (*discovery.Server, error) {
	if err := m.ensureNameFree(ctx, name); err != nil {
		return nil, err
	}

	owner, err := m.resolveOwner(ctx)
	if err != nil {
		return nil, err
	}

	deployment := m.buildDeployment(name, bp, *owner)
	if _, err := m.client.AppsV1().Deployments(m.namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("deployment %s: %w", name, ErrNameInUse)
		}
		return nil, fmt.Errorf("failed to create deployment %s: %w", name, err)
	}

	service := m.buildService(name, bp, nodePort, *owner)
	created, err := m.client.CoreV1().Services(m.namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil {
		// Roll the deployment back so a half created server does not
		// linger without a service.
		if cleanupErr := m.client.AppsV1().Deployments(m.namespace).Delete(ctx, name, metav1.DeleteOptions{}); cleanupErr != nil && !apierrors.IsNotFound(cleanupErr) {
			m.logger.Error(cleanupErr, "Failed to roll back deployment after service create failure", "server", name)
		}
		if apierrors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("service %s: %w", name, ErrNameInUse)
		}
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	externalPort := nodePort
	if len(created.Spec.Ports) > 0 && created.Spec.Ports[0].NodePort != 0 {
		externalPort = created.Spec.Ports[0].NodePort
	}

	m.logger.Info("Created server",
		"server", name,
		"protocol", bp.protocol.String(),
		"nodePort", externalPort)

	return &discovery.Server{
		Name:              name,
		PodName:           name + "-pending",
		Protocol:          bp.protocol,
		ServiceName:       name,
		ClusterDNSAddress: fmt.Sprintf("%s.%s.svc.cluster.local:%d", name, m.namespace, bp.port),
		ExternalPort:      externalPort,
		PodPhase:          string(corev1.PodPending),
		PodReady:          false,
		Dynamic:           true,
		ManagedBy:         discovery.ManagedByControl,
		Directory:         bp.subPath,
		Credentials:       creds,
	}, nil
}

// ensureNameFree rejects names that already have a deployment. The check is a
// live query, not a cache read, so it also sees servers created moments ago.
// A race between two creators is settled by the API server; the loser gets
// AlreadyExists mapped to the same sentinel.
func (m *Manager) ensureNameFree(ctx context.Context, name string) error {
	selector := labels.SelectorFromSet(selectorLabels(name))
	list, err := m.client.AppsV1().Deployments(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to check name availability: %w", err)
	}
	if len(list.Items) > 0 {
		return fmt.Errorf("deployment %s: %w", name, ErrNameInUse)
	}
	return nil
}

// Delete removes a dynamic server. The service goes first so the external
// port is released even if the deployment delete fails, then the deployment
// with foreground propagation so pods are gone before the owner is. When
// deleteData is set the served directory is reported for cleanup; files on
// the shared claim are never touched from here.
func (m *Manager) Delete(ctx context.Context, name string, deleteData bool) error {
	err := m.doDelete(ctx, name, deleteData)
	if m.metrics != nil {
		m.metrics.ObserveLifecycleOp("delete", err)
	}
	if err != nil {
		return err
	}
	m.refreshServiceMap(ctx)
	return nil
}

func (m *Manager) doDelete(ctx context.Context, name string, deleteData bool) error {
	deployment, err := m.managedDeployment(ctx, name)
	if err != nil {
		return err
	}

	if err := m.client.CoreV1().Services(m.namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete service %s: %w", name, err)
	}

	foreground := metav1.DeletePropagationForeground
	if err := m.client.AppsV1().Deployments(m.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &foreground,
	}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete deployment %s: %w", name, err)
	}

	if deleteData {
		m.logger.Info("Server data left on the shared claim, remove it manually if needed",
			"server", name,
			"directory", servedSubPath(deployment))
	}

	m.logger.Info("Deleted server", "server", name)
	return nil
}

// Stop scales a dynamic server to zero replicas. The deployment and service
// stay in place so Start can bring it back with the same identity and port.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.scale(ctx, "stop", name, 0)
}

// Start scales a stopped server back to one replica.
func (m *Manager) Start(ctx context.Context, name string) error {
	return m.scale(ctx, "start", name, 1)
}

func (m *Manager) scale(ctx context.Context, op, name string, replicas int32) error {
	err := m.doScale(ctx, name, replicas)
	if m.metrics != nil {
		m.metrics.ObserveLifecycleOp(op, err)
	}
	if err != nil {
		return err
	}
	m.refreshServiceMap(ctx)
	return nil
}

func (m *Manager) doScale(ctx context.Context, name string, replicas int32) error {
	if _, err := m.managedDeployment(ctx, name); err != nil {
		return err
	}

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		deployment, err := m.client.AppsV1().Deployments(m.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		deployment.Spec.Replicas = ptr.To(replicas)
		_, err = m.client.AppsV1().Deployments(m.namespace).Update(ctx, deployment, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to scale deployment %s to %d: %w", name, replicas, err)
	}

	m.logger.Info("Scaled server", "server", name, "replicas", replicas)
	return nil
}

// Restart deletes the server's pods so the deployment recreates them. A
// server scaled to zero has nothing to restart and this is a no-op.
func (m *Manager) Restart(ctx context.Context, name string) error {
	err := m.doRestart(ctx, name)
	if m.metrics != nil {
		m.metrics.ObserveLifecycleOp("restart", err)
	}
	if err != nil {
		return err
	}
	m.refreshServiceMap(ctx)
	return nil
}

func (m *Manager) doRestart(ctx context.Context, name string) error {
	if _, err := m.managedDeployment(ctx, name); err != nil {
		return err
	}

	selector := labels.SelectorFromSet(selectorLabels(name))
	pods, err := m.client.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to list pods for %s: %w", name, err)
	}
	if len(pods.Items) == 0 {
		m.logger.Info("No pods to restart", "server", name)
		return nil
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if err := m.client.CoreV1().Pods(m.namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete pod %s: %w", pod.Name, err)
		}
	}

	m.logger.Info("Restarted server", "server", name, "pods", len(pods.Items))
	return nil
}

// managedDeployment fetches the server's deployment and enforces the dynamic
// guard. Every mutation goes through here; static servers are never touched.
func (m *Manager) managedDeployment(ctx context.Context, name string) (*appsv1.Deployment, error) {
	deployment, err := m.client.AppsV1().Deployments(m.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("server %s: %w", name, ErrServerNotFound)
		}
		return nil, fmt.Errorf("failed to get deployment %s: %w", name, err)
	}
	if deployment.Labels[discovery.LabelManagedBy] != discovery.ManagedByControl {
		return nil, fmt.Errorf("server %s: %w", name, ErrNotDynamic)
	}
	return deployment, nil
}

func (m *Manager) refreshServiceMap(ctx context.Context) {
	if m.reconciler == nil {
		return
	}
	if err := m.reconciler.Reconcile(ctx); err != nil {
		m.logger.Error(err, "Failed to refresh discovery ConfigMap after lifecycle change")
	}
}

func validateCreate(name, username, password string, protocol discovery.Protocol) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return fmt.Errorf("%w: name %q is not a valid DNS label: %s", ErrInvalidRequest, name, strings.Join(errs, "; "))
	}
	// Discovery classifies pods by name substring, so the server name has to
	// carry its protocol token or the new server would be invisible.
	if got := discovery.ClassifyPodName(name); got != protocol {
		return fmt.Errorf("%w: name %q must contain %q so its pods classify as %s", ErrInvalidRequest, name, protocol.String(), protocol)
	}
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidRequest)
	}
	return nil
}

func servedSubPath(deployment *appsv1.Deployment) string {
	for _, c := range deployment.Spec.Template.Spec.Containers {
		for _, mount := range c.VolumeMounts {
			if mount.SubPath != "" {
				return mount.SubPath
			}
		}
	}
	return ""
}
