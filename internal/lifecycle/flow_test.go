package lifecycle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/health"
	"github.com/filestand/filestand/internal/servicemap"
)

// Walks one dynamic server through its whole life against a single fake
// cluster: create, discover, probe, publish to the service map, delete. The
// fake apiserver runs no ReplicaSet controller, so the test materializes the
// pod from the created deployment's template the way the controller would.
func TestDynamicServerEndToEnd(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(controlPlanePod())
	engine := discovery.NewEngine(client, testNamespace, logr.Discard())
	reconciler := servicemap.NewReconciler(client, engine, testNamespace, "filestand-discovery", logr.Discard())
	m := NewManager(ManagerOptions{
		Client:     client,
		Namespace:  testNamespace,
		Servers:    config.DefaultConfig().Servers,
		Reconciler: reconciler,
		Logger:     logr.Discard(),
	})

	created, err := m.CreateSFTPServer(ctx, CreateSFTPServerRequest{
		Name:     "sftp-demo",
		Username: "demo",
		Password: "demopass",
	})
	require.NoError(t, err)
	assert.Equal(t, discovery.ProtocolSFTP, created.Protocol)
	assert.True(t, created.Dynamic)

	// The post-create reconcile already ran, but no pod is ready yet, so
	// the server must not be advertised.
	cm, err := client.CoreV1().ConfigMaps(testNamespace).Get(ctx, "filestand-discovery", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotContains(t, cm.Data, "SFTP_SFTP_DEMO")
	assert.Equal(t, "0", cm.Data["SERVER_COUNT"])

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(ctx, "sftp-demo", metav1.GetOptions{})
	require.NoError(t, err)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sftp-demo-7f9c65dd4-k2xwp",
			Namespace: testNamespace,
			Labels:    deployment.Spec.Template.Labels,
		},
		Spec: deployment.Spec.Template.Spec,
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			PodIP: "127.0.0.1",
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	}
	_, err = client.CoreV1().Pods(testNamespace).Create(ctx, pod, metav1.CreateOptions{})
	require.NoError(t, err)

	servers, err := engine.DiscoverServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	srv := servers[0]
	assert.Equal(t, "sftp-demo", srv.Name)
	assert.Equal(t, discovery.ProtocolSFTP, srv.Protocol)
	assert.True(t, srv.Dynamic)
	assert.Equal(t, discovery.ManagedByControl, srv.ManagedBy)
	assert.True(t, srv.PodReady)
	require.NotNil(t, srv.Credentials)
	assert.Equal(t, "demo", srv.Credentials.Username)
	assert.Equal(t, "demopass", srv.Credentials.Password)

	// The fixture address is not routable here; point the probe at a local
	// listener standing in for the sshd port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	probed := srv
	probed.ClusterAddress = listener.Addr().String()
	result := health.NewProber(2*time.Second, logr.Discard()).Check(ctx, probed)
	assert.True(t, result.Healthy)
	assert.Equal(t, "ok", result.Message)
	assert.NotZero(t, result.Latency)

	require.NoError(t, reconciler.Reconcile(ctx))
	cm, err = client.CoreV1().ConfigMaps(testNamespace).Get(ctx, "filestand-discovery", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sftp-demo.filestand.svc.cluster.local:22", cm.Data["SFTP_SFTP_DEMO"])
	assert.NotContains(t, cm.Data, "SFTP_SFTP_DEMO_NODEPORT")
	assert.Equal(t, "1", cm.Data["SERVER_COUNT"])

	// The fake tracker does not cascade owner deletes; drop the pod first
	// the way foreground propagation would.
	require.NoError(t, client.CoreV1().Pods(testNamespace).Delete(ctx, pod.Name, metav1.DeleteOptions{}))
	require.NoError(t, m.Delete(ctx, "sftp-demo", false))

	servers, err = engine.DiscoverServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers)

	_, err = client.CoreV1().Services(testNamespace).Get(ctx, "sftp-demo", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	cm, err = client.CoreV1().ConfigMaps(testNamespace).Get(ctx, "filestand-discovery", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotContains(t, cm.Data, "SFTP_SFTP_DEMO")
	assert.Equal(t, "0", cm.Data["SERVER_COUNT"])
}
