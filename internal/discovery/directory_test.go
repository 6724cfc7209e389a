package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestInferDirectoryFromContainerSubPath(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "sftp-test-abc-def"},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name: "sftp",
				VolumeMounts: []corev1.VolumeMount{
					{Name: "config", MountPath: "/etc/sftp"},
					{Name: "data", MountPath: "/home/bob/upload", SubPath: "sftp/sftp-test"},
				},
			}},
		},
	}
	assert.Equal(t, "sftp/sftp-test", InferDirectory(pod, ProtocolSFTP))
}

// NAS pods prepare their share through an init container mounting the
// windows-data volume. That mount names the exported directory even when the
// main container mounts something else.
func TestInferDirectoryNFSPrefersInitContainer(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "nas-input-0"},
		Spec: corev1.PodSpec{
			InitContainers: []corev1.Container{{
				Name: "prepare",
				VolumeMounts: []corev1.VolumeMount{
					{Name: "windows-data", MountPath: "/mnt", SubPath: "shares/input"},
				},
			}},
			Containers: []corev1.Container{{
				Name: "nfs",
				VolumeMounts: []corev1.VolumeMount{
					{Name: "exports", MountPath: "/exports", SubPath: "exports"},
				},
			}},
		},
	}
	assert.Equal(t, "shares/input", InferDirectory(pod, ProtocolNFS))
}

func TestInferDirectoryS3Marker(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "minio-0"}}
	assert.Equal(t, "(internal storage)", InferDirectory(pod, ProtocolS3))
}

func TestInferDirectoryFallsBackToNameRole(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "nas-output-0"}}
	assert.Equal(t, "output", InferDirectory(pod, ProtocolNFS))

	plain := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "http-files-abc-def"}}
	assert.Empty(t, InferDirectory(plain, ProtocolHTTP))
}
