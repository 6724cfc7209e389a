package discovery

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

const (
	windowsDataVolume    = "windows-data"
	internalStorageLabel = "(internal storage)"
	dataVolumeNamePrefix = "data"
)

// InferDirectory works out which slice of the shared volume a server exposes.
// The subPath on the volume mount is the source of truth. NAS pods mount the
// share through an init container that prepares the windows-data volume, so
// for NFS that mount wins over whatever the main container mounts. S3 servers
// keep their buckets inside the container and get a fixed marker instead of a
// path.
func InferDirectory(pod *corev1.Pod, protocol Protocol) string {
	if protocol == ProtocolS3 {
		return internalStorageLabel
	}
	if protocol == ProtocolNFS {
		if sub := initContainerSubPath(pod, windowsDataVolume); sub != "" {
			return sub
		}
	}
	if sub := containerSubPath(pod); sub != "" {
		return sub
	}
	return directoryFromName(pod.Name)
}

func initContainerSubPath(pod *corev1.Pod, volumeName string) string {
	for _, c := range pod.Spec.InitContainers {
		for _, m := range c.VolumeMounts {
			if m.Name == volumeName && m.SubPath != "" {
				return m.SubPath
			}
		}
	}
	return ""
}

// containerSubPath returns the first data-volume subPath mounted by a main
// container, preferring volumes whose name starts with "data".
func containerSubPath(pod *corev1.Pod) string {
	var fallback string
	for _, c := range pod.Spec.Containers {
		for _, m := range c.VolumeMounts {
			if m.SubPath == "" {
				continue
			}
			if strings.HasPrefix(m.Name, dataVolumeNamePrefix) {
				return m.SubPath
			}
			if fallback == "" {
				fallback = m.SubPath
			}
		}
	}
	return fallback
}

// directoryFromName is the last resort for pods that mount the volume root.
// The NAS naming scheme encodes the share role in the name.
func directoryFromName(podName string) string {
	name := strings.ToLower(podName)
	for _, role := range []string{"input", "output", "backup"} {
		if strings.Contains(name, role) {
			return role
		}
	}
	return ""
}
