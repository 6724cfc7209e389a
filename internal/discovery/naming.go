package discovery

import (
	"strconv"
	"strings"
)

// classificationRules are evaluated in order against the lowercased pod name.
// Order carries meaning: "sftp" must win before the "ftp" substring test sees
// the same name, and "webdav" and "management" pods must not fall through to
// the generic "http" match.
var classificationRules = []struct {
	token    string
	protocol Protocol
}{
	{"sftp", ProtocolSFTP},
	{"webdav", ProtocolWebDAV},
	{"management", ProtocolManagement},
	{"minio", ProtocolS3},
	{"s3", ProtocolS3},
	{"smb", ProtocolSMB},
	{"samba", ProtocolSMB},
	{"nas", ProtocolNFS},
	{"nfs", ProtocolNFS},
	{"ftp", ProtocolFTP},
	{"http", ProtocolHTTP},
}

// ClassifyPodName derives the protocol from the pod name. ProtocolUnknown
// means the pod is not a recognizable file server and should be skipped.
func ClassifyPodName(podName string) Protocol {
	name := strings.ToLower(podName)
	for _, rule := range classificationRules {
		if strings.Contains(name, rule.token) {
			return rule.protocol
		}
	}
	return ProtocolUnknown
}

// ServerName derives the stable server name for a pod. Servers created
// through the control plane carry their name in the instance label. Static
// servers also have an instance label, but it holds the chart release name,
// so for those the name comes from positional parsing of the pod name.
func ServerName(podName string, podLabels map[string]string) string {
	if podLabels[LabelManagedBy] == ManagedByControl {
		if instance := podLabels[LabelInstance]; instance != "" {
			return instance
		}
	}
	return nameFromPodName(podName)
}

// nameFromPodName strips the generated suffixes Kubernetes appends to pod
// names. NAS pods come from StatefulSets and keep their ordinal as part of
// the identity ("nas-input-0", "nas-backup"); Deployment pods drop the
// template hash and random suffix ("ftp-server-7d9f8c6b5-x2v4q" becomes
// "ftp-server").
func nameFromPodName(podName string) string {
	parts := strings.Split(podName, "-")
	if parts[0] == "nas" && len(parts) >= 2 {
		if parts[1] == "backup" {
			return "nas-backup"
		}
		if len(parts) >= 3 {
			if _, err := strconv.Atoi(parts[2]); err == nil {
				return strings.Join(parts[:3], "-")
			}
		}
		return strings.Join(parts[:2], "-")
	}
	if len(parts) >= 3 {
		return strings.Join(parts[:len(parts)-2], "-")
	}
	return podName
}
