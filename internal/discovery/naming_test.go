package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPodName(t *testing.T) {
	cases := []struct {
		pod  string
		want Protocol
	}{
		{"ftp-server-7d9f8c6b5-x2v4q", ProtocolFTP},
		{"sftp-test-6b54d9f7c-abcde", ProtocolSFTP},
		{"nas-input-0", ProtocolNFS},
		{"nas-backup-0", ProtocolNFS},
		{"nfs-share-0", ProtocolNFS},
		{"http-files-5d8b9-qwert", ProtocolHTTP},
		{"webdav-5f6d7c8b9-zxcvb", ProtocolWebDAV},
		{"minio-0", ProtocolS3},
		{"s3-gateway-abc-def", ProtocolS3},
		{"smb-share-xyz-123", ProtocolSMB},
		{"samba-legacy-abc-def", ProtocolSMB},
		{"management-api-abc-def", ProtocolManagement},
		{"postgres-0", ProtocolUnknown},
		{"", ProtocolUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyPodName(tc.pod), "pod %q", tc.pod)
	}
}

// The sftp token must be tested before ftp and the webdav and management
// tokens before http, otherwise the broader substring wins.
func TestClassifyPodNameOrdering(t *testing.T) {
	assert.Equal(t, ProtocolSFTP, ClassifyPodName("sftp-upload-0"))
	assert.Equal(t, ProtocolWebDAV, ClassifyPodName("webdav-http-bridge-abc-def"))
	assert.Equal(t, ProtocolManagement, ClassifyPodName("management-http-abc-def"))
}

func TestServerNameFromInstanceLabel(t *testing.T) {
	labels := map[string]string{
		LabelManagedBy: ManagedByControl,
		LabelInstance:  "ftp-test",
	}
	assert.Equal(t, "ftp-test", ServerName("ftp-test-7d9f8c6b5-x2v4q", labels))
}

// Chart-installed servers carry the release name in the instance label, which
// is useless as a server identity. Their name comes from the pod name.
func TestServerNameStaticIgnoresReleaseInstance(t *testing.T) {
	labels := map[string]string{
		LabelManagedBy: "Helm",
		LabelInstance:  "filestand",
	}
	assert.Equal(t, "ftp-server", ServerName("ftp-server-7d9f8c6b5-x2v4q", labels))
}

func TestNameFromPodNamePositional(t *testing.T) {
	cases := []struct {
		pod  string
		want string
	}{
		{"nas-input-0", "nas-input-0"},
		{"nas-output-1", "nas-output-1"},
		{"nas-backup-0", "nas-backup"},
		{"ftp-server-7d9f8c6b5-x2v4q", "ftp-server"},
		{"management-api-56b8d-fghij", "management-api"},
		{"sftp-0", "sftp-0"},
		{"minio-0", "minio-0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nameFromPodName(tc.pod), "pod %q", tc.pod)
	}
}

func TestParseProtocolRoundTrip(t *testing.T) {
	for p, name := range protocolNames {
		parsed, ok := ParseProtocol(name)
		assert.True(t, ok, "parse %q", name)
		assert.Equal(t, p, parsed)
	}
	_, ok := ParseProtocol("gopher")
	assert.False(t, ok)
}
