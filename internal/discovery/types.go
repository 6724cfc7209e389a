// Package discovery resolves the set of file servers running in the target
// namespace from live pod and service state. Nothing here is persisted; every
// discovery pass rebuilds the full picture and callers correlate passes by
// server name.
package discovery

import (
	"fmt"
	"strings"
)

// Label keys shared by everything the control plane creates or discovers.
// Static servers installed by the chart carry the same app.kubernetes.io set
// with a different managed-by value.
const (
	LabelName      = "app.kubernetes.io/name"
	LabelComponent = "app.kubernetes.io/component"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelInstance  = "app.kubernetes.io/instance"
	LabelPartOf    = "app.kubernetes.io/part-of"
	LabelProtocol  = "filestand.io/protocol"

	AppName            = "filestand"
	ComponentServer    = "file-server"
	ComponentControl   = "control-plane"
	ManagedByControl   = "control-api"
	controlPlaneMarker = "controlplane"
)

// ServerSelector is the label selector that scopes every discovery pass.
func ServerSelector() string {
	return LabelName + "=" + AppName
}

// Protocol identifies the file access protocol a server speaks. The set is
// closed; classification that matches none of these skips the pod instead of
// inventing a value.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolFTP
	ProtocolSFTP
	ProtocolNFS
	ProtocolHTTP
	ProtocolWebDAV
	ProtocolS3
	ProtocolSMB
	ProtocolManagement
)

var protocolNames = map[Protocol]string{
	ProtocolFTP:        "ftp",
	ProtocolSFTP:       "sftp",
	ProtocolNFS:        "nfs",
	ProtocolHTTP:       "http",
	ProtocolWebDAV:     "webdav",
	ProtocolS3:         "s3",
	ProtocolSMB:        "smb",
	ProtocolManagement: "management",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParseProtocol maps a protocol name back to its enum value. Matching is
// case-insensitive so values survive a round trip through ConfigMap keys and
// export documents.
func ParseProtocol(s string) (Protocol, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == needle {
			return p, true
		}
	}
	return ProtocolUnknown, false
}

// MarshalText renders the protocol name so JSON payloads carry "sftp" rather
// than an int.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, ok := ParseProtocol(string(text))
	if !ok {
		return fmt.Errorf("unknown protocol %q", string(text))
	}
	*p = parsed
	return nil
}

// Credentials are best effort. Extraction failures leave the whole struct nil
// rather than half filled.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Server is one discovered file server. Instances are ephemeral snapshots of
// cluster state; two passes returning the same Name describe the same server.
type Server struct {
	Name              string       `json:"name"`
	PodName           string       `json:"podName"`
	Protocol          Protocol     `json:"protocol"`
	ServiceName       string       `json:"serviceName"`
	ClusterAddress    string       `json:"clusterAddress"`
	ClusterDNSAddress string       `json:"clusterDnsAddress"`
	ExternalPort      int32        `json:"externalPort,omitempty"`
	PodPhase          string       `json:"podPhase"`
	PodReady          bool         `json:"podReady"`
	Dynamic           bool         `json:"dynamic"`
	ManagedBy         string       `json:"managedBy,omitempty"`
	Directory         string       `json:"directory,omitempty"`
	Credentials       *Credentials `json:"credentials,omitempty"`
}
