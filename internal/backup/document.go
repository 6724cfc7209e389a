// Package backup exports dynamic server definitions to a portable document
// and replays them into a cluster with per-entry conflict resolution.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/filestand/filestand/internal/discovery"
)

// DocumentVersion is the current export format version. Decode rejects
// documents from a newer format rather than guessing at their shape.
const DocumentVersion = 1

// Document is the portable export format. It round-trips through JSON and is
// meant to move server definitions between namespaces or clusters.
type Document struct {
	ID            string         `json:"id"`
	Version       int            `json:"version"`
	Namespace     string         `json:"namespace"`
	ReleasePrefix string         `json:"releasePrefix"`
	Environment   string         `json:"environment"`
	ExportedAt    time.Time      `json:"exportedAt"`
	ExportedBy    string         `json:"exportedBy"`
	Servers       []ServerConfig `json:"servers"`
}

// ServerConfig is one exported server. Dynamic recreatable entries carry
// exactly one protocol block; static entries are placeholders that document
// the fleet but cannot be recreated through import.
type ServerConfig struct {
	Name        string             `json:"name"`
	Protocol    discovery.Protocol `json:"protocol"`
	NodePort    int32              `json:"nodePort,omitempty"`
	Dynamic     bool               `json:"dynamic"`
	Recreatable bool               `json:"recreatable"`
	Directory   string             `json:"directory,omitempty"`
	Note        string             `json:"note,omitempty"`

	FTP  *FTPBlock  `json:"ftp,omitempty"`
	SFTP *SFTPBlock `json:"sftp,omitempty"`
	SMB  *SMBBlock  `json:"smb,omitempty"`
}

type FTPBlock struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SFTPBlock struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SMBBlock struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ShareName string `json:"shareName,omitempty"`
}

// Encode renders the document as indented JSON.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses an export document and checks the format version.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode export document: %w", err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("unsupported export document version %d (this build reads up to %d)", doc.Version, DocumentVersion)
	}
	return &doc, nil
}

// credentialBlock returns the protocol block matching the entry's protocol,
// or nil when it is absent or mismatched.
func (s *ServerConfig) credentialBlock() (username, password, share string, ok bool) {
	switch s.Protocol {
	case discovery.ProtocolFTP:
		if s.FTP != nil {
			return s.FTP.Username, s.FTP.Password, "", true
		}
	case discovery.ProtocolSFTP:
		if s.SFTP != nil {
			return s.SFTP.Username, s.SFTP.Password, "", true
		}
	case discovery.ProtocolSMB:
		if s.SMB != nil {
			return s.SMB.Username, s.SMB.Password, s.SMB.ShareName, true
		}
	}
	return "", "", "", false
}
