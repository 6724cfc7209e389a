package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/version"
)

const (
	noteStatic        = "installed with the deployment, not recreatable through import"
	noteNoCredentials = "credentials could not be derived, not recreatable"
	noteBadProtocol   = "protocol not supported for dynamic creation"
	smbShareFlag      = "-s"
	defaultSMBShare   = "data"
)

// Discoverer supplies the current fleet. Satisfied by discovery.Engine.
type Discoverer interface {
	DiscoverServers(ctx context.Context) ([]discovery.Server, error)
}

// Exporter snapshots the current fleet into a Document.
type Exporter struct {
	client        kubernetes.Interface
	discoverer    Discoverer
	namespace     string
	environment   string
	releasePrefix string
	logger        logr.Logger
}

// NewExporter creates an exporter for the configured namespace.
func NewExporter(client kubernetes.Interface, discoverer Discoverer, namespace string, cfg config.ExportConfig, logger logr.Logger) *Exporter {
	return &Exporter{
		client:        client,
		discoverer:    discoverer,
		namespace:     namespace,
		environment:   cfg.Environment,
		releasePrefix: cfg.ReleasePrefix,
		logger:        logger.WithName("config-exporter"),
	}
}

// Export walks the discovered fleet and builds a portable document. Dynamic
// servers get their credentials re-derived from the backing deployment's pod
// template; a running pod is not required, so stopped servers still export
// correctly as long as their deployment exists. Static servers become
// placeholder entries.
func (e *Exporter) Export(ctx context.Context) (*Document, error) {
	servers, err := e.discoverer.DiscoverServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover servers for export: %w", err)
	}

	entries := make([]ServerConfig, 0, len(servers))
	for _, server := range servers {
		entries = append(entries, e.exportEntry(ctx, server))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	doc := &Document{
		ID:            uuid.NewString(),
		Version:       DocumentVersion,
		Namespace:     e.namespace,
		ReleasePrefix: e.releasePrefix,
		Environment:   e.environment,
		ExportedAt:    time.Now().UTC(),
		ExportedBy:    version.UserAgent(),
		Servers:       entries,
	}

	e.logger.Info("Exported server configuration",
		"servers", len(doc.Servers),
		"document", doc.ID)
	return doc, nil
}

func (e *Exporter) exportEntry(ctx context.Context, server discovery.Server) ServerConfig {
	entry := ServerConfig{
		Name:      server.Name,
		Protocol:  server.Protocol,
		NodePort:  server.ExternalPort,
		Dynamic:   server.Dynamic,
		Directory: server.Directory,
	}

	if !server.Dynamic {
		entry.Note = noteStatic
		return entry
	}

	switch server.Protocol {
	case discovery.ProtocolFTP, discovery.ProtocolSFTP, discovery.ProtocolSMB:
	default:
		entry.Note = noteBadProtocol
		return entry
	}

	deployment, err := e.client.AppsV1().Deployments(e.namespace).Get(ctx, server.Name, metav1.GetOptions{})
	if err != nil {
		e.logger.Error(err, "Failed to read deployment for export, entry will not be recreatable", "server", server.Name)
		entry.Note = noteNoCredentials
		return entry
	}

	spec := &deployment.Spec.Template.Spec
	creds := discovery.ExtractCredentials(spec, server.Protocol)
	if creds == nil || creds.Username == "" {
		entry.Note = noteNoCredentials
		return entry
	}

	entry.Recreatable = true
	switch server.Protocol {
	case discovery.ProtocolFTP:
		entry.FTP = &FTPBlock{Username: creds.Username, Password: creds.Password}
	case discovery.ProtocolSFTP:
		entry.SFTP = &SFTPBlock{Username: creds.Username, Password: creds.Password}
	case discovery.ProtocolSMB:
		entry.SMB = &SMBBlock{
			Username:  creds.Username,
			Password:  creds.Password,
			ShareName: smbShareName(spec.Containers),
		}
	}
	return entry
}

// smbShareName parses the share out of the samba -s "name;path;..." argument.
func smbShareName(containers []corev1.Container) string {
	for _, c := range containers {
		for i, arg := range c.Args {
			if arg != smbShareFlag || i+1 >= len(c.Args) {
				continue
			}
			share := strings.SplitN(strings.Trim(c.Args[i+1], `"`), ";", 2)[0]
			if share != "" {
				return share
			}
		}
	}
	return defaultSMBShare
}
