package backup

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/lifecycle"
)

// Strategy decides what happens when an imported name collides with a live
// server.
type Strategy string

const (
	// StrategySkip leaves the existing server untouched.
	StrategySkip Strategy = "skip"
	// StrategyReplace deletes the existing dynamic server, then creates the
	// imported one under the same name.
	StrategyReplace Strategy = "replace"
	// StrategyRename creates the imported server under the first free
	// name-N variant.
	StrategyRename Strategy = "rename"
)

// Disposition is the planned outcome for one document entry.
type Disposition string

const (
	DispositionCreate   Disposition = "create"
	DispositionConflict Disposition = "conflict"
	DispositionSkip     Disposition = "skip"
)

// PlannedEntry previews what Import would do with one entry.
type PlannedEntry struct {
	Name        string             `json:"name"`
	Protocol    discovery.Protocol `json:"protocol"`
	Disposition Disposition        `json:"disposition"`
	Reason      string             `json:"reason,omitempty"`
}

// Plan is the result of validating a document against the live fleet.
type Plan struct {
	Entries []PlannedEntry `json:"entries"`
}

// EntryOutcome records what happened to one entry during import.
type EntryOutcome struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// Result reports an import per entry. Import is not transactional; any mix of
// the three buckets is a normal outcome, and callers must read all three.
// Failed holds entries where a cluster mutation was attempted and errored;
// entries that were never attempted land in Skipped.
type Result struct {
	Created []EntryOutcome `json:"created"`
	Skipped []EntryOutcome `json:"skipped"`
	Failed  []EntryOutcome `json:"failed"`
}

// Lifecycle is the mutation surface the importer drives. Satisfied by
// lifecycle.Manager.
type Lifecycle interface {
	CreateFTPServer(ctx context.Context, req lifecycle.CreateFTPServerRequest) (*discovery.Server, error)
	CreateSFTPServer(ctx context.Context, req lifecycle.CreateSFTPServerRequest) (*discovery.Server, error)
	CreateSMBServer(ctx context.Context, req lifecycle.CreateSMBServerRequest) (*discovery.Server, error)
	Delete(ctx context.Context, name string, deleteData bool) error
}

// Importer replays export documents into the cluster.
type Importer struct {
	discoverer Discoverer
	lifecycle  Lifecycle
	logger     logr.Logger
}

// NewImporter creates an importer.
func NewImporter(discoverer Discoverer, lc Lifecycle, logger logr.Logger) *Importer {
	return &Importer{
		discoverer: discoverer,
		lifecycle:  lc,
		logger:     logger.WithName("config-importer"),
	}
}

// Validate previews an import without mutating anything.
func (im *Importer) Validate(ctx context.Context, doc *Document) (*Plan, error) {
	existing, err := im.liveNames(ctx)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Entries: make([]PlannedEntry, 0, len(doc.Servers))}
	for _, entry := range doc.Servers {
		planned := PlannedEntry{Name: entry.Name, Protocol: entry.Protocol}
		switch {
		case !entry.Dynamic || !entry.Recreatable:
			planned.Disposition = DispositionSkip
			planned.Reason = skipReason(entry)
		case !creatableProtocol(entry.Protocol):
			planned.Disposition = DispositionSkip
			planned.Reason = noteBadProtocol
		case missingCredentials(entry):
			planned.Disposition = DispositionSkip
			planned.Reason = "missing credentials"
		case existing[entry.Name]:
			planned.Disposition = DispositionConflict
			planned.Reason = "name already in use"
		default:
			planned.Disposition = DispositionCreate
		}
		plan.Entries = append(plan.Entries, planned)
	}
	return plan, nil
}

// Import replays the document. Each entry succeeds or fails on its own;
// a failed entry never aborts the rest.
func (im *Importer) Import(ctx context.Context, doc *Document, strategy Strategy) (*Result, error) {
	switch strategy {
	case StrategySkip, StrategyReplace, StrategyRename:
	default:
		return nil, fmt.Errorf("unknown import strategy %q", strategy)
	}

	existing, err := im.liveNames(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, entry := range doc.Servers {
		im.importEntry(ctx, entry, strategy, existing, result)
	}

	im.logger.Info("Import complete",
		"created", len(result.Created),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed))
	return result, nil
}

func (im *Importer) importEntry(ctx context.Context, entry ServerConfig, strategy Strategy, existing map[string]bool, result *Result) {
	if !entry.Dynamic || !entry.Recreatable {
		result.Skipped = append(result.Skipped, EntryOutcome{Name: entry.Name, Reason: skipReason(entry)})
		return
	}
	if !creatableProtocol(entry.Protocol) {
		result.Skipped = append(result.Skipped, EntryOutcome{Name: entry.Name, Reason: noteBadProtocol})
		return
	}
	if missingCredentials(entry) {
		result.Skipped = append(result.Skipped, EntryOutcome{Name: entry.Name, Reason: "missing credentials"})
		return
	}

	name := entry.Name
	nodePort := entry.NodePort
	renamedFrom := ""

	if existing[name] {
		switch strategy {
		case StrategySkip:
			result.Skipped = append(result.Skipped, EntryOutcome{Name: name, Reason: "name already in use"})
			return
		case StrategyReplace:
			if err := im.lifecycle.Delete(ctx, name, false); err != nil {
				result.Failed = append(result.Failed, EntryOutcome{
					Name:   name,
					Reason: fmt.Sprintf("failed to delete existing server: %v", err),
				})
				return
			}
			delete(existing, name)
		case StrategyRename:
			renamedFrom = name
			name = freeName(existing, name)
			// The original keeps its node port; the rename gets an
			// assigned one.
			nodePort = 0
		}
	}

	created, err := im.createServer(ctx, entry, name, nodePort)
	if err != nil {
		result.Failed = append(result.Failed, EntryOutcome{Name: name, Reason: err.Error()})
		return
	}

	existing[created.Name] = true
	outcome := EntryOutcome{Name: created.Name}
	if renamedFrom != "" {
		outcome.Reason = fmt.Sprintf("renamed from %s", renamedFrom)
	}
	result.Created = append(result.Created, outcome)
	im.logger.V(1).Info("Imported server", "server", created.Name, "protocol", entry.Protocol.String())
}

func (im *Importer) createServer(ctx context.Context, entry ServerConfig, name string, nodePort int32) (*discovery.Server, error) {
	username, password, share, _ := entry.credentialBlock()

	switch entry.Protocol {
	case discovery.ProtocolFTP:
		return im.lifecycle.CreateFTPServer(ctx, lifecycle.CreateFTPServerRequest{
			Name:     name,
			Username: username,
			Password: password,
			NodePort: nodePort,
			SubPath:  entry.Directory,
		})
	case discovery.ProtocolSFTP:
		return im.lifecycle.CreateSFTPServer(ctx, lifecycle.CreateSFTPServerRequest{
			Name:     name,
			Username: username,
			Password: password,
			NodePort: nodePort,
			SubPath:  entry.Directory,
		})
	case discovery.ProtocolSMB:
		return im.lifecycle.CreateSMBServer(ctx, lifecycle.CreateSMBServerRequest{
			Name:      name,
			Username:  username,
			Password:  password,
			NodePort:  nodePort,
			SubPath:   entry.Directory,
			ShareName: share,
		})
	default:
		return nil, fmt.Errorf("protocol %s is not creatable", entry.Protocol)
	}
}

func (im *Importer) liveNames(ctx context.Context) (map[string]bool, error) {
	servers, err := im.discoverer.DiscoverServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover current servers: %w", err)
	}
	names := make(map[string]bool, len(servers))
	for _, s := range servers {
		names[s.Name] = true
	}
	return names, nil
}

func creatableProtocol(p discovery.Protocol) bool {
	switch p {
	case discovery.ProtocolFTP, discovery.ProtocolSFTP, discovery.ProtocolSMB:
		return true
	default:
		return false
	}
}

func missingCredentials(entry ServerConfig) bool {
	username, _, _, ok := entry.credentialBlock()
	return !ok || username == ""
}

func skipReason(entry ServerConfig) string {
	if !entry.Dynamic {
		return "static server, not recreatable"
	}
	if entry.Note != "" {
		return entry.Note
	}
	return "not recreatable"
}

// freeName finds the first name-N variant not taken by a live or just
// imported server.
func freeName(existing map[string]bool, base string) string {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !existing[candidate] {
			return candidate
		}
	}
}
