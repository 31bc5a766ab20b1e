package controlplane

import (
	"fmt"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/registry"
)

// FileSystemNode describes one declared initial file for get_file_system_node
// (§6); get_file_contents returns the same file's bytes separately since
// content can be large enough to warrant its own call/stream.
type FileSystemNode struct {
	Path       string `json:"path"`
	Permission string `json:"permission"`
}

// GetFileSystemNode lists the initial files declared on a worker's component
// version. The worker's own runtime filesystem (post-boot writes) is out of
// this package's scope — it is a property of the running wasm instance, not
// the control-plane/registry layer this package wires together.
func (m *Manager) GetFileSystemNode(workerID ids.WorkerId) ([]FileSystemNode, error) {
	entry, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	record, err := m.reg.GetComponent(workerID.ComponentId)
	if err != nil {
		return nil, err
	}
	version, err := versionRecord(record, entry.componentVer)
	if err != nil {
		return nil, err
	}
	out := make([]FileSystemNode, 0, len(version.InitialFiles))
	for _, f := range version.InitialFiles {
		out = append(out, FileSystemNode{Path: f.Path, Permission: permissionString(f.Permission)})
	}
	return out, nil
}

// GetFileContents returns the bytes of one declared initial file.
func (m *Manager) GetFileContents(workerID ids.WorkerId, path string) ([]byte, error) {
	entry, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	record, err := m.reg.GetComponent(workerID.ComponentId)
	if err != nil {
		return nil, err
	}
	version, err := versionRecord(record, entry.componentVer)
	if err != nil {
		return nil, err
	}
	for _, f := range version.InitialFiles {
		if f.Path == path {
			return m.reg.Blob(f.BlobKey)
		}
	}
	return nil, golemerr.New(golemerr.InitialFileNotFound, fmt.Sprintf("no initial file %q for worker %q", path, workerID.String()))
}

func versionRecord(record *registry.ComponentRecord, version ids.ComponentVersion) (*registry.VersionRecord, error) {
	for i := range record.Versions {
		if record.Versions[i].Version == version {
			return &record.Versions[i], nil
		}
	}
	return nil, golemerr.New(golemerr.ComponentNotFound, fmt.Sprintf("component %q has no version %d", record.Id.String(), version))
}

func permissionString(p registry.FilePermission) string {
	if p == registry.ReadWrite {
		return "read_write"
	}
	return "read_only"
}
