// Package registry implements the component registry and transformer
// pipeline of §4.6: component create/update, plugin installation, the
// function-constraint conflict check, and content-addressed storage of
// component bytes and initial-file contents.
//
// Export analysis from raw component bytes is out of scope (§1's
// "visibility into guest program source" non-goal): callers supply a
// component's ComponentMetadata declaratively, the way an upstream
// component-model analyser would hand it to this layer.
package registry

import (
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
)

// ComponentType distinguishes Durable from Ephemeral components (§3.5).
type ComponentType string

const (
	Durable   ComponentType = "Durable"
	Ephemeral ComponentType = "Ephemeral"
)

// FunctionSignature names one exported function and its typed shape.
// Params/Results hold the value-model type encoding of §3.3 as opaque
// strings; the registry only needs to compare them for equality.
type FunctionSignature struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

// RpcTarget describes one DynamicLinkedWasmRpc mapping (§3.4).
type RpcTarget struct {
	StubName          string `json:"stub_name"`
	TargetComponent   string `json:"target_component,omitempty"`
	TargetType        string `json:"target_type,omitempty"`
	ExternalTransport string `json:"external_transport,omitempty"` // "openapi" | "grpc"
	RemoteDescriptor  string `json:"remote_descriptor,omitempty"`
}

// ComponentMetadata is the declared shape of one component version:
// exports plus the dynamic-link map (§3.4).
type ComponentMetadata struct {
	Exports     []FunctionSignature `json:"exports"`
	DynamicLink []RpcTarget         `json:"dynamic_link"`
}

func (m ComponentMetadata) exportByName(name string) (FunctionSignature, bool) {
	for _, fn := range m.Exports {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionSignature{}, false
}

// FunctionConstraintCollection is established by downstream consumers of a
// component: a subset of exported functions whose signatures must be
// preserved (as a superset, with identical types) across Update.
type FunctionConstraintCollection struct {
	Functions map[string]FunctionSignature
}

// FunctionConflict names one constrained function whose signature changed
// across Update, carrying both the old and new parameter lists so callers
// can render a useful diagnostic (§8 scenario 6).
type FunctionConflict struct {
	Name      string
	OldParams []string
	NewParams []string
}

// ConflictReport is returned instead of a new version when Update violates
// a recorded FunctionConstraintCollection.
type ConflictReport struct {
	MissingFunctions     []string
	ConflictingFunctions []FunctionConflict
}

func (r ConflictReport) empty() bool {
	return len(r.MissingFunctions) == 0 && len(r.ConflictingFunctions) == 0
}

// FilePermission is the access mode declared for an initial file (§4.6).
type FilePermission string

const (
	ReadOnly  FilePermission = "ReadOnly"
	ReadWrite FilePermission = "ReadWrite"
)

// InitialFileSpec declares one file an archive must contain.
type InitialFileSpec struct {
	Path       string
	Permission FilePermission
}

// InitialFile is a resolved, content-addressed initial file.
type InitialFile struct {
	Path       string
	Permission FilePermission
	BlobKey    string
}

// PluginType distinguishes ComponentTransformer plugins (the only kind this
// registry executes) from other plugin kinds, which are recorded but never
// invoked here (§3.4: "others... ignored here").
type PluginType string

const (
	PluginComponentTransformer PluginType = "ComponentTransformer"
	PluginOther                PluginType = "Other"
)

// PluginInstallation is one entry of a component's installed_plugins list.
type PluginInstallation struct {
	Id           ids.PluginInstallationId
	PluginName   string
	Type         PluginType
	Priority     int
	TransformURL string
	Parameters   map[string]string
}

// VersionRecord is one immutable component version.
type VersionRecord struct {
	Version             ids.ComponentVersion
	Type                ComponentType
	UserBlobKey         string
	TransformedBlobKey  string
	Metadata            ComponentMetadata
	InstalledPlugins    []PluginInstallation
	InitialFiles        []InitialFile
	CreatedAt           time.Time
}

// ComponentRecord is a named component and its version history.
type ComponentRecord struct {
	Id       ids.ComponentId
	Owner    string
	Name     string
	Versions []VersionRecord
}

func (c *ComponentRecord) latest() *VersionRecord {
	if len(c.Versions) == 0 {
		return nil
	}
	return &c.Versions[len(c.Versions)-1]
}

// Transformer performs one ComponentTransformer plugin call. Production
// code uses httpTransformer (transform.go); tests substitute a fake.
type Transformer interface {
	Transform(plugin PluginInstallation, componentBytes []byte, metadata ComponentMetadata) ([]byte, error)
}

// Registry is the bbolt-backed component catalog.
type Registry struct {
	db          *bolt.DB
	blobs       *BlobStore
	transformer Transformer
	log         *zap.Logger
}

// Open opens (creating if absent) the registry database at path.
func Open(path string, transformer Transformer, log *zap.Logger) (*Registry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, golemerr.Wrap(golemerr.StorageError, "open registry db", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketComponents))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, golemerr.Wrap(golemerr.StorageError, "init registry schema", err)
	}
	return &Registry{
		db:          db,
		blobs:       newBlobStore(db),
		transformer: transformer,
		log:         log,
	}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// GetComponent returns a component's full catalog record, including every
// version it has ever held (§6 get_file_system_node / get_file_contents read
// a specific version's declared initial files from this record).
func (r *Registry) GetComponent(id ids.ComponentId) (*ComponentRecord, error) {
	return r.getComponent(id)
}

// Blob returns a content-addressed blob's bytes by key, as stored by Create
// or Update for a version's user/transformed bytes or initial files.
func (r *Registry) Blob(key string) ([]byte, error) {
	return r.blobs.Get(key)
}

const dbOpenTimeout = 2 * time.Second

const bucketComponents = "components"

// Create validates name uniqueness for owner, stores the user bytes, runs
// the transformer chain, and records the first version (§4.6 "Create").
func (r *Registry) Create(owner, name string, userBytes []byte, metadata ComponentMetadata, typ ComponentType, plugins []PluginInstallation, files []InitialFileSpec, fileContents map[string][]byte) (ids.ComponentId, *VersionRecord, error) {
	if err := r.nameAvailable(owner, name); err != nil {
		return ids.ComponentId{}, nil, err
	}

	userKey, err := r.blobs.Put(userBytes)
	if err != nil {
		return ids.ComponentId{}, nil, err
	}

	sortedPlugins := sortedByPriority(plugins)
	transformedBytes, transformedMeta, err := r.runTransformerChain(userBytes, metadata, sortedPlugins)
	if err != nil {
		return ids.ComponentId{}, nil, err
	}
	transformedKey, err := r.blobs.Put(transformedBytes)
	if err != nil {
		return ids.ComponentId{}, nil, err
	}

	resolvedFiles, err := resolveInitialFiles(r.blobs, files, fileContents)
	if err != nil {
		return ids.ComponentId{}, nil, err
	}

	componentID := ids.NewComponentId()
	version := VersionRecord{
		Version:            0,
		Type:                typ,
		UserBlobKey:        userKey,
		TransformedBlobKey: transformedKey,
		Metadata:           transformedMeta,
		InstalledPlugins:   sortedPlugins,
		InitialFiles:       resolvedFiles,
		CreatedAt:          time.Now(),
	}
	record := ComponentRecord{Id: componentID, Owner: owner, Name: name, Versions: []VersionRecord{version}}

	if err := r.putComponent(record); err != nil {
		return ids.ComponentId{}, nil, err
	}
	r.log.Info("component created", zap.String("component_id", componentID.String()), zap.String("name", name))
	return componentID, &version, nil
}

// Update re-analyses exports against any recorded constraint collection,
// bumps the version on success, and re-runs the transformer chain.
func (r *Registry) Update(componentID ids.ComponentId, constraints *FunctionConstraintCollection, newUserBytes []byte, newMetadata ComponentMetadata) (*VersionRecord, *ConflictReport, error) {
	record, err := r.getComponent(componentID)
	if err != nil {
		return nil, nil, err
	}
	prev := record.latest()
	if prev == nil {
		return nil, nil, golemerr.New(golemerr.ComponentNotFound, "component has no versions")
	}

	if constraints != nil {
		if report := checkConstraints(*constraints, newMetadata); !report.empty() {
			return nil, &report, nil
		}
	}

	userKey, err := r.blobs.Put(newUserBytes)
	if err != nil {
		return nil, nil, err
	}
	sortedPlugins := sortedByPriority(prev.InstalledPlugins)
	transformedBytes, transformedMeta, err := r.runTransformerChain(newUserBytes, newMetadata, sortedPlugins)
	if err != nil {
		return nil, nil, err
	}
	transformedKey, err := r.blobs.Put(transformedBytes)
	if err != nil {
		return nil, nil, err
	}

	next := VersionRecord{
		Version:            prev.Version + 1,
		Type:                prev.Type,
		UserBlobKey:        userKey,
		TransformedBlobKey: transformedKey,
		Metadata:           transformedMeta,
		InstalledPlugins:   sortedPlugins,
		InitialFiles:       prev.InitialFiles,
		CreatedAt:          time.Now(),
	}
	record.Versions = append(record.Versions, next)
	if err := r.putComponent(*record); err != nil {
		return nil, nil, err
	}
	return &next, nil, nil
}

// InstallPlugin adds a plugin installation, bumps the version, reusing the
// user bytes and recomputing the transformed bytes (§4.6 "Plugin mutations").
func (r *Registry) InstallPlugin(componentID ids.ComponentId, plugin PluginInstallation) (*VersionRecord, error) {
	return r.mutatePlugins(componentID, func(plugins []PluginInstallation) []PluginInstallation {
		return append(plugins, plugin)
	})
}

// UninstallPlugin removes a plugin installation by id.
func (r *Registry) UninstallPlugin(componentID ids.ComponentId, pluginInstallationID ids.PluginInstallationId) (*VersionRecord, error) {
	return r.mutatePlugins(componentID, func(plugins []PluginInstallation) []PluginInstallation {
		out := plugins[:0]
		for _, p := range plugins {
			if p.Id != pluginInstallationID {
				out = append(out, p)
			}
		}
		return out
	})
}

func (r *Registry) mutatePlugins(componentID ids.ComponentId, mutate func([]PluginInstallation) []PluginInstallation) (*VersionRecord, error) {
	record, err := r.getComponent(componentID)
	if err != nil {
		return nil, err
	}
	prev := record.latest()
	if prev == nil {
		return nil, golemerr.New(golemerr.ComponentNotFound, "component has no versions")
	}

	userBytes, err := r.blobs.Get(prev.UserBlobKey)
	if err != nil {
		return nil, err
	}
	plugins := sortedByPriority(mutate(append([]PluginInstallation(nil), prev.InstalledPlugins...)))

	transformedBytes, transformedMeta, err := r.runTransformerChain(userBytes, prev.Metadata, plugins)
	if err != nil {
		return nil, err
	}
	transformedKey, err := r.blobs.Put(transformedBytes)
	if err != nil {
		return nil, err
	}

	next := VersionRecord{
		Version:            prev.Version + 1,
		Type:                prev.Type,
		UserBlobKey:        prev.UserBlobKey,
		TransformedBlobKey: transformedKey,
		Metadata:           transformedMeta,
		InstalledPlugins:   plugins,
		InitialFiles:       prev.InitialFiles,
		CreatedAt:          time.Now(),
	}
	record.Versions = append(record.Versions, next)
	if err := r.putComponent(*record); err != nil {
		return nil, err
	}
	return &next, nil
}

func sortedByPriority(plugins []PluginInstallation) []PluginInstallation {
	out := append([]PluginInstallation(nil), plugins...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// checkConstraints implements the superset-with-identical-types rule of
// §4.6 "Update".
func checkConstraints(constraints FunctionConstraintCollection, metadata ComponentMetadata) ConflictReport {
	var report ConflictReport
	for name, want := range constraints.Functions {
		got, ok := metadata.exportByName(name)
		if !ok {
			report.MissingFunctions = append(report.MissingFunctions, name)
			continue
		}
		if !signaturesEqual(want, got) {
			report.ConflictingFunctions = append(report.ConflictingFunctions, FunctionConflict{
				Name:      name,
				OldParams: want.Params,
				NewParams: got.Params,
			})
		}
	}
	sort.Strings(report.MissingFunctions)
	sort.Slice(report.ConflictingFunctions, func(i, j int) bool {
		return report.ConflictingFunctions[i].Name < report.ConflictingFunctions[j].Name
	})
	return report
}

func signaturesEqual(a, b FunctionSignature) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

func (r *Registry) nameAvailable(owner, name string) error {
	var conflict bool
	_ = r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketComponents))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			rec, err := decodeComponent(v)
			if err != nil {
				return err
			}
			if rec.Owner == owner && rec.Name == name {
				conflict = true
			}
			return nil
		})
	})
	if conflict {
		return golemerr.New(golemerr.InvalidRequest, fmt.Sprintf("component %q already exists for owner %q", name, owner))
	}
	return nil
}

func (r *Registry) getComponent(id ids.ComponentId) (*ComponentRecord, error) {
	var record ComponentRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketComponents))
		if b == nil {
			return golemerr.New(golemerr.ComponentNotFound, "registry not initialised")
		}
		v := b.Get([]byte(id.String()))
		if v == nil {
			return golemerr.New(golemerr.ComponentNotFound, "component "+id.String()+" not found")
		}
		rec, err := decodeComponent(v)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Registry) putComponent(record ComponentRecord) error {
	data, err := encodeComponent(record)
	if err != nil {
		return golemerr.Wrap(golemerr.StorageError, "encode component record", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketComponents))
		if err != nil {
			return err
		}
		return b.Put([]byte(record.Id.String()), data)
	})
}
