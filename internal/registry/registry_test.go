package registry

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
)

type fakeTransformer struct {
	calls []string
}

func (f *fakeTransformer) Transform(plugin PluginInstallation, componentBytes []byte, _ ComponentMetadata) ([]byte, error) {
	f.calls = append(f.calls, plugin.PluginName)
	return append(componentBytes, []byte(":"+plugin.PluginName)...), nil
}

func openTestRegistry(t *testing.T, transformer Transformer) *Registry {
	t.Helper()
	reg, err := Open(filepath.Join(t.TempDir(), "registry.db"), transformer, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestCreate_RunsTransformerChainInPriorityOrder(t *testing.T) {
	transformer := &fakeTransformer{}
	reg := openTestRegistry(t, transformer)

	plugins := []PluginInstallation{
		{PluginName: "second", Type: PluginComponentTransformer, Priority: 2},
		{PluginName: "first", Type: PluginComponentTransformer, Priority: 1},
	}

	id, version, err := reg.Create("alice", "comp", []byte("wasm"), ComponentMetadata{}, Durable, plugins, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id.String() == "" {
		t.Fatal("expected a generated component id")
	}

	want := []string{"first", "second"}
	for i, name := range want {
		if transformer.calls[i] != name {
			t.Fatalf("transformer call order = %v, want %v", transformer.calls, want)
		}
	}

	blob, err := reg.blobs.Get(version.TransformedBlobKey)
	if err != nil {
		t.Fatalf("Get transformed blob: %v", err)
	}
	if string(blob) != "wasm:first:second" {
		t.Fatalf("transformed blob = %q, want %q", blob, "wasm:first:second")
	}
}

func TestCreate_RejectsDuplicateNameForOwner(t *testing.T) {
	reg := openTestRegistry(t, &fakeTransformer{})

	if _, _, err := reg.Create("alice", "comp", []byte("wasm"), ComponentMetadata{}, Durable, nil, nil, nil); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, _, err := reg.Create("alice", "comp", []byte("wasm2"), ComponentMetadata{}, Durable, nil, nil, nil)
	if err == nil {
		t.Fatal("expected duplicate name rejection")
	}
	if code, _ := golemerr.CodeOf(err); code != golemerr.InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", code)
	}
}

func TestUpdate_BumpsVersionAndRetransforms(t *testing.T) {
	transformer := &fakeTransformer{}
	reg := openTestRegistry(t, transformer)

	id, _, err := reg.Create("alice", "comp", []byte("wasm"), ComponentMetadata{}, Durable, nil, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	next, conflict, err := reg.Update(id, nil, []byte("wasm-v2"), ComponentMetadata{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if conflict != nil {
		t.Fatalf("unexpected conflict report: %+v", conflict)
	}
	if next.Version != 1 {
		t.Fatalf("Version = %d, want 1", next.Version)
	}
}

func TestUpdate_ReturnsConflictReportOnConstraintViolation(t *testing.T) {
	reg := openTestRegistry(t, &fakeTransformer{})

	original := ComponentMetadata{Exports: []FunctionSignature{
		{Name: "add", Params: []string{"s32", "s32"}, Results: []string{"s32"}},
	}}
	id, _, err := reg.Create("alice", "comp", []byte("wasm"), original, Durable, nil, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	constraints := &FunctionConstraintCollection{Functions: map[string]FunctionSignature{
		"add": {Name: "add", Params: []string{"s32", "s32"}, Results: []string{"s32"}},
	}}

	incompatible := ComponentMetadata{Exports: []FunctionSignature{
		{Name: "add", Params: []string{"s64", "s64"}, Results: []string{"s32"}},
	}}
	_, report, err := reg.Update(id, constraints, []byte("wasm-v2"), incompatible)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report == nil || len(report.ConflictingFunctions) != 1 || report.ConflictingFunctions[0].Name != "add" {
		t.Fatalf("expected conflicting function report for %q, got %+v", "add", report)
	}
	conflict := report.ConflictingFunctions[0]
	if len(conflict.OldParams) != 2 || conflict.OldParams[0] != "s32" {
		t.Fatalf("expected OldParams [s32 s32], got %v", conflict.OldParams)
	}
	if len(conflict.NewParams) != 2 || conflict.NewParams[0] != "s64" {
		t.Fatalf("expected NewParams [s64 s64], got %v", conflict.NewParams)
	}

	missingExports := ComponentMetadata{}
	_, report, err = reg.Update(id, constraints, []byte("wasm-v3"), missingExports)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report == nil || len(report.MissingFunctions) != 1 || report.MissingFunctions[0] != "add" {
		t.Fatalf("expected missing function report for %q, got %+v", "add", report)
	}
}

func TestInstallPlugin_BumpsVersionAndReusesUserBytes(t *testing.T) {
	transformer := &fakeTransformer{}
	reg := openTestRegistry(t, transformer)

	id, v0, err := reg.Create("alice", "comp", []byte("wasm"), ComponentMetadata{}, Durable, nil, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	v1, err := reg.InstallPlugin(id, PluginInstallation{PluginName: "logger", Type: PluginComponentTransformer, Priority: 1})
	if err != nil {
		t.Fatalf("InstallPlugin: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("Version = %d, want 1", v1.Version)
	}
	if v1.UserBlobKey != v0.UserBlobKey {
		t.Fatal("expected plugin install to reuse the existing user blob key")
	}
	if len(v1.InstalledPlugins) != 1 {
		t.Fatalf("expected 1 installed plugin, got %d", len(v1.InstalledPlugins))
	}
}
