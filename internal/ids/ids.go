// Package ids centralises construction and parsing of every identifier kind
// used by the durable-execution engine (§3.1): ComponentId, ComponentVersion,
// VersionedComponentId, WorkerId, OplogIndex, IdempotencyKey, SpanId, TraceId,
// PluginInstallationId.
//
// Opaque identifiers (ComponentId, PluginInstallationId, SpanId, TraceId) are
// UUIDv7 so that lexicographic and creation order mostly agree — useful for
// oplog cursors and plugin installation ordering without a separate sequence.
package ids

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ComponentId is a 128-bit opaque identifier for a component.
type ComponentId uuid.UUID

// NewComponentId generates a fresh ComponentId.
func NewComponentId() ComponentId {
	return ComponentId(uuid.Must(uuid.NewV7()))
}

// ParseComponentId parses a canonical UUID string.
func ParseComponentId(s string) (ComponentId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ComponentId{}, fmt.Errorf("ids: parse component id %q: %w", s, err)
	}
	return ComponentId(u), nil
}

func (c ComponentId) String() string { return uuid.UUID(c).String() }

// MarshalJSON encodes a ComponentId as its canonical UUID string rather than
// the default fixed-size-array encoding.
func (c ComponentId) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// UnmarshalJSON parses the canonical UUID string form.
func (c *ComponentId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseComponentId(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ComponentVersion is monotonically increasing per ComponentId, starting at 0.
type ComponentVersion uint64

// VersionedComponentId identifies an immutable component snapshot.
type VersionedComponentId struct {
	ComponentId ComponentId
	Version     ComponentVersion
}

func (v VersionedComponentId) String() string {
	return fmt.Sprintf("%s@%d", v.ComponentId, v.Version)
}

// WorkerId = (ComponentId, worker-name). Worker names are unique within a
// ComponentId (§3.1).
type WorkerId struct {
	ComponentId ComponentId
	Name        string
}

func (w WorkerId) String() string {
	return fmt.Sprintf("%s/%s", w.ComponentId, w.Name)
}

// ParseWorkerId parses the "<componentId>/<name>" wire form produced by
// String(). The worker name itself may not contain '/'.
func ParseWorkerId(s string) (WorkerId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return WorkerId{}, fmt.Errorf("ids: malformed worker id %q", s)
	}
	cid, err := ParseComponentId(parts[0])
	if err != nil {
		return WorkerId{}, fmt.Errorf("ids: worker id %q: %w", s, err)
	}
	return WorkerId{ComponentId: cid, Name: parts[1]}, nil
}

// EphemeralWorkerName synthesizes a worker name for an ephemeral worker
// activation (§3.5): each invocation of an Ephemeral component gets a fresh,
// single-use name.
func EphemeralWorkerName() string {
	return "ephemeral-" + uuid.Must(uuid.NewV7()).String()
}

// OplogIndex is 1-based and dense within a worker (§3.1). Index 0 is reserved
// to mean "before the first entry" and is never a valid entry position.
type OplogIndex uint64

// IdempotencyKey is an opaque, caller-supplied or freshly generated string
// bounding at-most-once invocation semantics (§3.1, §4.4).
type IdempotencyKey string

// NewIdempotencyKey generates a fresh key when the caller supplies none.
func NewIdempotencyKey() IdempotencyKey {
	return IdempotencyKey(uuid.Must(uuid.NewV7()).String())
}

// SpanId and TraceId are opaque distributed-tracing identifiers.
type SpanId string
type TraceId string

// NewSpanId mirrors the UUIDv7-based span id generation pattern used
// elsewhere in the retrieval pack for distributed tracing identifiers.
func NewSpanId() SpanId { return SpanId(uuid.Must(uuid.NewV7()).String()) }

// NewTraceId generates a fresh root trace id.
func NewTraceId() TraceId { return TraceId(uuid.Must(uuid.NewV7()).String()) }

// PluginInstallationId is opaque; PluginName+PluginVersion identify a plugin,
// and priority orders installations for composition (§3.1).
type PluginInstallationId uuid.UUID

func NewPluginInstallationId() PluginInstallationId {
	return PluginInstallationId(uuid.Must(uuid.NewV7()))
}

func (p PluginInstallationId) String() string { return uuid.UUID(p).String() }

// MarshalJSON encodes a PluginInstallationId as its canonical UUID string.
func (p PluginInstallationId) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON parses the canonical UUID string form.
func (p *PluginInstallationId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("ids: parse plugin installation id %q: %w", s, err)
	}
	*p = PluginInstallationId(u)
	return nil
}

// PluginRef identifies a plugin by name and version.
type PluginRef struct {
	Name    string
	Version string
}

func (p PluginRef) String() string { return p.Name + "@" + p.Version }
