// Package oplog implements the per-worker append-only log of §3.2/§4.1: the
// single source of truth for worker state, replayable bit-for-bit across
// reimplementations.
package oplog

import (
	"time"

	"github.com/golemcloud/golem/internal/ids"
)

// Kind enumerates the oplog entry kinds of §3.2. The set is exhaustive: a
// reader must preserve and skip kinds it doesn't recognise (forward
// compatibility, §6) rather than fail.
type Kind string

const (
	KindCreate                      Kind = "Create"
	KindImportedFunctionInvoked     Kind = "ImportedFunctionInvoked"
	KindExportedFunctionInvoked     Kind = "ExportedFunctionInvoked"
	KindExportedFunctionCompleted   Kind = "ExportedFunctionCompleted"
	KindSuspend                     Kind = "Suspend"
	KindError                       Kind = "Error"
	KindNoOp                        Kind = "NoOp"
	KindJump                        Kind = "Jump"
	KindInterrupted                 Kind = "Interrupted"
	KindExited                      Kind = "Exited"
	KindChangeRetryPolicy           Kind = "ChangeRetryPolicy"
	KindBeginAtomicRegion           Kind = "BeginAtomicRegion"
	KindEndAtomicRegion             Kind = "EndAtomicRegion"
	KindBeginRemoteWrite            Kind = "BeginRemoteWrite"
	KindEndRemoteWrite              Kind = "EndRemoteWrite"
	KindPendingWorkerInvocation     Kind = "PendingWorkerInvocation"
	KindPendingUpdate               Kind = "PendingUpdate"
	KindSuccessfulUpdate            Kind = "SuccessfulUpdate"
	KindFailedUpdate                Kind = "FailedUpdate"
	KindGrowMemory                  Kind = "GrowMemory"
	KindCreateResource              Kind = "CreateResource"
	KindDropResource                Kind = "DropResource"
	KindLog                         Kind = "Log"
	KindRestart                     Kind = "Restart"
	KindActivatePlugin              Kind = "ActivatePlugin"
	KindDeactivatePlugin            Kind = "DeactivatePlugin"
	KindRevert                      Kind = "Revert"
	KindCancelPendingInvocation     Kind = "CancelPendingInvocation"
	KindStartSpan                   Kind = "StartSpan"
	KindFinishSpan                  Kind = "FinishSpan"
	KindSetSpanAttribute            Kind = "SetSpanAttribute"
	KindChangePersistenceLevel      Kind = "ChangePersistenceLevel"
	KindBeginRemoteTransaction      Kind = "BeginRemoteTransaction"
	KindPreCommitRemoteTransaction  Kind = "PreCommitRemoteTransaction"
	KindPreRollbackRemoteTransaction Kind = "PreRollbackRemoteTransaction"
	KindCommittedRemoteTransaction  Kind = "CommittedRemoteTransaction"
	KindRolledBackRemoteTransaction Kind = "RolledBackRemoteTransaction"
)

// DurableFunctionClass tags an ImportedFunctionInvoked entry per §3.2,
// governing replay policy (§4.3).
type DurableFunctionClass string

const (
	ClassReadLocal              DurableFunctionClass = "ReadLocal"
	ClassWriteLocal             DurableFunctionClass = "WriteLocal"
	ClassReadRemote             DurableFunctionClass = "ReadRemote"
	ClassWriteRemote            DurableFunctionClass = "WriteRemote"
	ClassWriteRemoteBatched     DurableFunctionClass = "WriteRemoteBatched"
	ClassWriteRemoteTransaction DurableFunctionClass = "WriteRemoteTransaction"
)

// PersistenceLevel is the worker-wide persistence policy of §4.3.
type PersistenceLevel string

const (
	PersistNothing           PersistenceLevel = "PersistNothing"
	PersistRemoteSideEffects PersistenceLevel = "PersistRemoteSideEffects"
	PersistSmart             PersistenceLevel = "Smart"
)

// RetryPolicy is the exponential-backoff configuration of §9, kept as a
// config struct rather than hard-coded constants.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	MinDelay    time.Duration `json:"min_delay" yaml:"min_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier"`
	MaxJitter   time.Duration `json:"max_jitter" yaml:"max_jitter"`
}

// DelayFor returns the backoff delay before the given retry attempt
// (0-indexed), capped at MaxDelay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	d := float64(p.MinDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Region is an inclusive [Start, End] oplog index range, used by Jump and
// Revert (§3.2).
type Region struct {
	Start ids.OplogIndex `json:"start"`
	End   ids.OplogIndex `json:"end"`
}

// Contains reports whether idx falls within the region, inclusive.
func (r Region) Contains(idx ids.OplogIndex) bool { return idx >= r.Start && idx <= r.End }

// Entry is one record of a worker's oplog: a common header (timestamp,
// kind) plus a kind-specific payload. Rather than thirty-seven near-identical
// wrapper types, the payload fields live directly on Entry and only the
// fields relevant to Kind are populated — the per-kind constructors below
// are the "pure function per variant" conversion the design calls for
// (§9 "the PublicOplogEntry <-> wire entry conversion is a pure function
// per variant"); callers should not populate Entry fields by hand outside
// of them.
type Entry struct {
	Index     ids.OplogIndex `json:"index"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`

	// Create
	ComponentVersion ids.ComponentVersion `json:"component_version,omitempty"`
	Args             []string             `json:"args,omitempty"`
	Env              map[string]string    `json:"env,omitempty"`

	// ImportedFunctionInvoked / ExportedFunctionInvoked / ExportedFunctionCompleted
	FunctionName   string               `json:"function_name,omitempty"`
	Class          DurableFunctionClass `json:"class,omitempty"`
	BeginIndex     *ids.OplogIndex      `json:"begin_index,omitempty"`
	Request        []byte               `json:"request,omitempty"`  // value.Encode output
	Response       []byte               `json:"response,omitempty"` // value.Encode output
	IdempotencyKey ids.IdempotencyKey   `json:"idempotency_key,omitempty"`
	TraceID        ids.TraceId          `json:"trace_id,omitempty"`
	SpanID         ids.SpanId           `json:"span_id,omitempty"`
	ParentSpanID   ids.SpanId           `json:"parent_span_id,omitempty"`
	ConsumedFuel   int64                `json:"consumed_fuel,omitempty"`

	// Error
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryFrom    *ids.OplogIndex `json:"retry_from,omitempty"`

	// Jump / Revert
	Region *Region `json:"region,omitempty"`

	// ChangeRetryPolicy
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// PendingUpdate / SuccessfulUpdate / FailedUpdate
	TargetVersion  ids.ComponentVersion `json:"target_version,omitempty"`
	UpdateDesc     string               `json:"update_description,omitempty"`
	FailureDetails string               `json:"failure_details,omitempty"`

	// GrowMemory
	MemoryDeltaBytes int64 `json:"memory_delta_bytes,omitempty"`

	// CreateResource / DropResource
	ResourceID  uint64 `json:"resource_id,omitempty"`
	ResourceURI string `json:"resource_uri,omitempty"`

	// Log
	LogLevel   string `json:"log_level,omitempty"`
	LogMessage string `json:"log_message,omitempty"`

	// ActivatePlugin / DeactivatePlugin
	PluginInstallationID string `json:"plugin_installation_id,omitempty"`

	// SetSpanAttribute
	AttrKey   string `json:"attr_key,omitempty"`
	AttrValue string `json:"attr_value,omitempty"`

	// ChangePersistenceLevel
	PersistenceLevel PersistenceLevel `json:"persistence_level,omitempty"`

	// PendingWorkerInvocation / CancelPendingInvocation
	InvocationKey ids.IdempotencyKey `json:"invocation_key,omitempty"`
}

func newEntry(kind Kind) Entry {
	return Entry{Kind: kind, Timestamp: time.Now().UTC()}
}

func NewCreate(version ids.ComponentVersion, args []string, env map[string]string) Entry {
	e := newEntry(KindCreate)
	e.ComponentVersion = version
	e.Args = args
	e.Env = env
	return e
}

func NewImportedFunctionInvoked(name string, class DurableFunctionClass, request, response []byte, beginIndex *ids.OplogIndex) Entry {
	e := newEntry(KindImportedFunctionInvoked)
	e.FunctionName = name
	e.Class = class
	e.Request = request
	e.Response = response
	e.BeginIndex = beginIndex
	return e
}

func NewExportedFunctionInvoked(name string, key ids.IdempotencyKey, traceID ids.TraceId, parentSpan ids.SpanId, request []byte) Entry {
	e := newEntry(KindExportedFunctionInvoked)
	e.FunctionName = name
	e.IdempotencyKey = key
	e.TraceID = traceID
	e.ParentSpanID = parentSpan
	e.Request = request
	return e
}

func NewExportedFunctionCompleted(response []byte, consumedFuel int64) Entry {
	e := newEntry(KindExportedFunctionCompleted)
	e.Response = response
	e.ConsumedFuel = consumedFuel
	return e
}

func NewSuspend() Entry { return newEntry(KindSuspend) }

func NewError(message string, retryFrom *ids.OplogIndex) Entry {
	e := newEntry(KindError)
	e.ErrorMessage = message
	e.RetryFrom = retryFrom
	return e
}

func NewNoOp() Entry { return newEntry(KindNoOp) }

func NewJump(region Region) Entry {
	e := newEntry(KindJump)
	e.Region = &region
	return e
}

func NewInterrupted() Entry { return newEntry(KindInterrupted) }
func NewExited() Entry      { return newEntry(KindExited) }

func NewChangeRetryPolicy(p RetryPolicy) Entry {
	e := newEntry(KindChangeRetryPolicy)
	e.RetryPolicy = &p
	return e
}

func NewBeginAtomicRegion() Entry { return newEntry(KindBeginAtomicRegion) }
func NewEndAtomicRegion(begin ids.OplogIndex) Entry {
	e := newEntry(KindEndAtomicRegion)
	e.BeginIndex = &begin
	return e
}

func NewBeginRemoteWrite() Entry { return newEntry(KindBeginRemoteWrite) }
func NewEndRemoteWrite(begin ids.OplogIndex) Entry {
	e := newEntry(KindEndRemoteWrite)
	e.BeginIndex = &begin
	return e
}

func NewPendingWorkerInvocation(key ids.IdempotencyKey) Entry {
	e := newEntry(KindPendingWorkerInvocation)
	e.InvocationKey = key
	return e
}

func NewPendingUpdate(target ids.ComponentVersion, desc string) Entry {
	e := newEntry(KindPendingUpdate)
	e.TargetVersion = target
	e.UpdateDesc = desc
	return e
}

func NewSuccessfulUpdate(target ids.ComponentVersion) Entry {
	e := newEntry(KindSuccessfulUpdate)
	e.TargetVersion = target
	return e
}

func NewFailedUpdate(target ids.ComponentVersion, details string) Entry {
	e := newEntry(KindFailedUpdate)
	e.TargetVersion = target
	e.FailureDetails = details
	return e
}

func NewGrowMemory(deltaBytes int64) Entry {
	e := newEntry(KindGrowMemory)
	e.MemoryDeltaBytes = deltaBytes
	return e
}

func NewCreateResource(id uint64, uri string) Entry {
	e := newEntry(KindCreateResource)
	e.ResourceID = id
	e.ResourceURI = uri
	return e
}

func NewDropResource(id uint64) Entry {
	e := newEntry(KindDropResource)
	e.ResourceID = id
	return e
}

func NewLog(level, message string) Entry {
	e := newEntry(KindLog)
	e.LogLevel = level
	e.LogMessage = message
	return e
}

func NewRestart() Entry { return newEntry(KindRestart) }

func NewActivatePlugin(installationID string) Entry {
	e := newEntry(KindActivatePlugin)
	e.PluginInstallationID = installationID
	return e
}

func NewDeactivatePlugin(installationID string) Entry {
	e := newEntry(KindDeactivatePlugin)
	e.PluginInstallationID = installationID
	return e
}

func NewRevert(region Region) Entry {
	e := newEntry(KindRevert)
	e.Region = &region
	return e
}

func NewCancelPendingInvocation(key ids.IdempotencyKey) Entry {
	e := newEntry(KindCancelPendingInvocation)
	e.InvocationKey = key
	return e
}

func NewStartSpan(spanID, parentSpanID ids.SpanId) Entry {
	e := newEntry(KindStartSpan)
	e.SpanID = spanID
	e.ParentSpanID = parentSpanID
	return e
}

func NewFinishSpan(spanID ids.SpanId) Entry {
	e := newEntry(KindFinishSpan)
	e.SpanID = spanID
	return e
}

func NewSetSpanAttribute(spanID ids.SpanId, key, value string) Entry {
	e := newEntry(KindSetSpanAttribute)
	e.SpanID = spanID
	e.AttrKey = key
	e.AttrValue = value
	return e
}

func NewChangePersistenceLevel(level PersistenceLevel) Entry {
	e := newEntry(KindChangePersistenceLevel)
	e.PersistenceLevel = level
	return e
}

func NewBeginRemoteTransaction() Entry { return newEntry(KindBeginRemoteTransaction) }
func NewPreCommitRemoteTransaction(begin ids.OplogIndex) Entry {
	e := newEntry(KindPreCommitRemoteTransaction)
	e.BeginIndex = &begin
	return e
}
func NewPreRollbackRemoteTransaction(begin ids.OplogIndex) Entry {
	e := newEntry(KindPreRollbackRemoteTransaction)
	e.BeginIndex = &begin
	return e
}
func NewCommittedRemoteTransaction(begin ids.OplogIndex) Entry {
	e := newEntry(KindCommittedRemoteTransaction)
	e.BeginIndex = &begin
	return e
}
func NewRolledBackRemoteTransaction(begin ids.OplogIndex) Entry {
	e := newEntry(KindRolledBackRemoteTransaction)
	e.BeginIndex = &begin
	return e
}
