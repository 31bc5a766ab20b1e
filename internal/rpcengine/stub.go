// Package rpcengine implements dynamic linking and the RPC engine of §4.5:
// structural stub classification, the resource arena backing stub handles
// and suspension-aware invocation. The inter-worker transport is in the
// transport subpackage; calls to external OpenAPI or gRPC services are not
// implemented (ExternalStub only records constructor parameters).
package rpcengine

import "strings"

// StubKind is the generated-behavior classification of §4.5's detection
// table. Classification is a pure function of a guest import's shape, kept
// independently unit-testable per the design note in spec.md §9.
type StubKind int

const (
	StubUnknown StubKind = iota
	StubConstructor
	StubCustomConstructor
	StubBlockingMethod
	StubAsyncMethod
	StubFireAndForget
	StubScheduledMethod
	StubFutureResult
	StubResourceDrop
)

func (k StubKind) String() string {
	switch k {
	case StubConstructor:
		return "constructor"
	case StubCustomConstructor:
		return "custom_constructor"
	case StubBlockingMethod:
		return "blocking_method"
	case StubAsyncMethod:
		return "async_method"
	case StubFireAndForget:
		return "fire_and_forget"
	case StubScheduledMethod:
		return "scheduled_method"
	case StubFutureResult:
		return "future_result"
	case StubResourceDrop:
		return "resource_drop"
	default:
		return "unknown"
	}
}

// ImportShape describes one guest-imported function the way dynamic
// linking sees it at instantiation time: enough to classify it without a
// full WIT/component-model parser.
type ImportShape struct {
	// ResourceName is the resource the function is attached to, "" for a
	// free function.
	ResourceName string
	// MethodName is the bare method name ("" for a constructor).
	MethodName string
	// IsConstructor marks `[constructor]X(...)`.
	IsConstructor bool
	// IsStatic marks `X.custom(...)`-style static methods.
	IsStatic bool
	// HasSelf marks `[method]X.m(self, ...)`.
	HasSelf bool
	// ReturnsFutureResult marks a declared `-> future-invoke-result` return.
	ReturnsFutureResult bool
	// HasResult marks whether the function has any declared result at all
	// (false => fire-and-forget).
	HasResult bool
	// TargetIsUserSupplied marks a worker/component id parameter rather
	// than one derived from the component's own dynamic-link metadata.
	TargetIsUserSupplied bool
}

// Classify implements the §4.5 detection table as a pure function.
func Classify(shape ImportShape) StubKind {
	if shape.ResourceName != "" && shape.MethodName == "drop" {
		return StubResourceDrop
	}
	if shape.IsConstructor {
		if shape.TargetIsUserSupplied {
			return StubCustomConstructor
		}
		return StubConstructor
	}
	if shape.IsStatic && shape.MethodName == "custom" {
		return StubCustomConstructor
	}
	if shape.HasSelf {
		if strings.HasPrefix(shape.MethodName, "schedule-") {
			return StubScheduledMethod
		}
		if shape.ReturnsFutureResult {
			return StubAsyncMethod
		}
		if !shape.HasResult {
			return StubFireAndForget
		}
		// Covers both `m` and the explicit `blocking-m` variant: identical
		// semantics per §4.5.
		return StubBlockingMethod
	}
	if shape.ResourceName == "future-invoke-result" && (shape.MethodName == "subscribe" || shape.MethodName == "get") {
		return StubFutureResult
	}
	return StubUnknown
}
