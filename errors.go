package plugraph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/junioryono/plugraph/internal/graph"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that are wrapped in typed errors when returned.

var (
	// Resolution errors.
	ErrPluginTypeNil         = errors.New("plugin type cannot be nil")
	ErrNoDefaultInstance     = errors.New("no default instance")
	ErrNamedInstanceNotFound = errors.New("named instance not found")
	ErrAmbiguousClosing      = errors.New("ambiguous generic closing")
	ErrCannotClose           = errors.New("open generic could not be closed")
	ErrNotPluggable          = errors.New("concrete type is not pluggable into plugin type")

	// Lifecycle errors.
	ErrContainerNil      = errors.New("container cannot be nil")
	ErrContainerDisposed = errors.New("container has been disposed")
	ErrScopeDisposed     = errors.New("scope has been disposed")
	ErrNoActiveScope     = errors.New("no active scope")

	// Construction errors.
	ErrInstanceNil              = errors.New("instance cannot be nil")
	ErrConstructorNil           = errors.New("constructor cannot be nil")
	ErrMissingMandatoryProperty = errors.New("missing mandatory property")
	ErrNilResult                = errors.New("constructor returned nil")
)

var (
	_ error = (*ConfigurationError)(nil)
	_ error = (*CircularDependencyError)(nil)
	_ error = (*BuildError)(nil)
	_ error = (*ValidationFailure)(nil)
	_ error = (*ConstructorPanicError)(nil)
	_ error = (*TypeMismatchError)(nil)
	_ error = (*RegistrationError)(nil)
	_ error = (*ModuleError)(nil)
	_ error = (*DisposalError)(nil)
	_ error = (*TimeoutError)(nil)
	_ error = (*LifecycleError)(nil)
	_ error = (*ReflectionAnalysisError)(nil)
)

// ========================================
// Typed Errors for Rich Context
// ========================================

// ConfigurationError codes.
const (
	CodeNotPluggable          = 104
	CodeNamedInstanceNotFound = 200
	CodeNoDefaultInstance     = 202
	CodeAmbiguousClosing      = 203
	CodeCannotClose           = 207
)

// ConfigurationError indicates that the registry cannot answer a request:
// no default, an unknown name, or an open generic that does not close.
type ConfigurationError struct {
	Code       int
	PluginType reflect.Type
	Instance   string         // requested instance name, if any
	Cause      error          // one of the sentinel errors
	Available  []reflect.Type // registered plugin types, for suggestions
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("plugraph error %d: ", e.Code))
	switch e.Code {
	case CodeNamedInstanceNotFound:
		b.WriteString(fmt.Sprintf("no instance named %q for %s", e.Instance, formatType(e.PluginType)))
	case CodeNoDefaultInstance:
		b.WriteString(fmt.Sprintf("no default instance is registered for %s", formatType(e.PluginType)))
	case CodeAmbiguousClosing:
		b.WriteString(fmt.Sprintf("more than one registration closes %s; request one by name", formatType(e.PluginType)))
	case CodeCannotClose:
		b.WriteString(fmt.Sprintf("no open generic registration closes %s", formatType(e.PluginType)))
	default:
		b.WriteString(formatType(e.PluginType))
		if e.Cause != nil {
			b.WriteString(fmt.Sprintf(": %v", e.Cause))
		}
	}

	if len(e.Available) > 0 {
		similar := findSimilarTypes(e.PluginType, e.Available)
		if len(similar) > 0 {
			b.WriteString("\n\nDid you mean one of these?\n")
			for _, t := range similar {
				b.WriteString(fmt.Sprintf("  • %s\n", formatType(t)))
			}
		}
	}

	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err means nothing is registered to answer the
// request, as opposed to a failure while building.
func IsNotFound(err error) bool {
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		return false
	}

	return cfg.Code == CodeNoDefaultInstance || cfg.Code == CodeNamedInstanceNotFound || cfg.Code == CodeCannotClose
}

// CircularDependencyError reports the chain of (plugin type, instance name)
// pairs that formed a cycle during one build.
type CircularDependencyError = graph.CircularDependencyError

// BuildError wraps a failure raised while constructing an instance. Chain
// lists the instances under construction, outermost first.
type BuildError struct {
	PluginType reflect.Type
	Instance   string
	Chain      []graph.NodeKey
	Cause      error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("failed to build %s (instance %q)", formatType(e.PluginType), e.Instance))

	if len(e.Chain) > 1 {
		parts := make([]string, len(e.Chain))
		for i, k := range e.Chain {
			parts[i] = fmt.Sprintf("%s(%s)", formatType(k.Type), k.Name)
		}
		b.WriteString("\n  while building: " + strings.Join(parts, " -> "))
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return b.String()
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// ValidationFailure indicates that a built object rejected itself through
// its Validate method.
type ValidationFailure struct {
	PluginType reflect.Type
	Instance   string
	Cause      error
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation of %s (instance %q) failed: %v", formatType(e.PluginType), e.Instance, e.Cause)
}

func (e *ValidationFailure) Unwrap() error {
	return e.Cause
}

// ConstructorPanicError indicates a constructor panicked during invocation.
// It captures the panic value and stack trace for debugging.
type ConstructorPanicError struct {
	Constructor reflect.Type
	Panic       any
	Stack       []byte
}

func (e *ConstructorPanicError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("constructor %s panicked: %v\n", formatType(e.Constructor), e.Panic))

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Check for nil pointer dereferences in your constructor\n")
	b.WriteString("  • Move panic-prone initialization to a separate Init() method\n")

	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:\n")
		b.Write(e.Stack)
	}

	return b.String()
}

// TypeMismatchError indicates a built value cannot be used as the requested type.
type TypeMismatchError struct {
	Expected reflect.Type
	Actual   reflect.Type
	Context  string // "lambda result", "type assertion", etc.
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Context, formatType(e.Expected), formatType(e.Actual))
}

// RegistrationError wraps errors during registration.
type RegistrationError struct {
	PluginType reflect.Type
	Operation  string // "use", "add", "close", etc.
	Cause      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Operation, formatType(e.PluginType), e.Cause)
}

func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e *ModuleError) Unwrap() error {
	return e.Cause
}

// LifecycleError indicates an unknown lifecycle name.
type LifecycleError struct {
	Value any
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("invalid lifecycle: %v", e.Value)
}

// ReflectionAnalysisError for reflection/analysis failures
type ReflectionAnalysisError struct {
	Constructor any
	Operation   string // "analyze", "setters"
	Cause       error
}

func (e *ReflectionAnalysisError) Error() string {
	return fmt.Sprintf("reflection %s failed for %T: %v", e.Operation, e.Constructor, e.Cause)
}

func (e *ReflectionAnalysisError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates a resolution did not finish in time. The build
// itself keeps running in the background.
type TimeoutError struct {
	PluginType reflect.Type
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resolution of %s timed out after %v", formatType(e.PluginType), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// DisposalError aggregates disposal errors
type DisposalError struct {
	Context string // "container", "scope", "singleton cache", ...
	Errors  []error
}

func (e *DisposalError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s disposal failed: %v", e.Context, e.Errors[0])
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s disposal failed with %d errors:", e.Context, len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
	}
	return sb.String()
}

func (e *DisposalError) Unwrap() []error {
	return e.Errors
}

// findSimilarTypes finds types with similar names using a simple substring/prefix match
func findSimilarTypes(target reflect.Type, available []reflect.Type) []reflect.Type {
	if target == nil || len(available) == 0 {
		return nil
	}

	targetName := target.String()
	targetShortName := target.Name()
	if targetShortName == "" {
		targetShortName = targetName
	}

	var similar []reflect.Type
	for _, t := range available {
		if t == nil || t == target {
			continue
		}

		typeName := t.String()
		typeShortName := t.Name()
		if typeShortName == "" {
			typeShortName = typeName
		}

		if targetShortName == typeShortName ||
			strings.Contains(strings.ToLower(typeName), strings.ToLower(targetShortName)) ||
			strings.Contains(strings.ToLower(targetName), strings.ToLower(typeShortName)) {
			similar = append(similar, t)
		}

		if len(similar) >= 5 {
			break
		}
	}

	return similar
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	case reflect.Map:
		key := t.Key()
		elem := t.Elem()
		keyStr := key.Name()
		if keyStr == "" {
			keyStr = key.String()
		}
		elemStr := elem.Name()
		if elemStr == "" {
			elemStr = elem.String()
		}
		return "map[" + keyStr + "]" + elemStr
	case reflect.Func:
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}
