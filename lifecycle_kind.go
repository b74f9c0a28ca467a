package plugraph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LifecycleKind names a built-in lifecycle so that external readers can
// configure lifecycles from text.
type LifecycleKind int

const (
	// LifecycleTransient builds a new object per request.
	LifecycleTransient LifecycleKind = iota

	// LifecycleSingleton keeps one object per owning container.
	LifecycleSingleton

	// LifecycleThread keeps one object per goroutine.
	LifecycleThread

	// LifecycleContext keeps one object per unit of work.
	LifecycleContext

	// LifecycleHybrid uses the unit of work when active, else Singleton.
	LifecycleHybrid
)

// String returns the string representation of the LifecycleKind.
func (k LifecycleKind) String() string {
	switch k {
	case LifecycleTransient:
		return "transient"
	case LifecycleSingleton:
		return "singleton"
	case LifecycleThread:
		return "thread"
	case LifecycleContext:
		return "context"
	case LifecycleHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// IsValid checks if the lifecycle kind is valid.
func (k LifecycleKind) IsValid() bool {
	return k >= LifecycleTransient && k <= LifecycleHybrid
}

// Lifecycle returns the lifecycle the kind names.
func (k LifecycleKind) Lifecycle() (Lifecycle, error) {
	switch k {
	case LifecycleTransient:
		return Transient, nil
	case LifecycleSingleton:
		return Singleton, nil
	case LifecycleThread:
		return ThreadScoped, nil
	case LifecycleContext:
		return ContextScoped, nil
	case LifecycleHybrid:
		return HybridScoped, nil
	default:
		return nil, &LifecycleError{Value: int(k)}
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k LifecycleKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, &LifecycleError{Value: int(k)}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are case
// insensitive and accept the common aliases used by configuration files.
func (k *LifecycleKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "transient", "perrequest", "unique":
		*k = LifecycleTransient
	case "singleton":
		*k = LifecycleSingleton
	case "thread", "threadlocal", "threadscoped":
		*k = LifecycleThread
	case "context", "contextscoped", "httpcontext", "scoped":
		*k = LifecycleContext
	case "hybrid", "hybridscoped":
		*k = LifecycleHybrid
	default:
		return &LifecycleError{Value: string(text)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (k LifecycleKind) MarshalJSON() ([]byte, error) {
	text, err := k.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *LifecycleKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	return k.UnmarshalText([]byte(s))
}

// KindOf returns the kind of a built-in lifecycle.
func KindOf(l Lifecycle) (LifecycleKind, bool) {
	switch l {
	case nil, Transient:
		return LifecycleTransient, true
	case Singleton:
		return LifecycleSingleton, true
	case ThreadScoped:
		return LifecycleThread, true
	case ContextScoped:
		return LifecycleContext, true
	case HybridScoped:
		return LifecycleHybrid, true
	default:
		return 0, false
	}
}
