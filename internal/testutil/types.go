package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/junioryono/plugraph"
)

// Common test errors
var (
	ErrTest            = errors.New("test error")
	ErrIntentional     = errors.New("intentional error")
	ErrConstructor     = errors.New("constructor error")
	ErrDisposal        = errors.New("disposal error")
	ErrAlreadyDisposed = errors.New("already disposed")
	ErrInvalid         = errors.New("invalid object")
)

// Widget is the plugin type most tests resolve.
type Widget interface {
	Name() string
}

// ColorWidget is a Widget with a color.
type ColorWidget struct {
	Color string
	ID    string
}

func NewColorWidget(color string) *ColorWidget {
	return &ColorWidget{Color: color, ID: uuid.NewString()}
}

func (w *ColorWidget) Name() string { return w.Color }

// AWidget is a Widget without dependencies.
type AWidget struct {
	ID string
}

func NewAWidget() *AWidget {
	return &AWidget{ID: uuid.NewString()}
}

func (w *AWidget) Name() string { return "A" }

// Rule is a second plugin type with named instances.
type Rule interface {
	Matches(color string) bool
}

// ColorRule matches one color.
type ColorRule struct {
	Color string
}

func NewColorRule(color string) *ColorRule {
	return &ColorRule{Color: color}
}

func (r *ColorRule) Matches(color string) bool { return r.Color == color }

// Gateway is a plugin type with a stubbed alternative.
type Gateway interface {
	Send(msg string) string
}

// DefaultGateway is the production Gateway.
type DefaultGateway struct{}

func (DefaultGateway) Send(msg string) string { return "sent: " + msg }

// StubbedGateway records the messages it receives.
type StubbedGateway struct {
	mu   sync.Mutex
	Sent []string
}

func (g *StubbedGateway) Send(msg string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Sent = append(g.Sent, msg)
	return "stubbed: " + msg
}

// WidgetService depends on a Widget and a Gateway.
type WidgetService struct {
	Widget  Widget
	Gateway Gateway
	ID      string
}

func NewWidgetService(w Widget, g Gateway) *WidgetService {
	return &WidgetService{Widget: w, Gateway: g, ID: uuid.NewString()}
}

// WidgetParams is a parameter object for NewWidgetServiceFromParams.
type WidgetParams struct {
	plugraph.In

	Widget  Widget
	Gateway Gateway `optional:"true"`
	Rule    Rule    `name:"Blue" optional:"true"`
}

func NewWidgetServiceFromParams(p WidgetParams) *WidgetService {
	return &WidgetService{Widget: p.Widget, Gateway: p.Gateway, ID: uuid.NewString()}
}

// Report receives its dependencies through inject tags.
type Report struct {
	Widget  Widget  `inject:""`
	Gateway Gateway `inject:"optional"`
	Rule    Rule    `inject:"name=Blue,optional"`
	Title   string
}

// Counter counts constructions. It is safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Inc() int64  { return c.n.Add(1) }
func (c *Counter) Load() int64 { return c.n.Load() }

// CountingWidget is a Widget that counts its constructions.
type CountingWidget struct {
	Seq int64
}

func (w *CountingWidget) Name() string { return fmt.Sprintf("counting-%d", w.Seq) }

// NewCountingWidgetFunc returns a constructor that increments c.
func NewCountingWidgetFunc(c *Counter) func() *CountingWidget {
	return func() *CountingWidget {
		return &CountingWidget{Seq: c.Inc()}
	}
}

// TestDisposable records Close calls, in the order they happen when several
// instances share a log.
type TestDisposable struct {
	ID           string
	disposeError error
	log          *DisposalLog

	mu       sync.Mutex
	disposed bool
}

// DisposalLog records the ids of closed TestDisposable values in order.
type DisposalLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *DisposalLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

// IDs returns the recorded ids.
func (l *DisposalLog) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

func NewTestDisposable() *TestDisposable {
	return &TestDisposable{ID: uuid.NewString()}
}

func NewTestDisposableWithError(err error) *TestDisposable {
	return &TestDisposable{ID: uuid.NewString(), disposeError: err}
}

// NewLoggedDisposable returns a TestDisposable called id that records its
// disposal in log.
func NewLoggedDisposable(id string, log *DisposalLog) *TestDisposable {
	return &TestDisposable{ID: id, log: log}
}

func (s *TestDisposable) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrAlreadyDisposed
	}

	s.disposed = true
	if s.log != nil {
		s.log.add(s.ID)
	}
	return s.disposeError
}

func (s *TestDisposable) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// SelfValidating rejects itself when Valid is false.
type SelfValidating struct {
	Valid bool
}

func (s *SelfValidating) Validate() error {
	if !s.Valid {
		return ErrInvalid
	}
	return nil
}

// CircularServiceA and CircularServiceB for testing circular dependencies
type CircularServiceA struct {
	B *CircularServiceB
}

type CircularServiceB struct {
	A *CircularServiceA
}

func NewCircularServiceA(b *CircularServiceB) *CircularServiceA {
	return &CircularServiceA{B: b}
}

func NewCircularServiceB(a *CircularServiceA) *CircularServiceB {
	return &CircularServiceB{A: a}
}

// CloserFunc is a helper type to wrap a function as a Disposable
type CloserFunc func() error

func (f CloserFunc) Close() error {
	return f()
}

// DecoratedWidget wraps another widget with a prefix
type DecoratedWidget struct {
	Inner  Widget
	Prefix string
}

func (d *DecoratedWidget) Name() string {
	return d.Prefix + d.Inner.Name()
}

// Repository is an open generic plugin type.
type Repository[T any] interface {
	Find(id int) (T, error)
}

// MemoryRepository is a generic Repository.
type MemoryRepository[T any] struct {
	Items map[int]T
}

func (r *MemoryRepository[T]) Find(id int) (T, error) {
	v, ok := r.Items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("item %d: %w", id, ErrTest)
	}
	return v, nil
}

// StringRepository is a non-generic Repository[string].
type StringRepository struct{}

func (StringRepository) Find(id int) (string, error) {
	return fmt.Sprintf("string-%d", id), nil
}
