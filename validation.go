package plugraph

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/junioryono/plugraph/internal/graph"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ProblemKind classifies a validation problem.
type ProblemKind int

const (
	// ProblemFailed is a root failure: the instance itself could not be built.
	ProblemFailed ProblemKind = iota

	// ProblemInvalid is an object that was built but rejected itself through
	// its Validate method.
	ProblemInvalid

	// ProblemSkipped is an instance that failed only because a dependency did.
	ProblemSkipped
)

func (k ProblemKind) String() string {
	switch k {
	case ProblemFailed:
		return "failed"
	case ProblemInvalid:
		return "invalid"
	case ProblemSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Problem is one entry of a ValidationReport.
type Problem struct {
	Kind ProblemKind
	Node NodeKey
	Err  error

	// DependsOn is the failing dependency of a skipped instance.
	DependsOn *NodeKey
}

func (p Problem) String() string {
	switch p.Kind {
	case ProblemSkipped:
		return fmt.Sprintf("%s [skipped] depends on %s", p.Node, p.DependsOn)
	default:
		return fmt.Sprintf("%s [%s] %v", p.Node, p.Kind, p.Err)
	}
}

// dependencyFailure tells the instances above a failed node that the failure
// was already recorded.
type dependencyFailure struct {
	Node NodeKey
}

func (e *dependencyFailure) Error() string {
	return fmt.Sprintf("dependency %s failed", e.Node)
}

// validationRecorder collects the outcome of every instance built by a
// validating session.
type validationRecorder struct {
	graph    *graph.DependencyGraph
	problems []Problem
	recorded map[NodeKey]bool
	checked  map[NodeKey]bool
}

func newValidationRecorder() *validationRecorder {
	return &validationRecorder{
		graph:    graph.NewDependencyGraph(),
		recorded: make(map[NodeKey]bool),
		checked:  make(map[NodeKey]bool),
	}
}

func (r *validationRecorder) enter(parent *NodeKey, key NodeKey, label string) {
	r.graph.AddNode(key, label)
	if parent != nil {
		r.graph.AddEdge(*parent, key)
	}
}

// fail records err for key and returns the error the caller propagates.
func (r *validationRecorder) fail(key NodeKey, err error) error {
	if r.recorded[key] {
		return &dependencyFailure{Node: key}
	}
	r.recorded[key] = true

	var dep *dependencyFailure
	if errors.As(err, &dep) {
		failed := dep.Node
		r.graph.SetStatus(key, graph.Skipped)
		r.problems = append(r.problems, Problem{Kind: ProblemSkipped, Node: key, Err: err, DependsOn: &failed})
	} else {
		r.graph.SetStatus(key, graph.Failed)
		r.problems = append(r.problems, Problem{Kind: ProblemFailed, Node: key, Err: err})
	}

	return &dependencyFailure{Node: key}
}

// succeed marks key built and runs the object's own validation once.
func (r *validationRecorder) succeed(key NodeKey, value any) {
	if r.checked[key] {
		return
	}
	r.checked[key] = true

	v, ok := value.(Validator)
	if !ok {
		r.graph.SetStatus(key, graph.Built)
		return
	}

	if err := v.Validate(); err != nil {
		r.recorded[key] = true
		r.graph.SetStatus(key, graph.Invalid)
		r.problems = append(r.problems, Problem{
			Kind: ProblemInvalid,
			Node: key,
			Err:  &ValidationFailure{PluginType: key.Type, Instance: key.Name, Cause: err},
		})
		return
	}

	r.graph.SetStatus(key, graph.Built)
}

// ValidationReport is the outcome of Container.Validate.
type ValidationReport struct {
	graph    *graph.DependencyGraph
	problems []Problem
	checked  int
}

// Problems returns every recorded problem in the order found.
func (r *ValidationReport) Problems() []Problem {
	out := make([]Problem, len(r.problems))
	copy(out, r.problems)
	return out
}

// Failures returns the root failures and rejected objects.
func (r *ValidationReport) Failures() []Problem {
	return r.filter(func(p Problem) bool { return p.Kind != ProblemSkipped })
}

// Skipped returns the instances that failed because of a dependency.
func (r *ValidationReport) Skipped() []Problem {
	return r.filter(func(p Problem) bool { return p.Kind == ProblemSkipped })
}

func (r *ValidationReport) filter(keep func(Problem) bool) []Problem {
	var out []Problem
	for _, p := range r.problems {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Checked returns the number of instances the validation requested.
func (r *ValidationReport) Checked() int { return r.checked }

// OK reports whether every instance built and validated.
func (r *ValidationReport) OK() bool { return len(r.problems) == 0 }

// Err combines the root failures into one error, or returns nil.
func (r *ValidationReport) Err() error {
	var errs error
	for _, p := range r.Failures() {
		errs = multierr.Append(errs, problemError(p))
	}
	return errs
}

func problemError(p Problem) error {
	var (
		cycle   *CircularDependencyError
		invalid *ValidationFailure
		built   *BuildError
	)
	if errors.As(p.Err, &cycle) || errors.As(p.Err, &invalid) || errors.As(p.Err, &built) {
		return p.Err
	}

	return &BuildError{PluginType: p.Node.Type, Instance: p.Node.Name, Cause: p.Err}
}

// DependentsOf returns every instance observed to depend on key, directly or
// indirectly.
func (r *ValidationReport) DependentsOf(key NodeKey) []NodeKey {
	return r.graph.GetTransitiveDependents(key)
}

// Graph returns the dependency graph observed during validation.
func (r *ValidationReport) Graph() *graph.DependencyGraph { return r.graph }

// WriteText writes the problems followed by the observed dependency graph.
func (r *ValidationReport) WriteText(w io.Writer) error {
	if r.OK() {
		if _, err := fmt.Fprintf(w, "Validated %d instances, no problems found.\n\n", r.checked); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "Validated %d instances, %d problems:\n", r.checked, len(r.problems)); err != nil {
			return err
		}
		for _, p := range r.problems {
			if _, err := fmt.Fprintf(w, "  %s\n", p); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	return graph.NewVisualizer(r.graph).WriteText(w)
}

// WriteDOT writes the observed dependency graph in Graphviz DOT format,
// colored by outcome.
func (r *ValidationReport) WriteDOT(w io.Writer) error {
	return graph.NewVisualizer(r.graph).WriteDOT(w)
}

// Validate builds every instance of every registered plugin type in an
// isolated copy of c, with fresh caches and a fresh unit of work. It never
// stops on the first failure. Objects implementing Validator are asked to
// validate themselves. The caches of c are not touched.
func (c *Container) Validate(ctx context.Context) *ValidationReport {
	if ctx == nil {
		ctx = context.Background()
	}

	recorder := newValidationRecorder()
	report := &ValidationReport{graph: recorder.graph}

	if c.disposed.Load() {
		report.problems = []Problem{{Kind: ProblemFailed, Err: ErrContainerDisposed}}
		return report
	}

	clone := c.isolated()
	defer func() {
		root := clone
		for root.parent != nil {
			root = root.parent
		}
		_ = root.Close()
	}()

	ctx, scope := BeginScope(ctx)
	defer func() { _ = scope.Close() }()

	session := newBuildSession(ctx, clone, goroutineID())
	session.recorder = recorder
	defer func() { _ = clone.ReleaseThread() }()

	for _, t := range clone.graph.PluginTypes() {
		fam, err := clone.graph.FindFamily(t)
		if err != nil {
			continue
		}

		for _, inst := range fam.Instances() {
			report.checked++
			_, _ = session.Build(t, inst)
		}
	}

	report.problems = recorder.problems
	return report
}

// AssertConfigurationIsValid validates c and returns the combined root
// failures, or nil.
func (c *Container) AssertConfigurationIsValid(ctx context.Context) error {
	report := c.Validate(ctx)

	for _, p := range report.Failures() {
		c.options.logger.Warn("configuration problem",
			zap.String("plugin_type", formatType(p.Node.Type)),
			zap.String("instance", p.Node.Name),
			zap.String("kind", p.Kind.String()),
			zap.Error(p.Err),
		)
	}

	return report.Err()
}

// isolated copies c and its ancestors with fresh caches over the same
// graphs.
func (c *Container) isolated() *Container {
	var parent *Container
	if c.parent != nil {
		parent = c.parent.isolated()
	}

	opts := *c.options
	opts.metrics = nil
	opts.timeout = 0
	opts.retain = c.graph.isPrebuilt

	clone := newContainer(c.graph, parent, &opts, c.nested)
	if parent != nil {
		parent.children[clone] = struct{}{}
	}
	return clone
}
