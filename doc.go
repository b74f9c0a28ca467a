// Package plugraph provides a runtime dependency-resolution and object-lifecycle engine.
// A registry maps plugin types to construction recipes; a container builds fully wired
// object graphs from it on demand and caches each object according to its lifecycle.
//
// # Overview
//
// plugraph gives you:
//   - Plugin families: many named instances per plugin type, one of them the default
//   - Constructor, literal, struct, lambda, reference and enumerable recipes
//   - Lifecycles: Transient, Singleton, ThreadScoped, ContextScoped and Hybrid
//   - Open generic registrations closed at resolution time
//   - Setter injection through inject struct tags
//   - Interceptors that enrich or replace objects after construction
//   - Parent, child and nested containers
//   - Validation of a whole configuration without stopping at the first failure
//
// # Basic Usage
//
// Create a registry, register plugin types, build a container, and resolve:
//
//	r := plugraph.NewRegistry()
//	plugraph.For[Widget](r).Use(NewColorWidget)
//	plugraph.For[*Settings](r).Use(&Settings{Color: "red"})
//
//	c, err := r.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	widget, err := plugraph.Resolve[Widget](ctx, c)
//
// # Plugin Families
//
// Every plugin type owns a family of instances. Use sets the default; Add registers
// further named instances:
//
//	plugraph.For[Rule](r).
//	    Use(NewColorRule, plugraph.Named("Red")).
//	    Add(NewColorRule, plugraph.Named("Blue"))
//
//	blue, err := plugraph.ResolveNamed[Rule](ctx, c, "Blue")
//	rules, err := plugraph.ResolveAll[Rule](ctx, c)
//
// Registering a name again replaces the instance.
//
// # Dependencies
//
// Constructor parameters are autowired by type. Explicit dependencies override the
// autowired ones by position, by parameter-object field or by type:
//
//	plugraph.Constructor(NewRuleSet).
//	    ArgAt(0, plugraph.Reference("Blue")).
//	    Dependency(reflect.TypeFor[*Settings](), &Settings{Color: "green"})
//
// Struct fields tagged with inject are filled after construction:
//
//	type Report struct {
//	    Rule   Rule   `inject:"name=Blue"`
//	    Logger Logger `inject:"optional"`
//	}
//
// # Lifecycles
//
//   - Transient: a new object per request, reused inside one nested container
//   - Singleton: one object per container that owns the registration
//   - ThreadScoped: one object per goroutine until ReleaseThread
//   - ContextScoped: one object per unit of work started with BeginScope
//   - HybridScoped: ContextScoped when a unit of work is active, else Singleton
//
// # Generics
//
// Go has no runtime instantiation of generic types, so open registrations are
// closed against the closed types the registry knows about:
//
//	r.ConnectImplementationsToTypesClosing(plugraph.OpenTypeOf[Repository[string]](),
//	    NewUserRepository, NewOrderRepository)
//
// # Containers
//
// CreateChildContainer shadows registrations family by family; GetNestedContainer
// gives one unit of work its own Transient and ContextScoped caches. Closing a
// container disposes every cached object implementing Disposable, newest first.
//
// # Validation
//
// Validate builds every registered instance in an isolated copy of the container and
// reports root failures, rejected objects and the instances skipped because of them:
//
//	if err := c.AssertConfigurationIsValid(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # HTTP
//
// The chi, echo, gin and fiber subpackages serve each request with a nested
// container and a unit of work, and resolve controllers from it with Handle.
//
// # Error Handling
//
// plugraph provides detailed error types for different failure scenarios:
//   - ConfigurationError: nothing registered can answer a request (codes 104, 200, 202, 203, 207)
//   - CircularDependencyError: an instance depends on itself
//   - BuildError: an instance could not be constructed
//   - ValidationFailure: a built object rejected itself
//   - TimeoutError: a resolution did not finish in time
//   - DisposalError: objects failed to close
package plugraph
