package plugraph

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/junioryono/plugraph/internal/typematch"
)

// PluginGraph is the registry behind a container: one PluginFamily per
// plugin type, the open generic families, global interceptors and the
// policies that derive families for unregistered types. A child graph
// shadows its parent family by family and uses its parent's policies until
// it changes them.
type PluginGraph struct {
	mu sync.RWMutex

	parent     *PluginGraph
	matcher    *typematch.Matcher
	generation *atomic.Uint64

	families map[reflect.Type]*PluginFamily
	open     map[typematch.OpenType]*PluginFamily
	closed   map[reflect.Type]closedFamily

	interceptors *interceptorLibrary
	policies     []FamilyPolicy
	ownPolicies  bool
}

// closedFamily is a family closed from an open generic, valid for one
// registration generation.
type closedFamily struct {
	generation uint64
	family     *PluginFamily
	err        error
}

func newPluginGraph(parent *PluginGraph) *PluginGraph {
	g := &PluginGraph{
		parent:       parent,
		families:     make(map[reflect.Type]*PluginFamily),
		open:         make(map[typematch.OpenType]*PluginFamily),
		closed:       make(map[reflect.Type]closedFamily),
		interceptors: newInterceptorLibrary(),
	}

	if parent != nil {
		g.matcher = parent.matcher
		g.generation = parent.generation
	} else {
		g.matcher = typematch.New()
		g.generation = new(atomic.Uint64)
		g.policies = defaultPolicies()
		g.ownPolicies = true
	}

	return g
}

// Parent returns the parent graph, or nil for a root graph.
func (g *PluginGraph) Parent() *PluginGraph { return g.parent }

// changed invalidates families closed from open generics across the graph tree.
func (g *PluginGraph) changed() {
	g.generation.Add(1)
}

func (g *PluginGraph) known(inst Instance) {
	if t := inst.ConcreteType(); t != nil {
		g.matcher.Known(t)
	}
	if generic, ok := inst.(*GenericInstance); ok {
		g.matcher.Known(generic.concreteTypes()...)
	}
}

// For returns the local family for pluginType, creating it on first use. In a
// child graph a new family starts with a copy of the parent's registrations.
func (g *PluginGraph) For(pluginType reflect.Type) *PluginFamily {
	g.mu.RLock()
	fam, ok := g.families[pluginType]
	g.mu.RUnlock()
	if ok && !fam.derived() {
		return fam
	}

	var inherited *PluginFamily
	if g.parent != nil {
		inherited, _ = g.parent.FindFamily(pluginType)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if fam, ok := g.families[pluginType]; ok && !fam.derived() {
		return fam
	}

	fam = newPluginFamily(pluginType, g)
	if inherited != nil {
		fam.inheritFrom(inherited)
	}

	g.families[pluginType] = fam
	g.matcher.Known(pluginType)
	g.changed()

	return fam
}

// ForOpen returns the local open generic family for open, creating it on
// first use.
func (g *PluginGraph) ForOpen(open typematch.OpenType) *PluginFamily {
	g.mu.Lock()
	defer g.mu.Unlock()

	fam, ok := g.open[open]
	if !ok {
		fam = newOpenFamily(open, g)
		g.open[open] = fam
		g.changed()
	}

	return fam
}

// family returns the local family for pluginType.
func (g *PluginGraph) family(pluginType reflect.Type) *PluginFamily {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.families[pluginType]
}

// HasFamily reports whether pluginType is registered in this graph or an
// ancestor, not counting families derived by policies.
func (g *PluginGraph) HasFamily(pluginType reflect.Type) bool {
	for cur := g; cur != nil; cur = cur.parent {
		if fam := cur.family(pluginType); fam != nil && !fam.derived() {
			return true
		}
	}
	return false
}

// FindFamily returns the family answering requests for pluginType: a local
// family, else one closed from a local open generic, else the same search in
// the parent graph, else a family derived by the nearest graph that owns a
// policy list. It returns a ConfigurationError when nothing applies.
func (g *PluginGraph) FindFamily(pluginType reflect.Type) (*PluginFamily, error) {
	if pluginType == nil {
		return nil, ErrPluginTypeNil
	}

	pg := g.policyGraph()
	for cur := g; cur != nil; cur = cur.parent {
		// families derived above pg came from policies pg replaced
		if fam := cur.family(pluginType); fam != nil && (!fam.derived() || cur == pg) {
			return fam, nil
		}

		if fam, err := cur.closeFamily(pluginType); fam != nil || err != nil {
			return fam, err
		}
	}

	for _, policy := range pg.policyList() {
		if !policy.AppliesTo(pluginType) {
			continue
		}

		inst := policy.Build(pluginType)
		if inst == nil {
			continue
		}

		pg.mu.Lock()
		fam, ok := pg.families[pluginType]
		if !ok {
			fam = newPluginFamily(pluginType, pg)
			fam.byPolicy = true
			fam.addLocked(inst, nil)
			fam.defaultName = inst.Name()
			pg.families[pluginType] = fam
		}
		pg.mu.Unlock()

		return fam, nil
	}

	return nil, &ConfigurationError{
		Code:       CodeNoDefaultInstance,
		PluginType: pluginType,
		Cause:      ErrNoDefaultInstance,
		Available:  g.PluginTypes(),
	}
}

// closeFamily closes a local open family for the closed plugin type t. It
// returns nil, nil when no local open family matches t.
func (g *PluginGraph) closeFamily(t reflect.Type) (*PluginFamily, error) {
	open, ok := typematch.OpenTypeOf(t)
	if !ok {
		return nil, nil
	}

	g.mu.RLock()
	openFam, ok := g.open[open]
	entry, cached := g.closed[t]
	g.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	gen := g.generation.Load()
	if cached && entry.generation == gen {
		return entry.family, entry.err
	}

	fam, err := g.close(openFam, t)

	g.mu.Lock()
	g.closed[t] = closedFamily{generation: gen, family: fam, err: err}
	g.mu.Unlock()

	return fam, err
}

// close builds the closed family for t from the templates of openFam. When
// several candidates close t, a single non-generic candidate becomes the
// default; otherwise the open family's default is used if it closes, and the
// family is ambiguous if not.
func (g *PluginGraph) close(openFam *PluginFamily, t reflect.Type) (*PluginFamily, error) {
	requestedOpen := openFam.open

	fam := newPluginFamily(t, g)
	fam.lifecycle = openFam.Lifecycle()
	fam.interceptors = openFam.Interceptors()

	openDefault := openFam.Default()
	var defaultName string
	var nonGeneric []Instance

	for _, inst := range openFam.Instances() {
		var closed Instance
		switch v := inst.(type) {
		case *GenericInstance:
			c, ok := v.CloseFor(t, g.matcher)
			if !ok {
				continue
			}
			closed = c
		default:
			ct := inst.ConcreteType()
			if ct == nil || !g.matcher.CanClose(requestedOpen, t, ct) {
				continue
			}
			closed = inst
			if !typematch.IsGeneric(ct) {
				nonGeneric = append(nonGeneric, inst)
			}
		}

		fam.addLocked(closed, nil)
		if openDefault != nil && inst.Name() == openDefault.Name() {
			defaultName = closed.Name()
		}
	}

	fam.missing = openFam.missing

	switch {
	case len(fam.instances) == 0:
		return nil, &ConfigurationError{Code: CodeCannotClose, PluginType: t, Cause: ErrCannotClose}
	case len(nonGeneric) == 1:
		fam.defaultName = nonGeneric[0].Name()
	case len(fam.instances) == 1:
		fam.defaultName = fam.instances[0].Name()
	case defaultName != "":
		fam.defaultName = defaultName
	default:
		fam.ambiguous = true
	}

	return fam, nil
}

// isPrebuilt reports whether key was cached from a pre-built object. Such
// objects belong to the containers sharing the graph, not to a copy.
func (g *PluginGraph) isPrebuilt(key CacheKey) bool {
	fam, err := g.FindFamily(key.PluginType)
	if err != nil {
		return false
	}

	inst, ok := fam.FindInstance(key.Instance)
	if !ok {
		return false
	}

	_, prebuilt := inst.(*ObjectInstance)
	return prebuilt
}

// Families returns the local families ordered by plugin type name.
func (g *PluginGraph) Families() []*PluginFamily {
	g.mu.RLock()
	out := make([]*PluginFamily, 0, len(g.families)+len(g.open))
	for _, fam := range g.families {
		out = append(out, fam)
	}
	for _, fam := range g.open {
		out = append(out, fam)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].label() < out[j].label()
	})

	return out
}

// PluginTypes returns every registered closed plugin type of this graph and
// its ancestors, ordered by name.
func (g *PluginGraph) PluginTypes() []reflect.Type {
	seen := make(map[reflect.Type]struct{})
	var out []reflect.Type

	for cur := g; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for t, fam := range cur.families {
			if fam.derived() {
				continue
			}
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
		cur.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})

	return out
}

// Intercept adds global interceptors.
func (g *PluginGraph) Intercept(interceptors ...Interceptor) {
	g.interceptors.add(interceptors...)
}

// interceptorsFor returns the global interceptors matching pluginType, from
// the root graph down to g.
func (g *PluginGraph) interceptorsFor(pluginType reflect.Type) CompoundInterceptor {
	var chain []*PluginGraph
	for cur := g; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}

	var out CompoundInterceptor
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].interceptors.compoundFor(pluginType)...)
	}
	return out
}

// policyGraph returns the graph whose policies apply to g: g itself once it
// has changed its policies, else the nearest such ancestor.
func (g *PluginGraph) policyGraph() *PluginGraph {
	for cur := g; ; cur = cur.parent {
		cur.mu.RLock()
		own := cur.ownPolicies
		cur.mu.RUnlock()

		if own || cur.parent == nil {
			return cur
		}
	}
}

func (g *PluginGraph) policyList() []FamilyPolicy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policies
}

// ownPolicyList makes g's policies its own, starting from the ones it
// inherited. Callers hold g.mu.
func (g *PluginGraph) ownPolicyList(inherited []FamilyPolicy) {
	if g.ownPolicies {
		return
	}
	g.policies = append([]FamilyPolicy(nil), inherited...)
	g.ownPolicies = true
}

func (g *PluginGraph) addPolicy(p FamilyPolicy) {
	inherited := g.policyGraph().policyList()

	g.mu.Lock()
	g.ownPolicyList(inherited)
	g.policies = append(g.policies, p)
	g.mu.Unlock()
}

func (g *PluginGraph) clearPolicies() {
	g.mu.Lock()
	g.ownPolicies = true
	g.policies = nil
	for t, fam := range g.families {
		if fam.derived() {
			delete(g.families, t)
		}
	}
	g.mu.Unlock()
}
