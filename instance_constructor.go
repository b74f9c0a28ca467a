package plugraph

import (
	"fmt"
	"reflect"

	"github.com/junioryono/plugraph/internal/reflection"
)

// analyzer memoises constructor and setter analysis for the process.
var analyzer = reflection.New()

// ConstructorInstance builds objects by calling a Go function whose
// parameters are autowired by type.
type ConstructorInstance struct {
	instanceBase
	fn   any
	info *reflection.ConstructorInfo
	err  error

	positional map[int]any
	fields     map[string]any
	byType     map[reflect.Type]any
	properties map[string]any
}

// Constructor registers fn, a function returning T or (T, error).
func Constructor(fn any, opts ...InstanceOption) *ConstructorInstance {
	c := &ConstructorInstance{
		instanceBase: newInstanceBase(opts),
		fn:           fn,
	}

	info, err := analyzer.Analyze(fn)
	if err != nil {
		c.err = &ReflectionAnalysisError{Constructor: fn, Operation: "analyze", Cause: err}
	} else {
		c.info = info
	}

	return c
}

// ArgAt overrides the dependency passed as parameter i.
func (c *ConstructorInstance) ArgAt(i int, dep any) *ConstructorInstance {
	if c.positional == nil {
		c.positional = make(map[int]any)
	}
	c.positional[i] = dep
	return c
}

// Arg overrides the parameter object field name.
func (c *ConstructorInstance) Arg(name string, dep any) *ConstructorInstance {
	if c.fields == nil {
		c.fields = make(map[string]any)
	}
	c.fields[name] = dep
	return c
}

// Dependency overrides every parameter of type t.
func (c *ConstructorInstance) Dependency(t reflect.Type, dep any) *ConstructorInstance {
	if c.byType == nil {
		c.byType = make(map[reflect.Type]any)
	}
	c.byType[t] = dep
	return c
}

// Property sets the dependency injected into field of the constructed
// object after construction.
func (c *ConstructorInstance) Property(field string, dep any) *ConstructorInstance {
	if c.properties == nil {
		c.properties = make(map[string]any)
	}
	c.properties[field] = dep
	return c
}

func (c *ConstructorInstance) ConcreteType() reflect.Type {
	if c.info == nil {
		return nil
	}
	return c.info.ResultType
}

func (c *ConstructorInstance) Description() string {
	if c.info == nil {
		return "Constructor: invalid"
	}
	return fmt.Sprintf("Constructor: %s", c.info.Type)
}

func (c *ConstructorInstance) invalid() error {
	return c.err
}

// override returns the explicit dependency for param, if any.
func (c *ConstructorInstance) override(param reflection.ParameterInfo) (any, bool) {
	if c.info.IsParamObject {
		if dep, ok := c.fields[param.Name]; ok {
			return dep, true
		}
	} else if dep, ok := c.positional[param.Index]; ok {
		return dep, true
	}

	dep, ok := c.byType[param.Type]
	return dep, ok
}

func (c *ConstructorInstance) Build(_ reflect.Type, s *BuildSession) (any, error) {
	if c.err != nil {
		return nil, c.err
	}

	args, err := reflection.Arguments(c.info, func(param reflection.ParameterInfo) (reflect.Value, error) {
		if dep, ok := c.override(param); ok {
			return s.resolveOverride(param.Type, dep)
		}
		return s.autowire(param.Type, param.Named, param.Optional)
	})
	if err != nil {
		return nil, err
	}

	out := c.info.Value.Call(args)
	if c.info.HasErrorReturn && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}

	result := out[0]
	if err := s.injectResult(&result, c.properties); err != nil {
		return nil, err
	}

	return result.Interface(), nil
}
