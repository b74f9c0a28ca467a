package plugraph

import (
	"fmt"
	"reflect"

	"go.uber.org/dig"
)

var digInType = reflect.TypeFor[dig.In]()

// DigInstance resolves the requested plugin type from a dig container, so
// graphs already assembled with go.uber.org/dig can be plugged in.
type DigInstance struct {
	instanceBase
	container *dig.Container
	digName   string
}

// Dig resolves the requested plugin type from c.
func Dig(c *dig.Container, opts ...InstanceOption) *DigInstance {
	return &DigInstance{
		instanceBase: newInstanceBase(opts),
		container:    c,
	}
}

// DigNamed resolves the value provided to c with dig.Name(name).
func DigNamed(c *dig.Container, name string, opts ...InstanceOption) *DigInstance {
	d := Dig(c, opts...)
	d.digName = name
	return d
}

func (d *DigInstance) ConcreteType() reflect.Type { return nil }

func (d *DigInstance) Description() string {
	if d.digName != "" {
		return fmt.Sprintf("dig container, name %q", d.digName)
	}
	return "dig container"
}

func (d *DigInstance) invalid() error {
	if d.container == nil {
		return ErrContainerNil
	}
	return nil
}

func (d *DigInstance) Build(pluginType reflect.Type, _ *BuildSession) (any, error) {
	if d.container == nil {
		return nil, ErrContainerNil
	}

	param := pluginType
	if d.digName != "" {
		param = reflect.StructOf([]reflect.StructField{
			{Name: "In", Type: digInType, Anonymous: true},
			{Name: "Value", Type: pluginType, Tag: reflect.StructTag(fmt.Sprintf(`name:%q`, d.digName))},
		})
	}

	var out reflect.Value
	fn := reflect.MakeFunc(reflect.FuncOf([]reflect.Type{param}, nil, false), func(args []reflect.Value) []reflect.Value {
		out = args[0]
		return nil
	})

	if err := d.container.Invoke(fn.Interface()); err != nil {
		return nil, fmt.Errorf("dig: %w", err)
	}

	if d.digName != "" {
		out = out.FieldByName("Value")
	}

	return out.Interface(), nil
}
