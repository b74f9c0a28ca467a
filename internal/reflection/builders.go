package reflection

import (
	"fmt"
	"reflect"
)

// DependencyResolver supplies the value of one parameter.
type DependencyResolver func(param ParameterInfo) (reflect.Value, error)

// ParamObjectBuilder builds parameter objects (In structs) with resolved dependencies.
type ParamObjectBuilder struct{}

// NewParamObjectBuilder creates a new parameter object builder.
func NewParamObjectBuilder() *ParamObjectBuilder {
	return &ParamObjectBuilder{}
}

// Build creates and populates an In struct. Fields whose resolver returns an
// invalid value are left at their zero value.
func (b *ParamObjectBuilder) Build(info *ConstructorInfo, resolve DependencyResolver) (reflect.Value, error) {
	if resolve == nil {
		return reflect.Value{}, fmt.Errorf("resolver cannot be nil")
	}

	if info == nil || !info.IsParamObject {
		return reflect.Value{}, fmt.Errorf("constructor does not take a parameter object")
	}

	structType := info.ParamType
	isPtr := structType.Kind() == reflect.Pointer
	if isPtr {
		structType = structType.Elem()
	}

	structPtr := reflect.New(structType)
	structValue := structPtr.Elem()

	for _, param := range info.Parameters {
		value, err := resolve(param)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("failed to resolve field %s: %w", param.Name, err)
		}

		if !value.IsValid() {
			continue
		}

		structValue.Field(param.Index).Set(value)
	}

	if isPtr {
		return structPtr, nil
	}

	return structValue, nil
}

// Arguments resolves the positional arguments of a constructor, or its single
// parameter object.
func Arguments(info *ConstructorInfo, resolve DependencyResolver) ([]reflect.Value, error) {
	if info.IsParamObject {
		obj, err := NewParamObjectBuilder().Build(info, resolve)
		if err != nil {
			return nil, err
		}

		return []reflect.Value{obj}, nil
	}

	args := make([]reflect.Value, len(info.Parameters))
	for i, param := range info.Parameters {
		value, err := resolve(param)
		if err != nil {
			return nil, err
		}

		if !value.IsValid() {
			value = reflect.Zero(param.Type)
		}

		args[i] = value
	}

	return args, nil
}

// Coerce adapts v to type t by assignment or conversion. Untyped nil becomes
// the zero value of t.
func Coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}

	val := reflect.ValueOf(v)
	if val.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(val)
		return out, nil
	}

	if val.Type().ConvertibleTo(t) && convertible(val.Kind(), t.Kind()) {
		return val.Convert(t), nil
	}

	return reflect.Value{}, fmt.Errorf("cannot use %v as %v", val.Type(), t)
}

// convertible rejects conversions that compile but change meaning, such as
// int to string.
func convertible(from, to reflect.Kind) bool {
	if to == reflect.String {
		return from == reflect.String || from == reflect.Slice
	}

	return true
}

// SetField assigns v to the field of target described by setter. target must
// be an addressable struct or a pointer to a struct.
func SetField(target reflect.Value, setter SetterInfo, v reflect.Value) error {
	if target.Kind() == reflect.Pointer {
		if target.IsNil() {
			return fmt.Errorf("cannot inject into nil %v", target.Type())
		}
		target = target.Elem()
	}

	if !target.CanAddr() {
		return fmt.Errorf("cannot inject into unaddressable %v", target.Type())
	}

	field, err := target.FieldByIndexErr(setter.Index)
	if err != nil {
		return fmt.Errorf("field %s: %w", setter.Field, err)
	}

	if !field.CanSet() {
		return fmt.Errorf("field %s cannot be set", setter.Field)
	}

	if !v.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	field.Set(v)
	return nil
}
