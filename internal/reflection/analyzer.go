package reflection

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// In marks a struct as a parameter object. A constructor taking a single
// struct that embeds In has each exported field resolved as a dependency.
type In struct{}

var (
	inType  = reflect.TypeOf((*In)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Analyzer performs reflection-based analysis of constructors and setter
// targets. It caches analysis results for performance.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[uintptr]*ConstructorInfo

	setters sync.Map // reflect.Type -> []SetterInfo
}

// ConstructorInfo contains analyzed information about a constructor function.
type ConstructorInfo struct {
	Type           reflect.Type
	Value          reflect.Value
	Parameters     []ParameterInfo
	ResultType     reflect.Type
	HasErrorReturn bool
	IsParamObject  bool         // Takes a single In struct
	ParamType      reflect.Type // The In struct type when IsParamObject
}

// ParameterInfo describes a constructor parameter or field in an In struct.
type ParameterInfo struct {
	Type     reflect.Type
	Name     string // Field name for In structs
	Index    int    // Parameter index or field index
	Optional bool   // From optional:"true" tag
	Named    string // From name:"x" tag
}

// SetterInfo describes a struct field filled by setter injection.
type SetterInfo struct {
	Field    string
	Index    []int
	Type     reflect.Type
	Named    string
	Optional bool
}

// TagInfo contains parsed struct tag information.
type TagInfo struct {
	Optional bool
	Name     string
	Ignore   bool
}

// New creates a new Analyzer.
func New() *Analyzer {
	return &Analyzer{
		cache: make(map[uintptr]*ConstructorInfo),
	}
}

// Analyze analyzes a constructor function and extracts dependency information.
// Constructors return a single value, optionally followed by an error.
func (a *Analyzer) Analyze(constructor any) (*ConstructorInfo, error) {
	if constructor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	val := reflect.ValueOf(constructor)
	typ := val.Type()

	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %v", typ)
	}

	if val.IsNil() {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	// Closures built from one literal share a code pointer, so the cached
	// shape is copied and bound to this value.
	cacheKey := val.Pointer()

	a.mu.RLock()
	if cached, ok := a.cache[cacheKey]; ok && cached.Type == typ {
		a.mu.RUnlock()
		return cached.bind(val), nil
	}
	a.mu.RUnlock()

	info := &ConstructorInfo{
		Type: typ,
	}

	if err := analyzeReturns(info); err != nil {
		return nil, err
	}

	if err := analyzeParameters(info); err != nil {
		return nil, fmt.Errorf("failed to analyze parameters: %w", err)
	}

	a.mu.Lock()
	a.cache[cacheKey] = info
	a.mu.Unlock()

	return info.bind(val), nil
}

func (info *ConstructorInfo) bind(val reflect.Value) *ConstructorInfo {
	bound := *info
	bound.Value = val
	return &bound
}

func analyzeReturns(info *ConstructorInfo) error {
	fnType := info.Type

	switch fnType.NumOut() {
	case 0:
		return fmt.Errorf("constructor %v must return a value", fnType)
	case 1:
	case 2:
		if fnType.Out(1) != errType {
			return fmt.Errorf("second return value of %v must be error", fnType)
		}
		info.HasErrorReturn = true
	default:
		return fmt.Errorf("constructor %v returns too many values", fnType)
	}

	if fnType.Out(0) == errType {
		return fmt.Errorf("constructor %v only returns error", fnType)
	}

	info.ResultType = fnType.Out(0)
	return nil
}

func analyzeParameters(info *ConstructorInfo) error {
	fnType := info.Type

	if fnType.IsVariadic() {
		return fmt.Errorf("variadic constructors are not supported")
	}

	if fnType.NumIn() == 1 && hasEmbeddedIn(fnType.In(0)) {
		info.IsParamObject = true
		info.ParamType = fnType.In(0)
		return analyzeParamObject(info, fnType.In(0))
	}

	info.Parameters = make([]ParameterInfo, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		info.Parameters[i] = ParameterInfo{
			Type:  fnType.In(i),
			Index: i,
		}
	}

	return nil
}

func analyzeParamObject(info *ConstructorInfo, structType reflect.Type) error {
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}

	params := make([]ParameterInfo, 0, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		if !field.IsExported() {
			continue
		}

		if field.Anonymous && field.Type == inType {
			continue
		}

		tag := ParseFieldTags(field.Tag)
		if tag.Ignore {
			continue
		}

		params = append(params, ParameterInfo{
			Type:     field.Type,
			Name:     field.Name,
			Index:    i,
			Optional: tag.Optional,
			Named:    tag.Name,
		})
	}

	info.Parameters = params
	return nil
}

// ParseFieldTags parses the parameter object tags optional, name and inject:"-".
func ParseFieldTags(tag reflect.StructTag) TagInfo {
	info := TagInfo{}

	if val, ok := tag.Lookup("optional"); ok {
		info.Optional = val == "true"
	}

	if val, ok := tag.Lookup("name"); ok {
		info.Name = val
	}

	if val, ok := tag.Lookup("inject"); ok && val == "-" {
		info.Ignore = true
	}

	return info
}

// ParseInjectTag parses an inject tag value such as "name=Blue,optional".
func ParseInjectTag(value string) (TagInfo, error) {
	info := TagInfo{}

	if value == "-" {
		info.Ignore = true
		return info, nil
	}

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "optional":
			info.Optional = true
		case strings.HasPrefix(part, "name="):
			info.Name = strings.TrimPrefix(part, "name=")
			if info.Name == "" {
				return TagInfo{}, fmt.Errorf("empty name in inject tag %q", value)
			}
		default:
			return TagInfo{}, fmt.Errorf("unknown inject option %q", part)
		}
	}

	return info, nil
}

// Setters returns the fields of t tagged with inject, including fields
// promoted from embedded structs. t may be a struct or a pointer to one.
func (a *Analyzer) Setters(t reflect.Type) ([]SetterInfo, error) {
	if t == nil {
		return nil, fmt.Errorf("type cannot be nil")
	}

	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil, nil
	}

	if cached, ok := a.setters.Load(t); ok {
		return cached.([]SetterInfo), nil
	}

	var setters []SetterInfo
	for _, field := range reflect.VisibleFields(t) {
		if field.Anonymous {
			continue
		}

		value, ok := field.Tag.Lookup("inject")
		if !ok {
			continue
		}

		tag, err := ParseInjectTag(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		if tag.Ignore {
			continue
		}

		if !field.IsExported() {
			return nil, fmt.Errorf("field %s is tagged for injection but unexported", field.Name)
		}

		setters = append(setters, SetterInfo{
			Field:    field.Name,
			Index:    field.Index,
			Type:     field.Type,
			Named:    tag.Name,
			Optional: tag.Optional,
		})
	}

	actual, _ := a.setters.LoadOrStore(t, setters)
	return actual.([]SetterInfo), nil
}

// FieldByName returns the exported, settable field name of struct type t.
func FieldByName(t reflect.Type, name string) (reflect.StructField, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}

	field, ok := t.FieldByName(name)
	if !ok || !field.IsExported() {
		return reflect.StructField{}, false
	}

	return field, true
}

// Clear clears the analysis cache.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	a.cache = make(map[uintptr]*ConstructorInfo)
	a.mu.Unlock()

	a.setters.Range(func(k, _ any) bool {
		a.setters.Delete(k)
		return true
	})
}

// CacheSize returns the number of cached analyses.
func (a *Analyzer) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// hasEmbeddedIn checks if t is a struct embedding In.
func hasEmbeddedIn(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return false
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == inType {
			return true
		}
	}

	return false
}

// IsError reports whether t is the error interface.
func IsError(t reflect.Type) bool {
	return t == errType
}
