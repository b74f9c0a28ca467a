package plugraph

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Model is a read-only snapshot of the registrations visible from a
// container, for diagnostics and external browsers.
type Model struct {
	Container   string            `yaml:"container"`
	PluginTypes []PluginTypeModel `yaml:"plugin_types"`
}

// PluginTypeModel describes one family.
type PluginTypeModel struct {
	Type       reflect.Type    `yaml:"-"`
	PluginType string          `yaml:"plugin_type"`
	Open       bool            `yaml:"open,omitempty"`
	Lifecycle  string          `yaml:"lifecycle"`
	Default    string          `yaml:"default,omitempty"`
	Instances  []InstanceModel `yaml:"instances"`
}

// InstanceModel describes one instance of a family.
type InstanceModel struct {
	Name         string `yaml:"name"`
	ConcreteType string `yaml:"concrete_type,omitempty"`
	Description  string `yaml:"description"`
	Lifecycle    string `yaml:"lifecycle,omitempty"`
	Inherited    bool   `yaml:"inherited,omitempty"`
}

// Model returns the registrations visible from c, plugin types sorted by
// name and open generic families last.
func (c *Container) Model() *Model {
	m := &Model{Container: c.id}

	for _, t := range c.graph.PluginTypes() {
		fam, err := c.graph.FindFamily(t)
		if err != nil {
			continue
		}
		m.PluginTypes = append(m.PluginTypes, familyModel(fam))
	}

	seen := make(map[OpenType]struct{})
	var open []PluginTypeModel
	for g := c.graph; g != nil; g = g.parent {
		for _, fam := range g.Families() {
			if !fam.IsOpen() {
				continue
			}
			if _, ok := seen[fam.Open()]; ok {
				continue
			}
			seen[fam.Open()] = struct{}{}
			open = append(open, familyModel(fam))
		}
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].PluginType < open[j].PluginType
	})

	m.PluginTypes = append(m.PluginTypes, open...)
	return m
}

func familyModel(fam *PluginFamily) PluginTypeModel {
	pm := PluginTypeModel{
		Type:       fam.PluginType(),
		PluginType: fam.label(),
		Open:       fam.IsOpen(),
		Lifecycle:  fam.Lifecycle().Name(),
	}

	if def := fam.Default(); def != nil {
		pm.Default = def.Name()
	}

	for _, inst := range fam.Instances() {
		im := InstanceModel{
			Name:        inst.Name(),
			Description: inst.Description(),
			Inherited:   fam.IsInherited(inst.Name()),
		}
		if t := inst.ConcreteType(); t != nil {
			im.ConcreteType = formatType(t)
		}
		if l := inst.Lifecycle(); l != nil {
			im.Lifecycle = l.Name()
		}
		pm.Instances = append(pm.Instances, im)
	}

	return pm
}

// Find returns the model of pluginType, or nil.
func (m *Model) Find(pluginType reflect.Type) *PluginTypeModel {
	for i := range m.PluginTypes {
		if m.PluginTypes[i].Type == pluginType && pluginType != nil {
			return &m.PluginTypes[i]
		}
	}
	return nil
}

// WriteText writes the model as a table.
func (m *Model) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "PluginType\tLifecycle\tName\tDescription")
	fmt.Fprintln(tw, "----------\t---------\t----\t-----------")

	for _, pm := range m.PluginTypes {
		if len(pm.Instances) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t\t(none)\n", pm.PluginType, pm.Lifecycle)
			continue
		}

		for i, im := range pm.Instances {
			pluginType, lifecycle := pm.PluginType, pm.Lifecycle
			if i > 0 {
				pluginType = ""
			}
			if im.Lifecycle != "" {
				lifecycle = im.Lifecycle
			}

			name := im.Name
			if im.Name == pm.Default {
				name += " (default)"
			}
			if im.Inherited {
				name += " (inherited)"
			}

			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pluginType, lifecycle, name, im.Description)
		}
	}

	return tw.Flush()
}

// YAML encodes the model as YAML.
func (m *Model) YAML() ([]byte, error) {
	return yaml.Marshal(m)
}
