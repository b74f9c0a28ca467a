package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError reports a cycle of instances. Path lists the chain
// in build order, starting and implicitly ending with Node.
type CircularDependencyError struct {
	Node NodeKey
	Path []NodeKey
}

func (e CircularDependencyError) Error() string {
	chain := e.Path
	if len(chain) == 0 {
		chain = []NodeKey{e.Node}
	}

	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")
	for _, node := range chain {
		fmt.Fprintf(&b, "    %s\n      ↓\n", node)
	}
	fmt.Fprintf(&b, "    %s (cycle)\n", chain[0])

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Inject a func() T factory to resolve one side lazily\n")
	b.WriteString("  • Point one of the references at a different named instance\n")
	b.WriteString("  • Restructure to remove the circular relationship\n")

	return b.String()
}

// Contains reports whether the cycle passes through an instance with the given name.
func (e CircularDependencyError) Contains(name string) bool {
	if e.Node.Name == name {
		return true
	}

	for _, k := range e.Path {
		if k.Name == name {
			return true
		}
	}

	return false
}
