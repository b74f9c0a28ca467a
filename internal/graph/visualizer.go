package graph

import (
	"fmt"
	"io"
	"strings"
)

// Visualizer provides methods to visualize the dependency graph
type Visualizer struct {
	graph *DependencyGraph
}

// NewVisualizer creates a new graph visualizer
func NewVisualizer(graph *DependencyGraph) *Visualizer {
	return &Visualizer{graph: graph}
}

// WriteDOT writes the graph in Graphviz DOT format
func (v *Visualizer) WriteDOT(w io.Writer) error {
	v.graph.mu.RLock()
	defer v.graph.mu.RUnlock()

	nodes := v.graph.sortedByKey()

	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	nodeIDs := make(map[NodeKey]string, len(nodes))
	for i, node := range nodes {
		nodeID := fmt.Sprintf("n%d", i)
		nodeIDs[node.Key] = nodeID

		fmt.Fprintf(&b, "  %s [label=\"%s\", fillcolor=\"%s\", style=filled];\n",
			nodeID, v.formatNodeLabel(node), statusColor(node.Status))
	}

	for _, node := range nodes {
		for _, to := range node.Dependencies {
			fmt.Fprintf(&b, "  %s -> %s;\n", nodeIDs[node.Key], nodeIDs[to])
		}
	}

	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteText writes the graph grouped by dependency depth.
func (v *Visualizer) WriteText(w io.Writer) error {
	v.graph.CalculateDepths()

	v.graph.mu.RLock()
	defer v.graph.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Dependency Graph:\n")
	b.WriteString("=================\n\n")

	groups := make(map[int][]*Node)
	maxDepth := 0
	for _, node := range v.graph.sortedByKey() {
		groups[node.Depth] = append(groups[node.Depth], node)
		if node.Depth > maxDepth {
			maxDepth = node.Depth
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		nodes, ok := groups[depth]
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "Level %d:\n", depth)
		b.WriteString("--------\n")
		for _, node := range nodes {
			writeNodeDetails(&b, node, "  ")
		}
		b.WriteString("\n")
	}

	if cycleNodes, ok := groups[-1]; ok {
		b.WriteString("Nodes in Cycles:\n")
		b.WriteString("----------------\n")
		for _, node := range cycleNodes {
			writeNodeDetails(&b, node, "  ")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Total nodes: %d\n", len(v.graph.nodes))

	_, err := io.WriteString(w, b.String())
	return err
}

func (v *Visualizer) formatNodeLabel(node *Node) string {
	typeStr := fmt.Sprintf("%v", node.Key.Type)

	// drop the package qualifier for readability
	if i := strings.LastIndex(typeStr, "."); i >= 0 && !strings.Contains(typeStr[i:], "]") {
		typeStr = typeStr[i+1:]
	}

	label := typeStr
	if node.Key.Name != "" {
		label += "\\n" + node.Key.Name
	}

	return strings.ReplaceAll(label, `"`, `\"`)
}

func statusColor(s Status) string {
	switch s {
	case Built:
		return "lightgreen"
	case Failed:
		return "salmon"
	case Invalid:
		return "gold"
	case Skipped:
		return "lightgray"
	default:
		return "white"
	}
}

func writeNodeDetails(b *strings.Builder, node *Node, indent string) {
	fmt.Fprintf(b, "%s%s [%s]\n", indent, node.Key.String(), node.Status)

	if node.Label != "" {
		fmt.Fprintf(b, "%s  %s\n", indent, node.Label)
	}

	if len(node.Dependencies) > 0 {
		deps := make([]string, len(node.Dependencies))
		for i, dep := range node.Dependencies {
			deps[i] = dep.String()
		}
		fmt.Fprintf(b, "%s  Dependencies: [%s]\n", indent, strings.Join(deps, ", "))
	}

	if len(node.Dependents) > 0 {
		deps := make([]string, len(node.Dependents))
		for i, dep := range node.Dependents {
			deps[i] = dep.String()
		}
		fmt.Fprintf(b, "%s  Dependents: [%s]\n", indent, strings.Join(deps, ", "))
	}
}
