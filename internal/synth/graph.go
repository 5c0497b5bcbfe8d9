package synth

import (
	"io"
	"sort"
	"strings"

	"github.com/emicklei/dot"
)

// Format is the output format of a rendered graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid for markdown rendering.
	FormatMermaid Format = "mermaid"
)

// Grapher renders the dependency graph of an Inventory.
type Grapher struct {
	Format Format

	// ClusterByService groups resources by provider module (ec2, rds, ...).
	ClusterByService bool
}

// Render writes the graph of inv to w. Edges point from a resource to what it
// depends on; parent links that are not also dependencies are dashed.
func (g *Grapher) Render(inv *Inventory, w io.Writer) error {
	graph := g.build(inv)

	var output string
	if g.Format == FormatMermaid {
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	} else {
		output = graph.String()
	}

	_, err := io.WriteString(w, output)
	return err
}

// RenderString is Render into a string.
func (g *Grapher) RenderString(inv *Inventory) (string, error) {
	var sb strings.Builder
	if err := g.Render(inv, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (g *Grapher) build(inv *Inventory) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")
	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})

	nodes := make(map[string]dot.Node, len(inv.Resources))
	if g.ClusterByService {
		byService := make(map[string][]Resource)
		for _, r := range inv.Resources {
			svc := service(r.Type)
			byService[svc] = append(byService[svc], r)
		}
		services := make([]string, 0, len(byService))
		for svc := range byService {
			services = append(services, svc)
		}
		sort.Strings(services)

		for _, svc := range services {
			sub := graph.Subgraph("cluster_"+svc, dot.ClusterOption{})
			sub.Attr("label", svc)
			sub.Attr("style", "rounded")
			for _, r := range byService[svc] {
				nodes[r.Name] = labelled(sub.Node(r.Name), r)
			}
		}
	} else {
		for _, r := range inv.Resources {
			nodes[r.Name] = labelled(graph.Node(r.Name), r)
		}
	}

	for _, r := range inv.Resources {
		from := nodes[r.Name]
		deps := make(map[string]bool, len(r.DependsOn))
		for _, d := range r.DependsOn {
			to, ok := nodes[d]
			if !ok {
				continue
			}
			deps[d] = true
			graph.Edge(from, to)
		}
		if to, ok := nodes[r.Parent]; ok && !deps[r.Parent] {
			graph.Edge(from, to).Attr("style", "dashed")
		}
	}
	return graph
}

func labelled(n dot.Node, r Resource) dot.Node {
	return n.Label(r.Name + "\\n[" + r.Type + "]")
}
