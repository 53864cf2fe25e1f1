// Package graph reconstructs the output dependency graph from persisted
// metadata and answers staleness queries over it.
package graph

import (
	"os"
	"strings"

	"github.com/simon020286/biopipe/meta"
	"github.com/simon020286/biopipe/models"
)

// Node is a vertex in the dependency graph. It holds one or more output
// records sharing the same position in the DAG, with both edge directions
// materialised.
type Node struct {
	Values   []*meta.OutputMeta
	Parents  []*Node
	Children []*Node
}

// ValueFor returns the output record in this node for the given path,
// or nil when the node does not hold it.
func (n *Node) ValueFor(path string) *meta.OutputMeta {
	norm := meta.NormalisePath(path)
	for _, v := range n.Values {
		if v.OutputPath == norm {
			return v
		}
	}
	return nil
}

func (n *Node) producesInputOf(p *meta.OutputMeta) bool {
	for _, v := range n.Values {
		for _, in := range p.Inputs {
			if meta.NormalisePath(in) == v.OutputPath {
				return true
			}
		}
	}
	return false
}

// Graph is the dependency graph over a full set of output records.
// It is rebuilt from disk for each decision pass and read-only afterwards.
type Graph struct {
	roots []*Node
	nodes []*Node
	index map[string]*Node
}

// Roots returns the nodes whose inputs are all external.
func (g *Graph) Roots() []*Node { return g.roots }

// Build layers the given output records into a graph. Records are taken
// in the order produced by the metadata store (ascending timestamp).
// A set of records that cannot be layered is a cycle and a hard error.
func Build(entries []*meta.OutputMeta) (*Graph, error) {
	g := &Graph{index: make(map[string]*Node)}

	remaining := append([]*meta.OutputMeta(nil), entries...)
	for len(remaining) > 0 {
		pending := make(map[string]bool, len(remaining))
		for _, e := range remaining {
			pending[e.OutputPath] = true
		}

		var frontier, rest []*meta.OutputMeta
		for _, e := range remaining {
			if dependsOnPending(e, pending) {
				rest = append(rest, e)
			} else {
				frontier = append(frontier, e)
			}
		}
		if len(frontier) == 0 {
			var paths []string
			for _, e := range remaining {
				paths = append(paths, e.OutputPath)
			}
			return nil, &models.CycleError{Remaining: paths}
		}

		g.attachLayer(frontier)
		remaining = rest
	}

	g.computeUpToDate()
	return g, nil
}

func dependsOnPending(e *meta.OutputMeta, pending map[string]bool) bool {
	for _, in := range e.Inputs {
		if pending[meta.NormalisePath(in)] {
			return true
		}
	}
	return false
}

// attachLayer groups a frontier by input signature into nodes, wires the
// nodes under their producing parents and propagates max timestamps.
func (g *Graph) attachLayer(frontier []*meta.OutputMeta) {
	var order []string
	groups := make(map[string][]*meta.OutputMeta)
	for _, e := range frontier {
		sig := strings.Join(e.Inputs, "\x00")
		if _, seen := groups[sig]; !seen {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], e)
	}

	for _, sig := range order {
		node := &Node{Values: groups[sig]}
		g.nodes = append(g.nodes, node)

		for _, p := range node.Values {
			g.index[p.OutputPath] = node
			p.MaxTimestamp = p.Timestamp
			for _, in := range p.Inputs {
				parent := g.index[meta.NormalisePath(in)]
				if parent == nil || parent == node {
					continue
				}
				linkNodes(parent, node)
				for _, q := range parent.Values {
					if q.OutputPath == meta.NormalisePath(in) && q.MaxTimestamp > p.MaxTimestamp {
						p.MaxTimestamp = q.MaxTimestamp
					}
				}
			}
		}
		if len(node.Parents) == 0 {
			g.roots = append(g.roots, node)
		}
	}
}

func linkNodes(parent, child *Node) {
	for _, c := range parent.Children {
		if c == child {
			return
		}
	}
	parent.Children = append(parent.Children, child)
	child.Parents = append(child.Parents, parent)
}

// computeUpToDate runs the backward sweep. Nodes were appended layer by
// layer, so walking them in reverse visits children before parents.
func (g *Graph) computeUpToDate() {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		node := g.nodes[i]
		for _, p := range node.Values {
			p.UpToDate = upToDate(node, p)
		}
	}
}

func upToDate(node *Node, p *meta.OutputMeta) bool {
	for _, parent := range node.Parents {
		if !parent.producesInputOf(p) {
			continue
		}
		for _, q := range parent.Values {
			if !inputOf(p, q.OutputPath) {
				continue
			}
			if q.MaxTimestamp >= p.Timestamp {
				return false
			}
		}
	}

	if fileExists(p.OutputFile) {
		return true
	}
	if !p.Cleaned {
		return false
	}

	// A cleaned output stands in for its file only while everything
	// downstream of it is itself current. A cleaned leaf has nothing to
	// vouch for it.
	if len(node.Children) == 0 {
		return false
	}
	for _, child := range node.Children {
		for _, v := range child.Values {
			if !v.UpToDate {
				return false
			}
		}
	}
	return true
}

func inputOf(p *meta.OutputMeta, outputPath string) bool {
	for _, in := range p.Inputs {
		if meta.NormalisePath(in) == outputPath {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
