package biopipe

import (
	"sort"
)

// Node is one element of a composed pipeline expression. Expressions are
// built from stages with Seq (sequential, the `+` operator) and Parallel
// or ParallelPattern (fan-out, the `*` operator) and interpreted by the
// Runner.
type Node interface {
	node()
}

// StageNode is a leaf: a named stage with a body and optionally declared
// outputs. Declared outputs enable the up-to-date check that skips the
// stage entirely.
type StageNode struct {
	Name    string
	Body    Body
	Outputs []string
}

func (*StageNode) node() {}

// SeqNode runs its elements in declaration order, feeding each element's
// next inputs to the following one.
type SeqNode struct {
	Nodes []Node
}

func (*SeqNode) node() {}

// FanoutNode forks a child pipeline per branch key (or per filename
// group when Pattern is set) and segment, runs them concurrently, and
// merges the results back into the parent.
type FanoutNode struct {
	Keys    []string
	Pattern string
	Nodes   []Node
}

func (*FanoutNode) node() {}

// NewStage creates a stage node. Declared outputs, if any, are what the
// stage promises to produce.
func NewStage(name string, body Body, outputs ...string) *StageNode {
	return &StageNode{Name: name, Body: body, Outputs: outputs}
}

// Seq composes nodes sequentially.
func Seq(nodes ...Node) Node {
	return &SeqNode{Nodes: nodes}
}

// Parallel fans the given segments out over a set of branch keys, such as
// chromosomes or sample ids.
func Parallel(keys []string, nodes ...Node) Node {
	return &FanoutNode{Keys: keys, Nodes: nodes}
}

// ParallelPattern fans the given segments out over filename groups
// produced by splitting the inputs with a %-and-* pattern.
func ParallelPattern(pattern string, nodes ...Node) Node {
	return &FanoutNode{Pattern: pattern, Nodes: nodes}
}

// sortedBranchKeys returns the branch keys in the order the children are
// forked. Sorted order makes the merged output deterministic.
func sortedBranchKeys(branches map[string][]string) []string {
	keys := make([]string, 0, len(branches))
	for k := range branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeChildren folds the stages of completed child pipelines back into
// the parent. Stage lists are padded to equal length, transposed so like
// stages align by index, and grouped by stage name; each group becomes a
// merged stage whose raw output is the concatenation of the children's
// next inputs. A final merged stage carries the deduplicated outputs of
// the last layer and its contents are returned.
func mergeChildren(parent *Pipeline, children []*Pipeline) []string {
	var lists [][]*Stage
	maxLen := 0
	for _, child := range children {
		var kept []*Stage
		for _, s := range child.Stages() {
			if s.joiner {
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) > maxLen {
			maxLen = len(kept)
		}
		lists = append(lists, kept)
	}

	for i := 0; i < maxLen; i++ {
		var order []string
		groups := make(map[string][]*Stage)
		for _, list := range lists {
			if i >= len(list) {
				continue
			}
			s := list[i]
			if _, seen := groups[s.Name]; !seen {
				order = append(order, s.Name)
			}
			groups[s.Name] = append(groups[s.Name], s)
		}

		for _, name := range order {
			merged := &Stage{Name: name, Context: &Context{StageName: name}}
			for _, s := range groups[name] {
				merged.Context.RawOutput = append(merged.Context.RawOutput, s.nextOutputs()...)
			}
			parent.addStage(merged)
		}
	}

	var final []string
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		final = append(final, list[len(list)-1].nextOutputs()...)
	}
	final = dedupe(final)

	tail := &Stage{
		Name:   "merge",
		joiner: true,
		Context: &Context{
			StageName:  "merge",
			Output:     final,
			RawOutput:  final,
			NextInputs: final,
		},
	}
	parent.addStage(tail)
	return final
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
