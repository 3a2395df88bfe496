package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yourbasic/graph"
)

// execPattern finds nested procedure calls, skipping an optional return
// value assignment
var execPattern = regexp.MustCompile(`(?i)\bEXEC(?:UTE)?\s+(?:@\w+\s*=\s*)?((?:\[[^\]]+\]|[A-Za-z_][\w$#]*)(?:\.(?:\[[^\]]+\]|[A-Za-z_][\w$#]*))*)`)

// CallGraph records which procedures of a batch call each other
type CallGraph struct {
	Names    []string
	Graph    *graph.Mutable
	IndexMap map[string]int
	Cycles   [][]string
}

// BuildCallGraph links every procedure to the batch procedures its source
// executes. Calls to procedures outside the batch are ignored.
func BuildCallGraph(sources map[string]string) *CallGraph {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	cg := &CallGraph{
		Names:    names,
		Graph:    graph.New(len(names)),
		IndexMap: make(map[string]int),
	}
	for i, name := range names {
		cg.IndexMap[canonicalName(name)] = i
	}

	for i, name := range names {
		for _, m := range execPattern.FindAllStringSubmatch(sources[name], -1) {
			callee, ok := cg.IndexMap[canonicalName(m[1])]
			if !ok {
				continue
			}
			cg.Graph.Add(i, callee)
		}
	}

	for _, component := range graph.StrongComponents(cg.Graph) {
		if len(component) == 1 && !cg.Graph.Edge(component[0], component[0]) {
			continue
		}
		cycle := make([]string, len(component))
		for j, v := range component {
			cycle[j] = names[v]
		}
		sort.Strings(cycle)
		cg.Cycles = append(cg.Cycles, cycle)
	}

	return cg
}

// Callees returns the batch procedures called by name
func (cg *CallGraph) Callees(name string) []string {
	i, ok := cg.IndexMap[canonicalName(name)]
	if !ok {
		return nil
	}
	var callees []string
	cg.Graph.Visit(i, func(w int, _ int64) bool {
		callees = append(callees, cg.Names[w])
		return false
	})
	sort.Strings(callees)
	return callees
}

// CalleeFirstOrder lists procedures so that every callee precedes its
// callers. It returns false when the graph has a cycle.
func (cg *CallGraph) CalleeFirstOrder() ([]string, bool) {
	order, ok := graph.TopSort(cg.Graph)
	if !ok {
		return nil, false
	}
	result := make([]string, len(order))
	for i, v := range order {
		result[len(order)-1-i] = cg.Names[v]
	}
	return result, true
}

// canonicalName strips brackets and the default dbo schema so that
// [dbo].[GetUser], dbo.GetUser and GetUser compare equal
func canonicalName(name string) string {
	var segments []string
	for _, s := range strings.Split(name, ".") {
		s = strings.Trim(strings.TrimSpace(s), "[]")
		if s != "" {
			segments = append(segments, strings.ToLower(s))
		}
	}
	if len(segments) > 1 && segments[0] == "dbo" {
		segments = segments[1:]
	}
	return strings.Join(segments, ".")
}
