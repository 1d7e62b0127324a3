package reactive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidSpec  = errors.New("invalid output spec")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrUnknownInput = errors.New("unknown input")
)

// ID names a source cell or a derived output.
type ID string

// Spec declares one derived output. Triggers cause recomputation when they
// change; Reads are consulted but never trigger.
type Spec struct {
	ID       ID
	Triggers []ID
	Reads    []ID
	Compute  func(ctx context.Context, in Inputs) (any, error)

	// Fallback supplies the degraded value published when Compute fails.
	// Without it the previous value is retained.
	Fallback func() any
	// Initial is the value held before the first evaluation.
	Initial any
	// Timeout overrides the engine default for this output.
	Timeout time.Duration
	// Effect marks outputs with side effects. They run even when a later
	// tick has already re-triggered them; only their result is discarded.
	Effect bool
}

func (s Spec) inputs() []ID {
	out := make([]ID, 0, len(s.Triggers)+len(s.Reads))
	out = append(out, s.Triggers...)
	return append(out, s.Reads...)
}

// SpecError ties a validation failure to the offending output.
type SpecError struct {
	ID  ID
	Err error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("output %q: %v", e.ID, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

// CycleError reports a dependency loop; Path starts and ends on the same id.
type CycleError struct {
	Path []ID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Graph is a validated, acyclic set of outputs over a set of sources.
type Graph struct {
	sources map[ID]struct{}
	specs   map[ID]Spec
	// triggered maps an input to the outputs it triggers.
	triggered map[ID][]ID
	level     map[ID]int
	levels    [][]ID
}

// NewGraph validates specs against sources and orders them into levels.
// Outputs sharing a level never depend on one another.
func NewGraph(sources []ID, specs ...Spec) (*Graph, error) {
	g := &Graph{
		sources:   make(map[ID]struct{}, len(sources)),
		specs:     make(map[ID]Spec, len(specs)),
		triggered: map[ID][]ID{},
		level:     map[ID]int{},
	}
	for _, id := range sources {
		if id == "" {
			return nil, fmt.Errorf("%w: empty source id", ErrInvalidSpec)
		}
		if _, dup := g.sources[id]; dup {
			return nil, fmt.Errorf("%w: source %q", ErrDuplicateID, id)
		}
		g.sources[id] = struct{}{}
	}
	for _, s := range specs {
		switch {
		case s.ID == "":
			return nil, fmt.Errorf("%w: empty output id", ErrInvalidSpec)
		case s.Compute == nil:
			return nil, &SpecError{ID: s.ID, Err: fmt.Errorf("%w: nil compute", ErrInvalidSpec)}
		}
		if _, dup := g.specs[s.ID]; dup {
			return nil, &SpecError{ID: s.ID, Err: ErrDuplicateID}
		}
		if _, clash := g.sources[s.ID]; clash {
			return nil, &SpecError{ID: s.ID, Err: fmt.Errorf("%w: also declared as a source", ErrDuplicateID)}
		}
		g.specs[s.ID] = s
	}

	adj := make(map[ID][]ID, len(g.specs))
	for id, s := range g.specs {
		for _, in := range s.inputs() {
			if !g.known(in) {
				return nil, &SpecError{ID: id, Err: fmt.Errorf("%w: %q", ErrUnknownInput, in)}
			}
			if _, isOutput := g.specs[in]; isOutput {
				adj[id] = append(adj[id], in)
			}
		}
		for _, in := range s.Triggers {
			g.triggered[in] = append(g.triggered[in], id)
		}
	}
	if err := detectCycles(g.sortedOutputs(), adj); err != nil {
		return nil, err
	}

	g.assignLevels(adj)
	for _, ids := range g.triggered {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return g, nil
}

func (g *Graph) known(id ID) bool {
	if _, ok := g.sources[id]; ok {
		return true
	}
	_, ok := g.specs[id]
	return ok
}

func (g *Graph) IsSource(id ID) bool {
	_, ok := g.sources[id]
	return ok
}

func (g *Graph) sortedOutputs() []ID {
	out := make([]ID, 0, len(g.specs))
	for id := range g.specs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Levels returns outputs grouped by evaluation level, lowest first.
func (g *Graph) Levels() [][]ID {
	out := make([][]ID, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]ID(nil), l...)
	}
	return out
}

// detectCycles walks output->output edges depth first.
func detectCycles(nodes []ID, adj map[ID][]ID) error {
	visited := make(map[ID]bool, len(nodes))
	onStack := make(map[ID]bool, len(nodes))
	var path []ID

	var dfs func(id ID) error
	dfs = func(id ID) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range adj[id] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
				continue
			}
			if onStack[dep] {
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]ID(nil), path[start:]...), dep)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	for _, id := range nodes {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignLevels places each output one level above its deepest output input.
// Sources sit at level 0.
func (g *Graph) assignLevels(adj map[ID][]ID) {
	var depth func(id ID) int
	depth = func(id ID) int {
		if l, ok := g.level[id]; ok {
			return l
		}
		l := 1
		for _, dep := range adj[id] {
			if d := depth(dep) + 1; d > l {
				l = d
			}
		}
		g.level[id] = l
		return l
	}

	maxLevel := 0
	for _, id := range g.sortedOutputs() {
		if l := depth(id); l > maxLevel {
			maxLevel = l
		}
	}
	g.levels = make([][]ID, maxLevel)
	for _, id := range g.sortedOutputs() {
		l := g.level[id] - 1
		g.levels[l] = append(g.levels[l], id)
	}
}

// closure returns every output transitively triggered by the changed ids.
func (g *Graph) closure(changed []ID) map[ID]struct{} {
	dirty := map[ID]struct{}{}
	queue := append([]ID(nil), changed...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, out := range g.triggered[id] {
			if _, seen := dirty[out]; seen {
				continue
			}
			dirty[out] = struct{}{}
			queue = append(queue, out)
		}
	}
	return dirty
}
