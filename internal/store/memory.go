package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

type edgeKey struct {
	source string
	target string
	kind   taxonomy.EdgeKind
}

// Memory is an in-process Store used when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
	edges map[edgeKey]graph.Edge
}

func NewMemory() *Memory {
	return &Memory{
		nodes: map[string]graph.Node{},
		edges: map[edgeKey]graph.Edge{},
	}
}

// Seed replaces the contents with the given snapshot.
func (m *Memory) Seed(s graph.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]graph.Node, len(s.Nodes))
	m.edges = make(map[edgeKey]graph.Edge, len(s.Edges))
	for _, n := range s.Nodes {
		m.nodes[n.ID] = cloneNode(n)
	}
	for _, e := range s.Edges {
		m.edges[edgeKey{e.Source, e.Target, e.Kind}] = e
	}
}

func (m *Memory) Identity() Identity {
	return Identity{URI: "memory://local", User: "-"}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InitialQuery(ctx context.Context) (graph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return graph.Snapshot{}, unavailable("initial query", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := graph.EmptySnapshot()
	for _, n := range m.nodes {
		out.Nodes = append(out.Nodes, cloneNode(n))
	}
	for _, e := range m.edges {
		out.Edges = append(out.Edges, e)
	}
	out.Sort()
	return out, nil
}

func (m *Memory) SearchQuery(ctx context.Context, values []string, attribute string) (graph.Snapshot, error) {
	if err := checkAttribute(attribute); err != nil {
		return graph.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return graph.Snapshot{}, unavailable("search query", err)
	}
	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		want[v] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	scope := map[string]struct{}{}
	for id, n := range m.nodes {
		if _, ok := want[n.Attr(attribute)]; ok {
			scope[id] = struct{}{}
		}
	}
	// One hop out from every match.
	matched := make([]string, 0, len(scope))
	for id := range scope {
		matched = append(matched, id)
	}
	for _, id := range matched {
		for k := range m.edges {
			if k.source == id {
				scope[k.target] = struct{}{}
			}
			if k.target == id {
				scope[k.source] = struct{}{}
			}
		}
	}

	out := graph.EmptySnapshot()
	for id := range scope {
		if n, ok := m.nodes[id]; ok {
			out.Nodes = append(out.Nodes, cloneNode(n))
		}
	}
	for k, e := range m.edges {
		_, s := scope[k.source]
		_, t := scope[k.target]
		if s && t {
			out.Edges = append(out.Edges, e)
		}
	}
	out.Sort()
	return out, nil
}

func (m *Memory) DBStats(ctx context.Context) (graph.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("db stats", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := graph.Stats{}
	for _, n := range m.nodes {
		stats[string(n.Kind)]++
	}
	for k := range m.edges {
		stats[k.kind.StatsKey()]++
	}
	return stats, nil
}

func (m *Memory) Names(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrName)
}

func (m *Memory) BSSIDs(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrBSSID)
}

func (m *Memory) OUIs(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrOUI)
}

func (m *Memory) Types(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrType)
}

func (m *Memory) Auths(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrAuth)
}

func (m *Memory) Ciphers(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrCipher)
}

func (m *Memory) Channels(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrChannel)
}

func (m *Memory) Speeds(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrSpeed)
}

func (m *Memory) LANIPs(ctx context.Context) ([]string, error) {
	return m.distinct(ctx, graph.AttrLAN)
}

func (m *Memory) distinct(ctx context.Context, attribute string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("distinct "+attribute, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, n := range m.nodes {
		if v := n.Attr(attribute); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) HandleIncomingData(ctx context.Context, dataType string, records []capture.Record) error {
	if err := checkDataType(dataType); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, unavailable("ingest", err))
			break
		}
		mut, err := rec.Mutation()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		for _, n := range mut.Placeholders {
			if _, ok := m.nodes[n.ID]; !ok {
				m.nodes[n.ID] = cloneNode(n)
			}
		}
		for _, n := range mut.Nodes {
			m.nodes[n.ID] = merge(m.nodes[n.ID], n)
		}
		for _, e := range mut.Edges {
			m.edges[edgeKey{e.Source, e.Target, e.Kind}] = e
		}
	}
	return errors.Join(errs...)
}

func (m *Memory) DeleteDB(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete graph", err)
	}
	m.mu.Lock()
	m.nodes = map[string]graph.Node{}
	m.edges = map[edgeKey]graph.Edge{}
	m.mu.Unlock()
	return nil
}

// merge mirrors the Postgres upsert: new non-empty attributes win, existing
// ones are kept otherwise.
func merge(prev, next graph.Node) graph.Node {
	out := cloneNode(next)
	for k, v := range prev.Attributes {
		if _, ok := out.Attributes[k]; !ok {
			out.Attributes[k] = v
		}
	}
	return out
}

func cloneNode(n graph.Node) graph.Node {
	attrs := make(map[string]string, len(n.Attributes))
	for k, v := range n.Attributes {
		attrs[k] = v
	}
	n.Attributes = attrs
	return n
}
