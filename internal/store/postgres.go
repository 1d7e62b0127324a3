package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/db"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/sqlcgen"
	"beacongraph/core-go/internal/taxonomy"
)

// Postgres keeps the graph in two tables accessed through sqlcgen.
type Postgres struct {
	log      zerolog.Logger
	pool     *db.Pool
	q        *sqlcgen.Queries
	identity Identity
}

func NewPostgres(log zerolog.Logger, pool *db.Pool, userLabel string) *Postgres {
	user := strings.TrimSpace(userLabel)
	if user == "" {
		user = pool.User()
	}
	return &Postgres{
		log:  log.With().Str("component", "store").Logger(),
		pool: pool,
		q:    pool.Queries(),
		identity: Identity{
			URI:  "postgres://" + pool.Address(),
			User: user,
		},
	}
}

func (p *Postgres) Identity() Identity {
	return p.identity
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (p *Postgres) InitialQuery(ctx context.Context) (graph.Snapshot, error) {
	nodes, err := p.q.ListNodes(ctx)
	if err != nil {
		return graph.Snapshot{}, unavailable("list nodes", err)
	}
	edges, err := p.q.ListEdges(ctx)
	if err != nil {
		return graph.Snapshot{}, unavailable("list edges", err)
	}
	return toSnapshot(nodes, edges), nil
}

func (p *Postgres) SearchQuery(ctx context.Context, values []string, attribute string) (graph.Snapshot, error) {
	if err := checkAttribute(attribute); err != nil {
		return graph.Snapshot{}, err
	}
	arg := sqlcgen.SearchSubgraphParams{Values: values, Attribute: attribute}
	nodes, err := p.q.SearchSubgraphNodes(ctx, arg)
	if err != nil {
		return graph.Snapshot{}, unavailable("search nodes", err)
	}
	edges, err := p.q.SearchSubgraphEdges(ctx, arg)
	if err != nil {
		return graph.Snapshot{}, unavailable("search edges", err)
	}
	return toSnapshot(nodes, edges), nil
}

func (p *Postgres) DBStats(ctx context.Context) (graph.Stats, error) {
	nodes, err := p.q.CountNodesByKind(ctx)
	if err != nil {
		return nil, unavailable("count nodes", err)
	}
	edges, err := p.q.CountEdgesByKind(ctx)
	if err != nil {
		return nil, unavailable("count edges", err)
	}
	stats := graph.Stats{}
	for _, c := range nodes {
		stats[c.Kind] = int(c.Count)
	}
	for _, c := range edges {
		key := c.Kind
		if kind, ok := taxonomy.ParseEdgeKind(c.Kind); ok {
			key = kind.StatsKey()
		}
		stats[key] = int(c.Count)
	}
	return stats, nil
}

func (p *Postgres) Names(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrName)
}

func (p *Postgres) BSSIDs(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrBSSID)
}

func (p *Postgres) OUIs(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrOUI)
}

func (p *Postgres) Types(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrType)
}

func (p *Postgres) Auths(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrAuth)
}

func (p *Postgres) Ciphers(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrCipher)
}

func (p *Postgres) Channels(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrChannel)
}

func (p *Postgres) Speeds(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrSpeed)
}

func (p *Postgres) LANIPs(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, graph.AttrLAN)
}

func (p *Postgres) distinct(ctx context.Context, attribute string) ([]string, error) {
	values, err := p.q.ListDistinctAttribute(ctx, attribute)
	if err != nil {
		return nil, unavailable("distinct "+attribute, err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (p *Postgres) HandleIncomingData(ctx context.Context, dataType string, records []capture.Record) error {
	if err := checkDataType(dataType); err != nil {
		return err
	}

	var errs []error
	applied := 0
	for i, rec := range records {
		m, err := rec.Mutation()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if err := p.pool.InTx(ctx, func(q *sqlcgen.Queries) error {
			return applyMutation(ctx, q, m)
		}); err != nil {
			if ctx.Err() != nil {
				errs = append(errs, unavailable("ingest", ctx.Err()))
				break
			}
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		applied++
	}

	p.log.Debug().
		Str("data_type", dataType).
		Int("records", len(records)).
		Int("applied", applied).
		Int("failed", len(errs)).
		Msg("incoming data applied")
	return errors.Join(errs...)
}

func applyMutation(ctx context.Context, q *sqlcgen.Queries, m capture.Mutation) error {
	for _, n := range m.Placeholders {
		if err := q.InsertPlaceholderNode(ctx, fromNode(n)); err != nil {
			return err
		}
	}
	for _, n := range m.Nodes {
		if err := q.UpsertNode(ctx, fromNode(n)); err != nil {
			return err
		}
	}
	for _, e := range m.Edges {
		if err := q.UpsertEdge(ctx, sqlcgen.GraphEdge{
			Source: e.Source,
			Target: e.Target,
			Kind:   string(e.Kind),
			Name:   e.Name,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) DeleteDB(ctx context.Context) error {
	if err := p.q.DeleteGraph(ctx); err != nil {
		return unavailable("delete graph", err)
	}
	p.log.Debug().Msg("graph tables truncated")
	return nil
}

func fromNode(n graph.Node) sqlcgen.GraphNode {
	attr := func(name string) *string {
		v := strings.TrimSpace(n.Attr(name))
		if v == "" {
			return nil
		}
		return &v
	}
	return sqlcgen.GraphNode{
		ID:      n.ID,
		Kind:    string(n.Kind),
		Name:    attr(graph.AttrName),
		Bssid:   attr(graph.AttrBSSID),
		Oui:     attr(graph.AttrOUI),
		Type:    attr(graph.AttrType),
		Auth:    attr(graph.AttrAuth),
		Cipher:  attr(graph.AttrCipher),
		Channel: attr(graph.AttrChannel),
		Speed:   attr(graph.AttrSpeed),
		Lan:     attr(graph.AttrLAN),
	}
}

func toNode(row sqlcgen.GraphNode) graph.Node {
	attrs := map[string]string{}
	set := func(name string, v *string) {
		if v != nil && *v != "" {
			attrs[name] = *v
		}
	}
	set(graph.AttrName, row.Name)
	set(graph.AttrBSSID, row.Bssid)
	set(graph.AttrOUI, row.Oui)
	set(graph.AttrType, row.Type)
	set(graph.AttrAuth, row.Auth)
	set(graph.AttrCipher, row.Cipher)
	set(graph.AttrChannel, row.Channel)
	set(graph.AttrSpeed, row.Speed)
	set(graph.AttrLAN, row.Lan)
	return graph.Node{ID: row.ID, Kind: taxonomy.NodeKind(row.Kind), Attributes: attrs}
}

func toSnapshot(nodes []sqlcgen.GraphNode, edges []sqlcgen.GraphEdge) graph.Snapshot {
	out := graph.Snapshot{
		Nodes: make([]graph.Node, 0, len(nodes)),
		Edges: make([]graph.Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, toNode(n))
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, graph.Edge{
			Source: e.Source,
			Target: e.Target,
			Kind:   taxonomy.EdgeKind(e.Kind),
			Name:   e.Name,
		})
	}
	return out
}
