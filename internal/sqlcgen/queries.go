package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const createSchema = `-- name: CreateSchema :exec
CREATE TABLE IF NOT EXISTS graph_nodes (
  id      text PRIMARY KEY,
  kind    text NOT NULL,
  name    text,
  bssid   text,
  oui     text,
  type    text,
  auth    text,
  cipher  text,
  channel text,
  speed   text,
  lan     text
);
CREATE TABLE IF NOT EXISTS graph_edges (
  source text NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
  target text NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
  kind   text NOT NULL,
  name   text NOT NULL,
  PRIMARY KEY (source, target, kind)
);
CREATE INDEX IF NOT EXISTS graph_edges_target_idx ON graph_edges (target);
`

func (q *Queries) CreateSchema(ctx context.Context) error {
	_, err := q.db.Exec(ctx, createSchema)
	return err
}

const upsertNode = `-- name: UpsertNode :exec
INSERT INTO graph_nodes (id, kind, name, bssid, oui, type, auth, cipher, channel, speed, lan)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET kind    = EXCLUDED.kind,
    name    = COALESCE(EXCLUDED.name, graph_nodes.name),
    bssid   = COALESCE(EXCLUDED.bssid, graph_nodes.bssid),
    oui     = COALESCE(EXCLUDED.oui, graph_nodes.oui),
    type    = COALESCE(EXCLUDED.type, graph_nodes.type),
    auth    = COALESCE(EXCLUDED.auth, graph_nodes.auth),
    cipher  = COALESCE(EXCLUDED.cipher, graph_nodes.cipher),
    channel = COALESCE(EXCLUDED.channel, graph_nodes.channel),
    speed   = COALESCE(EXCLUDED.speed, graph_nodes.speed),
    lan     = COALESCE(EXCLUDED.lan, graph_nodes.lan)
`

func (q *Queries) UpsertNode(ctx context.Context, arg GraphNode) error {
	_, err := q.db.Exec(ctx, upsertNode,
		arg.ID, arg.Kind, arg.Name, arg.Bssid, arg.Oui, arg.Type,
		arg.Auth, arg.Cipher, arg.Channel, arg.Speed, arg.Lan,
	)
	return err
}

const insertPlaceholderNode = `-- name: InsertPlaceholderNode :exec
INSERT INTO graph_nodes (id, kind, name, type)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`

func (q *Queries) InsertPlaceholderNode(ctx context.Context, arg GraphNode) error {
	_, err := q.db.Exec(ctx, insertPlaceholderNode, arg.ID, arg.Kind, arg.Name, arg.Type)
	return err
}

const upsertEdge = `-- name: UpsertEdge :exec
INSERT INTO graph_edges (source, target, kind, name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source, target, kind) DO UPDATE SET name = EXCLUDED.name
`

func (q *Queries) UpsertEdge(ctx context.Context, arg GraphEdge) error {
	_, err := q.db.Exec(ctx, upsertEdge, arg.Source, arg.Target, arg.Kind, arg.Name)
	return err
}

const listNodes = `-- name: ListNodes :many
SELECT id, kind, name, bssid, oui, type, auth, cipher, channel, speed, lan
FROM graph_nodes
ORDER BY id
`

func (q *Queries) ListNodes(ctx context.Context) ([]GraphNode, error) {
	rows, err := q.db.Query(ctx, listNodes)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

const listEdges = `-- name: ListEdges :many
SELECT source, target, kind, name
FROM graph_edges
ORDER BY source, target, kind
`

func (q *Queries) ListEdges(ctx context.Context) ([]GraphEdge, error) {
	rows, err := q.db.Query(ctx, listEdges)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

// attributeColumn selects a node column by attribute name without
// interpolating identifiers into SQL.
func attributeColumn(param string) string {
	return `CASE ` + param + `::text
    WHEN 'name' THEN n.name
    WHEN 'bssid' THEN n.bssid
    WHEN 'oui' THEN n.oui
    WHEN 'type' THEN n.type
    WHEN 'auth' THEN n.auth
    WHEN 'cipher' THEN n.cipher
    WHEN 'channel' THEN n.channel
    WHEN 'speed' THEN n.speed
    WHEN 'lan' THEN n.lan
  END`
}

var searchScope = `WITH matched AS (
  SELECT n.id FROM graph_nodes n
  WHERE ` + attributeColumn("$2") + ` = ANY($1::text[])
),
scope AS (
  SELECT id FROM matched
  UNION
  SELECT e.target FROM graph_edges e JOIN matched m ON e.source = m.id
  UNION
  SELECT e.source FROM graph_edges e JOIN matched m ON e.target = m.id
)
`

var searchSubgraphNodes = `-- name: SearchSubgraphNodes :many
` + searchScope + `SELECT n.id, n.kind, n.name, n.bssid, n.oui, n.type, n.auth, n.cipher, n.channel, n.speed, n.lan
FROM graph_nodes n
JOIN scope s ON s.id = n.id
ORDER BY n.id
`

type SearchSubgraphParams struct {
	Values    []string
	Attribute string
}

// SearchSubgraphNodes returns nodes whose attribute matches one of the values
// plus their direct neighbours.
func (q *Queries) SearchSubgraphNodes(ctx context.Context, arg SearchSubgraphParams) ([]GraphNode, error) {
	rows, err := q.db.Query(ctx, searchSubgraphNodes, arg.Values, arg.Attribute)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

var searchSubgraphEdges = `-- name: SearchSubgraphEdges :many
` + searchScope + `SELECT e.source, e.target, e.kind, e.name
FROM graph_edges e
JOIN scope s1 ON s1.id = e.source
JOIN scope s2 ON s2.id = e.target
ORDER BY e.source, e.target, e.kind
`

// SearchSubgraphEdges returns every edge with both endpoints inside the search scope.
func (q *Queries) SearchSubgraphEdges(ctx context.Context, arg SearchSubgraphParams) ([]GraphEdge, error) {
	rows, err := q.db.Query(ctx, searchSubgraphEdges, arg.Values, arg.Attribute)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

var listDistinctAttribute = `-- name: ListDistinctAttribute :many
SELECT DISTINCT v FROM (
  SELECT ` + attributeColumn("$1") + ` AS v FROM graph_nodes n
) s
WHERE v IS NOT NULL AND v <> ''
ORDER BY v
`

func (q *Queries) ListDistinctAttribute(ctx context.Context, attribute string) ([]string, error) {
	rows, err := q.db.Query(ctx, listDistinctAttribute, attribute)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countNodesByKind = `-- name: CountNodesByKind :many
SELECT kind, count(*) FROM graph_nodes GROUP BY kind ORDER BY kind
`

func (q *Queries) CountNodesByKind(ctx context.Context) ([]KindCount, error) {
	return q.countByKind(ctx, countNodesByKind)
}

const countEdgesByKind = `-- name: CountEdgesByKind :many
SELECT kind, count(*) FROM graph_edges GROUP BY kind ORDER BY kind
`

func (q *Queries) CountEdgesByKind(ctx context.Context) ([]KindCount, error) {
	return q.countByKind(ctx, countEdgesByKind)
}

func (q *Queries) countByKind(ctx context.Context, sql string) ([]KindCount, error) {
	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []KindCount
	for rows.Next() {
		var i KindCount
		if err := rows.Scan(&i.Kind, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteGraph = `-- name: DeleteGraph :exec
TRUNCATE graph_edges, graph_nodes
`

func (q *Queries) DeleteGraph(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteGraph)
	return err
}

func scanNodes(rows pgx.Rows) ([]GraphNode, error) {
	defer rows.Close()
	var items []GraphNode
	for rows.Next() {
		var i GraphNode
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.Name,
			&i.Bssid,
			&i.Oui,
			&i.Type,
			&i.Auth,
			&i.Cipher,
			&i.Channel,
			&i.Speed,
			&i.Lan,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanEdges(rows pgx.Rows) ([]GraphEdge, error) {
	defer rows.Close()
	var items []GraphEdge
	for rows.Next() {
		var i GraphEdge
		if err := rows.Scan(&i.Source, &i.Target, &i.Kind, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
