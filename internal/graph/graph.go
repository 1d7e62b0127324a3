package graph

import (
	"sort"
	"strconv"

	"beacongraph/core-go/internal/taxonomy"
)

// Attribute names carried by every node.
const (
	AttrName    = "name"
	AttrBSSID   = "bssid"
	AttrOUI     = "oui"
	AttrType    = "type"
	AttrAuth    = "auth"
	AttrCipher  = "cipher"
	AttrChannel = "channel"
	AttrSpeed   = "speed"
	AttrLAN     = "lan"
)

var attributeOrder = []string{
	AttrName,
	AttrBSSID,
	AttrOUI,
	AttrType,
	AttrAuth,
	AttrCipher,
	AttrChannel,
	AttrSpeed,
	AttrLAN,
}

// AttributeNames returns the node attributes in display order.
func AttributeNames() []string {
	out := make([]string, len(attributeOrder))
	copy(out, attributeOrder)
	return out
}

type Node struct {
	ID         string            `json:"id"`
	Kind       taxonomy.NodeKind `json:"kind"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute value or "" when unset.
func (n Node) Attr(name string) string {
	if n.Attributes == nil {
		return ""
	}
	return n.Attributes[name]
}

type Edge struct {
	Source string            `json:"source"`
	Target string            `json:"target"`
	Kind   taxonomy.EdgeKind `json:"kind"`
	Name   string            `json:"name"`
}

// Snapshot is the node/edge set materialized in the view. It is replaced
// wholesale, never patched.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func EmptySnapshot() Snapshot {
	return Snapshot{Nodes: []Node{}, Edges: []Edge{}}
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Nodes) == 0 && len(s.Edges) == 0
}

func (s Snapshot) NodeByID(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// KindCounts counts nodes per kind.
func (s Snapshot) KindCounts() map[taxonomy.NodeKind]int {
	out := make(map[taxonomy.NodeKind]int)
	for _, n := range s.Nodes {
		out[n.Kind]++
	}
	return out
}

// Sort orders nodes by id and edges by (source, target, kind) so results are stable.
func (s *Snapshot) Sort() {
	sort.SliceStable(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	sort.SliceStable(s.Edges, func(i, j int) bool {
		a, b := s.Edges[i], s.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
}

// Stats maps a node kind or relation key (Probes, Assoc) to a count.
type Stats map[string]int

// Display renders the count for key, "0" when missing.
func (s Stats) Display(key string) string {
	v, ok := s[key]
	if !ok || v == 0 {
		return "0"
	}
	return strconv.Itoa(v)
}
