package capture

import (
	"errors"
	"fmt"
	"strings"

	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

// Data types produced by ParseUpload. The store keys its ingestion on them.
const (
	DataTypeAirodump  = "airodump"
	DataTypeGraphJSON = "graph-json"
)

type RecordKind string

const (
	RecordAccessPoint RecordKind = "access_point"
	RecordStation     RecordKind = "station"
	RecordNode        RecordKind = "node"
	RecordEdge        RecordKind = "edge"
)

const probedIDPrefix = "ssid:"

var ErrInvalidRecord = errors.New("invalid capture record")

// Record is one typed row decoded from an upload.
type Record struct {
	Kind RecordKind

	BSSID   string
	ESSID   string
	Channel string
	Speed   string
	Privacy string
	Cipher  string
	Auth    string
	LAN     string
	OUI     string

	StationMAC      string
	AssociatedBSSID string
	Probes          []string

	Node *graph.Node
	Edge *graph.Edge
}

// Mutation is the graph change a record implies. Nodes overwrite existing
// attributes; Placeholders are only created when missing so a later AP row
// is never downgraded by a station that merely references it.
type Mutation struct {
	Nodes        []graph.Node
	Placeholders []graph.Node
	Edges        []graph.Edge
}

func (r Record) Mutation() (Mutation, error) {
	switch r.Kind {
	case RecordAccessPoint:
		return r.accessPointMutation()
	case RecordStation:
		return r.stationMutation()
	case RecordNode:
		if r.Node == nil || strings.TrimSpace(r.Node.ID) == "" {
			return Mutation{}, fmt.Errorf("%w: node without id", ErrInvalidRecord)
		}
		n := *r.Node
		if n.Kind == "" {
			kind, ok := taxonomy.ParseNodeKind(n.Attr(graph.AttrType))
			if !ok {
				return Mutation{}, fmt.Errorf("%w: node %s has unknown type %q", ErrInvalidRecord, n.ID, n.Attr(graph.AttrType))
			}
			n.Kind = kind
		}
		return Mutation{Nodes: []graph.Node{n}}, nil
	case RecordEdge:
		if r.Edge == nil || r.Edge.Source == "" || r.Edge.Target == "" {
			return Mutation{}, fmt.Errorf("%w: edge without endpoints", ErrInvalidRecord)
		}
		e := *r.Edge
		if e.Name == "" {
			e.Name = string(e.Kind)
		}
		return Mutation{
			Placeholders: []graph.Node{placeholder(e.Source, taxonomy.KindDevice), placeholder(e.Target, taxonomy.KindDevice)},
			Edges:        []graph.Edge{e},
		}, nil
	default:
		return Mutation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
}

func (r Record) accessPointMutation() (Mutation, error) {
	bssid := normalizeMAC(r.BSSID)
	if bssid == "" {
		return Mutation{}, fmt.Errorf("%w: access point without bssid", ErrInvalidRecord)
	}
	kind := taxonomy.KindFromPrivacy(r.Privacy)
	name := strings.TrimSpace(r.ESSID)
	if name == "" {
		name = bssid
	}
	n := graph.Node{
		ID:   bssid,
		Kind: kind,
		Attributes: compact(map[string]string{
			graph.AttrName:    name,
			graph.AttrBSSID:   bssid,
			graph.AttrOUI:     r.OUI,
			graph.AttrType:    string(kind),
			graph.AttrAuth:    r.Auth,
			graph.AttrCipher:  r.Cipher,
			graph.AttrChannel: r.Channel,
			graph.AttrSpeed:   r.Speed,
			graph.AttrLAN:     r.LAN,
		}),
	}
	return Mutation{Nodes: []graph.Node{n}}, nil
}

func (r Record) stationMutation() (Mutation, error) {
	mac := normalizeMAC(r.StationMAC)
	if mac == "" {
		return Mutation{}, fmt.Errorf("%w: station without mac", ErrInvalidRecord)
	}
	client := graph.Node{
		ID:   mac,
		Kind: taxonomy.KindClient,
		Attributes: compact(map[string]string{
			graph.AttrName:  mac,
			graph.AttrBSSID: mac,
			graph.AttrOUI:   r.OUI,
			graph.AttrType:  string(taxonomy.KindClient),
		}),
	}
	m := Mutation{Nodes: []graph.Node{client}}

	if ap := normalizeMAC(r.AssociatedBSSID); ap != "" {
		m.Placeholders = append(m.Placeholders, placeholderAP(ap, ap))
		m.Edges = append(m.Edges, graph.Edge{
			Source: mac,
			Target: ap,
			Kind:   taxonomy.EdgeAssociatedTo,
			Name:   string(taxonomy.EdgeAssociatedTo),
		})
	}

	seen := make(map[string]struct{}, len(r.Probes))
	for _, raw := range r.Probes {
		essid := strings.TrimSpace(raw)
		if essid == "" {
			continue
		}
		if _, ok := seen[essid]; ok {
			continue
		}
		seen[essid] = struct{}{}
		id := probedIDPrefix + essid
		m.Placeholders = append(m.Placeholders, placeholderAP(id, essid))
		m.Edges = append(m.Edges, graph.Edge{
			Source: mac,
			Target: id,
			Kind:   taxonomy.EdgeProbes,
			Name:   string(taxonomy.EdgeProbes),
		})
	}
	return m, nil
}

func placeholderAP(id, name string) graph.Node {
	return graph.Node{
		ID:   id,
		Kind: taxonomy.KindAP,
		Attributes: map[string]string{
			graph.AttrName: name,
			graph.AttrType: string(taxonomy.KindAP),
		},
	}
}

func placeholder(id string, kind taxonomy.NodeKind) graph.Node {
	return graph.Node{
		ID:   id,
		Kind: kind,
		Attributes: map[string]string{
			graph.AttrName: id,
			graph.AttrType: string(kind),
		},
	}
}

func compact(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeMAC upper-cases a colon separated MAC; airodump marks unassociated
// stations with "(not associated)".
func normalizeMAC(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || strings.HasPrefix(s, "(") {
		return ""
	}
	s = strings.ReplaceAll(s, "-", ":")
	return s
}
