package taxonomy

import (
	"fmt"
	"strings"
	"sync"
)

type NodeKind string

const (
	KindClient NodeKind = "Client"
	KindOpen   NodeKind = "Open"
	KindWEP    NodeKind = "WEP"
	KindWPA    NodeKind = "WPA"
	KindWPA2   NodeKind = "WPA2"
	KindWPA3   NodeKind = "WPA3"
	KindAP     NodeKind = "AP"

	// KindDevice is stored but never offered for display or search.
	KindDevice NodeKind = "Device"
)

type EdgeKind string

const (
	EdgeProbes       EdgeKind = "Probes"
	EdgeAssociatedTo EdgeKind = "AssociatedTo"
)

// StatsKey returns the key the store uses for relation counts.
func (k EdgeKind) StatsKey() string {
	if k == EdgeAssociatedTo {
		return "Assoc"
	}
	return string(k)
}

type LineStyle string

const (
	LineSolid  LineStyle = "solid"
	LineDashed LineStyle = "dashed"
)

type EdgeStyle struct {
	Color string    `json:"color"`
	Line  LineStyle `json:"line"`
	Width int       `json:"width"`
}

// Legend order, strongest security first.
var displayable = []NodeKind{
	KindWPA3,
	KindWPA2,
	KindWPA,
	KindWEP,
	KindOpen,
	KindClient,
	KindAP,
}

var nonDisplayable = map[NodeKind]struct{}{
	KindDevice: {},
}

var (
	nodeColors = map[NodeKind]string{
		KindClient: "#f5a623",
		KindOpen:   "#7ed321",
		KindWEP:    "#d0021b",
		KindWPA:    "#f8e71c",
		KindWPA2:   "#4a90e2",
		KindWPA3:   "#9013fe",
		KindAP:     "#b8b8b8",
		KindDevice: "#50e3c2",
	}
	edgeStyles = map[EdgeKind]EdgeStyle{
		EdgeProbes:       {Color: "#9b9b9b", Line: LineDashed, Width: 2},
		EdgeAssociatedTo: {Color: "#ffffff", Line: LineSolid, Width: 6},
	}
	configureOnce sync.Once
)

// Configure applies colour overrides. Only the first call has any effect so
// the table stays constant once the process is serving.
func Configure(nodes map[string]string, edges map[string]string) error {
	var err error
	applied := false
	configureOnce.Do(func() {
		applied = true
		for raw, color := range nodes {
			kind, ok := ParseNodeKind(raw)
			if !ok {
				err = fmt.Errorf("unknown node kind %q in colour overrides", raw)
				return
			}
			nodeColors[kind] = strings.TrimSpace(color)
		}
		for raw, color := range edges {
			kind, ok := ParseEdgeKind(raw)
			if !ok {
				err = fmt.Errorf("unknown edge kind %q in colour overrides", raw)
				return
			}
			style := edgeStyles[kind]
			style.Color = strings.TrimSpace(color)
			edgeStyles[kind] = style
		}
	})
	if !applied {
		return fmt.Errorf("taxonomy already configured")
	}
	return err
}

func ColorOf(kind NodeKind) string {
	return nodeColors[kind]
}

func EdgeStyleOf(kind EdgeKind) EdgeStyle {
	return edgeStyles[kind]
}

// DisplayableNodeKinds returns every kind shown in the legend, excluding Device.
func DisplayableNodeKinds() []NodeKind {
	out := make([]NodeKind, len(displayable))
	copy(out, displayable)
	return out
}

func EdgeKinds() []EdgeKind {
	return []EdgeKind{EdgeProbes, EdgeAssociatedTo}
}

func IsDisplayable(kind NodeKind) bool {
	_, hidden := nonDisplayable[kind]
	if hidden {
		return false
	}
	for _, k := range displayable {
		if k == kind {
			return true
		}
	}
	return false
}

// IsNonDisplayableLabel reports whether a raw vocabulary value names a hidden kind.
func IsNonDisplayableLabel(value string) bool {
	_, hidden := nonDisplayable[NodeKind(strings.TrimSpace(value))]
	return hidden
}

func ParseNodeKind(raw string) (NodeKind, bool) {
	s := strings.TrimSpace(raw)
	for _, k := range append(DisplayableNodeKinds(), KindDevice) {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

func ParseEdgeKind(raw string) (EdgeKind, bool) {
	s := strings.TrimSpace(raw)
	for _, k := range EdgeKinds() {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	if strings.EqualFold(s, "Assoc") {
		return EdgeAssociatedTo, true
	}
	return "", false
}

// KindFromPrivacy maps an airodump-ng privacy column ("WPA2 WPA", "OPN", ...)
// to the strongest network kind it advertises.
func KindFromPrivacy(privacy string) NodeKind {
	fields := strings.Fields(strings.ToUpper(privacy))
	best := KindOpen
	rank := map[NodeKind]int{KindOpen: 0, KindWEP: 1, KindWPA: 2, KindWPA2: 3, KindWPA3: 4}
	for _, f := range fields {
		var k NodeKind
		switch f {
		case "WPA3":
			k = KindWPA3
		case "WPA2":
			k = KindWPA2
		case "WPA":
			k = KindWPA
		case "WEP":
			k = KindWEP
		default:
			continue
		}
		if rank[k] > rank[best] {
			best = k
		}
	}
	return best
}
