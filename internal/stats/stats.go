package stats

import (
	"context"
	"strconv"
	"strings"

	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

const (
	absent      = "-"
	zeroDisplay = "0"
)

// Row is one label/value line of a panel table.
type Row struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LegendEntry is one displayable kind with its count in the rendered view.
type LegendEntry struct {
	Kind  taxonomy.NodeKind `json:"kind"`
	Color string            `json:"color"`
	Count string            `json:"count"`
}

// Legend counts displayable kinds over the rendered snapshot only. Kinds
// absent from the snapshot show "-".
func Legend(s graph.Snapshot) []LegendEntry {
	counts := s.KindCounts()
	kinds := taxonomy.DisplayableNodeKinds()
	out := make([]LegendEntry, 0, len(kinds))
	for _, k := range kinds {
		count := absent
		if n := counts[k]; n > 0 {
			count = strconv.Itoa(n)
		}
		out = append(out, LegendEntry{Kind: k, Color: taxonomy.ColorOf(k), Count: count})
	}
	return out
}

// EmptyLegend is the legend of the empty snapshot.
func EmptyLegend() []LegendEntry {
	return Legend(graph.EmptySnapshot())
}

// StatsReader is the store capability DBInfo needs.
type StatsReader interface {
	DBStats(ctx context.Context) (graph.Stats, error)
}

// Connection is the static store identity shown above the counts.
type Connection struct {
	Address string
	User    string
}

var dbInfoCounts = []struct {
	label string
	key   string
}{
	{"Clients", string(taxonomy.KindClient)},
	{"Probed APs", string(taxonomy.KindAP)},
	{"WPA3", string(taxonomy.KindWPA3)},
	{"WPA2", string(taxonomy.KindWPA2)},
	{"WPA", string(taxonomy.KindWPA)},
	{"WEP", string(taxonomy.KindWEP)},
	{"Open", string(taxonomy.KindOpen)},
	{"Probes", taxonomy.EdgeProbes.StatsKey()},
	{"Associations", taxonomy.EdgeAssociatedTo.StatsKey()},
}

// DBInfo renders database-wide counts; the active filter does not affect it.
func DBInfo(ctx context.Context, r StatsReader, conn Connection) ([]Row, error) {
	st, err := r.DBStats(ctx)
	if err != nil {
		return nil, err
	}
	return DBInfoRows(conn, st), nil
}

// DBInfoRows formats the panel. A nil Stats renders every count as "0".
func DBInfoRows(conn Connection, st graph.Stats) []Row {
	rows := []Row{
		{Name: "DB Address", Value: orDash(conn.Address)},
		{Name: "DB User", Value: orDash(conn.User)},
	}
	for _, c := range dbInfoCounts {
		v := zeroDisplay
		if st != nil {
			v = st.Display(c.key)
		}
		rows = append(rows, Row{Name: c.label, Value: v})
	}
	return rows
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return absent
	}
	return s
}
