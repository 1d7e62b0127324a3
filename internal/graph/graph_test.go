package graph

import (
	"testing"

	"beacongraph/core-go/internal/taxonomy"
)

func TestSnapshot_KindCountsAndLookup(t *testing.T) {
	s := Snapshot{
		Nodes: []Node{
			{ID: "a", Kind: taxonomy.KindAP},
			{ID: "b", Kind: taxonomy.KindClient, Attributes: map[string]string{AttrName: "phone"}},
			{ID: "c", Kind: taxonomy.KindClient},
		},
	}
	counts := s.KindCounts()
	if counts[taxonomy.KindClient] != 2 || counts[taxonomy.KindAP] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	n, ok := s.NodeByID("b")
	if !ok || n.Attr(AttrName) != "phone" {
		t.Fatalf("expected node b with name phone, got %+v ok=%v", n, ok)
	}
	if _, ok := s.NodeByID("zzz"); ok {
		t.Fatalf("expected missing node")
	}
	if (Node{}).Attr(AttrName) != "" {
		t.Fatalf("expected empty attr on nil map")
	}
}

func TestSnapshot_Sort(t *testing.T) {
	s := Snapshot{
		Nodes: []Node{{ID: "b"}, {ID: "a"}},
		Edges: []Edge{
			{Source: "b", Target: "a", Kind: taxonomy.EdgeProbes},
			{Source: "a", Target: "b", Kind: taxonomy.EdgeProbes},
			{Source: "a", Target: "b", Kind: taxonomy.EdgeAssociatedTo},
		},
	}
	s.Sort()
	if s.Nodes[0].ID != "a" {
		t.Fatalf("expected nodes sorted by id")
	}
	if s.Edges[0].Kind != taxonomy.EdgeAssociatedTo || s.Edges[2].Source != "b" {
		t.Fatalf("unexpected edge order: %+v", s.Edges)
	}
}

func TestStats_Display(t *testing.T) {
	st := Stats{"Client": 12, "AP": 0}
	if st.Display("Client") != "12" {
		t.Fatalf("expected 12")
	}
	if st.Display("AP") != "0" || st.Display("WEP") != "0" {
		t.Fatalf("expected missing and zero keys to display 0")
	}
	if !EmptySnapshot().IsEmpty() {
		t.Fatalf("expected empty snapshot")
	}
}
