package httpapi

import (
	"net/http"

	"beacongraph/core-go/internal/filter"
	"beacongraph/core-go/internal/taxonomy"
)

type nodeKindInfo struct {
	Kind  taxonomy.NodeKind `json:"kind"`
	Color string            `json:"color"`
}

type edgeKindInfo struct {
	Kind  taxonomy.EdgeKind  `json:"kind"`
	Style taxonomy.EdgeStyle `json:"style"`
}

type attributeInfo struct {
	Attribute filter.Attribute `json:"attribute"`
	Label     string           `json:"label"`
}

type taxonomyResponse struct {
	NodeKinds        []nodeKindInfo   `json:"node_kinds"`
	EdgeKinds        []edgeKindInfo   `json:"edge_kinds"`
	Attributes       []attributeInfo  `json:"attributes"`
	DefaultAttribute filter.Attribute `json:"default_attribute"`
}

// handleTaxonomy publishes the styling and search vocabulary clients need to
// render a view.
func (h *Handler) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	resp := taxonomyResponse{DefaultAttribute: filter.DefaultAttribute}
	for _, k := range taxonomy.DisplayableNodeKinds() {
		resp.NodeKinds = append(resp.NodeKinds, nodeKindInfo{Kind: k, Color: taxonomy.ColorOf(k)})
	}
	for _, k := range taxonomy.EdgeKinds() {
		resp.EdgeKinds = append(resp.EdgeKinds, edgeKindInfo{Kind: k, Style: taxonomy.EdgeStyleOf(k)})
	}
	for _, a := range filter.Attributes() {
		resp.Attributes = append(resp.Attributes, attributeInfo{Attribute: a, Label: a.Label()})
	}
	h.writeJSON(w, http.StatusOK, resp)
}
