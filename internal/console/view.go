package console

import (
	"beacongraph/core-go/internal/filter"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/stats"
)

// View is everything a client renders for one session.
type View struct {
	SessionID        string              `json:"session_id"`
	Tick             uint64              `json:"tick"`
	Filter           filter.Spec         `json:"filter"`
	WholeGraph       bool                `json:"whole_graph"`
	Elements         graph.Snapshot      `json:"elements"`
	NodeDetail       []stats.Row         `json:"node_detail"`
	ActiveTab        Tab                 `json:"active_tab"`
	SearchVocabulary []string            `json:"search_vocabulary"`
	DBInfo           []stats.Row         `json:"db_info"`
	Legend           []stats.LegendEntry `json:"legend"`
	Notices          []Notice            `json:"notices"`
}

// View reads the committed outputs.
func (s *Session) View() View {
	values, tick := s.engine.Values()
	return View{
		SessionID: s.ID,
		Tick:      tick,
		Filter: filter.Spec{
			Attribute: as[filter.Attribute](values[SrcSelectedAttribute]),
			Values:    as[[]string](values[SrcSearchValues]),
		},
		WholeGraph:       as[bool](values[SrcWholeGraph]),
		Elements:         as[graph.Snapshot](values[OutElements]),
		NodeDetail:       as[[]stats.Row](values[OutNodeDetail]),
		ActiveTab:        as[Tab](values[OutActiveTab]),
		SearchVocabulary: as[[]string](values[OutSearchVocabulary]),
		DBInfo:           as[[]stats.Row](values[OutDBInfoPanel]),
		Legend:           as[[]stats.LegendEntry](values[OutLegend]),
		Notices:          s.notices.Active(),
	}
}
