package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/filter"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/reactive"
	"beacongraph/core-go/internal/stats"
	"beacongraph/core-go/internal/store"
)

// Sources: cells written by user events.
const (
	SrcSearchValues      reactive.ID = "searchValues"
	SrcSelectedAttribute reactive.ID = "selectedAttribute"
	SrcWholeGraph        reactive.ID = "wholeGraph"
	SrcTappedNode        reactive.ID = "tappedNode"
	SrcTabSelection      reactive.ID = "tabSelection"
	SrcUploadContents    reactive.ID = "uploadContents"
	SrcDragDropContents  reactive.ID = "dragDropContents"
	SrcDeleteClicks      reactive.ID = "deleteClicks"
	SrcMACRefreshClicks  reactive.ID = "macRefreshClicks"
	SrcStoreIdentity     reactive.ID = "storeIdentity"
)

// Outputs derived by the engine.
const (
	OutElements             reactive.ID = "elements"
	OutNodeDetail           reactive.ID = "nodeDetail"
	OutActiveTab            reactive.ID = "activeTab"
	OutSearchVocabulary     reactive.ID = "searchVocabulary"
	OutDBInfoPanel          reactive.ID = "dbInfoPanel"
	OutLegend               reactive.ID = "legend"
	OutUploadCompletion     reactive.ID = "uploadCompletion"
	OutDeleteCompletion     reactive.ID = "deleteCompletion"
	OutMACRefreshCompletion reactive.ID = "macRefreshCompletion"
)

var (
	ErrUnknownTab     = errors.New("unknown tab")
	ErrUnknownSurface = errors.New("unknown upload surface")
)

type Tab string

const (
	TabNodeData Tab = "node-data"
	TabDBInfo   Tab = "db-info"
	TabSettings Tab = "settings"
)

func ParseTab(raw string) (Tab, error) {
	switch t := Tab(strings.ToLower(strings.TrimSpace(raw))); t {
	case TabNodeData, TabDBInfo, TabSettings:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTab, raw)
	}
}

// Surface is the UI affordance an upload came from.
type Surface string

const (
	SurfaceButton   Surface = "button"
	SurfaceDragDrop Surface = "dragdrop"
)

func (s Surface) source() (reactive.ID, error) {
	switch s {
	case SurfaceButton:
		return SrcUploadContents, nil
	case SurfaceDragDrop:
		return SrcDragDropContents, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSurface, s)
	}
}

// Tap is the tapped-node cell. Seq grows on every tap so tapping the same
// node twice is still a change.
type Tap struct {
	Seq  uint64
	Node *graph.Node
}

// TabChoice is the user's explicit tab selection.
type TabChoice struct {
	Seq uint64
	Tab Tab
}

// UploadBatch is the contents of one upload surface.
type UploadBatch struct {
	Seq   uint64
	Files []capture.RawUpload
}

// Completion is the payload-free signal settled by effect outputs.
type Completion struct{}

var detailRows = []struct {
	label string
	attr  string
}{
	{"NAME", graph.AttrName},
	{"BSSID", graph.AttrBSSID},
	{"OUI", graph.AttrOUI},
	{"TYPE", graph.AttrType},
	{"AUTH", graph.AttrAuth},
	{"CIPHER", graph.AttrCipher},
	{"CHANNEL", graph.AttrChannel},
	{"SPEED", graph.AttrSpeed},
	{"LAN IP", graph.AttrLAN},
}

// DetailRows renders the node panel; a nil node gives all-dash placeholders.
func DetailRows(n *graph.Node) []stats.Row {
	out := make([]stats.Row, 0, len(detailRows))
	for _, r := range detailRows {
		v := "-"
		if n != nil {
			if s := strings.TrimSpace(n.Attr(r.attr)); s != "" {
				v = s
			}
		}
		out = append(out, stats.Row{Name: r.label, Value: v})
	}
	return out
}

func as[T any](v any) T {
	t, _ := v.(T)
	return t
}

func sources() []reactive.ID {
	return []reactive.ID{
		SrcSearchValues,
		SrcSelectedAttribute,
		SrcWholeGraph,
		SrcTappedNode,
		SrcTabSelection,
		SrcUploadContents,
		SrcDragDropContents,
		SrcDeleteClicks,
		SrcMACRefreshClicks,
		SrcStoreIdentity,
	}
}

func (s *Session) initialSources() map[reactive.ID]any {
	return map[reactive.ID]any{
		SrcSearchValues:      []string{},
		SrcSelectedAttribute: filter.DefaultAttribute,
		SrcWholeGraph:        false,
		SrcTappedNode:        Tap{},
		SrcTabSelection:      TabChoice{Tab: TabDBInfo},
		SrcUploadContents:    UploadBatch{},
		SrcDragDropContents:  UploadBatch{},
		SrcDeleteClicks:      0,
		SrcMACRefreshClicks:  0,
		SrcStoreIdentity:     s.identity,
	}
}

// specs is the dependency table of the console. elements sits upstream of
// every reader of its node distribution and never reads them back.
func (s *Session) specs() []reactive.Spec {
	conn := stats.Connection{Address: s.identity.URI, User: s.identity.User}
	return []reactive.Spec{
		{
			ID:       OutElements,
			Triggers: []reactive.ID{SrcSearchValues},
			Reads:    []reactive.ID{SrcSelectedAttribute, SrcWholeGraph},
			Initial:  graph.EmptySnapshot(),
			Fallback: func() any { return graph.EmptySnapshot() },
			Compute:  s.computeElements,
		},
		{
			ID:       OutActiveTab,
			Triggers: []reactive.ID{SrcTappedNode, SrcTabSelection},
			Initial:  TabDBInfo,
			Compute: func(_ context.Context, in reactive.Inputs) (any, error) {
				if in.Changed(SrcTappedNode) && as[Tap](in.Value(SrcTappedNode)).Node != nil {
					return TabNodeData, nil
				}
				return as[TabChoice](in.Value(SrcTabSelection)).Tab, nil
			},
		},
		{
			ID:       OutNodeDetail,
			Triggers: []reactive.ID{SrcTappedNode, OutActiveTab},
			Initial:  DetailRows(nil),
			Compute: func(_ context.Context, in reactive.Inputs) (any, error) {
				return DetailRows(as[Tap](in.Value(SrcTappedNode)).Node), nil
			},
		},
		{
			ID:       OutSearchVocabulary,
			Triggers: []reactive.ID{OutElements, SrcSelectedAttribute, OutUploadCompletion, OutDeleteCompletion},
			Initial:  []string{},
			Fallback: func() any { return []string{} },
			Compute: func(ctx context.Context, in reactive.Inputs) (any, error) {
				return s.selector.Vocabulary(ctx, as[filter.Attribute](in.Value(SrcSelectedAttribute)))
			},
		},
		{
			ID:       OutDBInfoPanel,
			Triggers: []reactive.ID{OutElements, OutUploadCompletion, OutDeleteCompletion},
			Reads:    []reactive.ID{SrcStoreIdentity},
			Initial:  stats.DBInfoRows(conn, nil),
			Fallback: func() any { return stats.DBInfoRows(conn, nil) },
			Compute: func(ctx context.Context, in reactive.Inputs) (any, error) {
				id := as[store.Identity](in.Value(SrcStoreIdentity))
				return stats.DBInfo(ctx, s.store, stats.Connection{Address: id.URI, User: id.User})
			},
		},
		{
			ID:       OutLegend,
			Triggers: []reactive.ID{OutElements},
			Initial:  stats.EmptyLegend(),
			Compute: func(_ context.Context, in reactive.Inputs) (any, error) {
				return stats.Legend(as[graph.Snapshot](in.Value(OutElements))), nil
			},
		},
		{
			ID:       OutUploadCompletion,
			Triggers: []reactive.ID{SrcUploadContents, SrcDragDropContents},
			Initial:  Completion{},
			Fallback: func() any { return Completion{} },
			Timeout:  s.ingestTimeout,
			Effect:   true,
			Compute:  s.computeUpload,
		},
		{
			ID:       OutDeleteCompletion,
			Triggers: []reactive.ID{SrcDeleteClicks},
			Initial:  Completion{},
			Fallback: func() any { return Completion{} },
			Effect:   true,
			Compute:  s.computeDelete,
		},
		{
			ID:       OutMACRefreshCompletion,
			Triggers: []reactive.ID{SrcMACRefreshClicks},
			Initial:  Completion{},
			Fallback: func() any { return Completion{} },
			Timeout:  s.ingestTimeout,
			Effect:   true,
			Compute:  s.computeMACRefresh,
		},
	}
}

func (s *Session) computeElements(ctx context.Context, in reactive.Inputs) (any, error) {
	if as[bool](in.Value(SrcWholeGraph)) {
		return graph.EmptySnapshot(), nil
	}
	attr := as[filter.Attribute](in.Value(SrcSelectedAttribute))
	snap, _, err := s.selector.ResolveQuery(ctx, attr, as[[]string](in.Value(SrcSearchValues)))
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Session) computeUpload(ctx context.Context, in reactive.Inputs) (any, error) {
	for _, src := range []reactive.ID{SrcUploadContents, SrcDragDropContents} {
		if !in.Changed(src) {
			continue
		}
		batch := as[UploadBatch](in.Value(src))
		if len(batch.Files) == 0 {
			continue
		}
		res := s.ingest.Submit(ctx, batch.Files)
		if res.Applied < res.Total() {
			s.notices.Post(LevelFailure, fmt.Sprintf("%d of %d uploads applied", res.Applied, res.Total()))
		}
	}
	return Completion{}, nil
}

func (s *Session) computeDelete(ctx context.Context, in reactive.Inputs) (any, error) {
	if as[int](in.Value(SrcDeleteClicks)) <= 0 || !in.Changed(SrcDeleteClicks) {
		return Completion{}, nil
	}
	if err := s.ingest.Purge(ctx); err != nil {
		s.notices.Post(LevelFailure, "Database delete failed")
		return nil, err
	}
	s.notices.Post(LevelSuccess, "Database deleted!")
	return Completion{}, nil
}

func (s *Session) computeMACRefresh(ctx context.Context, in reactive.Inputs) (any, error) {
	if as[int](in.Value(SrcMACRefreshClicks)) <= 0 || !in.Changed(SrcMACRefreshClicks) {
		return Completion{}, nil
	}
	if s.macs == nil {
		s.notices.Post(LevelFailure, "MAC database refresh unavailable")
		s.metrics.ObserveMACRefresh(false)
		return Completion{}, nil
	}
	if err := s.macs.Refresh(ctx); err != nil {
		s.notices.Post(LevelFailure, "MAC database file update failed")
		s.metrics.ObserveMACRefresh(false)
		return nil, err
	}
	s.notices.Post(LevelSuccess, "MAC database file updated!")
	s.metrics.ObserveMACRefresh(true)
	return Completion{}, nil
}
