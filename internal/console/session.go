package console

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/filter"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/ingest"
	"beacongraph/core-go/internal/metrics"
	"beacongraph/core-go/internal/reactive"
	"beacongraph/core-go/internal/stats"
	"beacongraph/core-go/internal/store"
)

var (
	ErrUnknownNode = errors.New("node not in current view")
	ErrEmptyBatch  = errors.New("upload batch is empty")

	// ErrFilterChanged means the search attribute kept changing while a value
	// selection was being applied.
	ErrFilterChanged = errors.New("search attribute changed during selection")
)

const selectValuesAttempts = 3

// Store is the read side of the graph store a session consumes.
type Store interface {
	filter.Reader
	stats.StatsReader
	Identity() store.Identity
}

// Ingester performs the destructive store calls.
type Ingester interface {
	Submit(ctx context.Context, batch []capture.RawUpload) ingest.Result
	Purge(ctx context.Context) error
}

// Refresher reloads the MAC vendor table.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Deps struct {
	Store   Store
	Ingest  Ingester
	MACs    Refresher
	Metrics *metrics.Metrics

	// StoreTimeout bounds each read-side output; IngestTimeout bounds
	// uploads and MAC refreshes.
	StoreTimeout  time.Duration
	IngestTimeout time.Duration
	NoticeTTL     time.Duration
	Now           func() time.Time
}

// Session is one console: its own engine over the shared store.
type Session struct {
	ID string

	log           zerolog.Logger
	store         Store
	selector      *filter.Selector
	ingest        Ingester
	macs          Refresher
	metrics       *metrics.Metrics
	identity      store.Identity
	ingestTimeout time.Duration
	notices       *noticeBoard
	now           func() time.Time

	engine   *reactive.Engine
	lastSeen atomic.Int64
	// watchers counts live subscriptions; a watched session is never idle.
	watchers atomic.Int32
}

func newSession(id string, log zerolog.Logger, deps Deps) (*Session, error) {
	if deps.Store == nil || deps.Ingest == nil {
		return nil, errors.New("console: store and ingester are required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ingestTimeout := deps.IngestTimeout
	if ingestTimeout <= 0 {
		ingestTimeout = 2 * time.Minute
	}

	s := &Session{
		ID:            id,
		log:           log.With().Str("session", id).Logger(),
		store:         deps.Store,
		selector:      filter.NewSelector(deps.Store),
		ingest:        deps.Ingest,
		macs:          deps.MACs,
		metrics:       deps.Metrics,
		identity:      deps.Store.Identity(),
		ingestTimeout: ingestTimeout,
		notices:       newNoticeBoard(deps.NoticeTTL, now),
		now:           now,
	}

	g, err := reactive.NewGraph(sources(), s.specs()...)
	if err != nil {
		return nil, fmt.Errorf("console graph: %w", err)
	}
	s.engine, err = reactive.New(g, reactive.Options{
		Logger:  s.log,
		Metrics: deps.Metrics,
		Timeout: deps.StoreTimeout,
		Sources: s.initialSources(),
	})
	if err != nil {
		return nil, err
	}
	s.touch()
	return s, nil
}

func (s *Session) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

// LastSeen is the time of the last event or read, or of the last stream
// detaching.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Watched reports whether any subscription is attached.
func (s *Session) Watched() bool {
	return s.watchers.Load() > 0
}

// Prime runs the first-load evaluation of every output.
func (s *Session) Prime(ctx context.Context) (View, error) {
	if _, err := s.engine.Prime(context.WithoutCancel(ctx)); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// dispatch runs one tick. The tick is detached from the caller's
// cancellation so a dropped request never leaves an effect half applied;
// per-output timeouts still apply.
func (s *Session) dispatch(ctx context.Context, ev reactive.Event) (View, error) {
	s.touch()
	st, err := s.engine.Dispatch(context.WithoutCancel(ctx), ev)
	if err != nil {
		return View{}, err
	}
	for id, e := range st.Errors {
		s.log.Debug().Err(e).Str("output", string(id)).Uint64("tick", st.Tick).Msg("output degraded")
	}
	return s.View(), nil
}

// SelectAttribute rebinds the search control. A different attribute clears
// the selected values in the same tick.
func (s *Session) SelectAttribute(ctx context.Context, raw string) (View, error) {
	attr, err := filter.ParseAttribute(raw)
	if err != nil {
		return View{}, err
	}
	return s.dispatch(ctx, reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
		if as[filter.Attribute](cur(SrcSelectedAttribute)) == attr {
			return nil, nil
		}
		return map[reactive.ID]any{
			SrcSelectedAttribute: attr,
			SrcSearchValues:      []string{},
		}, nil
	}})
}

// SelectValues sets the search values, dropping any the vocabulary of the
// selected attribute does not offer. The vocabulary is read for the
// attribute the event commits against, so an attribute switch still in
// flight never prunes against the previous attribute's values.
func (s *Session) SelectValues(ctx context.Context, values []string) (View, error) {
	for attempt := 0; attempt < selectValuesAttempts; attempt++ {
		attr := as[filter.Attribute](s.engine.Value(SrcSelectedAttribute))
		vocab, err := s.selector.Vocabulary(ctx, attr)
		if err != nil {
			s.log.Debug().Err(err).Str("attribute", string(attr)).Msg("vocabulary read failed; pruning against committed vocabulary")
			vocab = nil
		}
		v, err := s.dispatch(ctx, reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
			if as[filter.Attribute](cur(SrcSelectedAttribute)) != attr {
				return nil, ErrFilterChanged
			}
			offered := vocab
			if offered == nil {
				offered = as[[]string](cur(OutSearchVocabulary))
			}
			return map[reactive.ID]any{SrcSearchValues: filter.Prune(values, offered)}, nil
		}})
		if !errors.Is(err, ErrFilterChanged) {
			return v, err
		}
	}
	return View{}, ErrFilterChanged
}

func (s *Session) SetWholeGraph(ctx context.Context, enabled bool) (View, error) {
	return s.dispatch(ctx, reactive.Event{Set: map[reactive.ID]any{SrcWholeGraph: enabled}})
}

// TapNode selects a node from the rendered snapshot.
func (s *Session) TapNode(ctx context.Context, nodeID string) (View, error) {
	return s.dispatch(ctx, reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
		node, ok := as[graph.Snapshot](cur(OutElements)).NodeByID(nodeID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, nodeID)
		}
		prev := as[Tap](cur(SrcTappedNode))
		return map[reactive.ID]any{SrcTappedNode: Tap{Seq: prev.Seq + 1, Node: &node}}, nil
	}})
}

func (s *Session) SelectTab(ctx context.Context, raw string) (View, error) {
	tab, err := ParseTab(raw)
	if err != nil {
		return View{}, err
	}
	return s.dispatch(ctx, reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
		prev := as[TabChoice](cur(SrcTabSelection))
		return map[reactive.ID]any{SrcTabSelection: TabChoice{Seq: prev.Seq + 1, Tab: tab}}, nil
	}})
}

// Upload hands a batch from one surface to the ingestion output.
func (s *Session) Upload(ctx context.Context, surface Surface, files []capture.RawUpload) (View, error) {
	src, err := surface.source()
	if err != nil {
		return View{}, err
	}
	if len(files) == 0 {
		return View{}, ErrEmptyBatch
	}
	return s.dispatch(ctx, reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
		prev := as[UploadBatch](cur(src))
		return map[reactive.ID]any{src: UploadBatch{Seq: prev.Seq + 1, Files: files}}, nil
	}})
}

// ConfirmDelete registers one confirmed delete click.
func (s *Session) ConfirmDelete(ctx context.Context) (View, error) {
	return s.dispatch(ctx, increment(SrcDeleteClicks))
}

// ConfirmMACRefresh registers one confirmed MAC table refresh click.
func (s *Session) ConfirmMACRefresh(ctx context.Context) (View, error) {
	return s.dispatch(ctx, increment(SrcMACRefreshClicks))
}

func increment(id reactive.ID) reactive.Event {
	return reactive.Event{Update: func(cur func(reactive.ID) any) (map[reactive.ID]any, error) {
		return map[reactive.ID]any{id: as[int](cur(id)) + 1}, nil
	}}
}

// Subscribe streams a fresh View after every settled tick. The session
// counts as active until ctx is done.
func (s *Session) Subscribe(ctx context.Context) <-chan View {
	settled, cancel := s.engine.Subscribe(8)
	out := make(chan View, 1)
	s.watchers.Add(1)
	go func() {
		defer close(out)
		defer func() {
			s.watchers.Add(-1)
			s.touch()
		}()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-settled:
				if !ok {
					return
				}
				select {
				case out <- s.View():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *Session) close() {
	s.engine.Close()
}
