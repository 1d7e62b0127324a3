package reactive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"beacongraph/core-go/internal/metrics"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrClosed        = errors.New("engine closed")
)

// Event is one user-originated change. Every Dispatch is one tick.
type Event struct {
	Set map[ID]any
	// Update derives further source values from the committed state. It runs
	// under the engine lock after Set is overlaid, so read-modify-write
	// changes (counters, pruning) never interleave with another event.
	Update func(current func(ID) any) (map[ID]any, error)
}

// Settlement describes a finished tick.
type Settlement struct {
	Tick uint64
	// Changed lists the sources whose value differed from the previous tick.
	Changed []ID
	// Recomputed lists outputs whose new value was committed.
	Recomputed []ID
	// Stale lists outputs whose result was discarded because a later tick
	// re-triggered them.
	Stale    []ID
	Errors   map[ID]error
	Duration time.Duration
	// FollowUp is the tick scheduled to re-evaluate outputs downstream of an
	// effect after a later tick re-triggered them while the effect ran. Zero
	// when none was needed.
	FollowUp uint64
}

// Inputs is the read view an output gets during evaluation. Only declared
// inputs are visible.
type Inputs struct {
	values  map[ID]any
	changed map[ID]struct{}
}

// Value returns the post-event value of a declared input.
func (in Inputs) Value(id ID) any {
	return in.values[id]
}

// Changed reports whether id changed (source) or was recomputed (output)
// earlier in the same tick.
func (in Inputs) Changed(id ID) bool {
	_, ok := in.changed[id]
	return ok
}

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Timeout bounds a single output evaluation; zero disables it.
	Timeout time.Duration
	// Sources holds the initial source values.
	Sources map[ID]any
}

type Engine struct {
	graph   *Graph
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.Mutex
	values map[ID]any
	gen    map[ID]uint64
	tick   uint64
	closed bool

	subMu  sync.Mutex
	subs   map[int]chan Settlement
	nextID int
}

func New(g *Graph, opts Options) (*Engine, error) {
	values := make(map[ID]any, len(g.sources)+len(g.specs))
	for id := range g.sources {
		values[id] = nil
	}
	for id, v := range opts.Sources {
		if !g.IsSource(id) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
		}
		values[id] = v
	}
	for id, s := range g.specs {
		values[id] = s.Initial
	}
	return &Engine{
		graph:   g,
		log:     opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		values:  values,
		gen:     make(map[ID]uint64, len(g.specs)),
		subs:    map[int]chan Settlement{},
	}, nil
}

// Value returns the committed value of a source or output.
func (e *Engine) Value(id ID) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values[id]
}

// Values returns a copy of every committed value and the last scheduled tick.
func (e *Engine) Values() (map[ID]any, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[ID]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out, e.tick
}

// Prime evaluates every output once, as on first load.
func (e *Engine) Prime(ctx context.Context) (Settlement, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Settlement{}, ErrClosed
	}
	dirty := make(map[ID]struct{}, len(e.graph.specs))
	for id := range e.graph.specs {
		dirty[id] = struct{}{}
	}
	tick, working := e.schedule(dirty)
	e.mu.Unlock()

	return e.run(ctx, tick, nil, dirty, working), nil
}

// Dispatch applies ev as one tick and returns once every triggered output
// has settled. Evaluation happens outside the engine lock, so a later
// Dispatch may start before this one finishes; whichever tick triggered an
// output last wins.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (Settlement, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Settlement{}, ErrClosed
	}
	pending, err := e.resolve(ev)
	if err != nil {
		e.mu.Unlock()
		return Settlement{}, err
	}
	var changed []ID
	for id, v := range pending {
		if reflect.DeepEqual(e.values[id], v) {
			continue
		}
		e.values[id] = v
		changed = append(changed, id)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	dirty := e.graph.closure(changed)
	tick, working := e.schedule(dirty)
	e.mu.Unlock()

	return e.run(ctx, tick, changed, dirty, working), nil
}

// resolve merges Set and Update into the source values the event assigns.
// Caller holds e.mu.
func (e *Engine) resolve(ev Event) (map[ID]any, error) {
	pending := make(map[ID]any, len(ev.Set))
	for id, v := range ev.Set {
		pending[id] = v
	}
	if ev.Update != nil {
		derived, err := ev.Update(func(id ID) any {
			if v, ok := pending[id]; ok {
				return v
			}
			return e.values[id]
		})
		if err != nil {
			return nil, err
		}
		for id, v := range derived {
			pending[id] = v
		}
	}
	for id := range pending {
		if !e.graph.IsSource(id) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
		}
	}
	return pending, nil
}

// schedule stamps dirty outputs with a new tick and copies the values the
// tick will evaluate against. Caller holds e.mu.
func (e *Engine) schedule(dirty map[ID]struct{}) (uint64, map[ID]any) {
	e.tick++
	for id := range dirty {
		e.gen[id] = e.tick
	}
	working := make(map[ID]any, len(e.values))
	for k, v := range e.values {
		working[k] = v
	}
	return e.tick, working
}

func (e *Engine) current(id ID, tick uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen[id] == tick
}

type outcome struct {
	id     ID
	value  any
	err    error
	result string
}

func (e *Engine) run(ctx context.Context, tick uint64, changed []ID, dirty map[ID]struct{}, working map[ID]any) Settlement {
	started := time.Now()
	st := Settlement{Tick: tick, Changed: changed, Errors: map[ID]error{}}

	seen := make(map[ID]struct{}, len(changed)+len(dirty))
	for _, id := range changed {
		seen[id] = struct{}{}
	}
	var effects []ID

	for _, level := range e.graph.levels {
		var todo []ID
		for _, id := range level {
			if _, ok := dirty[id]; ok {
				todo = append(todo, id)
			}
		}
		if len(todo) == 0 {
			continue
		}

		results := make([]outcome, len(todo))
		var g errgroup.Group
		for i, id := range todo {
			spec := e.graph.specs[id]
			if spec.Effect {
				effects = append(effects, id)
			}
			in := Inputs{values: make(map[ID]any, len(spec.Triggers)+len(spec.Reads)), changed: map[ID]struct{}{}}
			for _, dep := range spec.inputs() {
				in.values[dep] = working[dep]
				if _, ok := seen[dep]; ok {
					in.changed[dep] = struct{}{}
				}
			}
			prev := working[id]
			g.Go(func() error {
				results[i] = e.evaluate(ctx, tick, spec, in, prev)
				return nil
			})
		}
		_ = g.Wait()

		e.mu.Lock()
		for _, r := range results {
			if r.result == "stale" || e.gen[r.id] != tick {
				st.Stale = append(st.Stale, r.id)
				e.metrics.IncStaleDiscard(string(r.id))
				continue
			}
			if r.err != nil {
				st.Errors[r.id] = r.err
			}
			e.metrics.ObserveOutput(string(r.id), r.result)
			e.values[r.id] = r.value
			working[r.id] = r.value
			seen[r.id] = struct{}{}
			st.Recomputed = append(st.Recomputed, r.id)
		}
		e.mu.Unlock()
	}

	// A later tick that re-triggered an effect's readers evaluated them
	// before the effect finished. Re-run them now that it has.
	var (
		refreshed   []ID
		nextDirty   map[ID]struct{}
		nextWorking map[ID]any
	)
	e.mu.Lock()
	if !e.closed {
		refreshed = e.supersededEffects(tick, effects)
		if len(refreshed) > 0 {
			nextDirty = e.graph.closure(refreshed)
			st.FollowUp, nextWorking = e.schedule(nextDirty)
		}
	}
	e.mu.Unlock()

	st.Duration = time.Since(started)
	e.metrics.ObserveTick(st.Duration)

	ev := e.log.Debug().Uint64("tick", tick).Int("recomputed", len(st.Recomputed)).Int64("duration_ms", st.Duration.Milliseconds())
	if len(st.Stale) > 0 {
		ev = ev.Int("stale", len(st.Stale))
	}
	if st.FollowUp != 0 {
		ev = ev.Uint64("follow_up", st.FollowUp)
	}
	ev.Msg("tick settled")

	e.publish(st)
	if st.FollowUp != 0 {
		e.run(ctx, st.FollowUp, refreshed, nextDirty, nextWorking)
	}
	return st
}

// supersededEffects returns the effects evaluated in tick whose downstream
// outputs were re-stamped by a later tick. Caller holds e.mu.
func (e *Engine) supersededEffects(tick uint64, effects []ID) []ID {
	var out []ID
	for _, id := range effects {
		for dep := range e.graph.closure([]ID{id}) {
			if e.gen[dep] != tick {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// evaluate runs one output. Failures never escape: the output falls back or
// keeps prev.
func (e *Engine) evaluate(ctx context.Context, tick uint64, spec Spec, in Inputs, prev any) (out outcome) {
	out.id = spec.ID
	if !spec.Effect && !e.current(spec.ID, tick) {
		out.result = "stale"
		return out
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := safeCompute(cctx, spec, in)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	if err == nil {
		out.value, out.result = v, "ok"
		return out
	}

	out.err = err
	if spec.Fallback != nil {
		out.value, out.result = spec.Fallback(), "fallback"
	} else {
		out.value, out.result = prev, "retained"
	}
	e.log.Warn().Err(err).Str("output", string(spec.ID)).Uint64("tick", tick).Str("result", out.result).Msg("output evaluation failed")
	return out
}

func safeCompute(ctx context.Context, spec Spec, in Inputs) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("output %q panicked: %v", spec.ID, r)
		}
	}()
	return spec.Compute(ctx, in)
}

// Subscribe returns a channel that receives every settlement. Slow
// subscribers miss settlements rather than stall the engine.
func (e *Engine) Subscribe(buffer int) (<-chan Settlement, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Settlement, buffer)

	e.subMu.Lock()
	if e.subs == nil {
		e.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) publish(st Settlement) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Close rejects further ticks and closes every subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subs = nil
	e.subMu.Unlock()
}
