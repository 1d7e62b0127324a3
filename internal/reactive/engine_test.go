package reactive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newEngine(t *testing.T, sources map[ID]any, specs ...Spec) *Engine {
	t.Helper()
	ids := make([]ID, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	g, err := NewGraph(ids, specs...)
	if err != nil {
		t.Fatalf("unexpected graph error: %v", err)
	}
	e, err := New(g, Options{Logger: zerolog.Nop(), Sources: sources, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestDispatchEvaluatesEachOutputOncePerTick(t *testing.T) {
	var calls atomic.Int32
	var seen [2]any
	e := newEngine(t, map[ID]any{"x": 0, "y": 0},
		Spec{ID: "left", Triggers: []ID{"x"}, Compute: func(_ context.Context, in Inputs) (any, error) {
			return in.Value("x"), nil
		}},
		Spec{ID: "right", Triggers: []ID{"y"}, Compute: func(_ context.Context, in Inputs) (any, error) {
			return in.Value("y"), nil
		}},
		Spec{ID: "join", Triggers: []ID{"left", "right", "x"}, Compute: func(_ context.Context, in Inputs) (any, error) {
			calls.Add(1)
			seen = [2]any{in.Value("left"), in.Value("right")}
			return nil, nil
		}},
	)

	st, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 1, "y": 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected join evaluated once, got %d", calls.Load())
	}
	if seen != [2]any{1, 2} {
		t.Fatalf("expected join to observe post-event values, got %v", seen)
	}
	if len(st.Recomputed) != 3 {
		t.Fatalf("expected 3 outputs recomputed, got %v", st.Recomputed)
	}
}

func TestDispatchIgnoresUnchangedSourcesAndReadOnlyInputs(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, map[ID]any{"values": []string{"a"}, "attr": "name"},
		Spec{ID: "elements", Triggers: []ID{"values"}, Reads: []ID{"attr"}, Compute: func(context.Context, Inputs) (any, error) {
			calls.Add(1)
			return nil, nil
		}},
	)

	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"values": []string{"a"}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"attr": "channel"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no evaluation, got %d", calls.Load())
	}
	if got := e.Value("attr"); got != "channel" {
		t.Fatalf("expected read-only source to be stored, got %v", got)
	}
}

func TestChangedReportsTriggersFiredThisTick(t *testing.T) {
	var tapped, tab bool
	e := newEngine(t, map[ID]any{"tap": "", "tab": "db"},
		Spec{ID: "active", Triggers: []ID{"tap", "tab"}, Compute: func(_ context.Context, in Inputs) (any, error) {
			tapped, tab = in.Changed("tap"), in.Changed("tab")
			return nil, nil
		}},
	)
	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"tap": "b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tapped || tab {
		t.Fatalf("expected only tap changed, got tap=%v tab=%v", tapped, tab)
	}
}

func TestDispatchUnknownSource(t *testing.T) {
	e := newEngine(t, map[ID]any{"x": 0}, Spec{ID: "o", Triggers: []ID{"x"}, Compute: constant(1)})
	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"o": 1}}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestFailureFallsBackWithoutTouchingSiblings(t *testing.T) {
	boom := errors.New("store unavailable")
	e := newEngine(t, map[ID]any{"x": 0},
		Spec{ID: "a", Triggers: []ID{"x"}, Initial: "init-a",
			Compute:  func(context.Context, Inputs) (any, error) { return nil, boom },
			Fallback: func() any { return "placeholder" },
		},
		Spec{ID: "b", Triggers: []ID{"x"}, Initial: "init-b",
			Compute: func(context.Context, Inputs) (any, error) { return nil, boom },
		},
		Spec{ID: "c", Triggers: []ID{"x"}, Compute: func(_ context.Context, in Inputs) (any, error) {
			return "ok", nil
		}},
	)

	st, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.Value("a"); got != "placeholder" {
		t.Fatalf("expected fallback value, got %v", got)
	}
	if got := e.Value("b"); got != "init-b" {
		t.Fatalf("expected previous value retained, got %v", got)
	}
	if got := e.Value("c"); got != "ok" {
		t.Fatalf("expected sibling unaffected, got %v", got)
	}
	if !errors.Is(st.Errors["a"], boom) || !errors.Is(st.Errors["b"], boom) {
		t.Fatalf("expected both failures reported, got %v", st.Errors)
	}
	if _, ok := st.Errors["c"]; ok {
		t.Fatalf("unexpected error for c")
	}
}

func TestTimeoutAndPanicDegradeOutput(t *testing.T) {
	e := newEngine(t, map[ID]any{"x": 0},
		Spec{ID: "slow", Triggers: []ID{"x"}, Timeout: 20 * time.Millisecond,
			Compute: func(ctx context.Context, _ Inputs) (any, error) {
				<-ctx.Done()
				return "late", nil
			},
			Fallback: func() any { return "degraded" },
		},
		Spec{ID: "broken", Triggers: []ID{"x"},
			Compute:  func(context.Context, Inputs) (any, error) { panic("nil map") },
			Fallback: func() any { return "degraded" },
		},
	)

	st, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(st.Errors["slow"], context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", st.Errors["slow"])
	}
	if st.Errors["broken"] == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if e.Value("slow") != "degraded" || e.Value("broken") != "degraded" {
		t.Fatalf("expected degraded values, got %v / %v", e.Value("slow"), e.Value("broken"))
	}
}

func TestStaleResultIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := newEngine(t, map[ID]any{"q": ""},
		Spec{ID: "elements", Triggers: []ID{"q"}, Timeout: 5 * time.Second,
			Compute: func(_ context.Context, in Inputs) (any, error) {
				q := in.Value("q").(string)
				if q == "slow" {
					close(started)
					<-release
				}
				return "result:" + q, nil
			},
		},
	)

	first := make(chan Settlement, 1)
	go func() {
		st, _ := e.Dispatch(context.Background(), Event{Set: map[ID]any{"q": "slow"}})
		first <- st
	}()
	<-started

	second, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"q": "fast"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Recomputed) != 1 {
		t.Fatalf("expected the later tick to commit, got %+v", second)
	}
	close(release)

	st := <-first
	if len(st.Stale) != 1 || st.Stale[0] != "elements" {
		t.Fatalf("expected first tick's result discarded, got %+v", st)
	}
	if got := e.Value("elements"); got != "result:fast" {
		t.Fatalf("expected last trigger to win, got %v", got)
	}
}

func TestSameLevelOutputsRunInParallel(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	wait := func(ctx context.Context, _ Inputs) (any, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return "together", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := newEngine(t, map[ID]any{"x": 0},
		Spec{ID: "legend", Triggers: []ID{"x"}, Compute: wait},
		Spec{ID: "vocabulary", Triggers: []ID{"x"}, Compute: wait},
	)

	st, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Errors) != 0 {
		t.Fatalf("expected both outputs to meet, got %v", st.Errors)
	}
}

func TestPrimeEvaluatesEverything(t *testing.T) {
	var calls atomic.Int32
	count := func(context.Context, Inputs) (any, error) {
		calls.Add(1)
		return nil, nil
	}
	e := newEngine(t, map[ID]any{"x": 0},
		Spec{ID: "a", Triggers: []ID{"x"}, Compute: count},
		Spec{ID: "b", Triggers: []ID{"a"}, Compute: count},
		Spec{ID: "c", Compute: count},
	)
	st, err := e.Prime(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 || st.Tick != 1 {
		t.Fatalf("expected 3 evaluations on tick 1, got %d on tick %d", calls.Load(), st.Tick)
	}
}

func TestSubscribeAndClose(t *testing.T) {
	e := newEngine(t, map[ID]any{"x": 0}, Spec{ID: "o", Triggers: []ID{"x"}, Compute: constant(1)})
	ch, cancel := e.Subscribe(1)
	defer cancel()

	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case st := <-ch:
		if st.Tick != 1 {
			t.Fatalf("expected tick 1, got %d", st.Tick)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected settlement to be published")
	}

	e.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"x": 2}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestUpdateReadsCommittedStateAtomically(t *testing.T) {
	var deletes atomic.Int32
	e := newEngine(t, map[ID]any{"clicks": 0},
		Spec{ID: "deleted", Triggers: []ID{"clicks"}, Effect: true, Compute: func(_ context.Context, in Inputs) (any, error) {
			if in.Value("clicks").(int) > 0 {
				deletes.Add(1)
			}
			return struct{}{}, nil
		}},
	)
	inc := Event{Update: func(cur func(ID) any) (map[ID]any, error) {
		return map[ID]any{"clicks": cur("clicks").(int) + 1}, nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Dispatch(context.Background(), inc)
		}()
	}
	wg.Wait()

	if got := e.Value("clicks"); got != 5 {
		t.Fatalf("expected 5 clicks, got %v", got)
	}
	if deletes.Load() != 5 {
		t.Fatalf("expected one action per click, got %d", deletes.Load())
	}
}

func TestUpdateErrorSchedulesNothing(t *testing.T) {
	missing := errors.New("no such node")
	e := newEngine(t, map[ID]any{"tap": ""}, Spec{ID: "o", Triggers: []ID{"tap"}, Compute: constant(1)})
	_, err := e.Dispatch(context.Background(), Event{
		Set:    map[ID]any{"tap": "x"},
		Update: func(func(ID) any) (map[ID]any, error) { return nil, missing },
	})
	if !errors.Is(err, missing) {
		t.Fatalf("expected update error, got %v", err)
	}
	if _, tick := e.Values(); tick != 0 {
		t.Fatalf("expected no tick scheduled, got %d", tick)
	}
	if e.Value("tap") != "" {
		t.Fatalf("expected Set to be discarded with the failed update")
	}
}

func TestEffectReadersRefreshAfterOverlappingTick(t *testing.T) {
	var written atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	e := newEngine(t, map[ID]any{"upload": 0, "search": ""},
		Spec{ID: "write", Triggers: []ID{"upload"}, Effect: true, Timeout: 5 * time.Second,
			Compute: func(_ context.Context, in Inputs) (any, error) {
				if !in.Changed("upload") {
					return nil, nil
				}
				close(started)
				<-release
				written.Add(1)
				return nil, nil
			},
		},
		Spec{ID: "count", Triggers: []ID{"write", "search"}, Compute: func(context.Context, Inputs) (any, error) {
			return written.Load(), nil
		}},
	)

	first := make(chan Settlement, 1)
	go func() {
		st, _ := e.Dispatch(context.Background(), Event{Set: map[ID]any{"upload": 1}})
		first <- st
	}()
	<-started

	if _, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"search": "lab"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.Value("count"); got != int32(0) {
		t.Fatalf("expected the overlapping tick to read before the write, got %v", got)
	}
	close(release)

	st := <-first
	if st.FollowUp == 0 {
		t.Fatalf("expected a follow-up tick, got %+v", st)
	}
	if got := e.Value("count"); got != int32(1) {
		t.Fatalf("expected reader refreshed after the write, got %v", got)
	}
	if _, tick := e.Values(); tick != st.FollowUp {
		t.Fatalf("expected follow-up to be the last tick, got %d want %d", tick, st.FollowUp)
	}
}

func TestEffectWithoutOverlapNeedsNoFollowUp(t *testing.T) {
	e := newEngine(t, map[ID]any{"upload": 0},
		Spec{ID: "write", Triggers: []ID{"upload"}, Effect: true, Compute: constant(nil)},
		Spec{ID: "count", Triggers: []ID{"write"}, Compute: constant(1)},
	)
	st, err := e.Dispatch(context.Background(), Event{Set: map[ID]any{"upload": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.FollowUp != 0 {
		t.Fatalf("expected no follow-up, got tick %d", st.FollowUp)
	}
}
