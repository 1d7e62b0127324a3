package filter

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

type fakeReader struct {
	searchFn   func(ctx context.Context, values []string, attribute string) (graph.Snapshot, error)
	distinctFn func(attribute string) ([]string, error)
}

func (f *fakeReader) SearchQuery(ctx context.Context, values []string, attribute string) (graph.Snapshot, error) {
	return f.searchFn(ctx, values, attribute)
}

func (f *fakeReader) distinct(attr string) ([]string, error) {
	if f.distinctFn == nil {
		return nil, nil
	}
	return f.distinctFn(attr)
}

func (f *fakeReader) Names(context.Context) ([]string, error)    { return f.distinct("name") }
func (f *fakeReader) BSSIDs(context.Context) ([]string, error)   { return f.distinct("bssid") }
func (f *fakeReader) OUIs(context.Context) ([]string, error)     { return f.distinct("oui") }
func (f *fakeReader) Types(context.Context) ([]string, error)    { return f.distinct("type") }
func (f *fakeReader) Auths(context.Context) ([]string, error)    { return f.distinct("auth") }
func (f *fakeReader) Ciphers(context.Context) ([]string, error)  { return f.distinct("cipher") }
func (f *fakeReader) Channels(context.Context) ([]string, error) { return f.distinct("channel") }
func (f *fakeReader) Speeds(context.Context) ([]string, error)   { return f.distinct("speed") }
func (f *fakeReader) LANIPs(context.Context) ([]string, error)   { return f.distinct("lan") }

func TestParseAttribute(t *testing.T) {
	for _, a := range Attributes() {
		got, err := ParseAttribute(" " + string(a) + " ")
		if err != nil || got != a {
			t.Fatalf("expected %q to parse, got %q, %v", a, got, err)
		}
	}
	if _, err := ParseAttribute("essid"); !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("expected ErrUnknownAttribute, got %v", err)
	}
	if AttrLAN.Label() != "LAN IP" {
		t.Fatalf("expected LAN IP label, got %q", AttrLAN.Label())
	}
}

func TestVocabularyDispatchesPerAttribute(t *testing.T) {
	var asked []string
	sel := NewSelector(&fakeReader{distinctFn: func(attr string) ([]string, error) {
		asked = append(asked, attr)
		return []string{attr + "-value"}, nil
	}})
	for _, a := range Attributes() {
		got, err := sel.Vocabulary(context.Background(), a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0] != string(a)+"-value" {
			t.Fatalf("unexpected vocabulary for %s: %v", a, got)
		}
	}
	if len(asked) != len(Attributes()) {
		t.Fatalf("expected one accessor call per attribute, got %v", asked)
	}
}

func TestVocabularyNeverOffersNonDisplayableKind(t *testing.T) {
	sel := NewSelector(&fakeReader{distinctFn: func(string) ([]string, error) {
		return []string{"AP", "Client", string(taxonomy.KindDevice), "WPA2"}, nil
	}})
	got, err := sel.Vocabulary(context.Background(), AttrType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"AP", "Client", "WPA2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestVocabularyPropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	sel := NewSelector(&fakeReader{distinctFn: func(string) ([]string, error) { return nil, boom }})
	if _, err := sel.Vocabulary(context.Background(), AttrName); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestResolveQueryEmptyValuesSkipsStore(t *testing.T) {
	sel := NewSelector(&fakeReader{searchFn: func(context.Context, []string, string) (graph.Snapshot, error) {
		t.Fatalf("store must not be queried for an empty selection")
		return graph.Snapshot{}, nil
	}})
	snap, whole, err := sel.ResolveQuery(context.Background(), AttrName, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !whole || !snap.IsEmpty() {
		t.Fatalf("expected whole-graph marker with empty snapshot, got whole=%v %+v", whole, snap)
	}
}

func TestResolveQueryReturnsStoreResultVerbatim(t *testing.T) {
	result := graph.Snapshot{
		Nodes: []graph.Node{{ID: "a", Kind: taxonomy.KindAP}, {ID: "b", Kind: taxonomy.KindClient}},
		Edges: []graph.Edge{{Source: "b", Target: "a", Kind: taxonomy.EdgeProbes}},
	}
	var gotValues []string
	var gotAttr string
	sel := NewSelector(&fakeReader{searchFn: func(_ context.Context, values []string, attribute string) (graph.Snapshot, error) {
		gotValues, gotAttr = values, attribute
		return result, nil
	}})
	snap, whole, err := sel.ResolveQuery(context.Background(), AttrChannel, []string{"6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if whole {
		t.Fatalf("expected scoped query")
	}
	if gotAttr != "channel" || !reflect.DeepEqual(gotValues, []string{"6"}) {
		t.Fatalf("expected searchQuery([6], channel), got (%v, %s)", gotValues, gotAttr)
	}
	if !reflect.DeepEqual(snap, result) {
		t.Fatalf("expected store result verbatim, got %+v", snap)
	}
}

func TestPrune(t *testing.T) {
	got := Prune([]string{"6", "x", "1", "6"}, []string{"1", "6", "11"})
	want := []string{"6", "1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := Prune([]string{"a"}, nil); len(got) != 0 {
		t.Fatalf("expected everything pruned against an empty vocabulary, got %v", got)
	}
}
