package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

var ErrUnknownAttribute = errors.New("unknown filter attribute")

// Attribute is the node attribute the search control is bound to.
type Attribute string

const (
	AttrName    Attribute = graph.AttrName
	AttrBSSID   Attribute = graph.AttrBSSID
	AttrOUI     Attribute = graph.AttrOUI
	AttrType    Attribute = graph.AttrType
	AttrAuth    Attribute = graph.AttrAuth
	AttrCipher  Attribute = graph.AttrCipher
	AttrChannel Attribute = graph.AttrChannel
	AttrSpeed   Attribute = graph.AttrSpeed
	AttrLAN     Attribute = graph.AttrLAN

	DefaultAttribute = AttrName
)

var labels = map[Attribute]string{
	AttrName:    "Name",
	AttrBSSID:   "BSSID",
	AttrOUI:     "OUI",
	AttrType:    "Type",
	AttrAuth:    "Auth",
	AttrCipher:  "Cipher",
	AttrChannel: "Channel",
	AttrSpeed:   "Speed",
	AttrLAN:     "LAN IP",
}

// Attributes lists every searchable attribute in display order.
func Attributes() []Attribute {
	names := graph.AttributeNames()
	out := make([]Attribute, 0, len(names))
	for _, n := range names {
		out = append(out, Attribute(n))
	}
	return out
}

func ParseAttribute(raw string) (Attribute, error) {
	a := Attribute(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := labels[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, raw)
	}
	return a, nil
}

func (a Attribute) Label() string {
	if l, ok := labels[a]; ok {
		return l
	}
	return string(a)
}

// Spec is the current search scope.
type Spec struct {
	Attribute Attribute `json:"attribute"`
	Values    []string  `json:"values"`
}

// Reader is the part of the graph store the selector needs.
type Reader interface {
	SearchQuery(ctx context.Context, values []string, attribute string) (graph.Snapshot, error)
	Names(ctx context.Context) ([]string, error)
	BSSIDs(ctx context.Context) ([]string, error)
	OUIs(ctx context.Context) ([]string, error)
	Types(ctx context.Context) ([]string, error)
	Auths(ctx context.Context) ([]string, error)
	Ciphers(ctx context.Context) ([]string, error)
	Channels(ctx context.Context) ([]string, error)
	Speeds(ctx context.Context) ([]string, error)
	LANIPs(ctx context.Context) ([]string, error)
}

type Selector struct {
	store Reader
}

func NewSelector(store Reader) *Selector {
	return &Selector{store: store}
}

func (s *Selector) accessor(attr Attribute) (func(context.Context) ([]string, error), error) {
	switch attr {
	case AttrName:
		return s.store.Names, nil
	case AttrBSSID:
		return s.store.BSSIDs, nil
	case AttrOUI:
		return s.store.OUIs, nil
	case AttrType:
		return s.store.Types, nil
	case AttrAuth:
		return s.store.Auths, nil
	case AttrCipher:
		return s.store.Ciphers, nil
	case AttrChannel:
		return s.store.Channels, nil
	case AttrSpeed:
		return s.store.Speeds, nil
	case AttrLAN:
		return s.store.LANIPs, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// Vocabulary returns the distinct values offered for attr, without
// non-displayable kind labels.
func (s *Selector) Vocabulary(ctx context.Context, attr Attribute) ([]string, error) {
	get, err := s.accessor(attr)
	if err != nil {
		return nil, err
	}
	values, err := get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if taxonomy.IsNonDisplayableLabel(v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ResolveQuery returns the subgraph matching values. With no values it
// returns the empty snapshot and whole=true without touching the store.
func (s *Selector) ResolveQuery(ctx context.Context, attr Attribute, values []string) (snap graph.Snapshot, whole bool, err error) {
	if _, ok := labels[attr]; !ok {
		return graph.Snapshot{}, false, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	if len(values) == 0 {
		return graph.EmptySnapshot(), true, nil
	}
	snap, err = s.store.SearchQuery(ctx, values, string(attr))
	if err != nil {
		return graph.Snapshot{}, false, err
	}
	return snap, false, nil
}

// Prune drops values absent from vocabulary and duplicates, keeping order.
func Prune(values, vocabulary []string) []string {
	allowed := make(map[string]struct{}, len(vocabulary))
	for _, v := range vocabulary {
		allowed[v] = struct{}{}
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := allowed[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
