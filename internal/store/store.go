package store

import (
	"context"
	"errors"
	"fmt"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/graph"
)

var (
	// ErrUnavailable marks connection or query failures.
	ErrUnavailable     = errors.New("graph store unavailable")
	ErrUnknownDataType = errors.New("unknown data type")
	ErrUnknownColumn   = errors.New("unknown attribute")
)

// Identity describes the store connection shown in the DB info panel.
type Identity struct {
	URI  string `json:"uri"`
	User string `json:"user"`
}

// Store is the graph database contract consumed by the console.
type Store interface {
	InitialQuery(ctx context.Context) (graph.Snapshot, error)
	SearchQuery(ctx context.Context, values []string, attribute string) (graph.Snapshot, error)
	DBStats(ctx context.Context) (graph.Stats, error)

	Names(ctx context.Context) ([]string, error)
	BSSIDs(ctx context.Context) ([]string, error)
	OUIs(ctx context.Context) ([]string, error)
	Types(ctx context.Context) ([]string, error)
	Auths(ctx context.Context) ([]string, error)
	Ciphers(ctx context.Context) ([]string, error)
	Channels(ctx context.Context) ([]string, error)
	Speeds(ctx context.Context) ([]string, error)
	LANIPs(ctx context.Context) ([]string, error)

	// HandleIncomingData applies every record independently; the returned
	// error joins per-record failures.
	HandleIncomingData(ctx context.Context, dataType string, records []capture.Record) error
	DeleteDB(ctx context.Context) error

	Identity() Identity
	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func checkDataType(dataType string) error {
	switch dataType {
	case capture.DataTypeAirodump, capture.DataTypeGraphJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
}

func checkAttribute(attribute string) error {
	for _, a := range graph.AttributeNames() {
		if a == attribute {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownColumn, attribute)
}
