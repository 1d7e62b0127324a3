package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/db"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Safe identifier so it can be used unquoted.
	return fmt.Sprintf("beacongraph_test_%d", time.Now().UnixNano())
}

func createDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	_, err = adminConn.Exec(ctx, "CREATE DATABASE "+dbName)
	return err
}

func dropDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	if _, err := adminConn.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)"); err == nil {
		return nil
	}
	_, err = adminConn.Exec(ctx, "DROP DATABASE "+dbName)
	return err
}

func newTestPostgres(t *testing.T, ctx context.Context) *Postgres {
	t.Helper()
	adminURL := requireTestDatabaseURL(t)

	dbName := newTestDatabaseName()
	testDBURL := mustDeriveDatabaseURL(t, adminURL, dbName)

	if err := createDatabase(ctx, adminURL, dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		_ = dropDatabase(context.Background(), adminURL, dbName)
	})

	pool, err := db.Open(ctx, testDBURL)
	if err != nil {
		t.Fatalf("open db pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// A second call must be a no-op.
	if err := pool.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}
	return NewPostgres(zerolog.Nop(), pool, "integration")
}

func airodumpRecords() []capture.Record {
	return []capture.Record{
		{Kind: capture.RecordAccessPoint, BSSID: "AA:AA:AA:00:00:01", ESSID: "home", Channel: "6", Privacy: "WPA2", Cipher: "CCMP", Auth: "PSK"},
		{Kind: capture.RecordAccessPoint, BSSID: "AA:AA:AA:00:00:02", ESSID: "cafe", Channel: "11", Privacy: "OPN"},
		{Kind: capture.RecordStation, StationMAC: "CC:CC:CC:00:00:01", AssociatedBSSID: "AA:AA:AA:00:00:01", Probes: []string{"office"}},
	}
}

func TestPostgres_IngestSearchDelete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p := newTestPostgres(t, ctx)

	if err := p.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if got := p.Identity(); got.User != "integration" || !strings.HasPrefix(got.URI, "postgres://") {
		t.Fatalf("unexpected identity %+v", got)
	}

	if err := p.HandleIncomingData(ctx, capture.DataTypeAirodump, airodumpRecords()); err != nil {
		t.Fatalf("handle incoming data: %v", err)
	}

	all, err := p.InitialQuery(ctx)
	if err != nil {
		t.Fatalf("initial query: %v", err)
	}
	// Two APs, one client and one probed placeholder.
	if len(all.Nodes) != 4 || len(all.Edges) != 2 {
		t.Fatalf("expected 4 nodes and 2 edges, got %d/%d", len(all.Nodes), len(all.Edges))
	}

	sub, err := p.SearchQuery(ctx, []string{"6"}, graph.AttrChannel)
	if err != nil {
		t.Fatalf("search query: %v", err)
	}
	if _, ok := sub.NodeByID("AA:AA:AA:00:00:01"); !ok {
		t.Fatalf("expected matched AP, got %+v", sub.Nodes)
	}
	if _, ok := sub.NodeByID("CC:CC:CC:00:00:01"); !ok {
		t.Fatalf("expected associated client as neighbour, got %+v", sub.Nodes)
	}

	channels, err := p.Channels(ctx)
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if strings.Join(channels, ",") != "11,6" {
		t.Fatalf("expected sorted distinct channels, got %v", channels)
	}

	stats, err := p.DBStats(ctx)
	if err != nil {
		t.Fatalf("db stats: %v", err)
	}
	if stats[string(taxonomy.KindClient)] != 1 || stats["Assoc"] != 1 || stats["Probes"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := p.DeleteDB(ctx); err != nil {
		t.Fatalf("delete db: %v", err)
	}
	all, err = p.InitialQuery(ctx)
	if err != nil {
		t.Fatalf("initial query after delete: %v", err)
	}
	if !all.IsEmpty() {
		t.Fatalf("expected empty graph after delete, got %+v", all)
	}
}

func TestPostgres_PlaceholderDoesNotDowngradeAccessPoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p := newTestPostgres(t, ctx)

	recs := airodumpRecords()
	// Station first: its placeholder AP must be upgraded by the later AP row,
	// and a later station must not overwrite the AP's attributes.
	ordered := []capture.Record{recs[2], recs[0], recs[2]}
	if err := p.HandleIncomingData(ctx, capture.DataTypeAirodump, ordered); err != nil {
		t.Fatalf("handle incoming data: %v", err)
	}
	all, err := p.InitialQuery(ctx)
	if err != nil {
		t.Fatalf("initial query: %v", err)
	}
	ap, ok := all.NodeByID("AA:AA:AA:00:00:01")
	if !ok {
		t.Fatalf("expected AP node")
	}
	if ap.Attr(graph.AttrName) != "home" || ap.Attr(graph.AttrChannel) != "6" {
		t.Fatalf("expected AP attributes kept, got %+v", ap.Attributes)
	}
}

func TestPostgres_RejectsUnknownInputs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p := newTestPostgres(t, ctx)

	if err := p.HandleIncomingData(ctx, "pcap", nil); !errors.Is(err, ErrUnknownDataType) {
		t.Fatalf("expected ErrUnknownDataType, got %v", err)
	}
	if _, err := p.SearchQuery(ctx, []string{"x"}, "power"); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
}
