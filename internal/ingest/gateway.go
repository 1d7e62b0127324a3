package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/metrics"
)

// Parser decodes one raw upload.
type Parser interface {
	ParseUpload(raw capture.RawUpload) (string, []capture.Record, error)
}

// Writer is the destructive half of the store.
type Writer interface {
	HandleIncomingData(ctx context.Context, dataType string, records []capture.Record) error
	DeleteDB(ctx context.Context) error
}

// Result summarizes one batch. Partial counts uploads whose records were
// only partly accepted by the store.
type Result struct {
	Applied int
	Partial int
	Failed  int
	Errors  []error
}

func (r Result) Total() int {
	return r.Applied + r.Partial + r.Failed
}

type Gateway struct {
	log     zerolog.Logger
	parser  Parser
	store   Writer
	metrics *metrics.Metrics

	// writes are serialized so reads triggered by the completion signal
	// observe every batch in full.
	mu sync.Mutex
}

func NewGateway(log zerolog.Logger, parser Parser, store Writer, m *metrics.Metrics) *Gateway {
	return &Gateway{
		log:     log.With().Str("component", "ingest").Logger(),
		parser:  parser,
		store:   store,
		metrics: m,
	}
}

// Submit applies every upload independently; a malformed upload never aborts
// the rest of the batch.
func (g *Gateway) Submit(ctx context.Context, batch []capture.RawUpload) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	started := time.Now()
	var res Result
	for i, raw := range batch {
		if err := ctx.Err(); err != nil {
			res.Failed += len(batch) - i
			res.Errors = append(res.Errors, fmt.Errorf("batch interrupted: %w", err))
			for range batch[i:] {
				g.metrics.ObserveIngestItem("failed")
			}
			break
		}

		dataType, records, err := g.parser.ParseUpload(raw)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("upload %d (%s): %w", i, raw.Name, err))
			g.metrics.ObserveIngestItem("failed")
			g.log.Warn().Err(err).Int("index", i).Str("file", raw.Name).Msg("upload skipped: parse failure")
			continue
		}

		if err := g.store.HandleIncomingData(ctx, dataType, records); err != nil {
			res.Partial++
			res.Errors = append(res.Errors, fmt.Errorf("upload %d (%s): %w", i, raw.Name, err))
			g.metrics.ObserveIngestItem("partial")
			g.log.Warn().Err(err).Int("index", i).Str("file", raw.Name).Str("data_type", dataType).Msg("upload partially applied")
			continue
		}

		res.Applied++
		g.metrics.ObserveIngestItem("applied")
		g.log.Debug().Int("index", i).Str("file", raw.Name).Str("data_type", dataType).Int("records", len(records)).Msg("upload applied")
	}

	g.log.Info().
		Int("uploads", len(batch)).
		Int("applied", res.Applied).
		Int("partial", res.Partial).
		Int("failed", res.Failed).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("upload batch processed")
	return res
}

// Purge deletes the whole graph, serialized with ingestion.
func (g *Gateway) Purge(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.DeleteDB(ctx); err != nil {
		g.log.Error().Err(err).Msg("graph delete failed")
		return err
	}
	g.log.Warn().Msg("graph deleted")
	return nil
}
