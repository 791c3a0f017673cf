package harvest

import (
	"context"
	"time"

	"harvester/pkg/record"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Writer persists one batch of documents. Sinks implement it.
type Writer interface {
	Insert(ctx context.Context, docs []record.Document) error
}

// Pipeline feeds ids to the harvester in fixed-size batches and writes each
// batch's records before starting the next.
type Pipeline struct {
	harvester *Harvester
	writer    Writer
	batchSize int
	log       zerolog.Logger
}

func NewPipeline(h *Harvester, w Writer, batchSize int, log zerolog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Pipeline{harvester: h, writer: w, batchSize: batchSize, log: log}
}

// Run processes every id and returns how many records were written. A failed
// write is logged and the next batch still runs. Once ctx is cancelled no new
// batch starts, but the running batch's records are written.
func (p *Pipeline) Run(ctx context.Context, ids []string) int {
	progress := p.harvester.Progress()
	progress.Start(time.Now())

	batches := chunk(ids, p.batchSize)
	written := 0
	for i, batch := range batches {
		if ctx.Err() != nil {
			p.log.Warn().Int("remaining_batches", len(batches)-i).Msg("Run cancelled, stopping before next batch")
			break
		}

		log := p.log.With().Int("batch", i+1).Int("batches", len(batches)).Logger()
		start := time.Now()
		log.Info().Int("items", len(batch)).Msg("Harvesting batch")

		records := p.harvester.Run(ctx, batch)
		progress.batches.Add(1)
		if len(records) == 0 {
			log.Warn().Msg("Batch produced no records")
			continue
		}

		if err := p.writer.Insert(context.WithoutCancel(ctx), record.Documents(records)); err != nil {
			progress.writeFailures.Add(1)
			log.Error().Err(err).Int("records", len(records)).Msg("Failed to write batch, continuing")
			continue
		}
		progress.written.Add(int64(len(records)))
		written += len(records)

		log.Info().
			Int("records", len(records)).
			Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
			Str("total_written", humanize.Comma(int64(written))).
			Msg("Batch written")
	}
	return written
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
