package harvest

import (
	"context"
	"fmt"
	"time"

	"harvester/internal/logger"
	"harvester/pkg/fetcher"
	"harvester/pkg/record"
	"harvester/pkg/retry"
	"harvester/pkg/session"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Fetchers extracts the three fragments of a release through a Getter.
// *fetcher.Client implements it.
type Fetchers interface {
	Detail(ctx context.Context, g fetcher.Getter, releaseID string) (*record.DetailFragment, error)
	Stats(ctx context.Context, g fetcher.Getter, releaseID string) (*record.StatsFragment, error)
	Sellers(ctx context.Context, g fetcher.Getter, releaseID string) (*record.SellerFragment, error)
}

type Config struct {
	Workers    int
	FetchDelay time.Duration
	UseProxy   bool
	Retry      retry.Policy
}

// Harvester runs a fixed pool of workers over a batch of release ids. Each
// worker owns one session identity for its lifetime.
type Harvester struct {
	keeper   *session.Keeper
	fetchers Fetchers
	config   Config
	progress *Progress
	now      func() time.Time
	log      zerolog.Logger
}

func New(keeper *session.Keeper, fetchers Fetchers, config Config, progress *Progress, log zerolog.Logger) *Harvester {
	if config.Workers <= 0 {
		config.Workers = 3
	}
	if progress == nil {
		progress = &Progress{}
	}
	return &Harvester{
		keeper:   keeper,
		fetchers: fetchers,
		config:   config,
		progress: progress,
		now:      time.Now,
		log:      log,
	}
}

func (h *Harvester) Progress() *Progress {
	return h.progress
}

// Run harvests ids and returns the records in completion order. Items that
// produced no fragment at all are dropped. Cancelling ctx stops dispatching
// new ids and starts no further request; a request already sent finishes and
// its item is returned with the rest.
func (h *Harvester) Run(ctx context.Context, ids []string) []*record.Record {
	if len(ids) == 0 {
		return nil
	}

	jobs := make(chan string)
	results := make(chan *record.Record, len(ids))

	workers := min(h.config.Workers, len(ids))
	var wg conc.WaitGroup
	for range workers {
		id := session.Identity(logger.GenerateID())
		wg.Go(func() {
			h.work(ctx, id, jobs, results)
		})
	}

	dispatched := 0
dispatch:
	for _, releaseID := range ids {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- releaseID:
			dispatched++
		}
	}
	close(jobs)

	if skipped := len(ids) - dispatched; skipped > 0 {
		h.log.Warn().Int("skipped", skipped).Msg("Run cancelled, remaining items not dispatched")
	}

	// a worker panic is already recovered per item; this only guards the loop itself
	if r := wg.WaitAndRecover(); r != nil {
		h.log.Error().Str("panic", r.String()).Msg("Worker crashed")
	}
	close(results)

	out := make([]*record.Record, 0, len(results))
	for rec := range results {
		out = append(out, rec)
	}
	return out
}

func (h *Harvester) work(ctx context.Context, id session.Identity, jobs <-chan string, results chan<- *record.Record) {
	defer h.keeper.Release(id)
	log := h.log.With().Str("worker", string(id)).Logger()

	for releaseID := range jobs {
		h.progress.items.Add(1)
		var (
			catcher panics.Catcher
			rec     *record.Record
		)
		catcher.Try(func() {
			rec = h.harvest(ctx, id, releaseID, log)
		})
		if r := catcher.Recovered(); r != nil {
			log.Error().Str("release_id", releaseID).Str("panic", fmt.Sprint(r.Value)).Msg("Harvest panicked, dropping item")
			h.progress.dropped.Add(1)
			continue
		}

		if rec.Empty() {
			log.Warn().Str("release_id", releaseID).Msg("No fragment fetched, dropping item")
			h.progress.dropped.Add(1)
			continue
		}
		if rec.Partial() {
			h.progress.partial.Add(1)
		}
		h.progress.records.Add(1)
		results <- rec
	}
}

// harvest runs the detail, stats and sellers sub-fetches in that order. A
// failed sub-fetch leaves its fragment nil and the sequence continues.
func (h *Harvester) harvest(ctx context.Context, id session.Identity, releaseID string, log zerolog.Logger) *record.Record {
	log = log.With().Str("release_id", releaseID).Logger()
	rec := &record.Record{ReleaseID: releaseID}

	rec.Detail = fetchFragment(ctx, h, id, log.With().Str("page", "detail").Logger(), releaseID, h.fetchers.Detail)
	h.pause(ctx)
	rec.Stats = fetchFragment(ctx, h, id, log.With().Str("page", "stats").Logger(), releaseID, h.fetchers.Stats)
	h.pause(ctx)
	rec.Sellers = fetchFragment(ctx, h, id, log.With().Str("page", "sellers").Logger(), releaseID, h.fetchers.Sellers)

	rec.ScrapedAt = h.now().UTC()
	return rec
}

func fetchFragment[T any](ctx context.Context, h *Harvester, id session.Identity, log zerolog.Logger, releaseID string, fetch func(context.Context, fetcher.Getter, string) (*T, error)) *T {
	frag, ok := retry.Do(ctx, h.config.Retry, h.keeper.Rotation(id), log, func(ctx context.Context, attempt int) (*T, error) {
		s, _ := h.keeper.GetSession(ctx, id, h.config.UseProxy)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Debug().Int("attempt", attempt).Str("proxy", s.ProxyLabel()).Msg("Fetching")
		// a request that has gone out runs to completion even if the run is cancelled
		return fetch(context.WithoutCancel(ctx), s, releaseID)
	})
	if !ok {
		return nil
	}
	return frag
}

// pause spaces the sub-fetches of one item. It returns early on cancellation.
func (h *Harvester) pause(ctx context.Context) {
	if h.config.FetchDelay <= 0 {
		return
	}
	t := time.NewTimer(h.config.FetchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
