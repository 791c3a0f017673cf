package harvest

import (
	"sync/atomic"
	"time"
)

// Progress counts what a run has done so far. It is safe for concurrent use
// and is read by the status endpoint while the run is going.
type Progress struct {
	started       atomic.Int64
	items         atomic.Int64
	batches       atomic.Int64
	records       atomic.Int64
	partial       atomic.Int64
	dropped       atomic.Int64
	written       atomic.Int64
	writeFailures atomic.Int64
}

type ProgressSnapshot struct {
	StartedAt     time.Time `json:"started_at"`
	Items         int64     `json:"items"`
	Batches       int64     `json:"batches"`
	Records       int64     `json:"records"`
	Partial       int64     `json:"partial"`
	Dropped       int64     `json:"dropped"`
	Written       int64     `json:"written"`
	WriteFailures int64     `json:"write_failures"`
}

// Start marks the beginning of a run
func (p *Progress) Start(now time.Time) {
	p.started.Store(now.UnixNano())
}

func (p *Progress) Snapshot() ProgressSnapshot {
	var started time.Time
	if ns := p.started.Load(); ns != 0 {
		started = time.Unix(0, ns).UTC()
	}
	return ProgressSnapshot{
		StartedAt:     started,
		Items:         p.items.Load(),
		Batches:       p.batches.Load(),
		Records:       p.records.Load(),
		Partial:       p.partial.Load(),
		Dropped:       p.dropped.Load(),
		Written:       p.written.Load(),
		WriteFailures: p.writeFailures.Load(),
	}
}
