// Package refresh keeps a periodically recomputed availability snapshot for
// every configured calendar source.
package refresh

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"slotfinder/internal/availability"
	appLog "slotfinder/internal/log"
)

// Disabled is the schedule value that turns background refresh off.
const Disabled = "off"

// Finder is the part of availability.Finder the refresher needs.
type Finder interface {
	Find(ctx context.Context, req availability.Request) availability.Result
}

// Snapshot is the last computed result for one source.
type Snapshot struct {
	Source    string
	Result    availability.Result
	UpdatedAt time.Time
}

// Refresher recomputes availability for a fixed set of sources on a cron
// schedule. Snapshots are safe to read concurrently with refreshes.
type Refresher struct {
	finder  Finder
	sources []string
	req     availability.Request
	now     func() time.Time

	mu    sync.RWMutex
	snaps map[string]Snapshot

	cron *cron.Cron
}

// New returns a Refresher. days and minimum follow availability.Request
// semantics (zero means the package default).
func New(finder Finder, sources []string, days int, minimum time.Duration) *Refresher {
	return &Refresher{
		finder:  finder,
		sources: slices.Clone(sources),
		req:     availability.Request{Days: days, MinimumDuration: minimum},
		now:     time.Now,
		snaps:   make(map[string]Snapshot, len(sources)),
	}
}

// RunOnce refreshes every source sequentially.
func (r *Refresher) RunOnce(ctx context.Context) {
	for _, src := range r.sources {
		if ctx.Err() != nil {
			return
		}
		req := r.req
		req.Source = src
		res := r.finder.Find(ctx, req)

		r.mu.Lock()
		r.snaps[src] = Snapshot{Source: src, Result: res, UpdatedAt: r.now()}
		r.mu.Unlock()
	}
	appLog.Debug("refresh: snapshots updated", "sources", len(r.sources))
}

// Start schedules RunOnce with a standard five-field cron spec. It does not
// run an initial refresh. Start on an already started Refresher is an error.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == Disabled {
		appLog.Info("refresh: background refresh disabled")
		return nil
	}
	if r.cron != nil {
		return errors.New("refresh: already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	appLog.Info("refresh: scheduled", "spec", spec, "sources", len(r.sources))
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish or ctx
// to expire.
func (r *Refresher) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
	r.cron = nil
}

// Snapshot returns the latest result for source.
func (r *Refresher) Snapshot(source string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snaps[source]
	return s, ok
}

// Latest returns every stored snapshot ordered by source.
func (r *Refresher) Latest() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.Source, b.Source) })
	return out
}
