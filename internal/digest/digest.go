// Package digest periodically materializes a bounded Radar snapshot and
// hands it to an operator-supplied sink — a notification transport is
// deliberately not specified here, matching spec.md's stance that
// transports are out of scope for the core server.
package digest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/radar"
)

// Snapshot is one digest materialization.
type Snapshot struct {
	Workspace string
	TakenAtMs int64
	Rows      []radar.Row
	HasMore   bool
}

// Sink receives each materialized snapshot. Implementations decide how (or
// whether) to notify: a webhook call, a log line, a queue publish.
type Sink func(Snapshot)

// Scheduler fires Radar snapshots on a per-workspace cron schedule.
type Scheduler struct {
	rd    *radar.Radar
	sink  Sink
	log   *zap.Logger
	nowMs func() int64

	mu        sync.Mutex
	ticker    *time.Ticker
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	schedules map[string]cron.Schedule
	lastRunAt map[string]time.Time
}

// New builds a digest scheduler. schedules maps workspace -> standard cron
// expression (e.g. "0 */4 * * *").
func New(rd *radar.Radar, sink Sink, schedules map[string]string, log *zap.Logger, nowMs func() int64) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	parsed := make(map[string]cron.Schedule, len(schedules))
	for ws, expr := range schedules {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, err
		}
		parsed[ws] = sched
	}
	return &Scheduler{
		rd:        rd,
		sink:      sink,
		log:       log,
		nowMs:     nowMs,
		schedules: parsed,
		lastRunAt: make(map[string]time.Time),
	}, nil
}

// Start begins the polling loop, checking every workspace's schedule once
// per tick. Safe to call once; a second call is a no-op.
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ticker = time.NewTicker(tick)
	ticker := s.ticker
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDue(time.Now().UTC())
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				s.runDue(now.UTC())
			}
		}
	}()
}

// Stop halts the polling loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]string, 0, len(s.schedules))
	for ws, sched := range s.schedules {
		anchor := s.lastRunAt[ws]
		if anchor.IsZero() {
			anchor = now.Add(-time.Minute)
		}
		if !sched.Next(anchor).After(now) {
			due = append(due, ws)
			s.lastRunAt[ws] = now
		}
	}
	s.mu.Unlock()

	for _, ws := range due {
		s.materialize(ws)
	}
}

func (s *Scheduler) materialize(workspace string) {
	rows, hasMore, err := s.rd.Query(radar.Filter{Workspace: workspace}, 200)
	if err != nil {
		s.log.Warn("digest snapshot failed", zap.String("workspace", workspace), zap.Error(err))
		return
	}
	s.sink(Snapshot{Workspace: workspace, TakenAtMs: s.nowMs(), Rows: rows, HasMore: hasMore})
}
