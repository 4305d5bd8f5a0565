// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stephens2424/writerset"
	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of one driving session.
type Stats struct {
	Session   string    `json:"session"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
	Execs     uint64    `json:"execs"`
	Restarts  uint64    `json:"restarts"`
	Crashers  uint64    `json:"crashers"`
}

func (s Stats) ExecsPerSec() float64 {
	return float64(s.Execs) * 1e9 / float64(time.Since(s.StartTime))
}

func (s Stats) String() string {
	return fmt.Sprintf("execs: %v (%.0f/sec), restarts: %v, crashers: %v, uptime: %v",
		s.Execs, s.ExecsPerSec(), s.Restarts, s.Crashers, s.Uptime)
}

// Broadcaster accumulates session counters and pushes periodic
// snapshots to every attached writer as server-sent events, alongside
// a log line. Each session carries a fresh id so records from
// overlapping runs into the same sink stay attributable.
type Broadcaster struct {
	logger  *zap.Logger
	writers *writerset.WriterSet

	mu        sync.Mutex
	session   string
	startTime time.Time
	execs     uint64
	restarts  uint64
	crashers  uint64
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    logger,
		writers:   writerset.New(),
		session:   uuid.NewString(),
		startTime: time.Now(),
	}
}

func (b *Broadcaster) Session() string { return b.session }

func (b *Broadcaster) AddExecs(n uint64) {
	b.mu.Lock()
	b.execs += n
	b.mu.Unlock()
}

func (b *Broadcaster) AddRestart() {
	b.mu.Lock()
	b.restarts++
	b.mu.Unlock()
}

func (b *Broadcaster) AddCrasher() {
	b.mu.Lock()
	b.crashers++
	b.mu.Unlock()
}

func (b *Broadcaster) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Session:   b.session,
		StartTime: b.startTime,
		Uptime:    fmtDuration(time.Since(b.startTime)),
		Execs:     b.execs,
		Restarts:  b.restarts,
		Crashers:  b.crashers,
	}
}

// Attach subscribes a writer to future broadcasts. The returned
// channel yields the write error that caused the writer's removal.
func (b *Broadcaster) Attach(w io.Writer) <-chan error {
	return b.writers.Add(w)
}

// Broadcast logs the current snapshot and fans it out to subscribers.
func (b *Broadcaster) Broadcast() {
	stats := b.Snapshot()
	b.logger.Info(stats.String())

	data, err := json.Marshal(stats)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(b.writers, "event: stats\ndata: %s\n\n", data)
	b.writers.Flush()
}

// Run broadcasts on the interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Broadcast()
		}
	}
}

// ServeEventSource streams broadcasts to an HTTP client until the
// write fails.
func (b *Broadcaster) ServeEventSource(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	<-b.writers.Add(w)
}

func fmtDuration(d time.Duration) string {
	if d.Hours() >= 1 {
		return fmt.Sprintf("%vh%vm", int(d.Hours()), int(d.Minutes())%60)
	} else if d.Minutes() >= 1 {
		return fmt.Sprintf("%vm%vs", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%vs", int(d.Seconds()))
}
