package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
)

// Stats counts what the pump has done.
type Stats struct {
	Applied    uint64    `json:"applied"`
	Rejected   uint64    `json:"rejected"`
	Created    uint64    `json:"created"`
	NonRigid   uint64    `json:"non_rigid"`
	Refused    uint64    `json:"refused"` // rejected because the frame is not writable
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// PumpConfig configures a Pump.
type PumpConfig struct {
	Clock timeutil.Clock
	// OnNewFrame runs on the pump goroutine after a frame is created by its
	// first update.
	OnNewFrame func(id frames.ID, name string)
	// Writable reports whether updates may write the named frame. Refused
	// updates are counted as rejected. Nil allows every frame.
	Writable func(name string) bool
}

// Pump is the single writer of tracked local matrices. All sources hand
// lines to HandleLine; Run applies them one at a time, so change
// notifications fire in the order lines arrived.
type Pump struct {
	graph      *frames.Graph
	clock      timeutil.Clock
	onNewFrame func(frames.ID, string)
	writable   func(string) bool
	lines      chan string

	mu    sync.Mutex
	stats Stats
}

// NewPump returns a pump writing to g. Call Run to start it.
func NewPump(g *frames.Graph, cfg PumpConfig) *Pump {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pump{
		graph:      g,
		clock:      clock,
		onNewFrame: cfg.OnNewFrame,
		writable:   cfg.Writable,
		lines:      make(chan string),
	}
}

// HandleLine hands line to the pump goroutine and blocks until it is taken
// or ctx is done.
func (p *Pump) HandleLine(ctx context.Context, line string) error {
	select {
	case p.lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies lines until ctx is done.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-p.lines:
			p.ApplyLine(line)
		}
	}
}

// ApplyLine parses and applies one line on the caller's goroutine. It
// reports whether a frame was updated.
func (p *Pump) ApplyLine(line string) bool {
	if Ignorable(line) {
		return false
	}
	u, err := ParseUpdate(line)
	if err != nil {
		p.mu.Lock()
		p.stats.Rejected++
		p.mu.Unlock()
		monitoring.Warnf("tracking: %v", err)
		return false
	}
	return p.Apply(u)
}

// Apply writes u to the graph, creating the frame on first sight. It
// reports false when the frame is not writable by tracking sources.
func (p *Pump) Apply(u Update) bool {
	if p.writable != nil && !p.writable(u.Frame) {
		p.mu.Lock()
		p.stats.Rejected++
		p.stats.Refused++
		n := p.stats.Refused
		p.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			monitoring.Warnf("tracking: refused update to %q (%d refused so far)", u.Frame, n)
		}
		return false
	}

	id, created := p.graph.GetOrCreate(u.Frame, u.Local)
	if !created {
		p.graph.SetLocal(id, u.Local)
	}

	rigid := u.Local.IsRigid()
	p.mu.Lock()
	p.stats.Applied++
	p.stats.LastUpdate = p.clock.Now()
	if created {
		p.stats.Created++
	}
	if !rigid {
		p.stats.NonRigid++
	}
	p.mu.Unlock()

	if created {
		monitoring.Logf("tracking: new frame %q", u.Frame)
		if p.onNewFrame != nil {
			p.onNewFrame(id, u.Frame)
		}
	}
	return true
}

// Stats returns a copy of the counters.
func (p *Pump) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// LogStats writes the counters to the log.
func (p *Pump) LogStats() {
	s := p.Stats()
	monitoring.Logf("tracking: applied=%d rejected=%d refused=%d created=%d non_rigid=%d",
		s.Applied, s.Rejected, s.Refused, s.Created, s.NonRigid)
}

// LogStatsEvery logs the counters every interval until ctx is done.
func (p *Pump) LogStatsEvery(ctx context.Context, interval time.Duration) {
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.LogStats()
		}
	}
}
