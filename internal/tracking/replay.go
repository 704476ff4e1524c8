package tracking

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
)

// ReplayPort is a Porter that plays back recorded pose lines at a fixed
// interval, looping forever. Writes are captured for inspection. It stands
// in for a tracker during development.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	done    chan struct{}
	once    sync.Once
}

// NewReplayPort starts playing lines from recording. The recording is read
// fully up front; blank and comment lines are dropped.
func NewReplayPort(recording io.Reader, interval time.Duration, clock timeutil.Clock) (*ReplayPort, error) {
	var lines []string
	scan := bufio.NewScanner(recording)
	for scan.Scan() {
		if !Ignorable(scan.Text()) {
			lines = append(lines, scan.Text())
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	r, w := io.Pipe()
	p := &ReplayPort{r: r, w: w, done: make(chan struct{})}
	if len(lines) == 0 {
		w.Close()
		return p, nil
	}

	go func() {
		defer w.Close()
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(lines) {
			select {
			case <-p.done:
				return
			case <-ticker.C():
			}
			if _, err := io.WriteString(w, lines[i]+"\n"); err != nil {
				return
			}
		}
	}()
	return p, nil
}

// Read returns replayed lines.
func (p *ReplayPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write records b.
func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

// Written returns everything written so far.
func (p *ReplayPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Close stops playback.
func (p *ReplayPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.r.Close()
}
