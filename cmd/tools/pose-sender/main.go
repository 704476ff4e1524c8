// Command pose-sender plays tracker pose lines to a percnav UDP listener.
// With -file it replays a recording; otherwise it synthesises a needle
// descending towards the patient reference.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/tracking"
)

var (
	addr     = flag.String("addr", "127.0.0.1:7600", "percnav -udp-listen address")
	file     = flag.String("file", "", "Pose recording to replay (one update per line)")
	frame    = flag.String("frame", "NeedleToTracker", "Frame to move when synthesising")
	steps    = flag.Int("steps", 100, "Synthetic steps per pass")
	interval = flag.Duration("interval", 50*time.Millisecond, "Delay between datagrams")
	loop     = flag.Bool("loop", false, "Repeat until interrupted")
)

func main() {
	flag.Parse()

	lines := syntheticApproach(*frame, *steps)
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("failed to open recording: %v", err)
		}
		lines, err = readRecording(f)
		f.Close()
		if err != nil {
			log.Fatalf("invalid recording: %v", err)
		}
	}
	if len(lines) == 0 {
		log.Fatal("nothing to send")
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sent, err := send(ctx, conn, lines, *interval, *loop)
	log.Printf("sent %d datagrams to %s", sent, *addr)
	if err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}

// readRecording parses every pose line so a bad recording fails before
// anything is sent. Lines are re-emitted in canonical form.
func readRecording(r io.Reader) ([]string, error) {
	var out []string
	scan := bufio.NewScanner(r)
	for n := 1; scan.Scan(); n++ {
		line := scan.Text()
		if tracking.Ignorable(line) {
			continue
		}
		u, err := tracking.ParseUpdate(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, tracking.FormatUpdate(u))
	}
	return out, scan.Err()
}

// syntheticApproach lowers frame in a straight line from z=150 to z=100.
func syntheticApproach(frame string, steps int) []string {
	if steps < 1 {
		steps = 1
	}
	out := make([]string, 0, steps)
	for i := 0; i < steps; i++ {
		z := 150 - 50*float64(i)/float64(max(steps-1, 1))
		out = append(out, tracking.FormatUpdate(tracking.Update{
			Frame: frame,
			Local: frames.Translation(3, 54, z),
		}))
	}
	return out
}

func send(ctx context.Context, w io.Writer, lines []string, interval time.Duration, loop bool) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		for _, line := range lines {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return sent, err
			}
			sent++
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-ticker.C:
			}
		}
		if !loop {
			return sent, nil
		}
	}
}
