// Command distance-plot renders a recorded session's needle tip to target
// distance as a PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/dgmato/PercutaneousNavigation/internal/db"
	"github.com/dgmato/PercutaneousNavigation/internal/security"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	dbPath    = flag.String("db", "percnav.db", "SQLite session store")
	sessionID = flag.String("session", "", "Session to plot (default: latest)")
	outFile   = flag.String("out", "", "Output PNG (default: distance-<session>.png)")
	limit     = flag.Int("limit", 0, "Plot only the most recent N samples (0 = all)")
	width     = flag.Float64("width", 14, "Width in inches")
	height    = flag.Float64("height", 6, "Height in inches")
)

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	id := *sessionID
	if id == "" {
		latest, err := database.LatestSession()
		if err != nil {
			log.Fatalf("no session to plot: %v", err)
		}
		id = latest.ID
	}

	samples, err := database.Samples(id, *limit)
	if err != nil {
		log.Fatalf("failed to read samples: %v", err)
	}

	out := *outFile
	if out == "" {
		out = fmt.Sprintf("distance-%s.png", security.SanitizeFilename(id))
	}
	if err := security.ValidateOutputPath(out); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	p, err := distancePlot(id, samples)
	if err != nil {
		log.Fatalf("failed to build plot: %v", err)
	}
	if err := p.Save(vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch, out); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %d samples of session %s to %s", len(samples), id, out)
}

// distancePlot draws distance against seconds since the first sample, with
// the closest approach marked.
func distancePlot(sessionID string, samples []db.Sample) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, errors.New("session has no distance samples")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Needle tip to target - session %s", sessionID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Distance (mm)"

	t0 := samples[0].At
	pts := make(plotter.XYs, len(samples))
	closest := plotter.XY{Y: math.Inf(1)}
	for i, s := range samples {
		pts[i] = plotter.XY{X: s.At.Sub(t0).Seconds(), Y: s.Distance}
		if s.Distance < closest.Y {
			closest = pts[i]
		}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	p.Legend.Add("distance", line)

	marker, err := plotter.NewScatter(plotter.XYs{closest})
	if err != nil {
		return nil, err
	}
	marker.Radius = vg.Points(3)
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("closest %.1f mm", closest.Y), marker)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Y.Min = 0
	return p, nil
}
