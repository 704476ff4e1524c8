package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgmato/PercutaneousNavigation/internal/db"
	"github.com/dgmato/PercutaneousNavigation/internal/httputil"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// historyQuery reads ?session= and ?limit=. The session defaults to the
// running one.
func (s *Server) historyQuery(w http.ResponseWriter, r *http.Request) (sessionID string, limit int, ok bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return "", 0, false
	}
	if s.db == nil {
		httputil.NotFound(w, "session store not configured")
		return "", 0, false
	}
	q := r.URL.Query()
	sessionID = q.Get("session")
	if sessionID == "" {
		sessionID = s.sessionID
	}
	limit = s.limit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return "", 0, false
		}
		limit = n
	}
	if sessionID == s.sessionID && s.session != nil {
		// readings of the running session are recorded in the background
		s.session.Flush()
	}
	return sessionID, limit, true
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	sessionID, limit, ok := s.historyQuery(w, r)
	if !ok {
		return
	}
	samples, err := s.db.Samples(sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if samples == nil {
		samples = []db.Sample{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"session_id": sessionID,
		"samples":    samples,
	})
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := s.historyQuery(w, r)
	if !ok {
		return
	}
	transitions, err := s.db.Transitions(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if transitions == nil {
		transitions = []db.Transition{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"session_id":  sessionID,
		"transitions": transitions,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "session store not configured")
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// showDistanceChart renders the session's needle-to-target distance over
// time as an HTML line chart.
func (s *Server) showDistanceChart(w http.ResponseWriter, r *http.Request) {
	sessionID, limit, ok := s.historyQuery(w, r)
	if !ok {
		return
	}
	samples, err := s.db.Samples(sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	x := make([]string, 0, len(samples))
	y := make([]opts.LineData, 0, len(samples))
	var t0 float64
	for i, smp := range samples {
		secs := float64(smp.At.UnixNano()) / 1e9
		if i == 0 {
			t0 = secs
		}
		x = append(x, fmt.Sprintf("%.2f", secs-t0))
		y = append(y, opts.LineData{Value: smp.Distance})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Needle distance", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Needle tip to target", Subtitle: fmt.Sprintf("session=%s samples=%d", sessionID, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "distance (mm)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x).AddSeries("distance", y,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
