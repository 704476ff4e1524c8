// Package tracking feeds pose updates from tracking hardware into the frame
// graph. Sources (serial, UDP, pcap replay) produce text lines of the form
//
//	<frameName> m00 m01 m02 m03 m10 ... m33
//
// and hand them to a Sink; the Pump applies them to the graph one at a time
// in arrival order.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
)

// ErrMalformed is returned for a line that is not a pose update.
var ErrMalformed = errors.New("tracking: malformed update")

// Sink consumes raw lines from a tracking source. HandleLine may block until
// the line has been taken.
type Sink interface {
	HandleLine(ctx context.Context, line string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, line string) error

// HandleLine calls f.
func (f SinkFunc) HandleLine(ctx context.Context, line string) error { return f(ctx, line) }

// Update sets one frame's local matrix.
type Update struct {
	Frame string
	Local frames.Matrix
}

// Ignorable reports whether a line carries no update: blank lines and
// lines starting with '#'.
func Ignorable(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

// ParseUpdate parses a pose line.
func ParseUpdate(line string) (Update, error) {
	fields := strings.Fields(line)
	if len(fields) != 17 {
		return Update{}, fmt.Errorf("%w: want frame name and 16 values, got %d fields", ErrMalformed, len(fields))
	}

	u := Update{Frame: fields[0]}
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Update{}, fmt.Errorf("%w: element %d of %q: %v", ErrMalformed, i, u.Frame, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Update{}, fmt.Errorf("%w: element %d of %q is not finite", ErrMalformed, i, u.Frame)
		}
		u.Local[i] = v
	}
	return u, nil
}

// FormatUpdate renders u as a pose line without a trailing newline.
func FormatUpdate(u Update) string {
	var b strings.Builder
	b.WriteString(u.Frame)
	for _, v := range u.Local {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
