// Command proximity-watch prints the live needle distance from a percnav
// gRPC endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/stream"
)

var (
	addr  = flag.String("addr", "localhost:50051", "percnav gRPC address")
	count = flag.Int("n", 0, "Exit after N readings (0 = run until interrupted)")
)

var errDone = errors.New("done")

func main() {
	flag.Parse()

	client, err := stream.Dial(*addr)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = client.Watch(ctx, printer(os.Stdout, *count))
	if err != nil && !errors.Is(err, errDone) && !errors.Is(ctx.Err(), context.Canceled) {
		log.Fatalf("watch: %v", err)
	}
}

// printer writes one line per reading and returns errDone after n readings
// when n > 0.
func printer(w io.Writer, n int) func(proximity.Reading) error {
	seen := 0
	return func(r proximity.Reading) error {
		fmt.Fprintf(w, "%s %s %s mm tip=(%.1f, %.1f, %.1f)\n",
			r.At.Format("15:04:05.000"), r.Source, r.Label(), r.Tip.X, r.Tip.Y, r.Tip.Z)
		seen++
		if n > 0 && seen >= n {
			return errDone
		}
		return nil
	}
}
