package tracking

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
)

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address string
	RcvBuf  int
	Sink    Sink
}

// UDPListener receives pose datagrams. A datagram may carry several
// newline-separated updates.
type UDPListener struct {
	address string
	rcvBuf  int
	sink    Sink

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPListener creates a listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	return &UDPListener{
		address: config.Address,
		rcvBuf:  config.RcvBuf,
		sink:    config.Sink,
	}
}

// Listen binds the socket. Start calls it; tests call it directly to learn
// the bound address before serving.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Warnf("tracking: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	monitoring.Logf("tracking: UDP listener on %s", conn.LocalAddr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start listens and serves until ctx is done.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve reads datagrams from a bound listener until ctx is done.
func (l *UDPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("tracking: UDP listener not bound")
	}
	defer conn.Close()

	buffer := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Warnf("tracking: UDP read error: %v", err)
			continue
		}

		for _, line := range strings.Split(string(buffer[:n]), "\n") {
			if Ignorable(line) {
				continue
			}
			if err := l.sink.HandleLine(ctx, line); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Warnf("tracking: datagram from %v: %v", addr, err)
			}
		}
	}
}
