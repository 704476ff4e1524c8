//go:build pcap
// +build pcap

package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ReadPCAPFile replays pose datagrams captured on udpPort into sink.
// This function is only available when building with the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, sink Sink) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	lineCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("tracking: PCAP replay stopped after %d packets", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("tracking: PCAP replay complete: %d packets, %d lines in %v",
					packetCount, lineCount, time.Since(startTime))
				return nil
			}
			packetCount++

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			for _, line := range strings.Split(string(udp.Payload), "\n") {
				if Ignorable(line) {
					continue
				}
				if err := sink.HandleLine(ctx, line); err != nil {
					return err
				}
				lineCount++
			}
		}
	}
}
