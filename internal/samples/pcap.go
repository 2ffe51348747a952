package samples

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/egomotion/internal/monitoring"
)

// ReadPCAP decodes bridge lines carried in UDP datagrams to udpPort from a
// pcap capture and calls fn for each IMU, GPS or tick event. A udpPort of
// zero accepts every UDP datagram. Lines that fail to decode are logged and
// skipped. It returns the number of events delivered.
func ReadPCAP(ctx context.Context, r io.Reader, udpPort int, fn func(Event) error) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap stream: %w", err)
	}

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	packetSource.NoCopy = true

	delivered, packetCount, skipped := 0, 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return delivered, fmt.Errorf("failed to read packet %d: %w", packetCount+1, err)
		}
		packetCount++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if udpPort != 0 && int(udp.DstPort) != udpPort {
			continue
		}

		// A datagram may carry several newline-separated lines.
		scanner := bufio.NewScanner(bytes.NewReader(udp.Payload))
		for scanner.Scan() {
			line := scanner.Text()
			switch ClassifyLine(line) {
			case KindIMU, KindGPS, KindTick:
			default:
				continue
			}
			ev, err := Decode(line)
			if err != nil {
				skipped++
				monitoring.Logf("pcap packet %d: %v", packetCount, err)
				continue
			}
			if err := fn(ev); err != nil {
				return delivered, err
			}
			delivered++
		}
	}

	monitoring.Logf("pcap read complete: %d packets, %d events, %d lines skipped", packetCount, delivered, skipped)
	return delivered, nil
}
