package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeISO14443 is DLT_USER0. Map it to the iso14443 dissector in
// Wireshark's user DLT table to decode exported captures.
const LinkTypeISO14443 = layers.LinkType(147)

// carrierHz is the ISO14443 carrier frequency frame timestamps count in.
const carrierHz = 13560000

// Pseudo-header event types.
const (
	pcapEventReader = 0xFF
	pcapEventTag    = 0xFE
)

const pcapHeaderLen = 4

// WritePCAP exports frames as a pcap capture. Every packet carries the
// four byte ISO 14443 pseudo-header (version 0, event, big-endian length)
// followed by the frame bytes. Timestamps are start plus the carrier
// cycles of each frame.
func WritePCAP(w io.Writer, frames []Frame, start time.Time) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, LinkTypeISO14443); err != nil {
		return fmt.Errorf("pcap header: %w", err)
	}
	for i, f := range frames {
		pkt := make([]byte, pcapHeaderLen+len(f.Data))
		pkt[1] = pcapEventReader
		if f.IsResponse {
			pkt[1] = pcapEventTag
		}
		binary.BigEndian.PutUint16(pkt[2:4], uint16(len(f.Data)))
		copy(pkt[pcapHeaderLen:], f.Data)

		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(carrierTime(f.Timestamp)),
			CaptureLength: len(pkt),
			Length:        len(pkt),
		}
		if err := pw.WritePacket(ci, pkt); err != nil {
			return fmt.Errorf("pcap frame %d: %w", i, err)
		}
	}
	return nil
}

// ReadPCAP reads a capture written by WritePCAP. Parity is not part of the
// pseudo-header, so frames come back with plaintext parity.
func ReadPCAP(r io.Reader) ([]Frame, time.Time, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("pcap header: %w", err)
	}
	if pr.LinkType() != LinkTypeISO14443 {
		return nil, time.Time{}, fmt.Errorf("pcap link type %d, want %d", pr.LinkType(), LinkTypeISO14443)
	}

	var (
		frames []Frame
		start  time.Time
	)
	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return frames, start, nil
		}
		if err != nil {
			return frames, start, fmt.Errorf("pcap frame %d: %w", len(frames), err)
		}
		if len(data) < pcapHeaderLen || int(binary.BigEndian.Uint16(data[2:4])) != len(data)-pcapHeaderLen {
			return frames, start, fmt.Errorf("pcap frame %d: bad pseudo-header", len(frames))
		}
		if frames == nil {
			start = ci.Timestamp
		}
		payload := append([]byte(nil), data[pcapHeaderLen:]...)
		frames = append(frames, Frame{
			Timestamp:  cyclesSince(start, ci.Timestamp),
			IsResponse: data[1] == pcapEventTag,
			Data:       payload,
			Parity:     ParityBits(payload),
		})
	}
}

func carrierTime(cycles uint32) time.Duration {
	return time.Duration(uint64(cycles) * uint64(time.Second) / carrierHz)
}

func cyclesSince(start, t time.Time) uint32 {
	return uint32(uint64(t.Sub(start)) * carrierHz / uint64(time.Second))
}
