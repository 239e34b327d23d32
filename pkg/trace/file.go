package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// A trace file is a sequence of records, each an 8-byte header followed by
// the data and parity bytes:
//
//	u32 timestamp, u16 duration, u16 length with bit 15 set for tag frames
//
// all little endian.
const (
	recordHeaderSize = 8
	responseFlag     = 0x8000
	maxFrameLen      = 0x7FFF
)

// ReadFrames parses trace records until EOF.
func ReadFrames(r io.Reader) ([]Frame, error) {
	br := bufio.NewReader(r)
	var frames []Frame
	hdr := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("record %d header: %w", len(frames), err)
		}
		n := binary.LittleEndian.Uint16(hdr[6:])
		f := Frame{
			Timestamp:  binary.LittleEndian.Uint32(hdr[0:]),
			Duration:   binary.LittleEndian.Uint16(hdr[4:]),
			IsResponse: n&responseFlag != 0,
		}
		size := int(n &^ responseFlag)
		body := make([]byte, size+ParityLen(size))
		if _, err := io.ReadFull(br, body); err != nil {
			return frames, fmt.Errorf("record %d body: %w", len(frames), err)
		}
		f.Data = body[:size:size]
		f.Parity = body[size:]
		frames = append(frames, f)
	}
}

// WriteFrames writes frames as trace records.
func WriteFrames(w io.Writer, frames []Frame) error {
	bw := bufio.NewWriter(w)
	hdr := make([]byte, recordHeaderSize)
	for i, f := range frames {
		if len(f.Data) > maxFrameLen {
			return fmt.Errorf("frame %d: %d bytes is too long", i, len(f.Data))
		}
		n := uint16(len(f.Data))
		if f.IsResponse {
			n |= responseFlag
		}
		binary.LittleEndian.PutUint32(hdr[0:], f.Timestamp)
		binary.LittleEndian.PutUint16(hdr[4:], f.Duration)
		binary.LittleEndian.PutUint16(hdr[6:], n)
		par := make([]byte, ParityLen(len(f.Data)))
		copy(par, f.Parity)

		if _, err := bw.Write(hdr); err != nil {
			return err
		}
		if _, err := bw.Write(f.Data); err != nil {
			return err
		}
		if _, err := bw.Write(par); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadFile reads a trace file. Files ending in .pcap are read as pcap
// captures, anything else as .trc.
func LoadFile(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	if isPCAP(path) {
		frames, _, err := ReadPCAP(f)
		return frames, err
	}
	return ReadFrames(f)
}

// SaveFile writes a trace file in the format its extension names. A pcap
// capture starts at the current time.
func SaveFile(path string, frames []Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	if isPCAP(path) {
		err = WritePCAP(f, frames, time.Now())
	} else {
		err = WriteFrames(f, frames)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isPCAP(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pcap")
}
