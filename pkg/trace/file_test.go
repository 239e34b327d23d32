package trace_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/simcard"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/trace"
)

func TestTraceFileRoundTripKeepsKeyRecovery(t *testing.T) {
	card := newCard(t, simcard.WeakPRNG)
	s := card.NewSession()
	s.Select()
	mustAuth(t, s, 4, mifare.KeyA)
	if err := s.Write(5, block4); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Halt()

	path := filepath.Join(t.TempDir(), "capture.trc")
	if err := trace.SaveFile(path, s.Frames()); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	frames, err := trace.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(s.Frames(), frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}

	rep := trace.Replay(frames)
	if len(rep.Keys) != 1 || rep.Keys[0].Key != sector1Key {
		t.Fatalf("expected key %v from reloaded trace, got %+v", sector1Key, rep.Keys)
	}
}

func TestReadFramesTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	frames := []trace.Frame{
		{Timestamp: 1, Duration: 2, Data: []byte{0x52}, Parity: []byte{0x80}},
		{Timestamp: 3, Duration: 4, IsResponse: true, Data: []byte{0x04, 0x00}, Parity: []byte{0x00}},
	}
	if err := trace.WriteFrames(&buf, frames); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	raw := buf.Bytes()

	got, err := trace.ReadFrames(bytes.NewReader(raw[:len(raw)-1]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the complete first record, got %d", len(got))
	}
}

func TestParityBits(t *testing.T) {
	par := trace.ParityBits([]byte{0x00, 0x01, 0x03, 0x07, 0xFF, 0x00, 0x00, 0x00, 0x01})
	want := []byte{0xAF, 0x00}
	if diff := cmp.Diff(want, par); diff != "" {
		t.Fatalf("parity mismatch (-want +got):\n%s", diff)
	}
	if trace.ParityBit(par, 0) != 1 || trace.ParityBit(par, 1) != 0 || trace.ParityBit(par, 20) != 0 {
		t.Fatal("ParityBit returned wrong bits")
	}
}

func TestPCAPExportKeepsFramesAndFirstAuthKey(t *testing.T) {
	card := newCard(t, simcard.WeakPRNG)
	s := card.NewSession()
	s.Select()
	mustAuth(t, s, 4, mifare.KeyA)
	mustRead(t, s, 4)
	s.Halt()

	var buf bytes.Buffer
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := trace.WritePCAP(&buf, s.Frames(), start); err != nil {
		t.Fatalf("WritePCAP: %v", err)
	}
	frames, gotStart, err := trace.ReadPCAP(&buf)
	if err != nil {
		t.Fatalf("ReadPCAP: %v", err)
	}
	if !gotStart.Equal(start) {
		t.Errorf("capture start = %v, want %v", gotStart, start)
	}
	if len(frames) != len(s.Frames()) {
		t.Fatalf("got %d frames, want %d", len(frames), len(s.Frames()))
	}
	for i, want := range s.Frames() {
		got := frames[i]
		if got.IsResponse != want.IsResponse || !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("frame %d = %v, want %v", i, got, want)
		}
	}
	if last := frames[len(frames)-1].Timestamp; last+20 < s.Frames()[len(frames)-1].Timestamp {
		t.Errorf("last timestamp %d drifted from %d", last, s.Frames()[len(frames)-1].Timestamp)
	}

	rep := trace.Replay(frames)
	if len(rep.Keys) != 1 || rep.Keys[0].Key != sector1Key {
		t.Fatalf("expected key %v from pcap capture, got %+v", sector1Key, rep.Keys)
	}
}

func TestReadPCAPRejectsOtherLinkTypes(t *testing.T) {
	// Little-endian microsecond pcap header with link type 1 (Ethernet).
	hdr := []byte{
		0xD4, 0xC3, 0xB2, 0xA1, 0x02, 0x00, 0x04, 0x00,
		0, 0, 0, 0, 0, 0, 0, 0,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00,
	}
	if _, _, err := trace.ReadPCAP(bytes.NewReader(hdr)); err == nil {
		t.Fatal("expected link type error")
	}
}

func TestSaveFilePicksFormatByExtension(t *testing.T) {
	frames := []trace.Frame{
		{Timestamp: 0, Data: []byte{0x52}, Parity: []byte{0x00}},
		{Timestamp: 13560, IsResponse: true, Data: []byte{0x04, 0x00}, Parity: []byte{0x40}},
	}
	dir := t.TempDir()
	for _, name := range []string{"capture.trc", "capture.PCAP"} {
		path := filepath.Join(dir, name)
		if err := trace.SaveFile(path, frames); err != nil {
			t.Fatalf("SaveFile(%s): %v", name, err)
		}
		got, err := trace.LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s): %v", name, err)
		}
		if diff := cmp.Diff(frames, got); diff != "" {
			t.Errorf("%s frames mismatch (-want +got):\n%s", name, diff)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "capture.PCAP"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte{0xD4, 0xC3, 0xB2, 0xA1}) {
		t.Errorf("capture.PCAP does not start with the pcap magic: % X", raw[:4])
	}
}
