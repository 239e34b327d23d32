package mifare_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

func TestParseKey(t *testing.T) {
	k, err := mifare.ParseKey(" a0a1a2a3a4a5 ")
	if err != nil {
		t.Fatalf("ParseKey returned error: %v", err)
	}
	if k != 0xA0A1A2A3A4A5 || k.String() != "A0A1A2A3A4A5" {
		t.Fatalf("unexpected key %v", k)
	}
	for _, bad := range []string{"", "A0A1A2", "A0A1A2A3A4A5A6", "G0A1A2A3A4A5"} {
		if _, err := mifare.ParseKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLoadDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.dic")
	content := strings.Join([]string{
		"# transport",
		"FFFFFFFFFFFF",
		"",
		"a0a1a2a3a4a5 MAD key",
		"  4D3A99C351DD  ",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}

	keys, err := mifare.LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary returned error: %v", err)
	}
	want := []mifare.Key{0xFFFFFFFFFFFF, 0xA0A1A2A3A4A5, 0x4D3A99C351DD}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("dictionary mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDictionaryRejectsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.dic")
	if err := os.WriteFile(path, []byte("FFFFFFFFFFFF\nnot a key\n"), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
	_, err := mifare.LoadDictionary(path)
	if err == nil || !strings.Contains(err.Error(), ":2:") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestMergeKeysKeepsFirstOccurrence(t *testing.T) {
	got := mifare.MergeKeys([]mifare.Key{3, 1}, []mifare.Key{1, 2, 3}, nil, []mifare.Key{4})
	if diff := cmp.Diff([]mifare.Key{3, 1, 2, 4}, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestCRCA(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{in: []byte{0x60, 0x00}, want: []byte{0x60, 0x00, 0xF5, 0x7B}},
		{in: []byte{0x30, 0x00}, want: []byte{0x30, 0x00, 0x02, 0xA8}},
		{in: []byte{0x50, 0x00}, want: []byte{0x50, 0x00, 0x57, 0xCD}},
	}
	for _, tt := range tests {
		got := mifare.AppendCRC(append([]byte(nil), tt.in...))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("AppendCRC(% X) mismatch (-want +got):\n%s", tt.in, diff)
		}
		if !mifare.CheckCRC(got) {
			t.Fatalf("CheckCRC rejected % X", got)
		}
		got[len(got)-1] ^= 1
		if mifare.CheckCRC(got) {
			t.Fatalf("CheckCRC accepted corrupted % X", got)
		}
	}
}

func TestLayout(t *testing.T) {
	tests := []struct {
		block   int
		sector  int
		trailer bool
	}{
		{block: 0, sector: 0},
		{block: 3, sector: 0, trailer: true},
		{block: 127, sector: 31, trailer: true},
		{block: 128, sector: 32},
		{block: 143, sector: 32, trailer: true},
		{block: 255, sector: 39, trailer: true},
	}
	for _, tt := range tests {
		if got := mifare.SectorOf(tt.block); got != tt.sector {
			t.Fatalf("SectorOf(%d) = %d, want %d", tt.block, got, tt.sector)
		}
		if got := mifare.IsTrailer(tt.block); got != tt.trailer {
			t.Fatalf("IsTrailer(%d) = %v, want %v", tt.block, got, tt.trailer)
		}
	}
	if got := mifare.TrailerBlock(mifare.Sectors4K - 1); got != mifare.Blocks4K-1 {
		t.Fatalf("last trailer = %d", got)
	}
}

func TestSectorKeysSetOnlyFillsEmptySlots(t *testing.T) {
	table := mifare.NewSectorKeys(2)
	if !table.Set(1, mifare.KeyB, 0x111111111111) {
		t.Fatal("first Set refused")
	}
	if table.Set(1, mifare.KeyB, 0x222222222222) {
		t.Fatal("second Set overwrote a found slot")
	}
	if table.Set(5, mifare.KeyA, 0x333333333333) {
		t.Fatal("Set accepted an out-of-range sector")
	}
	if k, ok := table.Lookup(1, mifare.KeyB); !ok || k != 0x111111111111 {
		t.Fatalf("Lookup = %v %v", k, ok)
	}
	if table.FoundCount() != 1 || table.Complete() {
		t.Fatalf("unexpected count %d", table.FoundCount())
	}
}

func TestDeviceErrorUnwrap(t *testing.T) {
	tests := []struct {
		op     mifare.Op
		status int64
		want   error
	}{
		{mifare.OpDarkside, -1, mifare.ErrCancelled},
		{mifare.OpDarkside, -2, mifare.ErrNotVulnerable},
		{mifare.OpDarkside, -4, mifare.ErrNotVulnerable},
		{mifare.OpNested, -2, mifare.ErrNoCard},
		{mifare.OpNested, -3, mifare.ErrNotVulnerable},
		{mifare.OpNACKDetect, 99, mifare.ErrCancelled},
		{mifare.OpNACKDetect, 96, mifare.ErrNotVulnerable},
		{mifare.OpReaderRaw, 0, mifare.ErrNoCard},
		{mifare.OpCheckKeys, 7, mifare.ErrInconclusive},
	}
	for _, tt := range tests {
		var err error = fmt.Errorf("wrapped: %w", &mifare.DeviceError{Op: tt.op, Status: tt.status})
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s status %d: expected %v, got %v", tt.op, tt.status, tt.want, err)
		}
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want mifare.Outcome
	}{
		{nil, mifare.OutcomeKeyFound},
		{fmt.Errorf("x: %w", mifare.ErrCancelled), mifare.OutcomeCancelled},
		{mifare.ErrNoCard, mifare.OutcomeCardAbsent},
		{mifare.ErrTimeout, mifare.OutcomeCardAbsent},
		{mifare.ErrNotVulnerable, mifare.OutcomeInconclusive},
		{errors.New("other"), mifare.OutcomeInconclusive},
	}
	for _, tt := range tests {
		if got := mifare.OutcomeOf(tt.err); got != tt.want {
			t.Fatalf("OutcomeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDarksideReportLayout(t *testing.T) {
	rep := mifare.DarksideReport{UID: 1, NT: 2, Parity: 3, Keystream: 4, NR: 5, AR: 6}
	got, err := mifare.ParseDarksideReport(rep.Encode())
	if err != nil {
		t.Fatalf("ParseDarksideReport returned error: %v", err)
	}
	if got != rep {
		t.Fatalf("report = %+v, want %+v", got, rep)
	}
	if _, err := mifare.ParseDarksideReport(make([]byte, 31)); err == nil {
		t.Fatal("expected error for short payload")
	}
}
