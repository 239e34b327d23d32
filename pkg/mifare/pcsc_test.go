package mifare_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

// fakeACR answers the ACR122 pseudo-APDUs for a card with one key.
type fakeACR struct {
	uid    []byte
	block  byte
	kt     mifare.KeyType
	key    mifare.Key
	loaded []byte
	sent   [][]byte
	fail   error
}

func (f *fakeACR) Transmit(cmd []byte) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), cmd...))
	if f.fail != nil {
		return nil, f.fail
	}
	switch {
	case len(cmd) >= 2 && cmd[0] == 0xFF && cmd[1] == 0xCA:
		if f.uid == nil {
			return []byte{0x63, 0x00}, nil
		}
		return append(append([]byte(nil), f.uid...), 0x90, 0x00), nil
	case len(cmd) == 11 && cmd[1] == 0x82:
		f.loaded = append([]byte(nil), cmd[5:11]...)
		return []byte{0x90, 0x00}, nil
	case len(cmd) == 10 && cmd[1] == 0x86:
		want := f.key.Bytes()
		if cmd[7] == f.block && mifare.KeyType(cmd[8]) == f.kt && bytes.Equal(f.loaded, want[:]) {
			return []byte{0x90, 0x00}, nil
		}
		return []byte{0x63, 0x00}, nil
	}
	return []byte{0x6D, 0x00}, nil
}

func TestPCSCReaderUID(t *testing.T) {
	tx := &fakeACR{uid: []byte{0x9C, 0x59, 0x9B, 0x32}}
	r := mifare.NewPCSCReader(tx)

	uid, err := r.UID()
	if err != nil {
		t.Fatalf("UID() error = %v", err)
	}
	if diff := cmp.Diff(tx.uid, uid); diff != "" {
		t.Errorf("UID() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00}, tx.sent[0]); diff != "" {
		t.Errorf("GET DATA apdu mismatch (-want +got):\n%s", diff)
	}

	_, err = mifare.NewPCSCReader(&fakeACR{}).UID()
	if !errors.Is(err, mifare.ErrNoCard) {
		t.Errorf("UID() without card error = %v, want ErrNoCard", err)
	}
}

func TestPCSCReaderCheckKeys(t *testing.T) {
	target := mustKey(t, "4D3A99C351DD")
	tx := &fakeACR{block: 4, kt: mifare.KeyA, key: target}
	v := &mifare.Verifier{Dev: mifare.NewPCSCReader(tx)}

	dict := []mifare.Key{mustKey(t, "FFFFFFFFFFFF"), mustKey(t, "A0A1A2A3A4A5"), target, mustKey(t, "000000000000")}
	key, ok, err := v.CheckKeys(context.Background(), 4, mifare.KeyA, dict)
	if err != nil {
		t.Fatalf("CheckKeys() error = %v", err)
	}
	if !ok || key != target {
		t.Fatalf("CheckKeys() = %s, %v; want %s, true", key, ok, target)
	}
	// Three load/authenticate pairs, the fourth key is never tried.
	if len(tx.sent) != 6 {
		t.Errorf("sent %d apdus, want 6", len(tx.sent))
	}
	if diff := cmp.Diff([]byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, 0x04, 0x60, 0x00}, tx.sent[1]); diff != "" {
		t.Errorf("authenticate apdu mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = v.CheckKeys(context.Background(), 4, mifare.KeyB, dict)
	if err != nil || ok {
		t.Errorf("CheckKeys(key B) = %v, %v; want no key", ok, err)
	}
}

func TestPCSCReaderTransmitError(t *testing.T) {
	boom := errors.New("reader unplugged")
	v := &mifare.Verifier{Dev: mifare.NewPCSCReader(&fakeACR{fail: boom})}

	_, _, err := v.CheckKeys(context.Background(), 0, mifare.KeyA, mifare.DefaultKeys)
	if !errors.Is(err, boom) {
		t.Errorf("CheckKeys() error = %v, want wrapped %v", err, boom)
	}
}

func TestPCSCReaderUnsupported(t *testing.T) {
	r := mifare.NewPCSCReader(&fakeACR{})

	for _, op := range []mifare.Op{mifare.OpDarkside, mifare.OpNested, mifare.OpNACKDetect, mifare.OpReaderRaw} {
		err := r.Send(mifare.Command{Op: op})
		if !errors.Is(err, mifare.ErrUnsupported) {
			t.Errorf("Send(%s) error = %v, want ErrUnsupported", op, err)
		}
	}
	if err := r.Send(mifare.Command{Op: mifare.OpFieldOff}); err != nil {
		t.Errorf("Send(field off) error = %v", err)
	}
	if _, err := r.Wait(mifare.OpCheckKeys, 0); !mifare.IsTimeout(err) {
		t.Errorf("Wait() with nothing queued error = %v, want timeout", err)
	}

	_, err := mifare.ClassifyPRNG(context.Background(), r)
	if err == nil {
		t.Error("ClassifyPRNG() on a PC/SC reader succeeded, want error")
	}
}

func mustKey(t *testing.T, s string) mifare.Key {
	t.Helper()
	k, err := mifare.ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey(%q) error = %v", s, err)
	}
	return k
}
