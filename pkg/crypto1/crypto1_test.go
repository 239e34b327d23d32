package crypto1

import (
	"testing"
)

func TestNewAndLFSRRoundTrip(t *testing.T) {
	keys := []uint64{0, 0xFFFFFFFFFFFF, 0xA0A1A2A3A4A5, 0x4D3A99C351DD, 0x1A982C7E459A}
	for _, key := range keys {
		if got := New(key).LFSR(); got != key {
			t.Fatalf("LFSR() = %012X, want %012X", got, key)
		}
	}
}

func TestRollbackUndoesWord(t *testing.T) {
	s := New(0xFFFFFFFFFFFF)
	start := s.LFSR()
	s.Word(0x12345678, false)
	s.Word(0xCAFEBABE, true)
	s.Byte(0x5A, false)

	s.RollbackByte(0x5A, false)
	s.RollbackWord(0xCAFEBABE, true)
	s.RollbackWord(0x12345678, false)
	if got := s.LFSR(); got != start {
		t.Fatalf("rolled back LFSR = %012X, want %012X", got, start)
	}
}

func TestEncryptDecryptSymmetry(t *testing.T) {
	const key = 0xA0A1A2A3A4A5
	plain := []byte{0x30, 0x04, 0x26, 0xEE}

	enc := New(key)
	cipher := make([]byte, len(plain))
	for i, b := range plain {
		cipher[i] = b ^ enc.Byte(0, false)
	}

	dec := New(key)
	for i, b := range cipher {
		if got := b ^ dec.Byte(0, false); got != plain[i] {
			t.Fatalf("byte %d: got %02X, want %02X", i, got, plain[i])
		}
	}
}

func TestRecovery32FindsState(t *testing.T) {
	const (
		key = 0x4D3A99C351DD
		uid = 0x9C599B32
		nt  = 0x82A4166C
	)
	s := New(key)
	ks := s.Word(uid^nt, false)

	states := Recovery32(ks, uid^nt)
	if len(states) == 0 {
		t.Fatal("Recovery32 returned no states")
	}
	found := false
	for _, st := range states {
		c := st
		c.RollbackWord(uid^nt, false)
		if c.LFSR() == key {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("key %012X not among %d recovered states", uint64(key), len(states))
	}
}

func TestRecovery64RecoversAuthenticationKey(t *testing.T) {
	const (
		key = 0xFFFFFFFFFFFF
		uid = 0x9C599B32
		nt  = 0x82A4166C
		nr  = 0x55415290
	)
	s := New(key)
	s.Word(uid^nt, false)
	nrEnc := nr ^ s.Word(nr, false)
	arEnc := PRNGSuccessor(nt, 64) ^ s.Word(0, false)
	atEnc := PRNGSuccessor(nt, 96) ^ s.Word(0, false)

	ks2 := arEnc ^ PRNGSuccessor(nt, 64)
	ks3 := atEnc ^ PRNGSuccessor(nt, 96)
	rev, ok := Recovery64(ks2, ks3)
	if !ok {
		t.Fatal("Recovery64 found no state")
	}
	rev.RollbackWord(0, false)
	rev.RollbackWord(0, false)
	rev.RollbackWord(nrEnc, true)
	rev.RollbackWord(uid^nt, false)
	if got := rev.LFSR(); got != key {
		t.Fatalf("recovered key %012X, want %012X", got, uint64(key))
	}
}

func TestPRNGSuccessorComposes(t *testing.T) {
	const nt = 0x01200145
	if a, b := PRNGSuccessor(PRNGSuccessor(nt, 32), 32), PRNGSuccessor(nt, 64); a != b {
		t.Fatalf("successor(successor(nt,32),32) = %08X, successor(nt,64) = %08X", a, b)
	}
	if got := PRNGSuccessor(nt, 0); got != nt {
		t.Fatalf("successor(nt,0) = %08X, want %08X", got, uint32(nt))
	}
}

func TestValidatePRNGNonce(t *testing.T) {
	weak := WeakNonce(1234)
	if !ValidatePRNGNonce(weak) {
		t.Fatalf("nonce %08X should validate as weak", weak)
	}
	if !ValidatePRNGNonce(PRNGSuccessor(weak, 160)) {
		t.Fatalf("successor of weak nonce %08X should stay weak", weak)
	}
	if ValidatePRNGNonce(0xDEADBEEF) {
		t.Fatal("0xDEADBEEF should not validate as weak")
	}
	if d := NonceDistance(WeakNonce(100), WeakNonce(260)); d != 160 {
		t.Fatalf("NonceDistance = %d, want 160", d)
	}
}

func TestOddParity8(t *testing.T) {
	cases := map[byte]byte{0x00: 1, 0x01: 0, 0x03: 1, 0xFF: 1, 0x80: 0}
	for in, want := range cases {
		if got := OddParity8(in); got != want {
			t.Fatalf("OddParity8(%02X) = %d, want %d", in, got, want)
		}
	}
}
