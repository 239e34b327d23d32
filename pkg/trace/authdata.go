package trace

import (
	"encoding/binary"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

// AuthData collects one authentication as its frames go by. It is reset on
// every SELECT.
type AuthData struct {
	UID uint32

	NT       uint32 // plaintext tag nonce, known in clear on the first auth
	NTEnc    uint32 // encrypted tag nonce of a nested auth
	NTEncPar byte   // parity bits of NTEnc in bits 7..4
	NREnc    uint32
	AREnc    uint32
	AREncPar byte // parity bits of AREnc in bits 7..4
	ATEnc    uint32
	ATEncPar byte // parity bits of ATEnc in bits 7..4

	// FirstAuth is set until the first authentication after SELECT is
	// complete; later ones run encrypted.
	FirstAuth bool
	KS2, KS3  uint32

	Block   byte
	KeyType mifare.KeyType
}

func newAuthData(uid uint32) AuthData {
	return AuthData{UID: uid, FirstAuth: true}
}

// DeriveKeystream sets KS2 and KS3 from the reader and tag answers, assuming
// NT is the plaintext tag nonce.
func (a *AuthData) DeriveKeystream() {
	a.KS2 = a.AREnc ^ crypto1.PRNGSuccessor(a.NT, 64)
	a.KS3 = a.ATEnc ^ crypto1.PRNGSuccessor(a.NT, 96)
}

// ProbableKey recovers the cipher state from KS2 and KS3 and rolls it back
// through the reader nonce and uid^nt to the key. The returned state is
// positioned after the tag answer, ready to decrypt the next frame.
func (a *AuthData) ProbableKey() (mifare.Key, crypto1.State, bool) {
	st, ok := crypto1.Recovery64(a.KS2, a.KS3)
	if !ok {
		return mifare.NoKey, crypto1.State{}, false
	}
	rev := st
	rev.RollbackWord(0, false)
	rev.RollbackWord(0, false)
	rev.RollbackWord(a.NREnc, true)
	rev.RollbackWord(a.UID^a.NT, false)
	return mifare.Key(rev.LFSR()), st, true
}

// NTParityCheck reports whether nonce candidate ntx is consistent with the
// parity bits captured for the encrypted nonce, reader answer and tag answer.
// Each parity bit is encrypted with the keystream bit of the next data bit,
// so the last byte of each word can only be checked for the reader answer.
func (a *AuthData) NTParityCheck(ntx uint32) bool {
	ar := crypto1.PRNGSuccessor(ntx, 64)
	at := crypto1.PRNGSuccessor(ntx, 96)
	return wordParityOK(ntx, a.NTEnc, a.NTEncPar) &&
		wordParityOK(ar, a.AREnc, a.AREncPar) &&
		parityOK(byte(ar), at>>24, a.AREncPar>>4, a.ATEnc>>24) &&
		wordParityOK(at, a.ATEnc, a.ATEncPar)
}

// wordParityOK checks bytes 0..2 of plain against the parity bits in bits
// 7..5 of par.
func wordParityOK(plain, enc uint32, par byte) bool {
	return parityOK(byte(plain>>8), plain, par>>5, enc) &&
		parityOK(byte(plain>>16), plain>>8, par>>6, enc>>8) &&
		parityOK(byte(plain>>24), plain>>16, par>>7, enc>>16)
}

// parityOK checks one byte: its odd parity encrypted with the keystream bit
// nextPlain^nextEnc (bit 0 of each) must equal the captured bit.
func parityOK(b byte, nextPlain uint32, capturedBit byte, nextEnc uint32) bool {
	return (crypto1.OddParity8(b)^byte(nextPlain)^capturedBit^byte(nextEnc))&1 == 0
}

// nestedCheckKey decrypts a nested authentication under key and accepts it
// when the reader and tag answers, the nonce parity, the parity of frame and
// its CRC all agree. On success it fills NT, KS2 and KS3 and returns the
// cipher positioned before frame.
func (a *AuthData) nestedCheckKey(key mifare.Key, f Frame) (crypto1.State, bool) {
	s := crypto1.New(uint64(key))
	nt := s.Word(a.NTEnc^a.UID, true) ^ a.NTEnc
	ar := crypto1.PRNGSuccessor(nt, 64)
	at := crypto1.PRNGSuccessor(nt, 96)
	s.Word(a.NREnc, true)
	ar1 := s.Word(0, false) ^ a.AREnc
	at1 := s.Word(0, false) ^ a.ATEnc
	if ar != ar1 || at != at1 || !a.NTParityCheck(nt) {
		return crypto1.State{}, false
	}
	if !frameDecrypts(*s, f) {
		return crypto1.State{}, false
	}
	a.NT = nt
	a.KS2 = a.AREnc ^ ar
	a.KS3 = a.ATEnc ^ at
	return *s, true
}

// frameDecrypts trial-decrypts f with a copy of s and checks parity and CRC.
func frameDecrypts(s crypto1.State, f Frame) bool {
	plain := decrypt(&s, f.Data)
	return checkCrypto1Parity(f.Data, plain, f.Parity) && mifare.CheckCRC(plain)
}

// decrypt returns the plaintext of enc and advances s. One-byte frames are
// four-bit ACK/NACK answers.
func decrypt(s *crypto1.State, enc []byte) []byte {
	out := make([]byte, len(enc))
	if len(enc) == 1 {
		var b byte
		for i := uint(0); i < 4; i++ {
			b |= byte(s.Bit(0, false)^uint32(enc[0]>>i&1)) << i
		}
		out[0] = b
		return out
	}
	for i, b := range enc {
		out[i] = s.Byte(0, false) ^ b
	}
	return out
}

// checkCrypto1Parity verifies the captured parity of an encrypted frame
// against its plaintext for every byte but the last.
func checkCrypto1Parity(enc, plain, par []byte) bool {
	for i := 0; i+1 < len(plain); i++ {
		if (crypto1.OddParity8(plain[i])^plain[i+1]^ParityBit(par, i)^enc[i+1])&1 != 0 {
			return false
		}
	}
	return true
}

func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
