package trace

import (
	"encoding/hex"
	"strings"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
)

// Frame is one ISO14443-A frame as seen on the air.
type Frame struct {
	Timestamp  uint32 // carrier cycles since capture start
	Duration   uint16
	IsResponse bool // sent by the tag
	Data       []byte

	// Parity holds one parity bit per data byte, packed most significant
	// bit first: the bit of byte i is Parity[i/8] bit 7-i%8.
	Parity []byte
}

func (f Frame) String() string {
	dir := "Rdr"
	if f.IsResponse {
		dir = "Tag"
	}
	return dir + " " + strings.ToUpper(hex.EncodeToString(f.Data))
}

// ParityLen is the number of parity bytes for n data bytes.
func ParityLen(n int) int {
	return (n + 7) / 8
}

// ParityBits computes the packed plaintext parity of data.
func ParityBits(data []byte) []byte {
	par := make([]byte, ParityLen(len(data)))
	for i, b := range data {
		SetParityBit(par, i, crypto1.OddParity8(b))
	}
	return par
}

// ParityBit returns the parity bit of byte i.
func ParityBit(par []byte, i int) byte {
	if i/8 >= len(par) {
		return 0
	}
	return par[i/8] >> (7 - uint(i%8)) & 1
}

// SetParityBit sets the parity bit of byte i.
func SetParityBit(par []byte, i int, v byte) {
	mask := byte(1) << (7 - uint(i%8))
	if v&1 != 0 {
		par[i/8] |= mask
	} else {
		par[i/8] &^= mask
	}
}
