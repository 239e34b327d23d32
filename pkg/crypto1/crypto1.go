// Package crypto1 implements the Crypto1 stream cipher used by MIFARE Classic
// together with the state recovery and rollback operations the key recovery
// attacks are built on.
//
// The 48-bit LFSR is kept split into its odd and even bit positions, 24 bits
// each. Words are clocked in the byte order they travel over the air: the
// most significant byte first, each byte least significant bit first.
package crypto1

const (
	lfPolyOdd  = 0x29CE5C
	lfPolyEven = 0x870804
)

// State is the internal state of one Crypto1 cipher instance.
type State struct {
	Odd  uint32
	Even uint32
}

// New loads a 48-bit key into a fresh cipher state.
func New(key uint64) *State {
	s := &State{}
	for i := 47; i > 0; i -= 2 {
		s.Odd = s.Odd<<1 | uint32(bit64(key, uint(i-1)^7))
		s.Even = s.Even<<1 | uint32(bit64(key, uint(i)^7))
	}
	return s
}

// LFSR extracts the 48-bit register contents. For a state taken right after
// New this is the key.
func (s State) LFSR() uint64 {
	var lfsr uint64
	for i := 23; i >= 0; i-- {
		lfsr = lfsr<<1 | uint64(bit(s.Odd, uint(i)^3))
		lfsr = lfsr<<1 | uint64(bit(s.Even, uint(i)^3))
	}
	return lfsr
}

// Bit clocks the cipher once and returns the keystream bit that was valid
// before the clock. When encrypted is set, in is ciphertext and the
// keystream bit is folded into the feedback.
func (s *State) Bit(in uint32, encrypted bool) uint32 {
	ret := filter(s.Odd)

	var feedin uint32
	if encrypted {
		feedin = ret
	}
	if in != 0 {
		feedin ^= 1
	}
	feedin ^= lfPolyOdd & s.Odd
	feedin ^= lfPolyEven & s.Even
	s.Even = s.Even<<1 | parity(feedin)

	s.Odd, s.Even = s.Even, s.Odd
	return ret
}

// Byte clocks eight bits, least significant first.
func (s *State) Byte(in byte, encrypted bool) byte {
	var ret byte
	for i := uint(0); i < 8; i++ {
		ret |= byte(s.Bit(uint32(in>>i)&1, encrypted)) << i
	}
	return ret
}

// Word clocks 32 bits in transmission order and returns the keystream word.
func (s *State) Word(in uint32, encrypted bool) uint32 {
	var ret uint32
	for i := uint(0); i < 32; i++ {
		ret |= s.Bit(beBit(in, i), encrypted) << (24 ^ i)
	}
	return ret
}

// Peek returns the keystream bit the next clock will produce without
// advancing the state. Parity bits are encrypted with this bit.
func (s *State) Peek() uint32 {
	return filter(s.Odd)
}

// RollbackBit undoes one clock.
func (s *State) RollbackBit(in uint32, encrypted bool) uint32 {
	s.Odd &= 0xffffff
	s.Odd, s.Even = s.Even, s.Odd

	out := s.Even & 1
	s.Even >>= 1
	out ^= lfPolyEven & s.Even
	out ^= lfPolyOdd & s.Odd
	if in != 0 {
		out ^= 1
	}
	ret := filter(s.Odd)
	if encrypted {
		out ^= ret
	}

	s.Even |= parity(out) << 23
	return ret
}

// RollbackByte undoes eight clocks.
func (s *State) RollbackByte(in byte, encrypted bool) byte {
	var ret byte
	for i := 7; i >= 0; i-- {
		ret |= byte(s.RollbackBit(uint32(in>>uint(i))&1, encrypted)) << uint(i)
	}
	return ret
}

// RollbackWord undoes 32 clocks, mirroring Word.
func (s *State) RollbackWord(in uint32, encrypted bool) uint32 {
	var ret uint32
	for i := 31; i >= 0; i-- {
		ret |= s.RollbackBit(beBit(in, uint(i)), encrypted) << (uint(i) ^ 24)
	}
	return ret
}

func filter(x uint32) uint32 {
	var f uint32
	f = 0xf22c0 >> (x & 0xf) & 16
	f |= 0x6c9c0 >> (x >> 4 & 0xf) & 8
	f |= 0x3c8b0 >> (x >> 8 & 0xf) & 4
	f |= 0x1e458 >> (x >> 12 & 0xf) & 2
	f |= 0x0d938 >> (x >> 16 & 0xf) & 1
	return bit(0xEC57E80A, uint(f))
}

func parity(x uint32) uint32 {
	x ^= x >> 16
	x ^= x >> 8
	x ^= x >> 4
	return bit(0x6996, uint(x&0xf))
}

// EvenParity32 returns the XOR of all bits of x.
func EvenParity32(x uint32) uint32 {
	return parity(x)
}

// OddParity8 returns the parity bit ISO14443-A transmits after b.
func OddParity8(b byte) byte {
	return byte(parity(uint32(b)) ^ 1)
}

func bit(x uint32, n uint) uint32 {
	return x >> n & 1
}

func bit64(x uint64, n uint) uint64 {
	return x >> n & 1
}

func beBit(x uint32, n uint) uint32 {
	return bit(x, n^24)
}
