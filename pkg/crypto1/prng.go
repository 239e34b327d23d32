package crypto1

import "sync"

// PRNGSuccessor advances the tag's 32-bit nonce generator by n steps.
func PRNGSuccessor(x uint32, n uint32) uint32 {
	x = swapEndian(x)
	for ; n > 0; n-- {
		x = x>>1 | (x>>16^x>>18^x>>19^x>>21)<<31
	}
	return swapEndian(x)
}

func swapEndian(x uint32) uint32 {
	x = (x >> 8 & 0xff00ff) | (x&0xff00ff)<<8
	return x>>16 | x<<16
}

var (
	distOnce sync.Once
	dist     []uint16
)

func buildDist() {
	dist = make([]uint16, 1<<16)
	x := uint16(1)
	for i := uint16(1); i != 0; i++ {
		dist[(x&0xff)<<8|x>>8] = i
		x = prngStep16(x)
	}
}

func prngStep16(x uint16) uint16 {
	return x>>1 | (x^x>>2^x>>3^x>>5)<<15
}

// WeakNonce returns the nonce a weak-PRNG tag emits at position i of its
// 65535-step cycle. Position 0 and 1 coincide.
func WeakNonce(i uint16) uint32 {
	x := uint16(1)
	for k := uint16(1); k < i; k++ {
		x = prngStep16(x)
	}
	hi := x
	for k := 0; k < 16; k++ {
		x = prngStep16(x)
	}
	return uint32(hi&0xff)<<24 | uint32(hi>>8)<<16 | uint32(x&0xff)<<8 | uint32(x>>8)
}

// NonceDistance returns how many PRNG steps separate two nonces of the weak
// 16-bit generator.
func NonceDistance(from, to uint32) int {
	distOnce.Do(buildDist)
	return (65535 + int(dist[to>>16]) - int(dist[from>>16])) % 65535
}

// ValidatePRNGNonce reports whether nonce was produced by the weak 16-bit
// generator, i.e. its low half is the high half advanced by 16 steps.
func ValidatePRNGNonce(nonce uint32) bool {
	distOnce.Do(buildDist)
	return (65535-int(dist[nonce>>16])+int(dist[nonce&0xffff]))%65535 == 16
}
