package crypto1

// fastfwd holds the register differences caused by flipping the top three
// bits of the last reader nonce byte, per half.
var fastfwd = [2][8]uint32{
	{0, 0x4BC53, 0xECB1, 0x450E2, 0x25E29, 0x6E27A, 0x2B298, 0x60ECB},
	{0, 0x1D962, 0x4BC53, 0x56531, 0xECB1, 0x135D3, 0x450E2, 0x58980},
}

// CommonPrefix recovers candidate states from eight partial authentications
// that share a reader nonce prefix and differ only in the top three bits of
// the last nonce byte.
//
// pfx is the encrypted reader nonce with those three bits cleared, rr the
// encrypted reader response, ks the 4-bit keystream recovered from each
// encrypted NACK and par the parity bits that made the tag answer. With
// noParity the parity filter is skipped; the result is then much larger.
//
// The returned states sit right after uid^nt was clocked in.
func CommonPrefix(pfx, rr uint32, ks [8]byte, par [8][8]byte, noParity bool) []State {
	odd := prefixKeystream(ks, 1)
	even := prefixKeystream(ks, 0)

	var out []State
	for oi := range odd {
		for ei := range even {
			for top := 0; top < 64; top++ {
				odd[oi] += 1 << 21
				inc := uint32(1)
				if top&7 == 0 {
					inc = 2
				}
				even[ei] += inc << 21
				if s, ok := checkPrefixParity(pfx, rr, par, odd[oi], even[ei], noParity); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func prefixKeystream(ks [8]byte, isOdd uint) []uint32 {
	var candidates []uint32
	for i := uint32(0); i < 1<<21; i++ {
		good := true
		for c := 0; good && c < 8; c++ {
			entry := i ^ fastfwd[isOdd][c]
			good = good && uint32(ks[c]>>isOdd&1) == filter(entry>>1)
			good = good && uint32(ks[c]>>(isOdd+2)&1) == filter(entry)
		}
		if good {
			candidates = append(candidates, i)
		}
	}
	return candidates
}

func checkPrefixParity(prefix, rresp uint32, par [8][8]byte, odd, even uint32, noParity bool) (State, bool) {
	var s State
	for c := uint32(0); c < 8; c++ {
		s.Odd = odd ^ fastfwd[1][c]
		s.Even = even ^ fastfwd[0][c]
		s.RollbackBit(0, false)
		s.RollbackBit(0, false)
		ks3 := s.RollbackBit(0, false)
		ks2 := s.RollbackWord(0, false)
		ks1 := s.RollbackWord(prefix|c<<5, true)
		if noParity {
			break
		}
		nr := ks1 ^ (prefix | c<<5)
		rr := ks2 ^ rresp

		good := parity(nr&0x000000ff)^uint32(par[c][3])^bit(ks2, 24) != 0 &&
			parity(rr&0xff000000)^uint32(par[c][4])^bit(ks2, 16) != 0 &&
			parity(rr&0x00ff0000)^uint32(par[c][5])^bit(ks2, 8) != 0 &&
			parity(rr&0x0000ff00)^uint32(par[c][6])^bit(ks2, 0) != 0 &&
			parity(rr&0x000000ff)^uint32(par[c][7])^ks3 != 0
		if !good {
			return State{}, false
		}
	}
	return s, true
}
