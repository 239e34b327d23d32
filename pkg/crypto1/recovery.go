package crypto1

import "slices"

// Recovery32 returns every cipher state that produces the 32-bit keystream
// ks while in is clocked into the register. The states are positioned right
// after the keystream word, so rolling back in restores the state that
// existed before it.
//
// The result is usually a few tens of thousands of states.
func Recovery32(ks uint32, in uint32) []State {
	var oks, eks uint32
	for i := 31; i >= 0; i -= 2 {
		oks = oks<<1 | beBit(ks, uint(i))
	}
	for i := 30; i >= 0; i -= 2 {
		eks = eks<<1 | beBit(ks, uint(i))
	}

	odd := make([]uint32, 0, 1<<21)
	even := make([]uint32, 0, 1<<21)
	for i := uint32(1 << 20); ; i-- {
		if filter(i) == oks&1 {
			odd = append(odd, i)
		}
		if filter(i) == eks&1 {
			even = append(even, i)
		}
		if i == 0 {
			break
		}
	}

	for i := 0; i < 4; i++ {
		oks >>= 1
		eks >>= 1
		odd = extendTableSimple(odd, oks&1)
		even = extendTableSimple(even, eks&1)
	}

	in = (in >> 16 & 0xff) | (in << 16) | (in & 0xff00)
	return recoverStates(odd, even, oks, eks, 11, nil, in<<1)
}

// Recovery64 finds the state that generated two consecutive keystream words.
// The returned state is positioned after ks3.
func Recovery64(ks2, ks3 uint32) (State, bool) {
	for _, cand := range Recovery32(ks2, 0) {
		s := cand
		if s.Word(0, false) == ks3 {
			return s, true
		}
	}
	return State{}, false
}

func extendTableSimple(tbl []uint32, b uint32) []uint32 {
	out := tbl[:0]
	var extra []uint32
	for _, v := range tbl {
		v <<= 1
		switch {
		case filter(v)^filter(v|1) != 0:
			out = append(out, v|(filter(v)^b))
		case filter(v) == b:
			out = append(out, v)
			extra = append(extra, v|1)
		}
	}
	return append(out, extra...)
}

func extendTable(tbl []uint32, b uint32, m1, m2, in uint32) []uint32 {
	in <<= 24
	out := make([]uint32, 0, len(tbl)*2)
	for _, v := range tbl {
		v <<= 1
		switch {
		case filter(v)^filter(v|1) != 0:
			v |= filter(v) ^ b
			out = append(out, updateContribution(v, m1, m2)^in)
		case filter(v) == b:
			out = append(out,
				updateContribution(v, m1, m2)^in,
				updateContribution(v|1, m1, m2)^in)
		}
	}
	return out
}

func updateContribution(item, mask1, mask2 uint32) uint32 {
	p := item >> 25
	p = p<<1 | parity(item&mask1)
	p = p<<1 | parity(item&mask2)
	return p<<24 | item&0xffffff
}

// recoverStates narrows both halves four keystream bits at a time and joins
// the halves whose feedback contributions agree.
func recoverStates(odd, even []uint32, oks, eks uint32, rem int, sl []State, in uint32) []State {
	if rem == -1 {
		for _, e := range even {
			e = e<<1 ^ parity(e&lfPolyEven)
			if in&4 != 0 {
				e ^= 1
			}
			for _, o := range odd {
				sl = append(sl, State{Even: o, Odd: e ^ parity(o&lfPolyOdd)})
			}
		}
		return sl
	}

	for i := 0; i < 4; i++ {
		r := rem
		rem--
		if r == 0 {
			break
		}
		oks >>= 1
		eks >>= 1
		in >>= 2
		odd = extendTable(odd, oks&1, lfPolyEven<<1|1, lfPolyOdd<<1, 0)
		if len(odd) == 0 {
			return sl
		}
		even = extendTable(even, eks&1, lfPolyOdd, lfPolyEven<<1|1, in&3)
		if len(even) == 0 {
			return sl
		}
	}

	slices.Sort(odd)
	slices.Sort(even)

	oTail, eTail := len(odd)-1, len(even)-1
	for oTail >= 0 && eTail >= 0 {
		switch {
		case (odd[oTail]^even[eTail])>>24 == 0:
			oStart := groupStart(odd, oTail)
			eStart := groupStart(even, eTail)
			sl = recoverStates(
				slices.Clone(odd[oStart:oTail+1]), slices.Clone(even[eStart:eTail+1]),
				oks, eks, rem, sl, in)
			oTail, eTail = oStart-1, eStart-1
		case odd[oTail] > even[eTail]:
			oTail = groupStart(odd, oTail) - 1
		default:
			eTail = groupStart(even, eTail) - 1
		}
	}
	return sl
}

// groupStart finds the first entry above the top-byte boundary of tbl[stop]
// in the sorted table.
func groupStart(tbl []uint32, stop int) int {
	val := tbl[stop] & 0xff000000
	start := 0
	for start != stop {
		mid := (stop - start) >> 1
		if tbl[start+mid] > val {
			stop = start + mid
		} else {
			start += mid + 1
		}
	}
	return start
}
