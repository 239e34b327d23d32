package mifare

import "slices"

// SortKeys sorts keys ascending and drops duplicates in place.
func SortKeys(keys []Key) []Key {
	slices.Sort(keys)
	return slices.Compact(keys)
}

// IntersectKeys returns the keys present in both sorted, duplicate-free
// lists. An empty a yields an empty result.
func IntersectKeys(a, b []Key) []Key {
	var out []Key
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// darksidePool carries darkside candidates across rounds. A card that NACKs
// with all-zero parity yields a large list per round, and only keys shared
// with the previous round are worth verifying.
type darksidePool struct {
	last  []Key // sorted
	round []Key // sorted keys of the latest round
}

// add records the keys of a round and returns the ones to verify, nil when a
// parity-free round has nothing in common with the previous one.
func (p *darksidePool) add(keys []Key, parityFree bool) []Key {
	p.round = SortKeys(keys)
	if !parityFree {
		return p.round
	}
	common := IntersectKeys(p.last, p.round)
	if len(common) == 0 {
		p.last = p.round
		return nil
	}
	p.last = common
	return common
}

// reject restarts the intersection from the latest round after its
// candidates all failed verification.
func (p *darksidePool) reject() {
	p.last = p.round
}
