package mifare

import "fmt"

// SectorKey holds what is known about the two keys of one sector.
type SectorKey struct {
	Key   [2]Key
	Found [2]bool
}

// SectorKeys is the per-sector key table filled by dictionary sweeps and
// attacks. Slots only ever go from not found to found.
type SectorKeys []SectorKey

// NewSectorKeys returns an empty table for n sectors.
func NewSectorKeys(n int) SectorKeys {
	t := make(SectorKeys, n)
	for i := range t {
		t[i].Key = [2]Key{NoKey, NoKey}
	}
	return t
}

// Set records a found key. It does nothing if the slot is already found.
func (t SectorKeys) Set(sector int, kt KeyType, k Key) bool {
	if sector < 0 || sector >= len(t) {
		return false
	}
	slot := &t[sector]
	if slot.Found[kt.Index()] {
		return false
	}
	slot.Key[kt.Index()] = k
	slot.Found[kt.Index()] = true
	return true
}

// Lookup returns the key for a slot if found.
func (t SectorKeys) Lookup(sector int, kt KeyType) (Key, bool) {
	if sector < 0 || sector >= len(t) || !t[sector].Found[kt.Index()] {
		return NoKey, false
	}
	return t[sector].Key[kt.Index()], true
}

// FoundCount returns how many slots are filled.
func (t SectorKeys) FoundCount() int {
	n := 0
	for _, s := range t {
		for _, f := range s.Found {
			if f {
				n++
			}
		}
	}
	return n
}

// Complete reports whether every slot is filled.
func (t SectorKeys) Complete() bool {
	return t.FoundCount() == 2*len(t)
}

func slotLabel(s SectorKey, i int) string {
	if !s.Found[i] {
		return "------------ 0"
	}
	return s.Key[i].String() + " 1"
}

// PrintSectorKeys prints the key table.
func PrintSectorKeys(t SectorKeys) {
	fmt.Println("|---|----------------|---|----------------|---|")
	fmt.Println("|sec|key A           |res|key B           |res|")
	fmt.Println("|---|----------------|---|----------------|---|")
	for i, s := range t {
		a, b := slotLabel(s, 0), slotLabel(s, 1)
		fmt.Printf("|%03d|  %s |  %s |\n", i, a, b)
	}
	fmt.Println("|---|----------------|---|----------------|---|")
}
