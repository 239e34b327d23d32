package mifare

import "fmt"

// KeyType selects which sector key an authentication uses. The values are
// the authentication command bytes.
type KeyType byte

const (
	KeyA KeyType = 0x60
	KeyB KeyType = 0x61
)

func (kt KeyType) String() string {
	switch kt {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("keytype(0x%02X)", byte(kt))
	}
}

// Index returns 0 for key A and 1 for key B.
func (kt KeyType) Index() int {
	return int(kt) & 1
}

// ParseKeyType accepts "A", "B", "a" or "b".
func ParseKeyType(s string) (KeyType, error) {
	switch s {
	case "A", "a":
		return KeyA, nil
	case "B", "b":
		return KeyB, nil
	}
	return 0, fmt.Errorf("key type must be A or B, got %q", s)
}

// Sector counts of the card sizes.
const (
	SectorsMini = 5
	Sectors1K   = 16
	Sectors2K   = 32
	Sectors4K   = 40
)

// BlockSize is the size of one data block.
const BlockSize = 16

// Blocks4K is the number of blocks on the largest card.
const Blocks4K = 256

// SectorOf returns the sector holding block. Sectors 0-31 have four blocks,
// sectors 32-39 sixteen.
func SectorOf(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

// BlocksInSector returns 4 or 16.
func BlocksInSector(sector int) int {
	if sector < 32 {
		return 4
	}
	return 16
}

// FirstBlock returns the first block of sector.
func FirstBlock(sector int) int {
	if sector < 32 {
		return sector * 4
	}
	return 128 + (sector-32)*16
}

// TrailerBlock returns the sector trailer of sector.
func TrailerBlock(sector int) int {
	return FirstBlock(sector) + BlocksInSector(sector) - 1
}

// IsTrailer reports whether block is a sector trailer.
func IsTrailer(block int) bool {
	return block == TrailerBlock(SectorOf(block))
}

// Offsets of the keys inside a sector trailer.
const (
	TrailerKeyAOffset = 0
	TrailerKeyBOffset = 10
)
