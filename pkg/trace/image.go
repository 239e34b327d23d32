package trace

import (
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

// Image is the card memory rebuilt from decrypted reads and writes, laid out
// as the largest card. Unknown blocks are zero.
type Image struct {
	data  [mifare.Blocks4K][mifare.BlockSize]byte
	known [mifare.Blocks4K]bool
	keys  mifare.SectorKeys
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{keys: mifare.NewSectorKeys(mifare.Sectors4K)}
}

// Block returns a copy of block n.
func (im *Image) Block(n int) [mifare.BlockSize]byte {
	return im.data[n]
}

// Known reports whether block n was read or written.
func (im *Image) Known(n int) bool {
	return im.known[n]
}

// Keys returns the recovered keys per sector.
func (im *Image) Keys() mifare.SectorKeys {
	return im.keys
}

// Bytes returns the whole image.
func (im *Image) Bytes() []byte {
	out := make([]byte, 0, mifare.Blocks4K*mifare.BlockSize)
	for _, b := range im.data {
		out = append(out, b[:]...)
	}
	return out
}

// SetKey records a recovered key and patches it into the sector trailer. It
// returns false if the key was already known.
func (im *Image) SetKey(sector int, kt mifare.KeyType, k mifare.Key) bool {
	if !im.keys.Set(sector, kt, k) {
		return false
	}
	off := mifare.TrailerKeyAOffset
	if kt == mifare.KeyB {
		off = mifare.TrailerKeyBOffset
	}
	kb := k.Bytes()
	copy(im.data[mifare.TrailerBlock(sector)][off:], kb[:])
	return true
}

// StoreRead records the answer to a READ. A trailer read keeps key A, which
// the card never returns, and key B once it is recovered.
func (im *Image) StoreRead(block int, data []byte) {
	if block < 0 || block >= mifare.Blocks4K || len(data) < mifare.BlockSize {
		return
	}
	dst := &im.data[block]
	im.known[block] = true
	if !mifare.IsTrailer(block) {
		copy(dst[:], data)
		return
	}
	sector := mifare.SectorOf(block)
	copy(dst[mifare.KeySize:mifare.TrailerKeyBOffset], data[mifare.KeySize:mifare.TrailerKeyBOffset])
	if _, ok := im.keys.Lookup(sector, mifare.KeyB); !ok {
		copy(dst[mifare.TrailerKeyBOffset:], data[mifare.TrailerKeyBOffset:mifare.BlockSize])
	}
}

// StoreWrite records the data of a WRITE verbatim.
func (im *Image) StoreWrite(block int, data []byte) {
	if block < 0 || block >= mifare.Blocks4K || len(data) < mifare.BlockSize {
		return
	}
	copy(im.data[block][:], data)
	im.known[block] = true
}
