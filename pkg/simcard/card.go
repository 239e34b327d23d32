// Package simcard simulates a MIFARE Classic card and the reader firmware
// that attacks it, so key recovery can run without hardware.
//
// Card models the tag: UID, sector keys, memory and nonce generator. Device
// wraps a Card and answers mifare.Device commands the way reader firmware
// would. Session records the frames of a reader talking to the card for the
// trace decoders.
package simcard

import (
	"encoding/binary"
	"math/rand"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

// PRNG selects the nonce generator of the card.
type PRNG int

const (
	WeakPRNG PRNG = iota
	HardPRNG
)

// NACKMode selects how the card answers a reader response it rejects.
type NACKMode int

const (
	// NACKOnParity leaks an encrypted NACK when the parity bits are right.
	NACKOnParity NACKMode = iota
	// NACKAlways leaks an encrypted NACK whatever the parity.
	NACKAlways
	// NACKNever stays silent.
	NACKNever
)

// Config describes a simulated card.
type Config struct {
	UID     uint32
	Sectors int        // mifare.Sectors1K when zero
	Key     mifare.Key // initial key for every slot
	PRNG    PRNG
	NACK    NACKMode
	Magic   mifare.Backdoor
	Seed    int64
}

// Card is a simulated MIFARE Classic tag.
type Card struct {
	UID     uint32
	sectors int
	keys    [][2]mifare.Key
	blocks  [][mifare.BlockSize]byte
	prng    PRNG
	nack    NACKMode
	magic   mifare.Backdoor
	rng     *rand.Rand
	pos     uint16
}

// New builds a card from cfg with transport access bits in every trailer.
func New(cfg Config) *Card {
	n := cfg.Sectors
	if n <= 0 {
		n = mifare.Sectors1K
	}
	c := &Card{
		UID:     cfg.UID,
		sectors: n,
		keys:    make([][2]mifare.Key, n),
		blocks:  make([][mifare.BlockSize]byte, mifare.FirstBlock(n)),
		prng:    cfg.PRNG,
		nack:    cfg.NACK,
		magic:   cfg.Magic,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	c.pos = uint16(c.rng.Intn(65534)) + 1

	uid := c.uidBytes()
	copy(c.blocks[0][:], uid)
	c.blocks[0][4] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
	c.blocks[0][5] = 0x08
	c.blocks[0][6] = 0x04
	for s := 0; s < n; s++ {
		trailer := &c.blocks[mifare.TrailerBlock(s)]
		copy(trailer[6:10], []byte{0xFF, 0x07, 0x80, 0x69})
		c.SetKey(s, mifare.KeyA, cfg.Key)
		c.SetKey(s, mifare.KeyB, cfg.Key)
	}
	return c
}

func (c *Card) uidBytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, c.UID)
	return b
}

// Sectors returns the number of sectors.
func (c *Card) Sectors() int {
	return c.sectors
}

// SetKey changes a sector key and its trailer copy.
func (c *Card) SetKey(sector int, kt mifare.KeyType, k mifare.Key) {
	c.keys[sector][kt.Index()] = k
	off := mifare.TrailerKeyAOffset
	if kt == mifare.KeyB {
		off = mifare.TrailerKeyBOffset
	}
	kb := k.Bytes()
	copy(c.blocks[mifare.TrailerBlock(sector)][off:], kb[:])
}

// Key returns a sector key.
func (c *Card) Key(sector int, kt mifare.KeyType) mifare.Key {
	return c.keys[sector][kt.Index()]
}

// KeyForBlock returns the key guarding block, or false if block is not on
// the card.
func (c *Card) KeyForBlock(block int, kt mifare.KeyType) (mifare.Key, bool) {
	s := mifare.SectorOf(block)
	if s >= c.sectors {
		return mifare.NoKey, false
	}
	return c.keys[s][kt.Index()], true
}

// Block returns a copy of a block.
func (c *Card) Block(n int) [mifare.BlockSize]byte {
	return c.blocks[n]
}

// SetBlock overwrites a block.
func (c *Card) SetBlock(n int, data []byte) {
	copy(c.blocks[n][:], data)
}

// Nonce returns the next tag nonce. A weak card jumps a small random
// distance along its 16-bit generator, like a tag powered for a while.
func (c *Card) Nonce() uint32 {
	if c.prng == HardPRNG {
		for {
			n := c.rng.Uint32()
			if !crypto1.ValidatePRNGNonce(n) {
				return n
			}
		}
	}
	c.pos += uint16(1 + c.rng.Intn(200))
	if c.pos == 0 {
		c.pos = 1
	}
	return crypto1.WeakNonce(c.pos)
}

// nestedNonce returns the nonce of an authentication started right after
// one that used prev.
func (c *Card) nestedNonce(prev uint32) uint32 {
	if c.prng == HardPRNG {
		return c.Nonce()
	}
	return crypto1.PRNGSuccessor(prev, uint32(91+c.rng.Intn(300)))
}
