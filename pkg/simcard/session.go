package simcard

import (
	"fmt"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/trace"
)

const (
	cmdWUPA  = 0x52
	cmdRead  = 0x30
	cmdWrite = 0xA0
	cmdHalt  = 0x50
	ack      = 0x0A
)

// Session records the frames exchanged by an honest reader and the card, as
// a sniffer between them would capture them.
type Session struct {
	card   *Card
	frames []trace.Frame
	clock  uint32

	cipher *crypto1.State // nil until the first authentication
	nt     uint32         // plaintext nonce of the last authentication
}

// NewSession starts an empty capture.
func (c *Card) NewSession() *Session {
	return &Session{card: c}
}

// Frames returns the captured frames.
func (s *Session) Frames() []trace.Frame {
	return s.frames
}

func (s *Session) record(resp bool, data, par []byte) {
	s.frames = append(s.frames, trace.Frame{
		Timestamp:  s.clock,
		Duration:   uint16(len(data) * 9 * 128),
		IsResponse: resp,
		Data:       data,
		Parity:     par,
	})
	s.clock += 10000
}

// Raw records a plaintext frame as is.
func (s *Session) Raw(resp bool, data []byte) {
	s.record(resp, append([]byte(nil), data...), trace.ParityBits(data))
}

// Select wakes the card and selects it by UID. Any authentication is lost.
func (s *Session) Select() {
	s.cipher = nil
	s.Raw(false, []byte{cmdWUPA})
	s.Raw(true, []byte{0x04, 0x00})

	uid := s.card.uidBytes()
	sel := []byte{0x93, 0x70}
	sel = append(sel, uid...)
	sel = append(sel, uid[0]^uid[1]^uid[2]^uid[3])
	s.Raw(false, mifare.AppendCRC(sel))
	s.Raw(true, mifare.AppendCRC([]byte{0x08}))
}

// Auth authenticates to block with the card's own key. The first
// authentication after Select runs in the clear; later ones are nested inside
// the current cipher.
func (s *Session) Auth(block int, kt mifare.KeyType) error {
	key, ok := s.card.KeyForBlock(block, kt)
	if !ok {
		return fmt.Errorf("simcard: block %d not on card", block)
	}
	cmd := mifare.AppendCRC([]byte{byte(kt), byte(block)})
	uid := s.card.UID

	var nt uint32
	next := crypto1.New(uint64(key))
	if s.cipher == nil {
		s.Raw(false, cmd)
		nt = s.card.Nonce()
		s.Raw(true, wordBytes(nt))
		next.Word(uid^nt, false)
	} else {
		s.sendEncrypted(false, cmd)
		nt = s.card.nestedNonce(s.nt)
		enc := make([]byte, 4)
		par := make([]byte, 1)
		for i := range enc {
			shift := 24 - 8*uint(i)
			b := byte(nt >> shift)
			enc[i] = b ^ next.Byte(byte(uid>>shift)^b, false)
			trace.SetParityBit(par, i, crypto1.OddParity8(b)^byte(next.Peek()))
		}
		s.record(true, enc, par)
	}
	s.cipher = next
	s.nt = nt

	nr := s.card.rng.Uint32()
	reader := make([]byte, 8)
	par := make([]byte, 1)
	for i := 0; i < 4; i++ {
		b := byte(nr >> (24 - 8*uint(i)))
		reader[i] = b ^ next.Byte(b, false)
		trace.SetParityBit(par, i, crypto1.OddParity8(b)^byte(next.Peek()))
	}
	ar := wordBytes(crypto1.PRNGSuccessor(nt, 64))
	for i, b := range ar {
		reader[4+i] = b ^ next.Byte(0, false)
		trace.SetParityBit(par, 4+i, crypto1.OddParity8(b)^byte(next.Peek()))
	}
	s.record(false, reader, par)

	s.sendEncrypted(true, wordBytes(crypto1.PRNGSuccessor(nt, 96)))
	return nil
}

// Read reads a block. Key A of a trailer reads as zeros.
func (s *Session) Read(block int) error {
	if s.cipher == nil {
		return fmt.Errorf("simcard: read block %d without authentication", block)
	}
	s.sendEncrypted(false, mifare.AppendCRC([]byte{cmdRead, byte(block)}))
	data := s.card.Block(block)
	if mifare.IsTrailer(block) {
		copy(data[mifare.TrailerKeyAOffset:], make([]byte, mifare.KeySize))
	}
	s.sendEncrypted(true, mifare.AppendCRC(data[:]))
	return nil
}

// Write writes a block. Writing a trailer changes the card keys.
func (s *Session) Write(block int, data []byte) error {
	if s.cipher == nil {
		return fmt.Errorf("simcard: write block %d without authentication", block)
	}
	if len(data) != mifare.BlockSize {
		return fmt.Errorf("simcard: block data is %d bytes", len(data))
	}
	s.sendEncrypted(false, mifare.AppendCRC([]byte{cmdWrite, byte(block)}))
	s.sendAck()
	s.sendEncrypted(false, mifare.AppendCRC(append([]byte(nil), data...)))
	s.sendAck()

	s.card.SetBlock(block, data)
	if mifare.IsTrailer(block) {
		sector := mifare.SectorOf(block)
		s.card.keys[sector][0] = mifare.KeyFromBytes(data[mifare.TrailerKeyAOffset:])
		s.card.keys[sector][1] = mifare.KeyFromBytes(data[mifare.TrailerKeyBOffset:])
	}
	return nil
}

// Halt puts the card to sleep; a new Select is needed afterwards.
func (s *Session) Halt() {
	cmd := mifare.AppendCRC([]byte{cmdHalt, 0x00})
	if s.cipher != nil {
		s.sendEncrypted(false, cmd)
	} else {
		s.Raw(false, cmd)
	}
	s.cipher = nil
}

func (s *Session) sendEncrypted(resp bool, data []byte) {
	enc := make([]byte, len(data))
	par := make([]byte, trace.ParityLen(len(data)))
	for i, b := range data {
		enc[i] = b ^ s.cipher.Byte(0, false)
		trace.SetParityBit(par, i, crypto1.OddParity8(b)^byte(s.cipher.Peek()))
	}
	s.record(resp, enc, par)
}

func (s *Session) sendAck() {
	var enc byte
	for i := uint(0); i < 4; i++ {
		enc |= (ack>>i&1 ^ byte(s.cipher.Bit(0, false))) << i
	}
	s.record(true, []byte{enc}, []byte{0})
}

func wordBytes(w uint32) []byte {
	return []byte{byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w)}
}
