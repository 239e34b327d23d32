package simcard

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

const fastSize = 490

// Device answers mifare.Device commands for a simulated card. Responses are
// produced synchronously inside Send and handed out by Wait.
type Device struct {
	Card *Card

	// Absent simulates an empty field: selects and authentications fail.
	Absent bool
	// Limit is the command buffer size, mifare.MaxPayload when zero.
	Limit int
	// Drop discards the responses of the next n commands of an op.
	Drop map[mifare.Op]int
	// Sent counts commands per op.
	Sent map[mifare.Op]int

	queue []*mifare.Response
	fast  mifare.SectorKeys
}

// NewDevice returns a device with card in its field.
func NewDevice(card *Card) *Device {
	return &Device{
		Card: card,
		Drop: make(map[mifare.Op]int),
		Sent: make(map[mifare.Op]int),
	}
}

// PayloadLimit implements mifare.PayloadLimiter.
func (d *Device) PayloadLimit() int {
	if d.Limit > 0 {
		return d.Limit
	}
	return mifare.MaxPayload
}

// Send implements mifare.Device.
func (d *Device) Send(cmd mifare.Command) error {
	if len(cmd.Data) > d.PayloadLimit() {
		return fmt.Errorf("payload %d bytes exceeds %d", len(cmd.Data), d.PayloadLimit())
	}
	d.Sent[cmd.Op]++

	var resps []*mifare.Response
	switch cmd.Op {
	case mifare.OpFieldOff:
		return nil
	case mifare.OpReaderRaw:
		resps = d.readerRaw(cmd)
	case mifare.OpDarkside:
		resps = append(resps, d.darkside(cmd))
	case mifare.OpNested:
		resps = append(resps, d.nested(cmd))
	case mifare.OpCheckKeys:
		resps = append(resps, d.checkKeys(cmd))
	case mifare.OpCheckKeysFast:
		resps = append(resps, d.checkKeysFast(cmd))
	case mifare.OpNACKDetect:
		resps = append(resps, d.nackDetect())
	case mifare.OpCIdent:
		resps = append(resps, &mifare.Response{Arg: [3]int64{int64(d.Card.magic)}})
	default:
		return fmt.Errorf("simcard: unknown op %s", cmd.Op)
	}

	if d.Drop[cmd.Op] > 0 {
		d.Drop[cmd.Op]--
		return nil
	}
	for _, r := range resps {
		r.Op = cmd.Op
		d.queue = append(d.queue, r)
	}
	return nil
}

// Wait implements mifare.Device. It never sleeps: a missing response is an
// immediate ErrTimeout.
func (d *Device) Wait(op mifare.Op, _ time.Duration) (*mifare.Response, error) {
	for i, r := range d.queue {
		if r.Op == op {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return r, nil
		}
	}
	return nil, mifare.ErrTimeout
}

func (d *Device) readerRaw(cmd mifare.Command) []*mifare.Response {
	var resps []*mifare.Response
	if cmd.Arg[0]&mifare.RawConnect != 0 {
		if d.Absent {
			return []*mifare.Response{{}}
		}
		resps = append(resps, &mifare.Response{Arg: [3]int64{1}})
	}
	frame := cmd.Data
	if cmd.Arg[0]&mifare.RawAppendCRC != 0 {
		frame = mifare.AppendCRC(append([]byte(nil), frame...))
	}
	if len(frame) == 4 && mifare.CheckCRC(frame) && (frame[0] == byte(mifare.KeyA) || frame[0] == byte(mifare.KeyB)) {
		nt := make([]byte, 4)
		binary.BigEndian.PutUint32(nt, d.Card.Nonce())
		resps = append(resps, &mifare.Response{Arg: [3]int64{4}, Data: nt})
	}
	return resps
}

// darkside runs one round of eight partial authentications sharing a tag
// nonce and a reader nonce prefix.
func (d *Device) darkside(cmd mifare.Command) *mifare.Response {
	c := d.Card
	switch {
	case d.Absent:
		return &mifare.Response{Arg: [3]int64{-1}}
	case c.nack == NACKNever:
		return &mifare.Response{Arg: [3]int64{-2}}
	case c.prng == HardPRNG:
		return &mifare.Response{Arg: [3]int64{-3}}
	}
	key, ok := c.KeyForBlock(int(cmd.Arg[0]), mifare.KeyType(cmd.Arg[1]))
	if !ok {
		return &mifare.Response{Arg: [3]int64{-1}}
	}

	nt := c.Nonce()
	prefix := c.rng.Uint32() &^ 0xE0
	ar := c.rng.Uint32()

	var par, ks uint64
	for round := uint32(0); round < 8; round++ {
		nrEnc := prefix | round<<5
		s := crypto1.New(uint64(key))
		s.Word(c.UID^nt, false)

		var pb byte
		for i := 0; i < 4; i++ {
			b := byte(nrEnc >> (24 - 8*uint(i)))
			plain := b ^ s.Byte(b, true)
			pb |= (crypto1.OddParity8(plain) ^ byte(s.Peek())) << uint(i)
		}
		for i := 0; i < 4; i++ {
			b := byte(ar >> (24 - 8*uint(i)))
			plain := b ^ s.Byte(0, false)
			pb |= (crypto1.OddParity8(plain) ^ byte(s.Peek())) << uint(4+i)
		}
		var nack byte
		for i := 0; i < 4; i++ {
			nack |= byte(s.Bit(0, false)) << uint(i)
		}
		if c.nack == NACKAlways {
			pb = 0
		}

		shift := 8 * (7 - round)
		par |= uint64(pb) << shift
		ks |= uint64(nack) << shift
	}

	rep := mifare.DarksideReport{
		UID:       c.UID,
		NT:        nt,
		Parity:    par,
		Keystream: ks,
		NR:        prefix | 7<<5,
		AR:        ar,
	}
	return &mifare.Response{Data: rep.Encode()}
}

// nested authenticates with the known key, then twice with the target key
// and reports the encrypted-nonce keystream of each.
func (d *Device) nested(cmd mifare.Command) *mifare.Response {
	c := d.Card
	if d.Absent {
		return &mifare.Response{Arg: [3]int64{-2}}
	}
	block, kt := mifare.UnpackTarget(cmd.Arg[0])
	known, ok := c.KeyForBlock(int(block), kt)
	if !ok || len(cmd.Data) < mifare.KeySize || mifare.KeyFromBytes(cmd.Data) != known {
		return &mifare.Response{Arg: [3]int64{-1}}
	}
	if c.prng == HardPRNG {
		return &mifare.Response{Arg: [3]int64{-3}}
	}
	tblock, tkt := mifare.UnpackTarget(cmd.Arg[1])
	target, ok := c.KeyForBlock(int(tblock), tkt)
	if !ok {
		return &mifare.Response{Arg: [3]int64{-1}}
	}

	prev := c.Nonce()
	caps := make([]mifare.NestedCapture, 2)
	for i := range caps {
		nt := c.nestedNonce(prev)
		s := crypto1.New(uint64(target))
		caps[i] = mifare.NestedCapture{NT: nt, KS1: s.Word(c.UID^nt, false)}
		prev = nt
	}
	return &mifare.Response{
		Arg:  [3]int64{0, int64(len(caps))},
		Data: mifare.EncodeNested(c.UID, caps),
	}
}

func (d *Device) checkKeys(cmd mifare.Command) *mifare.Response {
	if d.Absent {
		return &mifare.Response{}
	}
	block, kt := mifare.UnpackTarget(cmd.Arg[0])
	want, ok := d.Card.KeyForBlock(int(block), kt)
	if !ok {
		return &mifare.Response{}
	}
	for i, k := range mifare.UnpackKeys(cmd.Data) {
		if k == want {
			return &mifare.Response{Arg: [3]int64{1, int64(i)}}
		}
	}
	return &mifare.Response{}
}

func (d *Device) checkKeysFast(cmd mifare.Command) *mifare.Response {
	sectors := int(cmd.Arg[0] & 0xFF)
	first := cmd.Arg[0]>>8&1 == 1
	if first || len(d.fast) != sectors {
		d.fast = mifare.NewSectorKeys(sectors)
	}
	if !d.Absent {
		keys := mifare.UnpackKeys(cmd.Data)
		for s := 0; s < sectors && s < d.Card.sectors; s++ {
			for _, kt := range []mifare.KeyType{mifare.KeyA, mifare.KeyB} {
				for _, k := range keys {
					if k == d.Card.Key(s, kt) {
						d.fast.Set(s, kt, k)
						break
					}
				}
			}
		}
	}

	data := make([]byte, fastSize)
	for s, slot := range d.fast {
		for t := 0; t < 2; t++ {
			if !slot.Found[t] {
				continue
			}
			kb := slot.Key[t].Bytes()
			copy(data[12*s+6*t:], kb[:])
			bit := 2*s + t
			data[480+bit/8] |= 1 << uint(bit%8)
		}
	}
	return &mifare.Response{Arg: [3]int64{int64(d.fast.FoundCount())}, Data: data}
}

func (d *Device) nackDetect() *mifare.Response {
	const auths = 100
	c := d.Card
	switch {
	case c.prng == HardPRNG:
		return &mifare.Response{Arg: [3]int64{98, 0, auths}}
	case c.nack == NACKAlways:
		return &mifare.Response{Arg: [3]int64{2, auths, auths}}
	case c.nack == NACKOnParity:
		return &mifare.Response{Arg: [3]int64{1, 1, auths}}
	default:
		return &mifare.Response{Arg: [3]int64{0, 0, auths}}
	}
}
