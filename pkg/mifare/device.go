package mifare

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MaxPayload is the largest Data a single Command can carry.
const MaxPayload = 512

// Op identifies a device operation.
type Op uint16

const (
	OpReaderRaw Op = iota + 1
	OpDarkside
	OpNested
	OpCheckKeys
	OpCheckKeysFast
	OpNACKDetect
	OpCIdent
	OpFieldOff
)

func (op Op) String() string {
	switch op {
	case OpReaderRaw:
		return "reader-raw"
	case OpDarkside:
		return "darkside"
	case OpNested:
		return "nested"
	case OpCheckKeys:
		return "check-keys"
	case OpCheckKeysFast:
		return "check-keys-fast"
	case OpNACKDetect:
		return "nack-detect"
	case OpCIdent:
		return "cident"
	case OpFieldOff:
		return "field-off"
	default:
		return fmt.Sprintf("op(%d)", uint16(op))
	}
}

// Flags for OpReaderRaw.
const (
	RawConnect      = 1 << 0
	RawNoDisconnect = 1 << 1
	RawAppendCRC    = 1 << 2
)

// Command is one request to the device.
type Command struct {
	Op   Op
	Arg  [3]uint64
	Data []byte
}

// Response is one answer from the device.
type Response struct {
	Op   Op
	Arg  [3]int64
	Data []byte
}

// Device abstracts the reader firmware for real hardware and simulators.
// Only one exchange may be in flight at a time.
type Device interface {
	Send(cmd Command) error
	// Wait blocks until a response for op arrives. It returns ErrTimeout
	// when none arrives within timeout.
	Wait(op Op, timeout time.Duration) (*Response, error)
}

// PayloadLimiter is implemented by devices whose command buffer differs
// from MaxPayload.
type PayloadLimiter interface {
	PayloadLimit() int
}

// payloadLimit returns the command buffer size of dev.
func payloadLimit(dev Device) int {
	if pl, ok := dev.(PayloadLimiter); ok && pl.PayloadLimit() > 0 {
		return pl.PayloadLimit()
	}
	return MaxPayload
}

// send validates the payload size before handing cmd to dev.
func send(dev Device, cmd Command) error {
	if limit := payloadLimit(dev); len(cmd.Data) > limit {
		return fmt.Errorf("%s: payload %d bytes exceeds %d", cmd.Op, len(cmd.Data), limit)
	}
	return dev.Send(cmd)
}

// fieldOff drops the field. Errors are ignored: it runs on exit paths.
func fieldOff(dev Device) {
	_ = dev.Send(Command{Op: OpFieldOff})
}

// PackTarget packs a block and key type into one command argument.
func PackTarget(block byte, kt KeyType) uint64 {
	return uint64(block) | uint64(kt)<<8
}

// UnpackTarget is the inverse of PackTarget.
func UnpackTarget(arg uint64) (byte, KeyType) {
	return byte(arg), KeyType(arg >> 8)
}

// PackKeys encodes keys six bytes each.
func PackKeys(keys []Key) []byte {
	out := make([]byte, 0, len(keys)*KeySize)
	for _, k := range keys {
		b := k.Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// UnpackKeys decodes a PackKeys payload.
func UnpackKeys(data []byte) []Key {
	keys := make([]Key, 0, len(data)/KeySize)
	for i := 0; i+KeySize <= len(data); i += KeySize {
		keys = append(keys, KeyFromBytes(data[i:i+KeySize]))
	}
	return keys
}

// DarksideReport is the payload of a successful OpDarkside round.
type DarksideReport struct {
	UID       uint32
	NT        uint32
	Parity    uint64
	Keystream uint64
	NR        uint32
	AR        uint32
}

const darksideReportSize = 32

// Encode serializes r in the OpDarkside response layout.
func (r DarksideReport) Encode() []byte {
	b := make([]byte, darksideReportSize)
	binary.BigEndian.PutUint32(b[0:], r.UID)
	binary.BigEndian.PutUint32(b[4:], r.NT)
	binary.BigEndian.PutUint64(b[8:], r.Parity)
	binary.BigEndian.PutUint64(b[16:], r.Keystream)
	binary.BigEndian.PutUint32(b[24:], r.NR)
	binary.BigEndian.PutUint32(b[28:], r.AR)
	return b
}

// ParseDarksideReport decodes an OpDarkside response payload.
func ParseDarksideReport(data []byte) (DarksideReport, error) {
	if len(data) < darksideReportSize {
		return DarksideReport{}, fmt.Errorf("darkside report: short payload %d bytes", len(data))
	}
	return DarksideReport{
		UID:       binary.BigEndian.Uint32(data[0:]),
		NT:        binary.BigEndian.Uint32(data[4:]),
		Parity:    binary.BigEndian.Uint64(data[8:]),
		Keystream: binary.BigEndian.Uint64(data[16:]),
		NR:        binary.BigEndian.Uint32(data[24:]),
		AR:        binary.BigEndian.Uint32(data[28:]),
	}, nil
}

// NestedCapture is one encrypted nonce observed during a nested
// authentication.
type NestedCapture struct {
	NT  uint32
	KS1 uint32
}

// EncodeNested serializes a nested response payload.
func EncodeNested(uid uint32, caps []NestedCapture) []byte {
	b := make([]byte, 4+8*len(caps))
	binary.BigEndian.PutUint32(b, uid)
	for i, c := range caps {
		binary.BigEndian.PutUint32(b[4+8*i:], c.NT)
		binary.BigEndian.PutUint32(b[8+8*i:], c.KS1)
	}
	return b
}

// ParseNested decodes a nested response payload carrying n captures.
func ParseNested(data []byte, n int) (uint32, []NestedCapture, error) {
	if n <= 0 || len(data) < 4+8*n {
		return 0, nil, fmt.Errorf("nested report: %d bytes for %d captures", len(data), n)
	}
	uid := binary.BigEndian.Uint32(data)
	caps := make([]NestedCapture, n)
	for i := range caps {
		caps[i].NT = binary.BigEndian.Uint32(data[4+8*i:])
		caps[i].KS1 = binary.BigEndian.Uint32(data[8+8*i:])
	}
	return uid, caps, nil
}
