package trace

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

var (
	// ErrDesync means a frame did not fit the authentication in progress or
	// an idle command failed its CRC. The decoder stays in StateError until
	// the next SELECT or HALT.
	ErrDesync = errors.New("trace: frame out of sequence")
	// ErrHardnested means a nested authentication could not be decrypted
	// with the last key, the dictionary or the nonce search.
	ErrHardnested = errors.New("trace: key not recoverable, hardnested not implemented")
)

// State is the position of the decoder in the card conversation.
type State int

const (
	StateIdle State = iota
	StateAwaitNt
	StateAwaitNrAr
	StateAwaitAt
	StateAuthComplete
	StateFirstData
	StateData
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitNt:
		return "await nt"
	case StateAwaitNrAr:
		return "await nr/ar"
	case StateAwaitAt:
		return "await at"
	case StateAuthComplete:
		return "auth complete"
	case StateFirstData:
		return "first data"
	case StateData:
		return "data"
	default:
		return "error"
	}
}

// Method tells how a key was recovered.
type Method int

const (
	MethodFirstAuth Method = iota
	MethodLastKey
	MethodDictionary
	MethodNonceSearch
)

func (m Method) String() string {
	switch m {
	case MethodLastKey:
		return "last key"
	case MethodDictionary:
		return "dictionary"
	case MethodNonceSearch:
		return "nested nonce search"
	default:
		return "first auth"
	}
}

// FoundKey is a key recovered from the trace.
type FoundKey struct {
	UID     uint32
	Sector  int
	Block   byte
	KeyType mifare.KeyType
	Key     mifare.Key
	Method  Method
	PRNG    mifare.PRNGClass
}

// Result describes one fed frame.
type Result struct {
	State State
	Plain []byte // decrypted frame, nil when the frame was not encrypted
	Note  string
	Key   *FoundKey
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithDictionary sets the keys tried against nested authentications.
func WithDictionary(keys []mifare.Key) Option {
	return func(d *Decoder) { d.dict = keys }
}

// WithoutNestedRecovery limits the decoder to keys recovered from first
// authentications. Nested authentications end in ErrHardnested.
func WithoutNestedRecovery() Option {
	return func(d *Decoder) { d.nested = false }
}

// WithImage makes the decoder fill img instead of a fresh image.
func WithImage(img *Image) Option {
	return func(d *Decoder) { d.image = img }
}

// Decoder follows a sniffed reader/card conversation frame by frame,
// recovers the session keys and decrypts what follows.
type Decoder struct {
	state  State
	auth   AuthData
	cipher crypto1.State

	lastKey  mifare.Key
	haveLast bool
	dict     []mifare.Key
	nested   bool

	image        *Image
	keys         []FoundKey
	pendingRead  int
	pendingWrite int
	writeData    int
}

// NewDecoder returns a decoder in StateIdle. The dictionary defaults to
// mifare.DefaultKeys.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		dict:         mifare.DefaultKeys,
		nested:       true,
		pendingRead:  -1,
		pendingWrite: -1,
		writeData:    -1,
	}
	for _, o := range opts {
		o(d)
	}
	if d.image == nil {
		d.image = NewImage()
	}
	d.auth = newAuthData(0)
	return d
}

// State returns the current state.
func (d *Decoder) State() State { return d.state }

// Auth returns the authentication being decoded.
func (d *Decoder) Auth() AuthData { return d.auth }

// Image returns the rebuilt card memory.
func (d *Decoder) Image() *Image { return d.image }

// Keys returns every key recovered so far, in order.
func (d *Decoder) Keys() []FoundKey { return d.keys }

// Feed decodes the next frame. A plaintext WUPA, REQA or SELECT from the
// reader ends the session in progress, whatever state the decoder is in.
func (d *Decoder) Feed(f Frame) (Result, error) {
	if d.state != StateIdle && d.state != StateError && !f.IsResponse &&
		(isWakeup(f.Data) || isSelect(f.Data)) {
		d.resetSession(d.auth.UID)
		return d.idle(f)
	}
	switch d.state {
	case StateIdle, StateError:
		return d.idle(f)
	case StateAwaitNt:
		return d.awaitNt(f)
	case StateAwaitNrAr:
		return d.awaitNrAr(f)
	case StateAwaitAt:
		return d.awaitAt(f)
	case StateFirstData:
		return d.firstData(f)
	default:
		return d.data(f)
	}
}

func (d *Decoder) desync(f Frame, what string) (Result, error) {
	d.state = StateError
	return Result{State: StateError, Note: what}, fmt.Errorf("%s after %s: %w", f, what, ErrDesync)
}

func (d *Decoder) resetSession(uid uint32) {
	d.auth = newAuthData(uid)
	d.pendingRead, d.pendingWrite, d.writeData = -1, -1, -1
	d.state = StateIdle
}

func (d *Decoder) idle(f Frame) (Result, error) {
	data := f.Data
	if f.IsResponse {
		return Result{State: d.state}, nil
	}
	switch {
	case isSelect(data):
		uid := beUint32(data[2:6])
		d.resetSession(uid)
		return Result{State: d.state, Note: fmt.Sprintf("SELECT UID %08X", uid)}, nil
	case len(data) == 4 && data[0] == 0x50 && mifare.CheckCRC(data):
		d.resetSession(d.auth.UID)
		return Result{State: d.state, Note: "HALT"}, nil
	case isWakeup(data):
		if data[0] == 0x52 {
			return Result{State: d.state, Note: "WUPA"}, nil
		}
		return Result{State: d.state, Note: "REQA"}, nil
	case d.state == StateError:
		return Result{State: d.state}, nil
	case len(data) >= 3 && !mifare.CheckCRC(data) && !isAnticollision(data):
		return d.desync(f, "CRC error in idle command")
	case len(data) >= 4 && (data[0] == byte(mifare.KeyA) || data[0] == byte(mifare.KeyB)):
		d.auth.KeyType = mifare.KeyType(data[0])
		d.auth.Block = data[1]
		d.state = StateAwaitNt
		return Result{State: d.state, Note: authNote(d.auth)}, nil
	}
	return Result{State: d.state}, nil
}

func (d *Decoder) awaitNt(f Frame) (Result, error) {
	if !f.IsResponse || len(f.Data) != 4 {
		return d.desync(f, "auth command")
	}
	w := beUint32(f.Data)
	note := "AUTH: nt"
	if d.auth.FirstAuth {
		d.auth.NT = w
		d.auth.NTEncPar = 0
	} else {
		d.auth.NTEnc = w
		d.auth.NTEncPar = parityByte(f.Parity) & 0xF0
		note = "AUTH: nt (enc)"
	}
	d.state = StateAwaitNrAr
	return Result{State: d.state, Note: note}, nil
}

func (d *Decoder) awaitNrAr(f Frame) (Result, error) {
	if f.IsResponse || len(f.Data) != 8 {
		return d.desync(f, "tag nonce")
	}
	d.auth.NREnc = beUint32(f.Data[:4])
	d.auth.AREnc = beUint32(f.Data[4:])
	d.auth.AREncPar = parityByte(f.Parity) << 4
	d.state = StateAwaitAt
	return Result{State: d.state, Note: "AUTH: nr ar (enc)"}, nil
}

func (d *Decoder) awaitAt(f Frame) (Result, error) {
	if !f.IsResponse || len(f.Data) != 4 {
		return d.desync(f, "reader answer")
	}
	d.auth.ATEnc = beUint32(f.Data)
	d.auth.ATEncPar = parityByte(f.Parity) & 0xF0
	res := Result{State: StateAuthComplete, Note: "AUTH: at (enc)"}
	if !d.auth.FirstAuth {
		// Nested candidates are checked against the next encrypted frame.
		d.state = StateFirstData
		return res, nil
	}

	a := &d.auth
	a.DeriveKeystream()
	key, st, ok := a.ProbableKey()
	if !ok {
		d.state = StateError
		return Result{State: StateError, Note: res.Note},
			fmt.Errorf("no cipher state for ks2 %08X ks3 %08X: %w", a.KS2, a.KS3, ErrDesync)
	}
	d.cipher = st
	fk := d.found(key, MethodFirstAuth)
	d.state = StateData
	res.Key = &fk
	return res, nil
}

// firstData recovers the key of the nested authentication that just
// completed, then decodes f with it.
func (d *Decoder) firstData(f Frame) (Result, error) {
	if !d.nested {
		slog.Warn("Nested authentication, nested recovery disabled", "block", d.auth.Block)
		d.state = StateError
		return Result{State: StateError}, ErrHardnested
	}
	key, method, err := d.recoverNested(f)
	if err != nil {
		d.state = StateError
		return Result{State: StateError}, err
	}
	fk := d.found(key, method)

	d.state = StateData
	res, err := d.data(f)
	res.Key = &fk
	return res, err
}

// found records a recovered key for the current authentication and makes
// it the last key.
func (d *Decoder) found(key mifare.Key, method Method) FoundKey {
	prng := mifare.PRNGHard
	if crypto1.ValidatePRNGNonce(d.auth.NT) {
		prng = mifare.PRNGWeak
	}
	fk := FoundKey{
		UID:     d.auth.UID,
		Sector:  mifare.SectorOf(int(d.auth.Block)),
		Block:   d.auth.Block,
		KeyType: d.auth.KeyType,
		Key:     key,
		Method:  method,
		PRNG:    prng,
	}
	d.keys = append(d.keys, fk)
	if d.image.SetKey(fk.Sector, fk.KeyType, key) {
		slog.Info("Key recovered", "uid", fmt.Sprintf("%08X", fk.UID), "sector", fk.Sector,
			"type", fk.KeyType.String(), "key", key.String(), "method", method.String())
	}
	d.lastKey, d.haveLast = key, true
	d.auth.FirstAuth = false
	return fk
}

func (d *Decoder) data(f Frame) (Result, error) {
	plain := decrypt(&d.cipher, f.Data)
	res := Result{State: StateData, Plain: plain}

	if f.IsResponse {
		switch {
		case len(plain) == 1:
			res.Note = ackNote(plain[0])
			if plain[0] == 0x0A && d.pendingWrite >= 0 {
				d.writeData, d.pendingWrite = d.pendingWrite, -1
			}
		case len(plain) == mifare.BlockSize+2 && d.pendingRead >= 0 && mifare.CheckCRC(plain):
			d.image.StoreRead(d.pendingRead, plain[:mifare.BlockSize])
			d.pendingRead = -1
		}
		return res, nil
	}

	if len(plain) == mifare.BlockSize+2 && d.writeData >= 0 && mifare.CheckCRC(plain) {
		d.image.StoreWrite(d.writeData, plain[:mifare.BlockSize])
		res.Note = fmt.Sprintf("WRITE DATA(%d)", d.writeData)
		d.writeData = -1
		return res, nil
	}
	if len(plain) != 4 || !mifare.CheckCRC(plain) {
		return res, nil
	}
	switch plain[0] {
	case byte(mifare.KeyA), byte(mifare.KeyB):
		d.auth.KeyType = mifare.KeyType(plain[0])
		d.auth.Block = plain[1]
		d.state = StateAwaitNt
		res.State = d.state
		res.Note = authNote(d.auth)
	case 0x30:
		d.pendingRead = int(plain[1])
		res.Note = fmt.Sprintf("READBLOCK(%d)", plain[1])
	case 0xA0:
		d.pendingWrite = int(plain[1])
		res.Note = fmt.Sprintf("WRITEBLOCK(%d)", plain[1])
	case 0x50:
		d.resetSession(d.auth.UID)
		res.State = d.state
		res.Note = "HALT"
	}
	return res, nil
}

func isSelect(data []byte) bool {
	return len(data) == 9 && (data[0] == 0x93 || data[0] == 0x95) && data[1] == 0x70 && mifare.CheckCRC(data)
}

func isWakeup(data []byte) bool {
	return len(data) == 1 && (data[0] == 0x52 || data[0] == 0x26)
}

// isAnticollision matches partial-UID frames, which carry no CRC.
func isAnticollision(data []byte) bool {
	return (data[0] == 0x93 || data[0] == 0x95 || data[0] == 0x97) && data[1] != 0x70
}

func parityByte(par []byte) byte {
	if len(par) == 0 {
		return 0
	}
	return par[0]
}

func authNote(a AuthData) string {
	return fmt.Sprintf("AUTH-%s(%d)", a.KeyType, a.Block)
}

func ackNote(b byte) string {
	switch b & 0x0F {
	case 0x0A:
		return "ACK"
	case 0x04, 0x05:
		return "NACK"
	}
	return fmt.Sprintf("%X", b&0x0F)
}
