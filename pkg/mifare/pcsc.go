package mifare

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"github.com/skythen/apdu"
)

// Transmitter sends one raw APDU. *scard.Card satisfies it.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// PCSCReader is a Device backed by a PC/SC reader that exposes MIFARE
// Classic authentication through the ACR122-style pseudo-APDUs (FF 82 load
// key, FF 86 authenticate). Such readers cannot run raw or partial
// authentications, so only key checks and field control are supported.
type PCSCReader struct {
	ctx       *scard.Context
	card      *scard.Card
	tx        Transmitter
	Reader    string
	ReaderIdx int

	pending []*Response
}

// ConnectPCSC establishes a connection to the card on a PC/SC reader.
//
// Parameters:
//   - readerIndex: Index of the reader to use (0-based)
//
// Returns:
//   - PCSCReader holding the PC/SC context and the connected card
//   - Error if no reader is found, the index is out of range or no card
//     answers; a missing card matches ErrNoCard and the scard error
func ConnectPCSC(readerIndex int) (*PCSCReader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrap(err, "EstablishContext failed")
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, errors.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, errors.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, connectError(err)
	}

	return &PCSCReader{
		ctx:       ctx,
		card:      card,
		tx:        card,
		Reader:    reader,
		ReaderIdx: readerIndex,
	}, nil
}

// connectError keeps both ErrNoCard and the scard cause in the chain.
func connectError(err error) error {
	return fmt.Errorf("connect failed: %w: %w", ErrNoCard, err)
}

// NewPCSCReader wraps an already connected transmitter.
func NewPCSCReader(tx Transmitter) *PCSCReader {
	return &PCSCReader{tx: tx}
}

// Close disconnects the card and releases the PC/SC context.
func (r *PCSCReader) Close() {
	if r == nil {
		return
	}
	if r.card != nil {
		_ = r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		_ = r.ctx.Release()
	}
}

func (r *PCSCReader) transmit(c apdu.Capdu) (apdu.Rapdu, error) {
	if r == nil || r.tx == nil {
		return apdu.Rapdu{}, errors.New("connection not established")
	}
	raw := c.Bytes()
	resp, err := r.tx.Transmit(raw)
	if err != nil {
		return apdu.Rapdu{}, errors.Wrapf(err, "transmit %s", strings.ToUpper(hex.EncodeToString(raw)))
	}
	if len(resp) < 2 {
		return apdu.Rapdu{}, errors.Errorf("short response: %d bytes", len(resp))
	}
	n := len(resp) - 2
	return apdu.Rapdu{Data: resp[:n], SW1: resp[n], SW2: resp[n+1]}, nil
}

// UID reads the card UID via GET DATA (FF CA 00 00).
func (r *PCSCReader) UID() ([]byte, error) {
	resp, err := r.transmit(apdu.Capdu{Cla: 0xFF, Ins: 0xCA, Ne: apdu.MaxLenResponseDataStandard})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() || len(resp.Data) == 0 {
		return nil, errors.Wrapf(ErrNoCard, "GET DATA SW=%02X%02X", resp.SW1, resp.SW2)
	}
	return resp.Data, nil
}

// tryKey loads k into the reader's volatile slot 0 and authenticates block.
func (r *PCSCReader) tryKey(block byte, kt KeyType, k Key) (bool, error) {
	kb := k.Bytes()
	resp, err := r.transmit(apdu.Capdu{Cla: 0xFF, Ins: 0x82, Data: kb[:]})
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		return false, errors.Errorf("load key failed with SW: %02X%02X", resp.SW1, resp.SW2)
	}

	resp, err = r.transmit(apdu.Capdu{
		Cla:  0xFF,
		Ins:  0x86,
		Data: []byte{0x01, 0x00, block, byte(kt), 0x00},
	})
	if err != nil {
		return false, err
	}
	slog.Debug("PC/SC authenticate", "block", block, "type", kt.String(), "key", k.String(), "sw", hexUpper([]byte{resp.SW1, resp.SW2}))
	return resp.IsSuccess(), nil
}

// Send executes cmd synchronously and queues its response for Wait.
func (r *PCSCReader) Send(cmd Command) error {
	switch cmd.Op {
	case OpFieldOff:
		return nil
	case OpCheckKeys:
		block, kt := UnpackTarget(cmd.Arg[0])
		keys := UnpackKeys(cmd.Data)
		resp := &Response{Op: OpCheckKeys}
		for i, k := range keys {
			ok, err := r.tryKey(block, kt, k)
			if err != nil {
				return err
			}
			if ok {
				resp.Arg[0], resp.Arg[1] = 1, int64(i)
				break
			}
		}
		r.pending = append(r.pending, resp)
		return nil
	default:
		return errors.Wrapf(ErrUnsupported, "pcsc reader: %s", cmd.Op)
	}
}

// Wait returns the queued response for op. Responses are produced inside
// Send, so there is nothing to wait for.
func (r *PCSCReader) Wait(op Op, _ time.Duration) (*Response, error) {
	for i, resp := range r.pending {
		if resp.Op == op {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return resp, nil
		}
	}
	return nil, ErrTimeout
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
