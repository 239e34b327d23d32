package mifare

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
)

// PRNGClass is the verdict on a card's nonce generator.
type PRNGClass int

const (
	PRNGError PRNGClass = iota
	PRNGWeak
	PRNGHard
)

func (c PRNGClass) String() string {
	switch c {
	case PRNGWeak:
		return "weak"
	case PRNGHard:
		return "hard"
	default:
		return "error"
	}
}

// NACKClass is the verdict on a card's NACK oracle.
type NACKClass int

const (
	NACKError NACKClass = iota
	NACKAborted
	NACKLeaksAlways
	NACKHasBug
	NACKNoBug
)

func (c NACKClass) String() string {
	switch c {
	case NACKAborted:
		return "aborted"
	case NACKLeaksAlways:
		return "always leaks NACK"
	case NACKHasBug:
		return "NACK bug"
	case NACKNoBug:
		return "no NACK bug"
	default:
		return "error"
	}
}

// Backdoor is the magic card generation reported by OpCIdent.
type Backdoor int

const (
	BackdoorNone  Backdoor = 0
	BackdoorGen1a Backdoor = 1
	BackdoorGen1b Backdoor = 2
	BackdoorGen2  Backdoor = 4
)

func (b Backdoor) String() string {
	switch b {
	case BackdoorGen1a:
		return "gen 1a"
	case BackdoorGen1b:
		return "gen 1b"
	case BackdoorGen2:
		return "gen 2 / CUID"
	default:
		return "none"
	}
}

// Probe timeouts.
const (
	selectTimeout  = 2 * time.Second
	nonceTimeout   = 2500 * time.Millisecond
	nackPoll       = time.Second
	cidentTimeout  = 1500 * time.Millisecond
	authNonceBytes = 4
)

// ClassifyPRNG starts an authentication to block 0, reads the tag nonce and
// checks whether it came from the weak 16-bit generator. Failures are
// reported as PRNGError together with the cause.
func ClassifyPRNG(ctx context.Context, dev Device) (PRNGClass, error) {
	if err := ctx.Err(); err != nil {
		return PRNGError, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	defer fieldOff(dev)

	cmd := Command{
		Op:   OpReaderRaw,
		Arg:  [3]uint64{RawConnect | RawAppendCRC, 2},
		Data: []byte{byte(KeyA), 0x00},
	}
	if err := send(dev, cmd); err != nil {
		return PRNGError, err
	}

	resp, err := dev.Wait(OpReaderRaw, selectTimeout)
	if err != nil {
		return PRNGError, fmt.Errorf("prng select: %w", err)
	}
	if resp.Arg[0] == 0 {
		return PRNGError, &DeviceError{Op: OpReaderRaw, Status: 0}
	}

	resp, err = dev.Wait(OpReaderRaw, nonceTimeout)
	if err != nil {
		return PRNGError, fmt.Errorf("prng nonce: %w", err)
	}
	if resp.Arg[0] != authNonceBytes || len(resp.Data) < authNonceBytes {
		return PRNGError, fmt.Errorf("prng nonce: wrong length %d", resp.Arg[0])
	}

	nt := binary.BigEndian.Uint32(resp.Data)
	slog.Debug("PRNG nonce", "nt", fmt.Sprintf("%08X", nt))
	if crypto1.ValidatePRNGNonce(nt) {
		return PRNGWeak, nil
	}
	return PRNGHard, nil
}

// ClassifyNACK asks the device to run bad authentications and counts the
// NACKs the card leaks. It polls until the device answers or ctx is done.
func ClassifyNACK(ctx context.Context, dev Device, verbose bool) (NACKClass, error) {
	if err := send(dev, Command{Op: OpNACKDetect}); err != nil {
		return NACKError, err
	}
	slog.Info("Checking for NACK bug")

	var resp *Response
	for {
		if err := ctx.Err(); err != nil {
			fieldOff(dev)
			return NACKAborted, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		r, err := dev.Wait(OpNACKDetect, nackPoll)
		if err == nil {
			resp = r
			break
		}
		if !IsTimeout(err) {
			return NACKError, err
		}
	}

	verdict, nacks, auths := resp.Arg[0], resp.Arg[1], resp.Arg[2]
	if verbose {
		slog.Info("NACK detection", "auths", auths, "nacks", nacks)
	}

	switch verdict {
	case 99:
		return NACKAborted, &DeviceError{Op: OpNACKDetect, Status: verdict}
	case 96, 98:
		return NACKError, &DeviceError{Op: OpNACKDetect, Status: verdict}
	case 97:
		slog.Warn("PRNG looks like the 16-bit generator but behaves unexpectedly, try again")
		return NACKNoBug, nil
	case 2:
		return NACKLeaksAlways, nil
	case 1:
		return NACKHasBug, nil
	case 0:
		return NACKNoBug, nil
	default:
		return NACKError, &DeviceError{Op: OpNACKDetect, Status: verdict}
	}
}

// ClassifyBackdoor asks which magic generation the card answers to. No
// answer means no backdoor.
func ClassifyBackdoor(ctx context.Context, dev Device) (Backdoor, error) {
	if err := ctx.Err(); err != nil {
		return BackdoorNone, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if err := send(dev, Command{Op: OpCIdent}); err != nil {
		return BackdoorNone, err
	}
	resp, err := dev.Wait(OpCIdent, cidentTimeout)
	if err != nil {
		if IsTimeout(err) {
			return BackdoorNone, nil
		}
		return BackdoorNone, err
	}
	switch Backdoor(resp.Arg[0]) {
	case BackdoorGen1a, BackdoorGen1b, BackdoorGen2:
		return Backdoor(resp.Arg[0]), nil
	default:
		return BackdoorNone, nil
	}
}
