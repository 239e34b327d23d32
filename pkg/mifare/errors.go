package mifare

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout       = errors.New("device did not answer in time")
	ErrNoCard        = errors.New("no card in field")
	ErrCancelled     = errors.New("operation cancelled")
	ErrNotVulnerable = errors.New("card is not vulnerable to this attack")
	ErrInconclusive  = errors.New("attack inconclusive")
	ErrNoCandidates  = errors.New("no key candidates left")
	ErrUnsupported   = errors.New("operation not supported by device")
)

// DeviceError carries a raw status code reported by the device. It unwraps
// to one of the package sentinels so callers never have to know the codes.
type DeviceError struct {
	Op     Op
	Status int64
}

func (e *DeviceError) Error() string {
	if e == nil {
		return "device error"
	}
	return fmt.Sprintf("%s failed with status %d (%s)", e.Op, e.Status, statusDescription(e.Op, e.Status))
}

func (e *DeviceError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpDarkside:
		switch e.Status {
		case -1:
			return ErrCancelled
		case -2, -3, -4:
			return ErrNotVulnerable
		}
	case OpNested:
		switch e.Status {
		case -2:
			return ErrNoCard
		case -3:
			return ErrNotVulnerable
		}
	case OpNACKDetect:
		switch e.Status {
		case 99:
			return ErrCancelled
		case 96, 98:
			return ErrNotVulnerable
		}
	case OpReaderRaw:
		return ErrNoCard
	}
	return ErrInconclusive
}

func statusDescription(op Op, status int64) string {
	switch op {
	case OpDarkside:
		switch status {
		case -1:
			return "aborted on device"
		case -2:
			return "card never sent a NACK"
		case -3:
			return "PRNG not predictable"
		case -4:
			return "static nonce"
		}
	case OpNested:
		switch status {
		case -1:
			return "known key rejected"
		case -2:
			return "card not selected"
		case -3:
			return "PRNG not predictable"
		}
	case OpNACKDetect:
		switch status {
		case 99:
			return "aborted on device"
		case 96, 98:
			return "PRNG not predictable"
		}
	case OpReaderRaw:
		return "select failed"
	}
	return "unknown status"
}

// Outcome is the coarse result a command-line caller acts on.
type Outcome int

const (
	OutcomeKeyFound Outcome = iota
	OutcomeCardAbsent
	OutcomeInconclusive
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKeyFound:
		return "key recovered"
	case OutcomeCardAbsent:
		return "card absent or unreachable"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "attack inconclusive"
	}
}

// ExitCode is the process status a tool exits with for o.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeKeyFound:
		return 0
	case OutcomeCardAbsent:
		return 2
	case OutcomeCancelled:
		return 130
	default:
		return 1
	}
}

// OutcomeOf classifies the error returned by an attack or probe. A nil
// error means the key was found.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeKeyFound
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, ErrNoCard), errors.Is(err, ErrTimeout):
		return OutcomeCardAbsent
	default:
		return OutcomeInconclusive
	}
}

// IsCancelled checks if err reports a user or device abort.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout checks if err reports a device wait that ran out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
