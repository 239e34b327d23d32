package mifare

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
)

const (
	nestedTimeout = 2 * time.Second
	nestedRetries = 3
)

// NestedTarget names the known key and the key to recover.
type NestedTarget struct {
	Block   byte
	KeyType KeyType
	Key     Key

	TargetBlock   byte
	TargetKeyType KeyType
}

// Nested recovers an unknown key from encrypted nonces obtained while
// authenticated with a known key.
type Nested struct {
	Verifier *Verifier
}

// Run asks the device for nested captures, narrows them to candidates and
// verifies the candidates against the target. An empty candidate set is
// reported as ErrNoCandidates and not retried.
func (n *Nested) Run(ctx context.Context, t NestedTarget) (Key, error) {
	dev := n.Verifier.Dev
	defer fieldOff(dev)

	uid, caps, err := n.dispatch(ctx, t)
	if err != nil {
		return NoKey, err
	}

	keys, err := NestedCandidates(ctx, uid, caps)
	if err != nil {
		return NoKey, err
	}
	if len(keys) == 0 {
		return NoKey, fmt.Errorf("nested: empty intersection: %w", ErrNoCandidates)
	}
	slog.Info("Nested candidates", "count", len(keys), "target", t.TargetBlock, "type", t.TargetKeyType.String())

	key, ok, err := n.Verifier.CheckKeys(ctx, t.TargetBlock, t.TargetKeyType, keys)
	if err != nil {
		return NoKey, err
	}
	if !ok {
		return NoKey, fmt.Errorf("nested: all %d candidates failed: %w", len(keys), ErrNoCandidates)
	}
	return key, nil
}

func (n *Nested) dispatch(ctx context.Context, t NestedTarget) (uint32, []NestedCapture, error) {
	kb := t.Key.Bytes()
	cmd := Command{
		Op:   OpNested,
		Arg:  [3]uint64{PackTarget(t.Block, t.KeyType), PackTarget(t.TargetBlock, t.TargetKeyType)},
		Data: kb[:],
	}
	for attempt := 1; attempt <= nestedRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := send(n.Verifier.Dev, cmd); err != nil {
			return 0, nil, err
		}
		resp, err := n.Verifier.Dev.Wait(OpNested, nestedTimeout)
		if err != nil {
			if IsTimeout(err) {
				slog.Warn("Nested timed out", "attempt", attempt)
				continue
			}
			return 0, nil, err
		}
		if resp.Arg[0] != 0 {
			return 0, nil, &DeviceError{Op: OpNested, Status: resp.Arg[0]}
		}
		return ParseNested(resp.Data, int(resp.Arg[1]))
	}
	return 0, nil, fmt.Errorf("nested: %w", ErrTimeout)
}

// slice16 extracts the sixteen key bits that survive clocking uid^nt, so
// lists recovered from different nonces can be matched on them.
func slice16(s crypto1.State) uint64 {
	return stateValue(s) & 0x00ff000000ff0000
}

func stateValue(s crypto1.State) uint64 {
	return uint64(s.Even)<<32 | uint64(s.Odd)
}

func compareStates(a, b crypto1.State) int {
	if c := cmp.Compare(slice16(a), slice16(b)); c != 0 {
		return c
	}
	return cmp.Compare(stateValue(a), stateValue(b))
}

type nestedList struct {
	idx    int
	states []crypto1.State
}

// NestedCandidates expands every capture in its own goroutine, then merges
// the lists on their shared key bits and intersects the resulting keys.
// At least two captures are required; more are folded in pairwise against
// the first.
func NestedCandidates(ctx context.Context, uid uint32, caps []NestedCapture) ([]Key, error) {
	if len(caps) < 2 {
		return nil, errors.New("nested: need at least two captures")
	}

	results := make(chan nestedList, len(caps))
	for i, c := range caps {
		go func(i int, c NestedCapture) {
			states := crypto1.Recovery32(c.KS1, uid^c.NT)
			slices.SortFunc(states, compareStates)
			results <- nestedList{idx: i, states: states}
		}(i, c)
	}
	lists := make([][]crypto1.State, len(caps))
	for range caps {
		r := <-results
		lists[r.idx] = r.states
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	var keys []Key
	for i := 1; i < len(lists); i++ {
		k0, ki := mergeOnSlice(lists[0], uid^caps[0].NT, lists[i], uid^caps[i].NT)
		inter := IntersectKeys(k0, ki)
		if i == 1 {
			keys = inter
		} else {
			keys = IntersectKeys(keys, inter)
		}
		slog.Debug("Nested merge", "pair", i, "left", len(k0), "right", len(ki), "common", len(keys))
	}
	return keys, nil
}

// mergeOnSlice walks two slice-sorted lists. Where the slices match, every
// entry of the run on each side is rolled back to its key; otherwise the
// cursor with the smaller slice advances. Both key lists come back sorted and
// without duplicates.
func mergeOnSlice(a []crypto1.State, inA uint32, b []crypto1.State, inB uint32) ([]Key, []Key) {
	var ka, kb []Key
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		sa, sb := slice16(a[i]), slice16(b[j])
		switch {
		case sa == sb:
			for ; i < len(a) && slice16(a[i]) == sa; i++ {
				ka = append(ka, rollbackKey(a[i], inA))
			}
			for ; j < len(b) && slice16(b[j]) == sb; j++ {
				kb = append(kb, rollbackKey(b[j], inB))
			}
		case sa < sb:
			i++
		default:
			j++
		}
	}
	return SortKeys(ka), SortKeys(kb)
}

func rollbackKey(s crypto1.State, in uint32) Key {
	s.RollbackWord(in, false)
	return Key(s.LFSR())
}
