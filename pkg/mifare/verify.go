package mifare

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxKeys is how many keys fit in a MaxPayload command.
const DefaultMaxKeys = MaxPayload / KeySize

const (
	defaultCheckTimeout = 3 * time.Second
	fastPoll            = 2 * time.Second
	fastMaxPolls        = 180
	fastTableSize       = 490
	fastBitmapOffset    = 480
)

// Verifier asks the device to authenticate with candidate keys.
type Verifier struct {
	Dev     Device
	MaxKeys int           // keys per command, DefaultMaxKeys when zero
	Timeout time.Duration // per chunk for CheckKeys, defaultCheckTimeout when zero

	// Progress, when set, is called after each chunk with the number of
	// keys tried so far and the total.
	Progress func(done, total int)
}

// maxKeys is MaxKeys bounded by the device command buffer.
func (v *Verifier) maxKeys() int {
	capacity := payloadLimit(v.Dev) / KeySize
	if v.MaxKeys <= 0 || v.MaxKeys > capacity {
		return capacity
	}
	return v.MaxKeys
}

func (v *Verifier) timeout() time.Duration {
	if v.Timeout <= 0 {
		return defaultCheckTimeout
	}
	return v.Timeout
}

func (v *Verifier) progress(done, total int) {
	if v.Progress != nil {
		v.Progress(done, total)
	}
}

// CheckKeys tries candidates against one block in chunks of MaxKeys and
// returns the first key that authenticates.
func (v *Verifier) CheckKeys(ctx context.Context, block byte, kt KeyType, candidates []Key) (Key, bool, error) {
	n := v.maxKeys()
	for start := 0; start < len(candidates); start += n {
		if err := ctx.Err(); err != nil {
			return NoKey, false, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		end := min(start+n, len(candidates))
		chunk := candidates[start:end]

		idx, hit, err := v.checkChunk(block, kt, chunk)
		if err != nil {
			return NoKey, false, err
		}
		v.progress(end, len(candidates))
		if hit {
			slog.Debug("Key verified", "block", block, "type", kt.String(), "key", chunk[idx].String())
			return chunk[idx], true, nil
		}
	}
	return NoKey, false, nil
}

// checkChunk sends one chunk and retries once on timeout.
func (v *Verifier) checkChunk(block byte, kt KeyType, chunk []Key) (int, bool, error) {
	cmd := Command{
		Op:   OpCheckKeys,
		Arg:  [3]uint64{PackTarget(block, kt), uint64(len(chunk))},
		Data: PackKeys(chunk),
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if err := send(v.Dev, cmd); err != nil {
			return 0, false, err
		}
		resp, err := v.Dev.Wait(OpCheckKeys, v.timeout())
		if err != nil {
			if !IsTimeout(err) {
				return 0, false, err
			}
			slog.Warn("Check keys timed out", "block", block, "attempt", attempt)
			continue
		}
		if resp.Arg[0] != 1 {
			return 0, false, nil
		}
		idx := int(resp.Arg[1])
		if idx < 0 || idx >= len(chunk) {
			return 0, false, fmt.Errorf("check keys: device reported index %d for %d keys", idx, len(chunk))
		}
		return idx, true, nil
	}
	return 0, false, fmt.Errorf("check keys block %d: %w", block, ErrTimeout)
}

// FastResult is the outcome of one CheckKeysFast chunk.
type FastResult int

const (
	FastPartial FastResult = iota
	FastAllFound
	FastTimeout
)

func (r FastResult) String() string {
	switch r {
	case FastAllFound:
		return "all found"
	case FastTimeout:
		return "timeout"
	default:
		return "partial"
	}
}

// FastOptions are the per-chunk flags of CheckKeysFast.
type FastOptions struct {
	First           bool // device resets its table
	Last            bool // results are merged even if incomplete
	UseBackingStore bool // device may use keys from its flash
	Strategy        byte
}

// CheckKeysFast tries one chunk of candidates against both keys of every
// sector. The device table is merged into not-yet-found slots of table when
// every key is found or when the chunk is the last one.
//
// FastTimeout means the device stopped answering; the caller must abort the
// whole sweep.
func (v *Verifier) CheckKeysFast(ctx context.Context, sectors int, candidates []Key, table SectorKeys, opts FastOptions) (FastResult, error) {
	if sectors <= 0 || sectors > Sectors4K {
		return FastPartial, fmt.Errorf("check keys fast: sector count %d out of range", sectors)
	}
	if len(candidates) > v.maxKeys() {
		return FastPartial, fmt.Errorf("check keys fast: %d keys exceed chunk size %d", len(candidates), v.maxKeys())
	}

	arg0 := uint64(sectors)
	if opts.First {
		arg0 |= 1 << 8
	}
	if opts.Last {
		arg0 |= 1 << 12
	}
	arg1 := uint64(opts.Strategy)
	if opts.UseBackingStore {
		arg1 |= 1 << 8
	}
	cmd := Command{
		Op:   OpCheckKeysFast,
		Arg:  [3]uint64{arg0, arg1, uint64(len(candidates))},
		Data: PackKeys(candidates),
	}
	if err := send(v.Dev, cmd); err != nil {
		return FastPartial, err
	}

	var resp *Response
	for polls := 0; ; {
		if err := ctx.Err(); err != nil {
			fieldOff(v.Dev)
			return FastPartial, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		r, err := v.Dev.Wait(OpCheckKeysFast, fastPoll)
		if err == nil {
			resp = r
			break
		}
		if !IsTimeout(err) {
			return FastPartial, err
		}
		polls++
		if polls > fastMaxPolls {
			slog.Warn("No response from device, aborting")
			return FastTimeout, nil
		}
	}
	if len(resp.Data) < fastTableSize {
		return FastPartial, fmt.Errorf("check keys fast: short table %d bytes", len(resp.Data))
	}

	found := int(resp.Arg[0])
	if found == 2*sectors || opts.Last {
		mergeFastTable(resp.Data, sectors, table)
	}
	if found == 2*sectors {
		return FastAllFound, nil
	}
	return FastPartial, nil
}

func mergeFastTable(data []byte, sectors int, table SectorKeys) {
	bitmap := data[fastBitmapOffset:fastTableSize]
	for s := 0; s < sectors && s < len(table); s++ {
		for t, kt := range []KeyType{KeyA, KeyB} {
			slot := 2*s + t
			if bitmap[slot/8]>>(slot%8)&1 == 0 {
				continue
			}
			k := KeyFromBytes(data[12*s+6*t:])
			if table.Set(s, kt, k) {
				slog.Debug("Sector key found", "sector", s, "type", kt.String(), "key", k.String())
			}
		}
	}
}

// SweepDictionary runs dict through CheckKeysFast chunk by chunk until every
// key is found or the dictionary is exhausted. A cancelled sweep leaves table
// partially filled and reports ErrCancelled.
func (v *Verifier) SweepDictionary(ctx context.Context, sectors int, dict []Key, table SectorKeys, useBackingStore bool) error {
	n := v.maxKeys()
	for start := 0; start < len(dict); start += n {
		end := min(start+n, len(dict))
		res, err := v.CheckKeysFast(ctx, sectors, dict[start:end], table, FastOptions{
			First:           start == 0,
			Last:            end == len(dict),
			UseBackingStore: useBackingStore,
		})
		if err != nil {
			return fmt.Errorf("sweep stopped with %d/%d keys: %w", table.FoundCount(), 2*sectors, err)
		}
		v.progress(end, len(dict))
		switch res {
		case FastAllFound:
			return nil
		case FastTimeout:
			return fmt.Errorf("sweep aborted after %d polls: %w", fastMaxPolls, ErrTimeout)
		}
	}
	return nil
}

// BruteForceRange tries every two-byte prefix in front of a known four-byte
// tail and stops at the first batch with a hit.
func (v *Verifier) BruteForceRange(ctx context.Context, block byte, kt KeyType, tail [4]byte) (Key, bool, error) {
	const total = 1 << 16
	base := Key(binary.BigEndian.Uint32(tail[:]))
	n := v.maxKeys()
	batch := make([]Key, 0, n)

	for p := 0; p < total; p += n {
		if err := ctx.Err(); err != nil {
			return NoKey, false, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		batch = batch[:0]
		for q := p; q < total && q < p+n; q++ {
			batch = append(batch, Key(q)<<32|base)
		}
		idx, hit, err := v.checkChunk(block, kt, batch)
		if err != nil {
			return NoKey, false, err
		}
		v.progress(p+len(batch), total)
		if hit {
			return batch[idx], true, nil
		}
	}
	return NoKey, false, nil
}
