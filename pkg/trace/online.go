package trace

import (
	"fmt"
	"log/slog"

	"github.com/barnettlynn/nfctools/mfcrack/pkg/crypto1"
	"github.com/barnettlynn/nfctools/mfcrack/pkg/mifare"
)

const (
	// nestedMinDistance is how far the tag PRNG is known to advance between
	// two authentications of one session.
	nestedMinDistance = 90
	// nestedSearchSpan is how many successors of the previous nonce are
	// tried after that.
	nestedSearchSpan = 16383
)

// recoverNested finds the key of a nested authentication: first the key of
// the previous authentication, then the dictionary, then a search over the
// nonces a weak PRNG can have produced since the previous authentication.
func (d *Decoder) recoverNested(f Frame) (mifare.Key, Method, error) {
	a := &d.auth
	if d.haveLast {
		if st, ok := a.nestedCheckKey(d.lastKey, f); ok {
			d.cipher = st
			return d.lastKey, MethodLastKey, nil
		}
	}
	for _, k := range d.dict {
		if st, ok := a.nestedCheckKey(k, f); ok {
			d.cipher = st
			return k, MethodDictionary, nil
		}
	}

	if !crypto1.ValidatePRNGNonce(a.NT) {
		slog.Warn("Previous nonce is not from the weak PRNG, cannot search", "nt", fmt.Sprintf("%08X", a.NT))
		return mifare.NoKey, 0, ErrHardnested
	}
	key, st, nt, ok := a.searchNonce(f)
	if !ok {
		slog.Warn("Nested nonce search failed", "block", a.Block, "type", a.KeyType.String())
		return mifare.NoKey, 0, ErrHardnested
	}
	slog.Debug("Nested nonce found", "nt", fmt.Sprintf("%08X", nt),
		"distance", crypto1.NonceDistance(a.NT, nt))
	a.NT = nt
	a.DeriveKeystream()
	d.cipher = st
	return key, MethodNonceSearch, nil
}

// searchNonce walks the PRNG from the previous plaintext nonce and keeps the
// first candidate whose parity matches and whose cipher decrypts f.
func (a *AuthData) searchNonce(f Frame) (mifare.Key, crypto1.State, uint32, bool) {
	ntx := crypto1.PRNGSuccessor(a.NT, nestedMinDistance)
	for i := 0; i < nestedSearchSpan; i++ {
		ntx = crypto1.PRNGSuccessor(ntx, 1)
		if !a.NTParityCheck(ntx) {
			continue
		}
		trial := *a
		trial.NT = ntx
		trial.DeriveKeystream()
		key, st, ok := trial.ProbableKey()
		if !ok || !frameDecrypts(st, f) {
			continue
		}
		return key, st, ntx, true
	}
	return mifare.NoKey, crypto1.State{}, 0, false
}
