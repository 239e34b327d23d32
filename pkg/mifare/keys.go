package mifare

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeySize is the length of a MIFARE Classic sector key in bytes.
const KeySize = 6

// Key is a 48-bit sector key held in the low bits of a uint64.
type Key uint64

// NoKey marks an unset key slot; no 48-bit key can take this value.
const NoKey Key = 1<<64 - 1

// KeyFromBytes reads a key from the first six bytes of b, most significant
// byte first.
func KeyFromBytes(b []byte) Key {
	var k Key
	for i := 0; i < KeySize; i++ {
		k = k<<8 | Key(b[i])
	}
	return k
}

// Bytes returns the key most significant byte first.
func (k Key) Bytes() [KeySize]byte {
	var b [KeySize]byte
	for i := KeySize - 1; i >= 0; i-- {
		b[i] = byte(k)
		k >>= 8
	}
	return b
}

func (k Key) String() string {
	b := k.Bytes()
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// ParseKey parses twelve hex characters.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return 0, fmt.Errorf("key must be %d hex chars, got %d", 2*KeySize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid hex key: %v", err)
	}
	return KeyFromBytes(b), nil
}

// DefaultKeys is the built-in dictionary tried before any attack.
var DefaultKeys = []Key{
	0xFFFFFFFFFFFF, // transport key
	0x000000000000,
	0xA0A1A2A3A4A5, // MAD key A
	0xB0B1B2B3B4B5,
	0xAABBCCDDEEFF,
	0x4D3A99C351DD,
	0x1A982C7E459A,
	0xD3F7D3F7D3F7, // NDEF key A
	0x714C5C886E97,
	0x587EE5F9350F,
	0xA0478CC39091,
	0x533CB6C723F6,
	0x8FD0A4F256E9,
}

// LoadDictionary reads keys from a text file, one key per line. Blank lines
// and lines starting with '#' are skipped; anything after the first twelve
// hex characters on a line is ignored.
func LoadDictionary(path string) ([]Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []Key
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) > 2*KeySize {
			line = line[:2*KeySize]
		}
		k, err := ParseKey(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("dictionary is empty")
	}
	return keys, nil
}

// MergeKeys concatenates key lists, dropping repeats and keeping the first
// occurrence order.
func MergeKeys(lists ...[]Key) []Key {
	seen := make(map[Key]bool)
	var out []Key
	for _, l := range lists {
		for _, k := range l {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
