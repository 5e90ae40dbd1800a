// Package holohash implements the 39 byte identity hashes the conductor uses to
// address cells: a 3 byte type prefix, a 32 byte core and a 4 byte DHT location.
package holohash

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	PrefixSize   = 3
	CoreSize     = 32
	LocationSize = 4
	Size         = PrefixSize + CoreSize + LocationSize
)

var ErrInvalidHash = errors.New("invalid holo hash")

type Kind uint8

const (
	KindDna Kind = iota + 1
	KindAgent
	KindEntry
	KindHeader
)

var prefixes = map[Kind][PrefixSize]byte{
	KindDna:    {0x84, 0x2d, 0x24},
	KindAgent:  {0x84, 0x20, 0x24},
	KindEntry:  {0x84, 0x21, 0x24},
	KindHeader: {0x84, 0x29, 0x24},
}

func (k Kind) String() string {
	switch k {
	case KindDna:
		return "dna"
	case KindAgent:
		return "agent"
	case KindEntry:
		return "entry"
	case KindHeader:
		return "header"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Location folds the blake2b-128 digest of core into 4 bytes.
func Location(core []byte) [LocationSize]byte {
	var out [LocationSize]byte
	h, err := blake2b.New(16, nil)
	if err != nil {
		// only reachable with an invalid size or key
		panic(err)
	}
	_, _ = h.Write(core)
	sum := h.Sum(nil)
	for i, b := range sum {
		out[i%LocationSize] ^= b
	}
	return out
}

func build(kind Kind, core []byte) ([]byte, error) {
	if len(core) != CoreSize {
		return nil, fmt.Errorf("%w: %s core must be %d bytes, got %d", ErrInvalidHash, kind, CoreSize, len(core))
	}
	prefix := prefixes[kind]
	loc := Location(core)
	out := make([]byte, 0, Size)
	out = append(out, prefix[:]...)
	out = append(out, core...)
	out = append(out, loc[:]...)
	return out, nil
}

func check(kind Kind, raw []byte) error {
	if len(raw) != Size {
		return fmt.Errorf("%w: %s hash must be %d bytes, got %d", ErrInvalidHash, kind, Size, len(raw))
	}
	prefix := prefixes[kind]
	if !bytes.Equal(raw[:PrefixSize], prefix[:]) {
		return fmt.Errorf("%w: unexpected %s prefix %x", ErrInvalidHash, kind, raw[:PrefixSize])
	}
	loc := Location(raw[PrefixSize : PrefixSize+CoreSize])
	if !bytes.Equal(raw[PrefixSize+CoreSize:], loc[:]) {
		return fmt.Errorf("%w: %s location bytes do not match core", ErrInvalidHash, kind)
	}
	return nil
}

func encode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return "u" + base64.RawURLEncoding.EncodeToString(raw)
}

func decode(kind Kind, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "u") {
		return nil, fmt.Errorf("%w: %s string must start with 'u'", ErrInvalidHash, kind)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if err := check(kind, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// fingerprint is a short, log friendly form of the core bytes.
func fingerprint(raw []byte) string {
	if len(raw) != Size {
		return ""
	}
	return base58.Encode(raw[PrefixSize : PrefixSize+8])
}
