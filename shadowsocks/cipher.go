// Copyright 2018 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"
	"fmt"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
)

// family identifies how a cipher's per-connection state advances.
type family int

const (
	familyTable family = iota
	familyBlockMode
	familyStreamPos
)

// cipherSpec is the static, process-lifetime descriptor for one cipher
// name. The registry below is metadata-complete for every name in the
// Shadowsocks method list, even for primitives this build does not wire
// up (see NewCipher).
type cipherSpec struct {
	name    string
	keySize int
	ivSize  int
	family  family

	// newStream builds a cipher.Stream for familyBlockMode entries. Nil
	// for familyTable and familyStreamPos, which have their own
	// construction paths (table.go, streampos.go).
	newStream func(key, iv []byte, encrypt bool) (cipher.Stream, error)
}

var registry = map[string]cipherSpec{
	"table": {name: "table", keySize: 0, ivSize: 0, family: familyTable},

	"rc4":     {name: "rc4", keySize: 16, ivSize: 0, family: familyBlockMode, newStream: newRC4Stream},
	"rc4-md5": {name: "rc4-md5", keySize: 16, ivSize: 16, family: familyBlockMode, newStream: newRC4Stream},

	"aes-128-cfb": {name: "aes-128-cfb", keySize: 16, ivSize: 16, family: familyBlockMode, newStream: newAESCFBStream},
	"aes-192-cfb": {name: "aes-192-cfb", keySize: 24, ivSize: 16, family: familyBlockMode, newStream: newAESCFBStream},
	"aes-256-cfb": {name: "aes-256-cfb", keySize: 32, ivSize: 16, family: familyBlockMode, newStream: newAESCFBStream},

	"bf-cfb": {name: "bf-cfb", keySize: 16, ivSize: 8, family: familyBlockMode, newStream: newBlowfishCFBStream},

	"camellia-128-cfb": {name: "camellia-128-cfb", keySize: 16, ivSize: 16, family: familyBlockMode},
	"camellia-192-cfb": {name: "camellia-192-cfb", keySize: 24, ivSize: 16, family: familyBlockMode},
	"camellia-256-cfb": {name: "camellia-256-cfb", keySize: 32, ivSize: 16, family: familyBlockMode},

	"cast5-cfb": {name: "cast5-cfb", keySize: 16, ivSize: 8, family: familyBlockMode, newStream: newCAST5CFBStream},

	"des-cfb": {name: "des-cfb", keySize: 8, ivSize: 8, family: familyBlockMode, newStream: newDESCFBStream},

	"idea-cfb": {name: "idea-cfb", keySize: 16, ivSize: 8, family: familyBlockMode},
	"rc2-cfb":  {name: "rc2-cfb", keySize: 16, ivSize: 8, family: familyBlockMode},
	"seed-cfb": {name: "seed-cfb", keySize: 16, ivSize: 16, family: familyBlockMode},

	"salsa20":       {name: "salsa20", keySize: 32, ivSize: 8, family: familyStreamPos},
	"chacha20":      {name: "chacha20", keySize: 32, ivSize: 8, family: familyStreamPos},
	"chacha20-ietf": {name: "chacha20-ietf", keySize: 32, ivSize: 12, family: familyStreamPos},
}

// SupportedCipherNames lists every name in the cipher registry, including
// entries with no wired primitive (NewCipher fails for those).
func SupportedCipherNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// streamPosPrimitive reports whether a stream-position cipher name has an
// available keystream implementation. Only salsa20 and chacha20-ietf are
// wired: x/crypto's chacha20 package requires a 12- or 24-byte nonce, so
// the legacy 8-byte-nonce "chacha20" variant has no ecosystem primitive to
// consume (see DESIGN.md).
func streamPosPrimitive(name string) bool {
	return name == "salsa20" || name == "chacha20-ietf"
}

// Cipher is the immutable, process-lifetime profile constructed at
// startup from a cipher name and a passphrase: the spec's CipherProfile.
// It is safe for concurrent use by many connections; nothing about it is
// mutated after construction.
type Cipher struct {
	spec  cipherSpec
	key   []byte
	table *tableCipher // only for familyTable

	// Only used by rc4-md5: the wire IV length the registry advertises,
	// even though the primitive itself is rekeyed with an empty IV.
	reportedIVSize int
}

// NewCipher constructs a Cipher for the named method and passphrase.
// Unknown names fall back to "table" with ok=false so the caller can log
// a warning, per spec: "Unknown name -> silently fall back to table".
func NewCipher(name, passphrase string) (c *Cipher, ok bool, err error) {
	spec, known := registry[name]
	if !known {
		spec = registry["table"]
		return &Cipher{spec: spec, table: newTableCipher([]byte(passphrase))}, false, nil
	}

	if spec.family == familyTable {
		return &Cipher{spec: spec, table: newTableCipher([]byte(passphrase))}, true, nil
	}

	if spec.family == familyBlockMode && spec.newStream == nil {
		return nil, true, fmt.Errorf("shadowsocks: cipher %q: %w", name, ErrPrimitiveUnavailable)
	}
	if spec.family == familyStreamPos && !streamPosPrimitive(name) {
		return nil, true, fmt.Errorf("shadowsocks: cipher %q: %w", name, ErrPrimitiveUnavailable)
	}

	key := bytesToKey([]byte(passphrase), spec.keySize)
	reportedIV := spec.ivSize
	if name == "rc4-md5" {
		reportedIV = 16
	}
	return &Cipher{spec: spec, key: key, reportedIVSize: reportedIV}, true, nil
}

// Name returns the cipher's registered name.
func (c *Cipher) Name() string { return c.spec.name }

// IVSize returns the wire IV length for this cipher (0 for "table").
func (c *Cipher) IVSize() int {
	if c.spec.name == "rc4-md5" {
		return c.reportedIVSize
	}
	return c.spec.ivSize
}

// IsTable reports whether this is the legacy substitution-table method.
func (c *Cipher) IsTable() bool { return c.spec.family == familyTable }

// MasterKey returns the passphrase-derived key, used by header one-time
// auth (spec.md §4.D: "key = iv ‖ master_key"). It is nil for the table
// cipher, which has no per-connection key at all.
func (c *Cipher) MasterKey() []byte { return c.key }

func newAESCFBStream(key, iv []byte, encrypt bool) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCFBEncrypter(block, iv), nil
	}
	return cipher.NewCFBDecrypter(block, iv), nil
}

func newDESCFBStream(key, iv []byte, encrypt bool) (cipher.Stream, error) {
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCFBEncrypter(block, iv), nil
	}
	return cipher.NewCFBDecrypter(block, iv), nil
}

func newBlowfishCFBStream(key, iv []byte, encrypt bool) (cipher.Stream, error) {
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCFBEncrypter(block, iv), nil
	}
	return cipher.NewCFBDecrypter(block, iv), nil
}

func newCAST5CFBStream(key, iv []byte, encrypt bool) (cipher.Stream, error) {
	block, err := cast5.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCFBEncrypter(block, iv), nil
	}
	return cipher.NewCFBDecrypter(block, iv), nil
}

// rc4Stream is a thin cipher.Stream adapter over crypto/rc4, which only
// exposes XORKeyStream. Encrypt and decrypt are the same operation for a
// stream cipher, so the encrypt argument is unused; it is kept for
// interface symmetry with the CFB constructors above.
type rc4Stream struct {
	c *rc4.Cipher
}

func (s *rc4Stream) XORKeyStream(dst, src []byte) { s.c.XORKeyStream(dst, src) }

func newRC4Stream(key, iv []byte, encrypt bool) (cipher.Stream, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &rc4Stream{c: c}, nil
}
