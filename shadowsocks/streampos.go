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
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
)

// blockSize is the keystream block size shared by salsa20 and chacha20:
// both primitives are specified in terms of 64-byte blocks, and the
// "counter mod 64" padding trick in streamPosState relies on that.
const blockSize = 64

// streamPosState implements the stream-position cipher family: salsa20
// and chacha20-ietf, whose output at byte position i depends only on
// (key, nonce, i). This lets XORKeyStream be called with arbitrarily
// sized chunks while producing output identical to one call over the
// concatenation, by zero-padding to the current block boundary and
// discarding the pad — exactly the scheme in spec.md §4.C.
type streamPosState struct {
	name    string
	key     [32]byte
	nonce   []byte
	counter uint64 // bytes of keystream consumed so far
}

func newStreamPosState(name string, key, nonce []byte) (*streamPosState, error) {
	s := &streamPosState{name: name, nonce: append([]byte(nil), nonce...)}
	copy(s.key[:], key)
	return s, nil
}

// XORKeyStream encrypts or decrypts src into dst, preserving keystream
// alignment across calls regardless of how the caller chunks the stream.
func (s *streamPosState) XORKeyStream(dst, src []byte) {
	padding := int(s.counter % blockSize)
	blockIndex := s.counter / blockSize

	in := make([]byte, padding+len(src))
	copy(in[padding:], src)
	out := make([]byte, len(in))

	switch s.name {
	case "salsa20":
		var ctr [16]byte
		copy(ctr[:8], s.nonce)
		putUint64LE(ctr[8:16], blockIndex)
		salsa.XORKeyStream(out, in, &ctr, &s.key)
	case "chacha20-ietf":
		ciph, err := chacha20.NewUnauthenticatedCipher(s.key[:], s.nonce)
		if err != nil {
			panic(fmt.Sprintf("shadowsocks: chacha20-ietf init: %v", err))
		}
		ciph.SetCounter(uint32(blockIndex))
		ciph.XORKeyStream(out, in)
	default:
		panic("shadowsocks: unreachable stream-position cipher " + s.name)
	}

	copy(dst, out[padding:])
	s.counter += uint64(len(src))
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
