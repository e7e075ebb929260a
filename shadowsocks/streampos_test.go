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
	"bytes"
	"testing"
)

// TestStreamPosBlockAlignment is property 3 from spec.md §8: encrypting
// m1 then m2 in two calls must equal encrypting m1‖m2 in one call, for
// arbitrary chunk boundaries relative to the 64-byte block size.
func TestStreamPosBlockAlignment(t *testing.T) {
	for _, name := range []string{"salsa20", "chacha20-ietf"} {
		for _, split := range []int{0, 1, 31, 63, 64, 65, 127, 128, 129, 200} {
			name, split := name, split
			t.Run(name, func(t *testing.T) {
				key := make([]byte, 32)
				for i := range key {
					key[i] = byte(i)
				}
				nonce := make([]byte, 8)
				if name == "chacha20-ietf" {
					nonce = make([]byte, 12)
				}
				for i := range nonce {
					nonce[i] = byte(100 + i)
				}

				msg := make([]byte, 300)
				for i := range msg {
					msg[i] = byte(i * 7)
				}
				if split > len(msg) {
					t.Skip("split beyond message length")
				}

				whole, err := newStreamPosState(name, key, nonce)
				if err != nil {
					t.Fatal(err)
				}
				wholeOut := make([]byte, len(msg))
				whole.XORKeyStream(wholeOut, msg)

				piecewise, err := newStreamPosState(name, key, nonce)
				if err != nil {
					t.Fatal(err)
				}
				piecewiseOut := make([]byte, len(msg))
				piecewise.XORKeyStream(piecewiseOut[:split], msg[:split])
				piecewise.XORKeyStream(piecewiseOut[split:], msg[split:])

				if !bytes.Equal(wholeOut, piecewiseOut) {
					t.Fatalf("split at %d: one-call and two-call outputs differ", split)
				}
			})
		}
	}
}

func TestStreamPosXORIsItsOwnInverse(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 8)
	s1, _ := newStreamPosState("salsa20", key, nonce)
	s2, _ := newStreamPosState("salsa20", key, nonce)

	msg := []byte("the quick brown fox jumps over the lazy dog")
	ct := make([]byte, len(msg))
	s1.XORKeyStream(ct, msg)

	pt := make([]byte, len(msg))
	s2.XORKeyStream(pt, ct)

	if !bytes.Equal(pt, msg) {
		t.Fatalf("decrypt(encrypt(m)) = %q, want %q", pt, msg)
	}
}
