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

func TestTableIsAPermutation(t *testing.T) {
	tc := newTableCipher([]byte("barfoo!"))
	var seen [256]bool
	for _, b := range tc.encTable {
		if seen[b] {
			t.Fatalf("encTable is not a permutation: %d appears twice", b)
		}
		seen[b] = true
	}
}

func TestTableDecodeInvertsEncode(t *testing.T) {
	tc := newTableCipher([]byte("barfoo!"))
	for i := 0; i < 256; i++ {
		enc := tc.encTable[i]
		if tc.decTable[enc] != byte(i) {
			t.Fatalf("decTable[encTable[%d]] = %d, want %d", i, tc.decTable[enc], i)
		}
	}
}

func TestTableRoundTrip(t *testing.T) {
	tc := newTableCipher([]byte("correct horse battery staple"))
	src := []byte("the quick brown fox jumps over the lazy dog, 0123456789")
	enc := make([]byte, len(src))
	tc.Encrypt(enc, src)
	if bytes.Equal(enc, src) {
		t.Fatal("ciphertext equals plaintext")
	}
	dec := make([]byte, len(src))
	tc.Decrypt(dec, enc)
	if !bytes.Equal(dec, src) {
		t.Fatalf("round trip mismatch: got %q, want %q", dec, src)
	}
}

func TestTableIsDeterministic(t *testing.T) {
	a := newTableCipher([]byte("same passphrase"))
	b := newTableCipher([]byte("same passphrase"))
	if a.encTable != b.encTable {
		t.Fatal("newTableCipher is not deterministic for identical passphrases")
	}
}
