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
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// tableCipher implements the legacy "table" method: a byte-wise
// substitution permutation derived from the passphrase, with no IV and
// no per-connection state.
type tableCipher struct {
	encTable [256]byte
	decTable [256]byte
}

// newTableCipher derives the encryption and decryption permutation tables
// from the passphrase, following the algorithm shadowsocks-libev has used
// since its "table" method was introduced.
func newTableCipher(passphrase []byte) *tableCipher {
	sum := md5.Sum(passphrase)
	key := binary.LittleEndian.Uint64(sum[:8])

	var table [256]byte
	for i := range table {
		table[i] = byte(i)
	}

	for salt := uint64(1); salt <= 1023; salt++ {
		sort.SliceStable(table[:], func(x, y int) bool {
			a := key % (uint64(table[x]) + salt)
			b := key % (uint64(table[y]) + salt)
			return a < b
		})
	}

	tc := &tableCipher{encTable: table}
	for i, v := range tc.encTable {
		tc.decTable[v] = byte(i)
	}
	return tc
}

// Encrypt performs an in-place byte-wise table substitution.
func (t *tableCipher) Encrypt(dst, src []byte) {
	for i, b := range src {
		dst[i] = t.encTable[b]
	}
}

// Decrypt performs an in-place byte-wise inverse table substitution.
func (t *tableCipher) Decrypt(dst, src []byte) {
	for i, b := range src {
		dst[i] = t.decTable[b]
	}
}
