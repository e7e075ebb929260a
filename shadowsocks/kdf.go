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

import "crypto/md5"

// bytesToKey implements OpenSSL's EVP_BytesToKey(EVP_md5(), NULL, pass, NULL, 1),
// the key derivation function shadowsocks-libev has always used to turn a
// passphrase into a cipher key. It must remain byte-exact with OpenSSL for
// interoperability with any other Shadowsocks implementation.
func bytesToKey(passphrase []byte, keyLen int) []byte {
	var (
		derived []byte
		prev    []byte
	)
	h := md5.New()
	for len(derived) < keyLen {
		h.Reset()
		h.Write(prev)
		h.Write(passphrase)
		derived = h.Sum(derived)
		prev = derived[len(derived)-h.Size():]
	}
	return derived[:keyLen]
}
