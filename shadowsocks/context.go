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

// streamState is the per-connection, per-direction encryption context
// described in spec.md §3 ("Encryption context"): everything that is
// true for exactly one direction of one connection, built once the IV
// has been established and then advanced incrementally thereafter.
type streamState interface {
	XORKeyStream(dst, src []byte)
}

// newStreamState builds the per-direction cipher context for c, now that
// iv has been generated (encrypt side) or parsed off the wire (decrypt
// side). It must not be called for familyTable ciphers, which have no
// per-connection state at all.
func newStreamState(c *Cipher, iv []byte, encrypt bool) (streamState, error) {
	switch c.spec.family {
	case familyBlockMode:
		key := c.key
		if c.spec.name == "rc4-md5" {
			// RC4-MD5 rekeys per connection: the session key is
			// MD5(masterKey ‖ iv), fed to RC4 with no IV of its own.
			// The registry still advertises a 16-byte wire IV (see
			// Cipher.IVSize); only the primitive's own IV is empty.
			h := md5.New()
			h.Write(c.key)
			h.Write(iv)
			key = h.Sum(nil)
			iv = nil
		}
		return c.spec.newStream(key, iv, encrypt)
	case familyStreamPos:
		return newStreamPosState(c.spec.name, c.key, iv)
	default:
		panic("shadowsocks: newStreamState called for table cipher")
	}
}
