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
	"io"

	"github.com/gwolfxiao/shadowsocks-libev/slicepool"
	"github.com/gwolfxiao/shadowsocks-libev/socks"
)

// ATYPAuthFlag is the bit of the address-type byte that flags one-time
// auth for this connection's header and payload chunks. socks.Addr
// itself has no notion of this bit; it is layered on top here rather
// than folded into the socks package, since it is a Shadowsocks-only
// concept (spec.md §9's REDESIGN FLAG calls this out explicitly: "the
// high bit 0x10 becomes a separate auth field").
const ATYPAuthFlag = 0x10

// HeaderBufSize is large enough to hold any request header (address
// plus flag byte) before the trailing HMAC, should the caller need one
// buffer for both.
const HeaderBufSize = socks.MaxAddrLen

// headerPool supplies the scratch buffer ReadHeader parses a request
// header into, one per call and released before return, the same lease
// pattern the teacher's tcpReqHeaderPool uses around its own header
// parse.
var headerPool = slicepool.MakePool(HeaderBufSize)

// EncodeHeader builds the wire bytes of a request header: addr with the
// auth flag OR'd into its address-type byte when auth is set. The
// returned slice is what gets HMAC'd (if auth) and then handed to the
// connection's Writer.
func EncodeHeader(addr socks.Addr, auth bool) []byte {
	header := append([]byte(nil), addr...)
	if auth {
		header[0] |= ATYPAuthFlag
	}
	return header
}

// DecodeHeader reads one request header from r into buf (which must be at
// least HeaderBufSize long), returning the parsed address (with the auth
// flag stripped, suitable for socks.Addr.String/address resolution), the
// flag's state, and the raw header bytes exactly as they appeared on the
// wire (auth flag included) for HMAC verification.
func DecodeHeader(r io.Reader, buf []byte) (addr socks.Addr, auth bool, raw []byte, err error) {
	if _, err = io.ReadFull(r, buf[:1]); err != nil {
		return
	}
	auth = buf[0]&ATYPAuthFlag != 0
	atyp := buf[0] &^ ATYPAuthFlag
	buf[0] = atyp

	var n int
	switch atyp {
	case socks.AtypDomainName:
		if _, err = io.ReadFull(r, buf[1:2]); err != nil {
			return
		}
		domainLen := int(buf[1])
		n = 1 + 1 + domainLen + 2
		if n > len(buf) {
			err = ErrDomainTooLong
			return
		}
		if _, err = io.ReadFull(r, buf[2:n]); err != nil {
			return
		}
	case socks.AtypIPv4:
		n = socks.SocksAddressIPv4Length
		if _, err = io.ReadFull(r, buf[1:n]); err != nil {
			return
		}
	case socks.AtypIPv6:
		n = socks.SocksAddressIPv6Length
		if _, err = io.ReadFull(r, buf[1:n]); err != nil {
			return
		}
	default:
		err = ErrUnknownATYP
		return
	}

	addr = socks.Addr(append([]byte(nil), buf[:n]...))

	raw = append([]byte(nil), buf[:n]...)
	if auth {
		raw[0] |= ATYPAuthFlag
	}
	return
}

// ReadHeader reads one request header from r — the connection's already-
// decrypted byte stream — and, when the header carries the auth flag,
// verifies its trailing HMAC. iv and masterKey key that HMAC (spec.md
// §4.D: "key = iv ‖ master_key"); iv is nil for the table cipher, which
// never carries one-time auth.
func ReadHeader(r io.Reader, iv, masterKey []byte) (addr socks.Addr, auth bool, err error) {
	bufSlice := headerPool.Slice()
	buf := bufSlice.Acquire()
	defer bufSlice.Release()

	addr, auth, raw, err := DecodeHeader(r, buf)
	if err != nil {
		return nil, false, err
	}
	if auth {
		var tag [HMACSize]byte
		if _, err = io.ReadFull(r, tag[:]); err != nil {
			return nil, false, err
		}
		if !verifyHMAC(headerAuthKey(iv, masterKey), raw, tag[:]) {
			return nil, false, ErrHeaderAuthFailed
		}
	}
	return addr, auth, nil
}

// WriteHeader builds the request header for addr — with the auth flag set
// when auth is true — and writes it, followed by its HMAC if auth, to w,
// the connection's encrypting Writer. w's IV must be obtainable (w.IV()
// establishes it on first call if not already) since the HMAC key is
// iv ‖ masterKey.
func WriteHeader(w Writer, addr socks.Addr, auth bool, masterKey []byte) error {
	iv, err := w.IV()
	if err != nil {
		return err
	}
	header := EncodeHeader(addr, auth)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if auth {
		tag := computeHMAC(headerAuthKey(iv, masterKey), header)
		if _, err := w.Write(tag); err != nil {
			return err
		}
	}
	return nil
}
