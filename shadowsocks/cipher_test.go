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
	"errors"
	"testing"
)

func TestSupportedCipherNamesIsMetadataComplete(t *testing.T) {
	names := SupportedCipherNames()
	want := []string{
		"table", "rc4", "rc4-md5",
		"aes-128-cfb", "aes-192-cfb", "aes-256-cfb",
		"bf-cfb",
		"camellia-128-cfb", "camellia-192-cfb", "camellia-256-cfb",
		"cast5-cfb", "des-cfb", "idea-cfb", "rc2-cfb", "seed-cfb",
		"salsa20", "chacha20", "chacha20-ietf",
	}
	got := map[string]bool{}
	for _, n := range names {
		got[n] = true
	}
	for _, n := range want {
		if !got[n] {
			t.Errorf("SupportedCipherNames missing %q", n)
		}
	}
}

func TestNewCipherUnavailablePrimitives(t *testing.T) {
	for _, name := range []string{"camellia-128-cfb", "idea-cfb", "rc2-cfb", "seed-cfb", "chacha20"} {
		_, _, err := NewCipher(name, "pw")
		if !errors.Is(err, ErrPrimitiveUnavailable) {
			t.Errorf("NewCipher(%q): expected ErrPrimitiveUnavailable, got %v", name, err)
		}
	}
}

func TestRC4MD5ReportsSixteenByteIV(t *testing.T) {
	c, ok, err := NewCipher("rc4-md5", "pw")
	if err != nil || !ok {
		t.Fatalf("NewCipher(rc4-md5): ok=%v err=%v", ok, err)
	}
	if got := c.IVSize(); got != 16 {
		t.Fatalf("rc4-md5 IVSize() = %d, want 16", got)
	}
}

func TestCipherKeySizes(t *testing.T) {
	cases := map[string]int{
		"aes-128-cfb": 16,
		"aes-192-cfb": 24,
		"aes-256-cfb": 32,
		"des-cfb":     8,
		"bf-cfb":      16,
		"salsa20":     32,
	}
	for name, wantKeyLen := range cases {
		c, ok, err := NewCipher(name, "pw")
		if err != nil || !ok {
			t.Fatalf("NewCipher(%q): ok=%v err=%v", name, ok, err)
		}
		if len(c.MasterKey()) != wantKeyLen {
			t.Errorf("%s: key length = %d, want %d", name, len(c.MasterKey()), wantKeyLen)
		}
	}
}
