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
	"errors"
	"io"
	"testing"
)

func TestChunkRoundTrip(t *testing.T) {
	iv := []byte("0123456789abcdef")
	var wire bytes.Buffer
	cw := NewChunkWriter(&passthroughWriter{&wire}, iv)

	msgs := []string{"first chunk", "", "a rather longer third chunk of data"}
	for _, m := range msgs {
		if _, err := cw.Write([]byte(m)); err != nil {
			t.Fatalf("Write(%q): %v", m, err)
		}
	}

	cr := NewChunkReader(&wire, iv)
	for _, want := range msgs {
		got, err := cr.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
		if string(got) != want {
			t.Fatalf("ReadChunk = %q, want %q", got, want)
		}
	}
}

func TestChunkCounterMonotonicity(t *testing.T) {
	iv := []byte("0123456789abcdef")

	// Encode two chunks, then splice them back together out of order:
	// the counter baked into each chunk's HMAC key no longer matches the
	// reader's own counter at that position, so verification must fail.
	var a, b bytes.Buffer
	cwA := NewChunkWriter(&passthroughWriter{&a}, iv)
	if _, err := cwA.Write([]byte("chunk A")); err != nil {
		t.Fatal(err)
	}
	cwB := NewChunkWriter(&passthroughWriter{&b}, iv)
	cwB.counter = 1 // simulate "this was really the second chunk emitted"
	if _, err := cwB.Write([]byte("chunk B")); err != nil {
		t.Fatal(err)
	}

	var swapped bytes.Buffer
	swapped.Write(b.Bytes())
	swapped.Write(a.Bytes())

	cr := NewChunkReader(&swapped, iv)
	if _, err := cr.ReadChunk(); err == nil {
		t.Fatal("expected the reordered first chunk to fail HMAC verification")
	}
}

func TestChunkTamperDetection(t *testing.T) {
	iv := []byte("0123456789abcdef")
	var wire bytes.Buffer
	cw := NewChunkWriter(&passthroughWriter{&wire}, iv)
	if _, err := cw.Write([]byte("untampered payload")); err != nil {
		t.Fatal(err)
	}

	tampered := wire.Bytes()
	tampered[len(tampered)-1] ^= 0x01 // flip a bit in the payload

	cr := NewChunkReader(bytes.NewReader(tampered), iv)
	_, err := cr.ReadChunk()
	if !errors.Is(err, ErrChunkAuthFailed) {
		t.Fatalf("expected ErrChunkAuthFailed, got %v", err)
	}
}

func TestChunkTooLarge(t *testing.T) {
	iv := []byte("0123456789abcdef")
	hdr := make([]byte, chunkLenSize+HMACSize)
	hdr[0] = 0xFF
	hdr[1] = 0xFF // declares a 65535-byte chunk, over MaxPayloadSize

	cr := NewChunkReader(bytes.NewReader(hdr), iv)
	_, err := cr.ReadChunk()
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestHeaderAuthVerify(t *testing.T) {
	iv := []byte("0123456789abcdef")
	masterKey := []byte("the master key")
	header := []byte{0x01, 127, 0, 0, 1, 0, 80}

	tag := computeHMAC(headerAuthKey(iv, masterKey), header)
	if !verifyHMAC(headerAuthKey(iv, masterKey), header, tag) {
		t.Fatal("valid header HMAC failed to verify")
	}

	tampered := append([]byte(nil), header...)
	tampered[0] ^= 0x01
	if verifyHMAC(headerAuthKey(iv, masterKey), tampered, tag) {
		t.Fatal("tampered header HMAC unexpectedly verified")
	}
}

// passthroughWriter adapts an io.Writer to the shadowsocks.Writer
// interface (Write + ReadFrom) without doing any encryption, so the
// chunk-framing tests above can exercise ChunkWriter in isolation from
// the cipher layer.
type passthroughWriter struct {
	w *bytes.Buffer
}

func (p *passthroughWriter) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *passthroughWriter) IV() ([]byte, error) { return nil, nil }

func (p *passthroughWriter) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 4096)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			nw, werr := p.w.Write(buf[:n])
			total += int64(nw)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
