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
	"crypto/rand"
	"fmt"
	"io"
)

// streamBufSize is the chunk size Writer.ReadFrom and Reader.WriteTo move
// per iteration. It has no relation to MaxPayloadSize: unauthenticated
// streams have no chunk framing at all, so this is purely an I/O
// granularity choice, same as the teacher's fixed internal buffer.
const streamBufSize = 16 * 1024

// Writer is an io.Writer that also implements io.ReaderFrom, so that
// splicing a connection through it (see service/tcp.go) avoids an extra copy.
type Writer interface {
	io.Writer
	io.ReaderFrom

	// IV generates (on first call) and returns the IV established for this
	// connection's encrypt direction, nil for the table cipher. Callers
	// that need the IV before the first Write — building a one-time-auth
	// header, in particular — call this explicitly instead of relying on
	// the lazy path inside Write.
	IV() ([]byte, error)
}

// streamWriter is the unauthenticated encrypting half of the frame codec
// (spec.md §4.D): on first use it generates (or, for the table cipher,
// skips) an IV, writes it to dst, and from then on every Write XORs its
// input through the per-connection cipher context before forwarding it.
// There is no length framing here; one-time-auth chunk framing, when
// enabled, is layered on top by ChunkWriter.
type streamWriter struct {
	dst    io.Writer
	cipher *Cipher

	initialized bool
	table       *tableCipher
	state       streamState
	iv          []byte

	byteWrapper bytes.Reader
	buf         []byte
}

// NewWriter wraps dst so that everything written to the returned Writer is
// encrypted under c before reaching dst.
func NewWriter(dst io.Writer, c *Cipher) Writer {
	return &streamWriter{dst: dst, cipher: c}
}

// IV generates the IV (if w's cipher is not the table cipher) and writes
// it to dst. Calling it more than once is a no-op returning the same IV.
func (w *streamWriter) IV() ([]byte, error) {
	if w.initialized {
		return w.iv, nil
	}
	if w.cipher.IsTable() {
		w.table = w.cipher.table
		w.buf = make([]byte, streamBufSize)
		w.initialized = true
		return nil, nil
	}

	iv := make([]byte, w.cipher.IVSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("shadowsocks: failed to generate IV: %w", err)
	}
	if _, err := w.dst.Write(iv); err != nil {
		return nil, fmt.Errorf("shadowsocks: failed to write IV: %w", err)
	}
	state, err := newStreamState(w.cipher, iv, true)
	if err != nil {
		return nil, err
	}
	w.state = state
	w.iv = iv
	w.buf = make([]byte, streamBufSize)
	w.initialized = true
	return iv, nil
}

func (w *streamWriter) encrypt(dst, src []byte) {
	if w.table != nil {
		w.table.Encrypt(dst, src)
		return
	}
	w.state.XORKeyStream(dst, src)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.byteWrapper.Reset(p)
	n, err := w.ReadFrom(&w.byteWrapper)
	return int(n), err
}

func (w *streamWriter) ReadFrom(r io.Reader) (int64, error) {
	if _, err := w.IV(); err != nil {
		return 0, err
	}
	var written int64
	for {
		nr, err := r.Read(w.buf)
		if nr > 0 {
			w.encrypt(w.buf[:nr], w.buf[:nr])
			nw, werr := w.dst.Write(w.buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw < nr {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, fmt.Errorf("shadowsocks: failed to read plaintext: %w", err)
		}
	}
}

// Reader is an io.Reader that also implements io.WriterTo, mirroring
// Writer for the decrypt direction.
type Reader interface {
	io.Reader
	io.WriterTo

	// IV consumes (on first call) and returns the IV read off the wire for
	// this connection's decrypt direction, nil for the table cipher.
	IV() ([]byte, error)
}

// streamReader is the decrypting counterpart of streamWriter.
type streamReader struct {
	src     io.Reader
	cipher  *Cipher
	ivCache *IVCache

	initialized bool
	table       *tableCipher
	state       streamState
	iv          []byte

	buf      []byte
	leftover []byte
}

// NewReader wraps src so that everything read from the returned Reader has
// already been decrypted under c. ivCache is consulted (and updated) the
// first time an IV is read off the wire; pass nil for the table cipher or
// any context where replay protection does not apply (spec.md §4.G: the
// cache is skipped for IV-less ciphers).
func NewReader(src io.Reader, c *Cipher, ivCache *IVCache) Reader {
	return &streamReader{src: src, cipher: c, ivCache: ivCache}
}

// IV consumes the leading IV from src (if r's cipher is not the table
// cipher), rejecting it via ErrDuplicateIV if ivCache has seen it before.
// Calling it more than once is a no-op returning the same IV.
func (r *streamReader) IV() ([]byte, error) {
	if r.initialized {
		return r.iv, nil
	}
	if r.cipher.IsTable() {
		r.table = r.cipher.table
		r.buf = make([]byte, streamBufSize)
		r.initialized = true
		return nil, nil
	}

	iv := make([]byte, r.cipher.IVSize())
	if _, err := io.ReadFull(r.src, iv); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	if r.ivCache != nil && !r.ivCache.Add(iv) {
		return nil, ErrDuplicateIV
	}
	state, err := newStreamState(r.cipher, iv, false)
	if err != nil {
		return nil, err
	}
	r.state = state
	r.iv = iv
	r.buf = make([]byte, streamBufSize)
	r.initialized = true
	return iv, nil
}

func (r *streamReader) decrypt(dst, src []byte) {
	if r.table != nil {
		r.table.Decrypt(dst, src)
		return
	}
	r.state.XORKeyStream(dst, src)
}

func (r *streamReader) Read(p []byte) (int, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	n := copy(p, r.leftover)
	r.leftover = r.leftover[n:]
	return n, nil
}

func (r *streamReader) WriteTo(w io.Writer) (written int64, err error) {
	for {
		if err = r.fill(); err != nil {
			if err == io.EOF {
				err = nil
			}
			return written, err
		}
		n, werr := w.Write(r.leftover)
		written += int64(n)
		r.leftover = r.leftover[n:]
		if werr != nil {
			return written, werr
		}
	}
}

// fill ensures r.leftover is non-empty by reading and decrypting another
// block from src. It returns an error only if leftover could not be
// refilled.
func (r *streamReader) fill() error {
	if len(r.leftover) > 0 {
		return nil
	}
	if _, err := r.IV(); err != nil {
		return err
	}
	nr, err := r.src.Read(r.buf)
	if nr > 0 {
		r.decrypt(r.buf[:nr], r.buf[:nr])
		r.leftover = r.buf[:nr]
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	return err
}
