// Package crypto implements the streaming file cipher used by the
// import pipelines: AES-256-CBC with PKCS7 padding, key and IV derived
// from (password, salt) via PBKDF2-SHA1.
//
// Stream operations run in a fixed 64 KiB buffer; steady-state memory
// is independent of payload size.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const (
	// Iterations is the PBKDF2 iteration count.
	Iterations = 10000
	// KeySize is the AES key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = 16

	blockSize  = aes.BlockSize
	bufferSize = 64 * 1024
)

// ProgressFunc receives integer percent ticks during a stream operation.
type ProgressFunc func(percent int)

// DeriveKeyIV derives the AES key and CBC IV from (password, salt).
// The 48-byte PBKDF2 output is split: first 32 bytes key, last 16 IV.
func DeriveKeyIV(password, salt string) (key, iv []byte) {
	out := pbkdf2.Key([]byte(password), []byte(salt), Iterations, KeySize+IVSize, sha1.New)
	return out[:KeySize], out[KeySize:]
}

// progressTracker emits ticks at 0%, each integer percent increment,
// and 100%. No ticks besides an initial 0 when total is unknown.
type progressTracker struct {
	fn      ProgressFunc
	total   int64
	done    int64
	lastPct int
}

func newProgressTracker(fn ProgressFunc, total int64) *progressTracker {
	t := &progressTracker{fn: fn, total: total, lastPct: -1}
	if fn != nil {
		t.tick(0)
	}
	return t
}

func (t *progressTracker) tick(pct int) {
	if t.fn == nil || pct == t.lastPct {
		return
	}
	t.lastPct = pct
	t.fn(pct)
}

func (t *progressTracker) add(n int64) {
	if t.fn == nil || t.total <= 0 {
		return
	}
	t.done += n
	pct := int(t.done * 100 / t.total)
	if pct > 100 {
		pct = 100
	}
	t.tick(pct)
}

func (t *progressTracker) finish() {
	if t.fn == nil {
		return
	}
	t.tick(100)
}

// readChunk fills buf as far as possible. Returns the byte count and
// true when the source is exhausted.
func readChunk(src io.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(src, buf)
	switch {
	case err == nil:
		return n, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	default:
		return n, false, err
	}
}

// EncryptStream encrypts src to dst. totalBytes may be 0 when unknown;
// progress may be nil.
func EncryptStream(src io.Reader, dst io.Writer, password, salt string, totalBytes int64, progress ProgressFunc) error {
	key, iv := DeriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	enc := cipher.NewCBCEncrypter(block, iv)
	tracker := newProgressTracker(progress, totalBytes)

	buf := make([]byte, bufferSize)
	// remainder carries the sub-block tail of each chunk into the next.
	remainder := make([]byte, 0, blockSize)

	for {
		copy(buf, remainder)
		n, eof, err := readChunk(src, buf[len(remainder):])
		if err != nil {
			return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("read: %w", err)}
		}
		total := len(remainder) + n
		tracker.add(int64(n))

		if eof {
			// Pad the final partial block (a full padding block when
			// the payload is block-aligned) and flush.
			padded := pkcs7Pad(buf[:total])
			enc.CryptBlocks(padded, padded)
			if _, err := dst.Write(padded); err != nil {
				return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("write: %w", err)}
			}
			tracker.finish()
			return nil
		}

		whole := total - total%blockSize
		keep := total - whole
		remainder = remainder[:keep]
		copy(remainder, buf[whole:total])

		if whole > 0 {
			enc.CryptBlocks(buf[:whole], buf[:whole])
			if _, err := dst.Write(buf[:whole]); err != nil {
				return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("write: %w", err)}
			}
		}
	}
}

// DecryptStream decrypts src to dst. Invalid final padding surfaces as
// a BadCredentials crypto error: the derived key does not match.
func DecryptStream(src io.Reader, dst io.Writer, password, salt string, totalBytes int64, progress ProgressFunc) error {
	key, iv := DeriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	dec := cipher.NewCBCDecrypter(block, iv)
	tracker := newProgressTracker(progress, totalBytes)

	buf := make([]byte, bufferSize)
	// held retains the most recent decrypted block; it is only written
	// once a further block proves it is not the padded final block.
	held := make([]byte, 0, blockSize)
	carry := make([]byte, 0, blockSize)

	for {
		copy(buf, carry)
		n, eof, err := readChunk(src, buf[len(carry):])
		if err != nil {
			return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("read: %w", err)}
		}
		total := len(carry) + n
		tracker.add(int64(n))

		whole := total - total%blockSize
		keep := total - whole
		if eof && keep != 0 {
			return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("ciphertext length not a multiple of the block size")}
		}
		carry = carry[:keep]
		copy(carry, buf[whole:total])

		if whole > 0 {
			dec.CryptBlocks(buf[:whole], buf[:whole])
			if len(held) > 0 {
				if _, err := dst.Write(held); err != nil {
					return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("write: %w", err)}
				}
			}
			if whole > blockSize {
				if _, err := dst.Write(buf[:whole-blockSize]); err != nil {
					return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("write: %w", err)}
				}
			}
			held = held[:blockSize]
			copy(held, buf[whole-blockSize:whole])
		}

		if eof {
			if len(held) == 0 {
				return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("empty ciphertext")}
			}
			trimmed, err := pkcs7Unpad(held)
			if err != nil {
				return &types.CryptoError{Kind: types.CryptoBadCredentials, Err: err}
			}
			if len(trimmed) > 0 {
				if _, err := dst.Write(trimmed); err != nil {
					return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("write: %w", err)}
				}
			}
			tracker.finish()
			return nil
		}
	}
}

// pkcs7Pad appends PKCS7 padding, always adding at least one byte.
func pkcs7Pad(data []byte) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

// pkcs7Unpad strips and validates PKCS7 padding from the final block.
func pkcs7Unpad(block []byte) ([]byte, error) {
	if len(block) == 0 || len(block)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(block))
	}
	pad := int(block[len(block)-1])
	if pad < 1 || pad > blockSize {
		return nil, fmt.Errorf("invalid padding value %d", pad)
	}
	for _, b := range block[len(block)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return block[:len(block)-pad], nil
}
