package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/iox"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// EncryptFile encrypts srcPath into dstPath (created write-truncate).
// Both files are closed on every exit path.
func EncryptFile(srcPath, dstPath, password, salt string, progress ProgressFunc) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	defer iox.DiscardClose(src)

	info, err := src.Stat()
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}

	if err := EncryptStream(src, dst, password, salt, info.Size(), progress); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	return nil
}

// DecryptFile decrypts srcPath into dstPath (created write-truncate).
// Both files are closed on every exit path.
func DecryptFile(srcPath, dstPath, password, salt string, progress ProgressFunc) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	defer iox.DiscardClose(src)

	info, err := src.Stat()
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}

	if err := DecryptStream(src, dst, password, salt, info.Size(), progress); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: err}
	}
	return nil
}

// ProbeKey validates the derived key against the leading ciphertext
// without materializing plaintext: the first block is decrypted and,
// when it is also the final block, its padding is checked. A wrong key
// on a multi-block file is only detectable at full decryption.
func ProbeKey(src io.Reader, password, salt string) error {
	head := make([]byte, 2*blockSize)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("read: %w", err)}
	}
	if n == 0 {
		return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("empty ciphertext")}
	}
	if n%blockSize != 0 {
		return &types.CryptoError{Kind: types.CryptoIO, Err: fmt.Errorf("ciphertext length not a multiple of the block size")}
	}

	key, iv := DeriveKeyIV(password, salt)
	block, cerr := aes.NewCipher(key)
	if cerr != nil {
		return &types.CryptoError{Kind: types.CryptoIO, Err: cerr}
	}

	first := make([]byte, blockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(first, head[:blockSize])

	// Single-block file: the first block carries the padding.
	if n == blockSize {
		if _, err := pkcs7Unpad(first); err != nil {
			return &types.CryptoError{Kind: types.CryptoBadCredentials, Err: err}
		}
	}
	return nil
}
