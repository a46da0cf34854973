package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const (
	testPassword = "2025-01-02_holdings_cph_cts.csv.enc"
	testSalt     = "keeperdata-test-salt"
)

func encryptBytes(t *testing.T, plaintext []byte, password string) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := EncryptStream(bytes.NewReader(plaintext), &out, password, testSalt, int64(len(plaintext)), nil); err != nil {
		t.Fatalf("EncryptStream: %v", err)
	}
	return out.Bytes()
}

func decryptBytes(t *testing.T, ciphertext []byte, password string) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := DecryptStream(bytes.NewReader(ciphertext), &out, password, testSalt, int64(len(ciphertext)), nil); err != nil {
		t.Fatalf("DecryptStream: %v", err)
	}
	return out.Bytes()
}

func TestRoundTripSizes(t *testing.T) {
	// Sizes around the block and buffer boundaries.
	sizes := []int{0, 1, 15, 16, 17, blockSize * 2, bufferSize - 1, bufferSize, bufferSize + 1, bufferSize*3 + 7}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		if _, err := rand.Read(plaintext); err != nil {
			t.Fatal(err)
		}

		ciphertext := encryptBytes(t, plaintext, testPassword)
		if len(ciphertext)%blockSize != 0 {
			t.Fatalf("size %d: ciphertext length %d not block-aligned", size, len(ciphertext))
		}
		// PKCS7 always pads, so ciphertext is strictly longer.
		if len(ciphertext) <= len(plaintext) {
			t.Fatalf("size %d: ciphertext not longer than plaintext", size)
		}

		got := decryptBytes(t, ciphertext, testPassword)
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("size %d: round trip mismatch", size)
		}
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	ciphertext := encryptBytes(t, []byte("pipe|delimited|rows\n"), testPassword)

	var out bytes.Buffer
	err := DecryptStream(bytes.NewReader(ciphertext), &out, "wrong-password", testSalt, int64(len(ciphertext)), nil)
	if err == nil {
		t.Fatal("expected error for wrong password")
	}
	if !types.IsBadCredentials(err) {
		t.Fatalf("expected BadCredentials, got %v", err)
	}
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	ciphertext := encryptBytes(t, bytes.Repeat([]byte("x"), 100), testPassword)

	var out bytes.Buffer
	err := DecryptStream(bytes.NewReader(ciphertext[:len(ciphertext)-5]), &out, testPassword, testSalt, 0, nil)
	var cerr *types.CryptoError
	if !errors.As(err, &cerr) || cerr.Kind != types.CryptoIO {
		t.Fatalf("expected IO crypto error, got %v", err)
	}
}

func TestDecryptEmptyInput(t *testing.T) {
	var out bytes.Buffer
	err := DecryptStream(bytes.NewReader(nil), &out, testPassword, testSalt, 0, nil)
	if err == nil {
		t.Fatal("expected error for empty ciphertext")
	}
}

func TestProgressTicks(t *testing.T) {
	plaintext := make([]byte, bufferSize*4)
	var ticks []int
	var out bytes.Buffer
	err := EncryptStream(bytes.NewReader(plaintext), &out, testPassword, testSalt, int64(len(plaintext)), func(pct int) {
		ticks = append(ticks, pct)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(ticks) == 0 || ticks[0] != 0 {
		t.Fatalf("first tick must be 0, got %v", ticks)
	}
	if ticks[len(ticks)-1] != 100 {
		t.Fatalf("last tick must be 100, got %v", ticks)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] <= ticks[i-1] {
			t.Fatalf("ticks must strictly increase, got %v", ticks)
		}
	}
}

func TestProgressUnknownTotal(t *testing.T) {
	var ticks []int
	var out bytes.Buffer
	err := EncryptStream(bytes.NewReader(make([]byte, 1000)), &out, testPassword, testSalt, 0, func(pct int) {
		ticks = append(ticks, pct)
	})
	if err != nil {
		t.Fatal(err)
	}
	// Unknown total: only the entry 0 and the final 100.
	if len(ticks) != 2 || ticks[0] != 0 || ticks[1] != 100 {
		t.Fatalf("expected [0 100], got %v", ticks)
	}
}

func TestDeriveKeyIVDeterministic(t *testing.T) {
	k1, iv1 := DeriveKeyIV("password", "salt")
	k2, iv2 := DeriveKeyIV("password", "salt")
	if !bytes.Equal(k1, k2) || !bytes.Equal(iv1, iv2) {
		t.Fatal("derivation must be deterministic")
	}
	if len(k1) != KeySize || len(iv1) != IVSize {
		t.Fatalf("unexpected lengths %d/%d", len(k1), len(iv1))
	}

	k3, _ := DeriveKeyIV("password2", "salt")
	if bytes.Equal(k1, k3) {
		t.Fatal("different passwords must derive different keys")
	}
}

func TestProbeKey(t *testing.T) {
	// Single-block file: wrong password is detectable at probe time.
	small := encryptBytes(t, []byte("tiny"), testPassword)
	if len(small) != blockSize {
		t.Fatalf("expected single block, got %d bytes", len(small))
	}
	if err := ProbeKey(bytes.NewReader(small), testPassword, testSalt); err != nil {
		t.Fatalf("probe with right password: %v", err)
	}
	if err := ProbeKey(bytes.NewReader(small), "wrong", testSalt); !types.IsBadCredentials(err) {
		t.Fatalf("expected BadCredentials, got %v", err)
	}

	// Multi-block file: a wrong password passes the probe and only
	// fails at full decryption.
	big := encryptBytes(t, make([]byte, blockSize*4), testPassword)
	if err := ProbeKey(bytes.NewReader(big), "wrong", testSalt); err != nil {
		t.Fatalf("multi-block probe must not detect a bad key: %v", err)
	}
	var out bytes.Buffer
	if err := DecryptStream(bytes.NewReader(big), &out, "wrong", testSalt, 0, nil); !types.IsBadCredentials(err) {
		t.Fatalf("full decrypt should fail with BadCredentials, got %v", err)
	}
}

func TestPkcs7(t *testing.T) {
	for size := 0; size <= blockSize*2; size++ {
		data := bytes.Repeat([]byte{0xAB}, size)
		padded := pkcs7Pad(data)
		if len(padded)%blockSize != 0 || len(padded) <= size {
			t.Fatalf("size %d: bad padded length %d", size, len(padded))
		}
		got, err := pkcs7Unpad(padded[len(padded)-blockSize:])
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		want := data[len(data)-len(got):]
		if !bytes.Equal(got, want) {
			t.Fatalf("size %d: unpad mismatch", size)
		}
	}

	if _, err := pkcs7Unpad(bytes.Repeat([]byte{0}, blockSize)); err == nil {
		t.Fatal("pad value 0 must be rejected")
	}
	if _, err := pkcs7Unpad([]byte{1, 2, 3}); err == nil {
		t.Fatal("non-block length must be rejected")
	}
}

func TestDecryptStreamBoundedReads(t *testing.T) {
	// A reader that returns one byte at a time still decrypts correctly.
	plaintext := []byte("header|a|b\nrow|1|2\n")
	ciphertext := encryptBytes(t, plaintext, testPassword)

	var out bytes.Buffer
	err := DecryptStream(iotest(bytes.NewReader(ciphertext)), &out, testPassword, testSalt, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Fatal("mismatch with dribbling reader")
	}
}

// iotest wraps r to return at most one byte per Read.
func iotest(r io.Reader) io.Reader { return &oneByteReader{r} }

type oneByteReader struct{ r io.Reader }

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}
