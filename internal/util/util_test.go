package util

import (
	"bytes"
	"crypto/x509"
	"strings"
	"testing"
)

func TestAESGCM(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpen", func(t *testing.T) {
		nonce, ct, tag, err := SealAESGCM(plainText, key, aad)
		if err != nil {
			t.Fatalf("SealAESGCM failed: %v", err)
		}
		if len(nonce) != GCMNonceSize {
			t.Errorf("expected nonce length %d, got %d", GCMNonceSize, len(nonce))
		}
		if len(tag) != GCMTagSize {
			t.Errorf("expected tag length %d, got %d", GCMTagSize, len(tag))
		}

		decrypted, err := OpenAESGCM(nonce, ct, tag, key, aad)
		if err != nil {
			t.Fatalf("OpenAESGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("FreshNonce", func(t *testing.T) {
		n1, _, _, _ := SealAESGCM(plainText, key, nil)
		n2, _, _, _ := SealAESGCM(plainText, key, nil)
		if bytes.Equal(n1, n2) {
			t.Error("nonces must differ between calls")
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		nonce, ct, tag, _ := SealAESGCM(plainText, key, aad)
		_, err := OpenAESGCM(nonce, ct, tag, key, []byte("wrong context"))
		if err != ErrAESOpen {
			t.Errorf("expected ErrAESOpen, got %v", err)
		}
	})

	t.Run("TamperTag", func(t *testing.T) {
		nonce, ct, tag, _ := SealAESGCM(plainText, key, aad)
		tag[0] ^= 0x01
		_, err := OpenAESGCM(nonce, ct, tag, key, aad)
		if err == nil {
			t.Error("expected error with tampered tag, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, _, _, err := SealAESGCM(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectBadNonceSize", func(t *testing.T) {
		_, ct, tag, _ := SealAESGCM(plainText, key, aad)
		_, err := OpenAESGCM([]byte{1, 2, 3}, ct, tag, key, aad)
		if err == nil {
			t.Error("expected error with short nonce, got nil")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected key length 32, got %d", len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}

	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	s := "test string"
	encoded := HexEncode([]byte(s))
	decoded, err := HexDecode(encoded)
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}

	t.Run("HexDecodeExact", func(t *testing.T) {
		key := strings.Repeat("ab", 32)
		b, err := HexDecodeExact(" "+key+"\n", 32)
		if err != nil {
			t.Fatalf("HexDecodeExact failed: %v", err)
		}
		if len(b) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b))
		}
		if _, err := HexDecodeExact(key[:62], 32); err == nil {
			t.Error("expected error for short input")
		}
		if _, err := HexDecodeExact(strings.Repeat("zz", 32), 32); err == nil {
			t.Error("expected error for non-hex input")
		}
	})
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomChars", func(t *testing.T) {
		s1, err := RandomChars(12)
		if err != nil {
			t.Fatalf("RandomChars failed: %v", err)
		}
		s2, err := RandomChars(12)
		if err != nil {
			t.Fatalf("RandomChars failed: %v", err)
		}
		if len(s1) != 12 {
			t.Errorf("expected length 12, got %d", len(s1))
		}
		if s1 == s2 {
			t.Error("RandomChars should produce different outputs")
		}
		for _, c := range s1 {
			if !strings.ContainsRune(UnambiguousAlphabet, c) {
				t.Errorf("unexpected character %q", c)
			}
		}
	})

	t.Run("RandomIntn", func(t *testing.T) {
		max := 100
		for i := 0; i < 100; i++ {
			n, err := RandomIntn(max)
			if err != nil {
				t.Fatalf("RandomIntn failed: %v", err)
			}
			if n < 0 || n >= max {
				t.Errorf("RandomIntn(%d) returned %d out of range", max, n)
			}
		}
	})
}

func TestAlphabetExcludesConfusables(t *testing.T) {
	for _, c := range "01OIU" {
		if strings.ContainsRune(UnambiguousAlphabet, c) {
			t.Errorf("alphabet contains confusable %q", c)
		}
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cert.Certificate))
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate does not cover localhost: %v", err)
	}
}
