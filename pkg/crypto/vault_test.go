package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestVault_RoundTrip(t *testing.T) {
	v, err := NewVault("test-passphrase")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	plaintexts := []string{
		"hunter2",
		"p@ss:with/special?chars&more",
		strings.Repeat("x", 4096),
		"日本語パスワード",
	}
	for _, p := range plaintexts {
		blob, err := v.Seal(p)
		if err != nil {
			t.Fatalf("Seal(%q): %v", p, err)
		}
		if blob == p {
			t.Fatal("blob must not equal plaintext")
		}
		got, err := v.Open(blob)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != p {
			t.Errorf("round trip mismatch: got %q want %q", got, p)
		}
	}
}

func TestVault_EmptyPassthrough(t *testing.T) {
	v, _ := NewVault("key")
	blob, err := v.Seal("")
	if err != nil || blob != "" {
		t.Errorf("Seal(\"\") = %q, %v; want empty, nil", blob, err)
	}
	p, err := v.Open("")
	if err != nil || p != "" {
		t.Errorf("Open(\"\") = %q, %v; want empty, nil", p, err)
	}
}

func TestVault_FreshNoncePerSeal(t *testing.T) {
	v, _ := NewVault("key")
	a, _ := v.Seal("same plaintext")
	b, _ := v.Seal("same plaintext")
	if a == b {
		t.Error("two seals of the same plaintext produced identical blobs")
	}
}

func TestVault_Base64Key(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	v, err := NewVault(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("NewVault with base64 key: %v", err)
	}
	blob, _ := v.Seal("secret")
	if got, _ := v.Open(blob); got != "secret" {
		t.Errorf("round trip with base64 key failed: %q", got)
	}
}

func TestVault_WrongKey(t *testing.T) {
	v1, _ := NewVault("key-one")
	v2, _ := NewVault("key-two")
	blob, _ := v1.Seal("secret")
	_, err := v2.Open(blob)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestVault_Tampering(t *testing.T) {
	v, _ := NewVault("key")
	blob, _ := v.Seal("secret")

	data, _ := base64.StdEncoding.DecodeString(blob)

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"truncated", base64.StdEncoding.EncodeToString(data[:5])},
		{"wrong version", base64.StdEncoding.EncodeToString(append([]byte{0x7f}, data[1:]...))},
		{"flipped byte", func() string {
			mutated := append([]byte(nil), data...)
			mutated[len(mutated)-1] ^= 0xff
			return base64.StdEncoding.EncodeToString(mutated)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Open(tt.blob); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("expected ErrDecryptionFailed, got %v", err)
			}
		})
	}
}

func TestNewVault_EmptyKey(t *testing.T) {
	if _, err := NewVault(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"supersecretvalue", "supe···alue"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
