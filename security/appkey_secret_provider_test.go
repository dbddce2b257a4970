package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAppKeySecretProviderRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	plaintext := []byte("access-token-value")
	ciphertext, err := provider.Encrypt(ctx, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(string(ciphertext), "crm-connect.secret.v1:") {
		t.Fatalf("expected envelope prefix, got %q", ciphertext)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	decrypted, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestAppKeySecretProviderNonceUniqueness(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	first, err := provider.Encrypt(ctx, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := provider.Encrypt(ctx, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestAppKeySecretProviderShortKeyIsHashed(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("short-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	ciphertext, err := provider.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt with hashed key: %v", err)
	}
	if _, err := provider.Decrypt(ctx, ciphertext); err != nil {
		t.Fatalf("decrypt with hashed key: %v", err)
	}
}

func TestAppKeySecretProviderKeyIDMismatch(t *testing.T) {
	ctx := context.Background()
	alpha, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef", WithKeyID("alpha"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	beta, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef", WithKeyID("beta"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ciphertext, err := alpha.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := beta.Decrypt(ctx, ciphertext); err == nil || !strings.Contains(err.Error(), "key id mismatch") {
		t.Fatalf("expected key id mismatch, got %v", err)
	}
}

func TestAppKeySecretProviderVersionMismatch(t *testing.T) {
	ctx := context.Background()
	v1, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef", WithVersion(1))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	v2, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef", WithVersion(2))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ciphertext, err := v1.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := v2.Decrypt(ctx, ciphertext); err == nil || !strings.Contains(err.Error(), "version mismatch") {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestAppKeySecretProviderWrongKey(t *testing.T) {
	ctx := context.Background()
	alpha, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	beta, err := NewAppKeySecretProviderFromString("fedcba9876543210fedcba9876543210")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ciphertext, err := alpha.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := beta.Decrypt(ctx, ciphertext); err == nil {
		t.Fatal("expected decryption failure with wrong key")
	}
}

func TestAppKeySecretProviderValidation(t *testing.T) {
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatal("expected error for empty key material")
	}

	provider, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	if _, err := provider.Encrypt(ctx, nil); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
	if _, err := provider.Decrypt(ctx, nil); err == nil {
		t.Fatal("expected error for empty ciphertext")
	}
	if _, err := provider.Decrypt(ctx, []byte("not-an-envelope")); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}
