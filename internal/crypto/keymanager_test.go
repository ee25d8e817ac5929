package crypto

import (
	"strings"
	"testing"
)

func TestSignQuery(t *testing.T) {
	// Known vector: HMAC-SHA256("key", "message").
	got := SignQuery("key", "message")
	want := "6e9ef29b75fffc5b7abae527d58fdadb2fe42e7219011976917343065f58ed4a"
	if got != want {
		t.Errorf("SignQuery = %s, want %s", got, want)
	}
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	secret := "api-secret-abc123"
	blob, err := EncryptSecret(secret, "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != secret {
		t.Errorf("round trip = %q, want %q", got, secret)
	}
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("s3cret", "right")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatal("expected decryption failure with wrong password")
	}
}

func TestEncryptSecretValidation(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestLoadSecretPrecedence(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw-wins"})
	if err != nil || got != "raw-wins" {
		t.Errorf("LoadSecret raw = %q, %v", got, err)
	}

	_, err = LoadSecret(SecretConfig{})
	if err == nil || !strings.Contains(err.Error(), "no API secret source") {
		t.Errorf("LoadSecret empty config: %v", err)
	}
}
