package services

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestVaultRoundTrip(t *testing.T) {
	v := NewVault("test-master-secret")

	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	blob, err := v.Encrypt(key, "tx-001")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob == "" {
		t.Fatal("empty blob")
	}

	got, err := v.Decrypt(blob, "tx-001")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("round trip mismatch")
	}
}

func TestVaultWrongTransactionID(t *testing.T) {
	v := NewVault("test-master-secret")

	blob, err := v.Encrypt([]byte("secret-key-material"), "tx-001")
	if err != nil {
		t.Fatal(err)
	}

	// 用错交易 ID 必须认证失败，而不是静默返回乱码
	if _, err := v.Decrypt(blob, "tx-002"); err == nil {
		t.Fatal("decrypt with wrong tx id should fail")
	}
}

func TestVaultTamperedBlob(t *testing.T) {
	v := NewVault("test-master-secret")

	blob, err := v.Encrypt([]byte("secret-key-material"), "tx-001")
	if err != nil {
		t.Fatal(err)
	}

	// 篡改密文任意一个字节都要被发现
	tampered := []byte(blob)
	tampered[len(tampered)/2] ^= 1
	if _, err := v.Decrypt(string(tampered), "tx-001"); err == nil {
		t.Fatal("tampered blob should fail authentication")
	}
}

func TestVaultNonceVariance(t *testing.T) {
	v := NewVault("test-master-secret")

	a, _ := v.Encrypt([]byte("same-key"), "tx-001")
	b, _ := v.Encrypt([]byte("same-key"), "tx-001")
	if a == b {
		t.Fatal("same plaintext should encrypt to different blobs (random nonce)")
	}
}

func TestVaultDifferentMasterSecret(t *testing.T) {
	blob, err := NewVault("secret-a").Encrypt([]byte("key"), "tx-001")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVault("secret-b").Decrypt(blob, "tx-001"); err == nil {
		t.Fatal("different master secret should fail decryption")
	}
}
