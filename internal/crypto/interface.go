package crypto

// Cipher is the symmetric-cipher collaborator used by key resolution
// and attribute decoding. The tree core treats it as opaque: it never
// inspects ciphertext beyond length checks.
type Cipher interface {
	// DecryptKey decrypts an encrypted node key blob in place-size
	// (no expansion): output length equals input length.
	DecryptKey(key, enc []byte) ([]byte, error)

	// EncryptKey is the inverse of DecryptKey.
	EncryptKey(key, plain []byte) ([]byte, error)

	// DecryptAttr decrypts an attribute blob.
	DecryptAttr(key, ciphertext []byte) ([]byte, error)

	// EncryptAttr encrypts an attribute blob.
	EncryptAttr(key, plaintext []byte) ([]byte, error)
}
