package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// FolderKeyLen is the cooked length of a folder node key.
	FolderKeyLen = 16

	// FileKeyLen is the cooked length of a file node key: 16 bytes of
	// cipher key material xored with 16 bytes of IV/MAC material.
	FileKeyLen = 32

	// BlockLen is the cipher block size; all key blobs are padded to it.
	BlockLen = aes.BlockSize

	// MasterKeyLen is the derived session master key length.
	MasterKeyLen = 16

	// PBKDF2 parameters for master-key derivation.
	DefaultIterations = 100000
	SaltLen           = 16
)

// Errors
var (
	ErrInvalidKeySize    = errors.New("invalid key size")
	ErrInvalidCiphertext = errors.New("invalid ciphertext length")
)

// Provider implements Cipher with AES: ECB for key blobs (length
// preserving, as required by cooked-key detection) and CBC with a zero
// IV for attribute blobs.
type Provider struct {
	iterations int
}

// NewProvider creates the default cipher provider.
func NewProvider() *Provider {
	return &Provider{iterations: DefaultIterations}
}

// DeriveMasterKey derives the session master key from account
// credentials and a per-account salt.
func (p *Provider) DeriveMasterKey(email, password string, salt []byte) ([]byte, error) {
	if len(salt) < SaltLen {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}
	auth := fmt.Sprintf("%s:%s", email, password)
	key := pbkdf2.Key([]byte(auth), salt, p.iterations, MasterKeyLen, sha256.New)
	return key, nil
}

// DecryptKey decrypts a node key blob block by block. Output length
// equals input length, so a cooked key stays cooked-length.
func (p *Provider) DecryptKey(key, enc []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 || len(enc)%BlockLen != 0 {
		return nil, ErrInvalidCiphertext
	}
	out := make([]byte, len(enc))
	for i := 0; i < len(enc); i += BlockLen {
		block.Decrypt(out[i:i+BlockLen], enc[i:i+BlockLen])
	}
	return out, nil
}

// EncryptKey encrypts a node key blob block by block.
func (p *Provider) EncryptKey(key, plain []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 || len(plain)%BlockLen != 0 {
		return nil, ErrInvalidCiphertext
	}
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += BlockLen {
		block.Encrypt(out[i:i+BlockLen], plain[i:i+BlockLen])
	}
	return out, nil
}

// DecryptAttr decrypts an attribute blob with CBC and a zero IV. The
// IV can be constant because attribute plaintexts start with a fixed
// magic that doubles as the decryption check.
func (p *Provider) DecryptAttr(key, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockLen != 0 {
		return nil, ErrInvalidCiphertext
	}
	iv := make([]byte, BlockLen)
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

// EncryptAttr encrypts an attribute blob with CBC and a zero IV,
// padding the plaintext to the block size.
func (p *Provider) EncryptAttr(key, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext)
	iv := make([]byte, BlockLen)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// FileCipherKey reduces a cooked 32-byte file key to the 16-byte
// cipher key by xoring its halves. Folder keys pass through.
func FileCipherKey(cooked []byte) ([]byte, error) {
	switch len(cooked) {
	case FolderKeyLen:
		return cooked, nil
	case FileKeyLen:
		k := make([]byte, FolderKeyLen)
		for i := 0; i < FolderKeyLen; i++ {
			k[i] = cooked[i] ^ cooked[i+FolderKeyLen]
		}
		return k, nil
	default:
		return nil, ErrInvalidKeySize
	}
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != MasterKeyLen {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return block, nil
}

// pad applies PKCS#7 padding.
func pad(b []byte) []byte {
	n := BlockLen - len(b)%BlockLen
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > BlockLen || n > len(b) {
		return nil, ErrInvalidCiphertext
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidCiphertext
		}
	}
	return b[:len(b)-n], nil
}
