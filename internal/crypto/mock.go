package crypto

// CountingCipher wraps a Cipher and counts calls. Tests use it to
// assert that already-resolved nodes never re-trigger the cipher
// collaborator.
type CountingCipher struct {
	Inner Cipher

	DecryptKeyCalls  int
	EncryptKeyCalls  int
	DecryptAttrCalls int
	EncryptAttrCalls int
}

func (c *CountingCipher) DecryptKey(key, enc []byte) ([]byte, error) {
	c.DecryptKeyCalls++
	return c.Inner.DecryptKey(key, enc)
}

func (c *CountingCipher) EncryptKey(key, plain []byte) ([]byte, error) {
	c.EncryptKeyCalls++
	return c.Inner.EncryptKey(key, plain)
}

func (c *CountingCipher) DecryptAttr(key, ciphertext []byte) ([]byte, error) {
	c.DecryptAttrCalls++
	return c.Inner.DecryptAttr(key, ciphertext)
}

func (c *CountingCipher) EncryptAttr(key, plaintext []byte) ([]byte, error) {
	c.EncryptAttrCalls++
	return c.Inner.EncryptAttr(key, plaintext)
}
