// Package attrs decodes node attribute blobs: the encrypted,
// JSON-bodied key/value structure carrying a node's display name,
// content fingerprint and related metadata.
package attrs

import (
	"bytes"
	"encoding/json"

	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/models"
)

// Magic prefixes every attribute plaintext. A successful decrypt is
// recognized by this prefix, which is how candidate keys are validated
// during key resolution.
const Magic = "SKN:"

// Reserved attribute keys. Everything else in the blob is carried
// through verbatim in Result.Attrs.
const (
	AttrName        = "n"
	AttrShortName   = "sn"
	AttrFingerprint = "c"
	AttrCTime       = "ts"
	AttrFileAttr    = "fa"
)

// Result is the outcome of parsing one attribute blob. When Corrupt is
// set the remaining fields hold whatever could be recovered; attribute
// loss must never take the node down with it.
type Result struct {
	Attrs       map[string]string
	Name        string
	ShortName   string
	Fingerprint models.Fingerprint
	CTime       int64
	FileAttr    string
	Corrupt     bool
}

// HasMagic reports whether a decrypted buffer looks like an attribute
// plaintext. Used by key resolution to validate candidate keys.
func HasMagic(plain []byte) bool {
	return bytes.HasPrefix(plain, []byte(Magic))
}

// Decrypt decrypts an attribute blob and verifies the magic prefix.
func Decrypt(c crypto.Cipher, key, ciphertext []byte) ([]byte, error) {
	plain, err := c.DecryptAttr(key, ciphertext)
	if err != nil {
		return nil, &models.DecryptError{Handle: models.UndefHandle, Reason: "attribute blob", Err: err}
	}
	if !HasMagic(plain) {
		return nil, &models.DecryptError{Handle: models.UndefHandle, Reason: "bad magic", Err: models.ErrStateCorrupt}
	}
	return plain, nil
}

// Parse extracts the structured fields from a decrypted blob. Malformed
// input yields a best-effort partial Result with Corrupt set; the only
// hard error is a missing magic prefix.
func Parse(plain []byte) (*Result, error) {
	res := &Result{Attrs: map[string]string{}}

	if !HasMagic(plain) {
		res.Corrupt = true
		return res, &models.CorruptAttributeError{Handle: models.UndefHandle, Reason: "missing magic prefix"}
	}

	body := plain[len(Magic):]
	raw := map[string]string{}
	if err := json.Unmarshal(body, &raw); err != nil {
		res.Corrupt = true
		return res, nil
	}

	for k, v := range raw {
		switch k {
		case AttrName:
			res.Name = v
		case AttrShortName:
			res.ShortName = v
		case AttrCTime:
			var ts int64
			if err := json.Unmarshal([]byte(v), &ts); err != nil {
				res.Corrupt = true
				continue
			}
			res.CTime = ts
		case AttrFingerprint:
			fp, err := models.DecodeFingerprint(v)
			if err != nil {
				res.Corrupt = true
				continue
			}
			res.Fingerprint = fp
		case AttrFileAttr:
			res.FileAttr = v
		}
		res.Attrs[k] = v
	}
	return res, nil
}

// Build renders an attribute plaintext from structured fields, the
// inverse of Parse. Extra entries ride along unmodified.
func Build(name string, fp models.Fingerprint, ctime int64, extra map[string]string) ([]byte, error) {
	raw := map[string]string{}
	for k, v := range extra {
		raw[k] = v
	}
	if name != "" {
		raw[AttrName] = name
	}
	if fp.Valid {
		raw[AttrFingerprint] = fp.Encode()
	}
	if ctime != 0 {
		b, _ := json.Marshal(ctime)
		raw[AttrCTime] = string(b)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return append([]byte(Magic), body...), nil
}
