package models

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// CRCSize is the number of 32-bit words in a content checksum.
const CRCSize = 4

// Fingerprint identifies file content for duplicate and move detection.
// Two fingerprints comparing equal are candidates for identical content,
// not proof of it; callers needing certainty must compare further.
type Fingerprint struct {
	Size  int64
	MTime int64
	CRC   [CRCSize]uint32
	Valid bool
}

// Less imposes the index total order: size first, then modification
// time, then checksum words. Guarantees a deterministic order even for
// colliding content.
func (f Fingerprint) Less(o Fingerprint) bool {
	if f.Size != o.Size {
		return f.Size < o.Size
	}
	if f.MTime != o.MTime {
		return f.MTime < o.MTime
	}
	for i := 0; i < CRCSize; i++ {
		if f.CRC[i] != o.CRC[i] {
			return f.CRC[i] < o.CRC[i]
		}
	}
	return false
}

// EqualTo reports index equality (coarser than byte identity).
func (f Fingerprint) EqualTo(o Fingerprint) bool {
	return !f.Less(o) && !o.Less(f)
}

// Encode renders the fingerprint as the base64 form carried inside
// attribute blobs and persisted records.
func (f Fingerprint) Encode() string {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, f.Size)
	_ = binary.Write(&buf, binary.LittleEndian, f.MTime)
	_ = binary.Write(&buf, binary.LittleEndian, f.CRC)
	return base64.RawURLEncoding.EncodeToString(buf.Bytes())
}

// DecodeFingerprint parses the base64 form produced by Encode.
func DecodeFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("decode fingerprint: %w", err)
	}
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &f.Size); err != nil {
		return f, fmt.Errorf("fingerprint size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.MTime); err != nil {
		return f, fmt.Errorf("fingerprint mtime: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.CRC); err != nil {
		return f, fmt.Errorf("fingerprint crc: %w", err)
	}
	f.Valid = true
	return f, nil
}

func (f Fingerprint) String() string {
	if !f.Valid {
		return "fingerprint(invalid)"
	}
	return fmt.Sprintf("fingerprint(size=%d mtime=%d crc=%08x%08x%08x%08x)",
		f.Size, f.MTime, f.CRC[0], f.CRC[1], f.CRC[2], f.CRC[3])
}
