// Package state persists both node trees: a versioned binary record
// per node, cached encrypted in SQLite, with two-pass reconstruction
// at load time.
package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/tree"
)

// RecordVersion is the current binary record version.
const RecordVersion = 1

// Flag bits in a remote node record.
const (
	flagShareKey = 1 << iota
	flagPublicLink
	flagInShare
	flagForeign
	flagCorrupt
)

// NodeRecord is the decoded persisted form of a remote node. Parent
// linkage stays a handle until pass two resolves pointers.
type NodeRecord struct {
	Handle   models.Handle
	Parent   models.Handle
	Type     models.NodeType
	Size     int64
	Owner    models.Handle
	CTime    int64
	Key      []byte
	AttrBlob []byte

	ShareKey  []byte
	Link      *tree.PublicLink
	InShare   *tree.Share
	OutShares []tree.Share

	Foreign bool
	Corrupt bool
}

// LocalRecord is the decoded persisted form of a local node.
type LocalRecord struct {
	DBID       int64
	ParentDBID int64
	FsID       models.FsID
	SyncID     models.Handle
	Type       models.NodeType
	Name       string
	ShortName  string
	NodeHandle models.Handle
}

// EncodeNode serializes a remote node.
func EncodeNode(n *tree.Node) []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint8(RecordVersion))
	w(uint64(n.Handle))
	w(uint64(n.ParentHandle))
	w(uint8(n.Type))
	w(n.Fingerprint.Size)
	w(uint64(n.Owner))
	w(n.CTime)
	writeBytes16(&buf, n.Key)
	writeBytes32(&buf, n.AttrBlob)

	var flags uint8
	if n.ShareKey != nil {
		flags |= flagShareKey
	}
	if n.Link != nil {
		flags |= flagPublicLink
	}
	if n.InShare != nil {
		flags |= flagInShare
	}
	if n.ForeignKey {
		flags |= flagForeign
	}
	if n.Corrupt {
		flags |= flagCorrupt
	}
	w(flags)

	if n.ShareKey != nil {
		writeBytes16(&buf, n.ShareKey)
	}
	if n.Link != nil {
		w(uint64(n.Link.PH))
		w(n.Link.CTS)
		w(n.Link.ETS)
		w(boolByte(n.Link.TakenDown))
	}
	if n.InShare != nil {
		writeShare(&buf, *n.InShare)
	}

	shares := make([]tree.Share, 0, len(n.OutShares)+len(n.PendingShares))
	for _, s := range n.OutShares {
		shares = append(shares, *s)
	}
	for _, s := range n.PendingShares {
		sc := *s
		sc.Pending = true
		shares = append(shares, sc)
	}
	w(uint16(len(shares)))
	for _, s := range shares {
		writeShare(&buf, s)
	}

	// Ignorable trailer for forward compatibility.
	w(uint16(0))
	return buf.Bytes()
}

// DecodeNode parses a remote node record. Unknown trailing fields are
// skipped.
func DecodeNode(data []byte) (*NodeRecord, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("record version: %w", err)
	}
	if version == 0 || version > RecordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", models.ErrStateCorrupt, version)
	}

	rec := &NodeRecord{}
	var typ uint8
	if err := readAll(r,
		(*uint64)(&rec.Handle), (*uint64)(&rec.Parent), &typ,
		&rec.Size, (*uint64)(&rec.Owner), &rec.CTime); err != nil {
		return nil, err
	}
	rec.Type = models.NodeType(typ)

	var err error
	if rec.Key, err = readBytes16(r); err != nil {
		return nil, err
	}
	if rec.AttrBlob, err = readBytes32(r); err != nil {
		return nil, err
	}

	var flags uint8
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("record flags: %w", err)
	}
	rec.Foreign = flags&flagForeign != 0
	rec.Corrupt = flags&flagCorrupt != 0

	if flags&flagShareKey != 0 {
		if rec.ShareKey, err = readBytes16(r); err != nil {
			return nil, err
		}
	}
	if flags&flagPublicLink != 0 {
		link := &tree.PublicLink{}
		var down uint8
		if err := readAll(r, (*uint64)(&link.PH), &link.CTS, &link.ETS, &down); err != nil {
			return nil, err
		}
		link.TakenDown = down != 0
		rec.Link = link
	}
	if flags&flagInShare != 0 {
		s, err := readShare(r)
		if err != nil {
			return nil, err
		}
		rec.InShare = &s
	}

	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("share count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		s, err := readShare(r)
		if err != nil {
			return nil, err
		}
		rec.OutShares = append(rec.OutShares, s)
	}

	if err := skipTrailer(r); err != nil {
		return nil, err
	}
	return rec, nil
}

// EncodeLocalNode serializes a local node.
func EncodeLocalNode(n *tree.LocalNode) []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint8(RecordVersion))
	w(n.DBID)
	w(n.ParentDBID)
	w(uint64(n.FsID))
	w(uint64(n.SyncID))
	w(uint8(n.Type))
	writeBytes16(&buf, []byte(n.Name))

	if n.ShortName != "" {
		w(uint8(1))
		writeBytes16(&buf, []byte(n.ShortName))
	} else {
		w(uint8(0))
	}

	if n.Node != nil {
		w(uint8(1))
		w(uint64(n.Node.Handle))
	} else {
		w(uint8(0))
	}

	w(uint16(0))
	return buf.Bytes()
}

// DecodeLocalNode parses a local node record.
func DecodeLocalNode(data []byte) (*LocalRecord, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("record version: %w", err)
	}
	if version == 0 || version > RecordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", models.ErrStateCorrupt, version)
	}

	rec := &LocalRecord{NodeHandle: models.UndefHandle}
	var typ uint8
	if err := readAll(r,
		&rec.DBID, &rec.ParentDBID, (*uint64)(&rec.FsID),
		(*uint64)(&rec.SyncID), &typ); err != nil {
		return nil, err
	}
	rec.Type = models.NodeType(typ)

	name, err := readBytes16(r)
	if err != nil {
		return nil, err
	}
	rec.Name = string(name)

	var has uint8
	if err := binary.Read(r, binary.LittleEndian, &has); err != nil {
		return nil, fmt.Errorf("shortname marker: %w", err)
	}
	if has != 0 {
		short, err := readBytes16(r)
		if err != nil {
			return nil, err
		}
		rec.ShortName = string(short)
	}

	if err := binary.Read(r, binary.LittleEndian, &has); err != nil {
		return nil, fmt.Errorf("handle marker: %w", err)
	}
	if has != 0 {
		if err := binary.Read(r, binary.LittleEndian, (*uint64)(&rec.NodeHandle)); err != nil {
			return nil, fmt.Errorf("node handle: %w", err)
		}
	}

	if err := skipTrailer(r); err != nil {
		return nil, err
	}
	return rec, nil
}

func writeShare(buf *bytes.Buffer, s tree.Share) {
	_ = binary.Write(buf, binary.LittleEndian, uint64(s.User))
	_ = binary.Write(buf, binary.LittleEndian, uint8(s.Access))
	_ = binary.Write(buf, binary.LittleEndian, s.TS)
	_ = binary.Write(buf, binary.LittleEndian, boolByte(s.Pending))
}

func readShare(r *bytes.Reader) (tree.Share, error) {
	var s tree.Share
	var access, pending uint8
	if err := readAll(r, (*uint64)(&s.User), &access, &s.TS, &pending); err != nil {
		return s, err
	}
	s.Access = models.ShareAccess(access)
	s.Pending = pending != 0
	return s, nil
}

func writeBytes16(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(b)))
	buf.Write(b)
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func readBytes16(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("length prefix: %w", err)
	}
	return readN(r, int(n))
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("length prefix: %w", err)
	}
	return readN(r, int(n))
}

func readN(r *bytes.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n > r.Len() {
		return nil, fmt.Errorf("%w: truncated field", models.ErrStateCorrupt)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readAll(r *bytes.Reader, vs ...interface{}) error {
	for _, v := range vs {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: truncated record", models.ErrStateCorrupt)
		}
	}
	return nil
}

// skipTrailer consumes the length-prefixed trailer that future record
// versions may append.
func skipTrailer(r *bytes.Reader) error {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		// Trailer absent entirely: tolerated for forward compatibility.
		return nil
	}
	if int(n) > r.Len() {
		return fmt.Errorf("%w: truncated trailer", models.ErrStateCorrupt)
	}
	_, err := r.Seek(int64(n), io.SeekCurrent)
	return err
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
