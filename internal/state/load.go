package state

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/tree"
)

// SaveTree writes every remote node to the store.
func SaveTree(t *tree.Tree, store Store) error {
	var err error
	t.Walk(func(n *tree.Node) bool {
		if e := store.PutNode(n.Handle, EncodeNode(n)); e != nil {
			err = e
			return false
		}
		return true
	})
	return err
}

// LoadTree reconstructs the remote tree from the store. Two passes:
// pass one materializes every node keyed by handle, pass two resolves
// parent handles into pointers — parents may well be stored after
// their children. Nodes whose parent never turns up are kept as roots
// and reported, not dropped.
func LoadTree(store Store, t *tree.Tree) ([]*models.OrphanNodeError, error) {
	var recs []*NodeRecord
	err := store.WalkNodes(func(record []byte) error {
		rec, err := DecodeNode(record)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load remote records: %w", err)
	}
	return rebuildTree(t, recs)
}

func rebuildTree(t *tree.Tree, recs []*NodeRecord) ([]*models.OrphanNodeError, error) {
	// Pass 1: materialize.
	for _, rec := range recs {
		n := tree.NewRemoteNode(rec.Handle, rec.Parent, rec.Type, rec.Owner, rec.CTime, rec.Key, rec.AttrBlob)
		// The persisted size must survive even when the key stays
		// unresolved; a later attribute decode replaces the whole
		// fingerprint.
		n.Fingerprint.Size = rec.Size
		n.ShareKey = rec.ShareKey
		n.Link = rec.Link
		n.ForeignKey = rec.Foreign
		n.Corrupt = rec.Corrupt
		if rec.InShare != nil {
			s := *rec.InShare
			n.InShare = &s
		}
		for _, s := range rec.OutShares {
			sc := s
			if s.Pending {
				if n.PendingShares == nil {
					n.PendingShares = make(map[models.Handle]*tree.Share)
				}
				n.PendingShares[s.User] = &sc
			} else {
				if n.OutShares == nil {
					n.OutShares = make(map[models.Handle]*tree.Share)
				}
				n.OutShares[s.User] = &sc
			}
		}
		t.Register(n)
	}

	// Pass 2: link.
	var orphans []*models.OrphanNodeError
	for _, rec := range recs {
		n := t.Get(rec.Handle)
		if !rec.Parent.IsDef() {
			continue
		}
		p := t.Get(rec.Parent)
		if p == nil {
			orphans = append(orphans, &models.OrphanNodeError{Handle: rec.Handle, Parent: rec.Parent})
			continue
		}
		if err := t.Attach(n, p); err != nil {
			return orphans, err
		}
	}

	// Keys resolve parents-first so share keys are available before
	// descendants need them.
	for _, root := range t.Roots() {
		resolveDown(t, root)
	}
	return orphans, nil
}

func resolveDown(t *tree.Tree, n *tree.Node) {
	if t.ResolveKey(n) {
		t.Fingerprints().Add(n)
	}
	for _, c := range n.Children {
		resolveDown(t, c)
	}
}

// EncodeTree serializes the whole remote tree into one length-prefixed
// record stream.
func EncodeTree(t *tree.Tree) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(t.Len()))
	t.Walk(func(n *tree.Node) bool {
		rec := EncodeNode(n)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(rec)))
		buf.Write(rec)
		return true
	})
	return buf.Bytes()
}

// DecodeTree reconstructs a remote tree from an EncodeTree stream.
func DecodeTree(data []byte, t *tree.Tree) ([]*models.OrphanNodeError, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("stream header: %w", err)
	}
	recs := make([]*NodeRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("record length: %w", err)
		}
		raw, err := readN(r, int(n))
		if err != nil {
			return nil, err
		}
		rec, err := DecodeNode(raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return rebuildTree(t, recs)
}

// SaveLocalTree writes the local mirror to the store, assigning
// database ids to nodes not yet persisted.
func SaveLocalTree(lt *tree.LocalTree, store Store) error {
	return saveLocalDown(lt.Root, store)
}

func saveLocalDown(n *tree.LocalNode, store Store) error {
	dbid, err := store.PutLocalNode(n.DBID, EncodeLocalNode(n))
	if err != nil {
		return err
	}
	n.DBID = dbid
	for _, c := range n.Children {
		c.ParentDBID = dbid
		if err := saveLocalDown(c, store); err != nil {
			return err
		}
	}
	return nil
}

// LoadLocalTree rebuilds the local mirror from the store. Same
// two-pass protocol as the remote side, keyed by database id; the
// record with a zero parent dbid is the sync root. Local records with
// an unresolvable parent are parked under the root and reported.
func LoadLocalTree(store Store, lt *tree.LocalTree, remote *tree.Tree) error {
	var recs []*LocalRecord
	err := store.WalkLocalNodes(func(dbid int64, record []byte) error {
		rec, err := DecodeLocalNode(record)
		if err != nil {
			return err
		}
		rec.DBID = dbid
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load local records: %w", err)
	}

	// Pass 1: materialize, root record folded onto the existing root.
	byDBID := map[int64]*tree.LocalNode{}
	for _, rec := range recs {
		var n *tree.LocalNode
		if rec.ParentDBID == 0 {
			n = lt.Root
			lt.AdoptRoot(rec.DBID)
		} else {
			n = lt.Adopt(rec.DBID, rec.Type, rec.Name)
		}
		n.SyncID = rec.SyncID
		n.ShortName = rec.ShortName
		if rec.FsID.IsDefined() {
			if err := lt.SetFsID(n, rec.FsID); err != nil {
				return err
			}
		}
		if rec.NodeHandle.IsDef() && remote != nil {
			if rn := remote.Get(rec.NodeHandle); rn != nil {
				lt.SetRemoteLink(n, rn)
			}
		}
		byDBID[rec.DBID] = n
	}

	// Pass 2: link by parent dbid.
	for _, rec := range recs {
		if rec.ParentDBID == 0 {
			continue
		}
		n := byDBID[rec.DBID]
		p, ok := byDBID[rec.ParentDBID]
		if !ok {
			p = lt.Root
			n.Flags.Reported = true
		}
		lt.SetNameParent(n, p, rec.Name)
		if rec.ShortName != "" {
			lt.SetShortName(n, rec.ShortName)
		}
	}
	return nil
}
