package tree

import (
	"path/filepath"
	"strings"

	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// LocalTree owns the local filesystem mirror: nodes keyed by name under
// their parent, the fsid lookup table and per-node sync state. It
// cross-references remote nodes but never owns them.
type LocalTree struct {
	logger *events.Logger

	// Remote tree this mirror correlates against.
	remote *Tree

	Root *LocalNode

	// fsid lookup for rename/move detection.
	fsids map[models.FsID]*LocalNode

	// Current scan generation; bumped once per full scan pass.
	ScanSeq int

	nextDBID int64

	// StateChanged, when set, is invoked whenever a node's displayed
	// sync state changes. Dispatched on the control goroutine.
	StateChanged func(*LocalNode, TreeState)
}

// NewLocalTree creates a mirror rooted at rootName.
func NewLocalTree(remote *Tree, rootName string, logger *events.Logger) *LocalTree {
	t := &LocalTree{
		logger: logger.WithField("component", "local_tree"),
		remote: remote,
		fsids:  make(map[models.FsID]*LocalNode),
	}
	t.Root = t.NewNode(models.TypeFolder, nil, rootName)
	return t
}

// NewNode creates a local node and links it under parent by name.
func (t *LocalTree) NewNode(typ models.NodeType, parent *LocalNode, name string) *LocalNode {
	t.nextDBID++
	n := &LocalNode{
		tree:      t,
		DBID:      t.nextDBID,
		Type:      typ,
		FsID:      models.UndefFsID,
		SyncID:    models.UndefHandle,
		ScanSeq:   t.ScanSeq,
		Children:  make(map[string]*LocalNode),
		SChildren: make(map[string]*LocalNode),
	}
	t.SetNameParent(n, parent, name)
	return n
}

// Adopt materializes an unlinked node with a persisted database id.
// Deserialization pass one uses it; pass two links via SetNameParent.
func (t *LocalTree) Adopt(dbid int64, typ models.NodeType, name string) *LocalNode {
	if dbid > t.nextDBID {
		t.nextDBID = dbid
	}
	return &LocalNode{
		tree:      t,
		DBID:      dbid,
		Type:      typ,
		Name:      name,
		FsID:      models.UndefFsID,
		SyncID:    models.UndefHandle,
		Children:  make(map[string]*LocalNode),
		SChildren: make(map[string]*LocalNode),
	}
}

// AdoptRoot restores the sync root's persisted database id.
func (t *LocalTree) AdoptRoot(dbid int64) {
	t.Root.DBID = dbid
	if dbid > t.nextDBID {
		t.nextDBID = dbid
	}
}

// SetNameParent removes the node from its old parent's name maps,
// updates the stored name and reinserts under newParent. Used for both
// local renames and move-detection resolution.
func (t *LocalTree) SetNameParent(n *LocalNode, newParent *LocalNode, newName string) {
	if p := n.Parent; p != nil {
		delete(p.Children, normalizeName(n.Name))
		if n.ShortName != "" {
			delete(p.SChildren, normalizeName(n.ShortName))
		}
	}

	n.Name = newName
	n.Parent = newParent
	if newParent != nil {
		n.ParentDBID = newParent.DBID
		newParent.Children[normalizeName(newName)] = n
		if n.ShortName != "" {
			newParent.SChildren[normalizeName(n.ShortName)] = n
		}
		// A moved subtree may change sync state wholesale.
		newParent.RefreshState()
	} else {
		n.ParentDBID = 0
	}
}

// SetShortName records the legacy short-name alias and indexes it
// under the parent.
func (t *LocalTree) SetShortName(n *LocalNode, short string) {
	if p := n.Parent; p != nil {
		if n.ShortName != "" {
			delete(p.SChildren, normalizeName(n.ShortName))
		}
		if short != "" {
			p.SChildren[normalizeName(short)] = n
		}
	}
	n.ShortName = short
}

// SetFsID updates the fsid lookup table. Observing the same fsid on a
// different node within one scan pass is a move/rename signal: the
// mapping is left on the first observer and a DuplicateFsIDError is
// returned for the matching collaborator to resolve.
func (t *LocalTree) SetFsID(n *LocalNode, fsid models.FsID) error {
	if other, ok := t.fsids[fsid]; ok && other != n {
		if other.ScanSeq == t.ScanSeq {
			return &models.DuplicateFsIDError{
				FsID:     fsid,
				Existing: t.LocalPath(other, false),
				Observed: t.LocalPath(n, false),
			}
		}
		// Stale mapping from an earlier pass: the fsid moved here.
		other.FsID = models.UndefFsID
	}
	if n.FsID.IsDefined() {
		delete(t.fsids, n.FsID)
	}
	n.FsID = fsid
	t.fsids[fsid] = n
	return nil
}

// ByFsID returns the local node currently mapped to a filesystem
// identity, or nil.
func (t *LocalTree) ByFsID(fsid models.FsID) *LocalNode {
	return t.fsids[fsid]
}

// SetRemoteLink sets or clears the advisory cross-reference between a
// local node and a remote node. Ownership never transfers either way.
func (t *LocalTree) SetRemoteLink(n *LocalNode, remote *Node) {
	if n.Node != nil {
		n.Node.Local = nil
	}
	n.Node = remote
	if remote != nil {
		if remote.Local != nil {
			remote.Local.Node = nil
		}
		remote.Local = n
	}
}

// Seen records the node as observed in the current scan pass.
func (t *LocalTree) Seen(n *LocalNode) {
	n.ScanSeq = t.ScanSeq
	n.NotSeen = 0
}

// MarkNotSeen bumps the not-seen counter, at most once per scan
// generation: a rename delivered as two remove notifications is one
// miss, not two. Deletion happens only after absence is confirmed
// across a full pass.
func (t *LocalTree) MarkNotSeen(n *LocalNode, pass int) int {
	if n.NotSeen > 0 && n.NotSeenSeq == pass {
		return n.NotSeen
	}
	n.NotSeenSeq = pass
	n.NotSeen++
	return n.NotSeen
}

// ConfirmedGone reports whether the entry has been absent long enough
// to delete.
func (t *LocalTree) ConfirmedGone(n *LocalNode) bool {
	return n.NotSeen > 1
}

// Remove destroys a local node and all descendants: fsid mappings,
// remote associations and pending creations are cleared so nothing
// dangles.
func (t *LocalTree) Remove(n *LocalNode) {
	for _, c := range n.Children {
		t.Remove(c)
	}
	if n.FsID.IsDefined() {
		delete(t.fsids, n.FsID)
	}
	if n.Node != nil {
		n.Node.Local = nil
		n.Node = nil
	}
	if n.New != nil {
		n.New.Local = nil
		n.New = nil
	}
	n.Flags.Deleted = true
	if p := n.Parent; p != nil {
		delete(p.Children, normalizeName(n.Name))
		if n.ShortName != "" {
			delete(p.SChildren, normalizeName(n.ShortName))
		}
		p.RefreshState()
	}
	n.Parent = nil
}

// LocalPath walks parent links accumulating path segments. With
// shortNameDisabled the legacy alias is skipped even where present.
func (t *LocalTree) LocalPath(n *LocalNode, shortNameDisabled bool) string {
	var segs []string
	for ; n != nil; n = n.Parent {
		name := n.Name
		if !shortNameDisabled && n.ShortName != "" {
			name = n.ShortName
		}
		segs = append(segs, name)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return filepath.Join(segs...)
}

// Subpath returns the node's path relative to the sync root, with
// forward slashes.
func (t *LocalTree) Subpath(n *LocalNode) string {
	var segs []string
	for ; n != nil && n.Parent != nil; n = n.Parent {
		segs = append(segs, n.Name)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// NodeByPath resolves a root-relative, slash-delimited path, or nil.
func (t *LocalTree) NodeByPath(path string) *LocalNode {
	n := t.Root
	if path == "" {
		return n
	}
	for _, seg := range strings.Split(path, "/") {
		if n = n.ChildByName(seg); n == nil {
			return nil
		}
	}
	return n
}

// Prepare is the transfer-collaborator hook invoked when an upload or
// download involving this node begins.
func (t *LocalTree) Prepare(n *LocalNode) {
	n.SetState(TreeStateSyncing)
}

// Completed is the transfer-collaborator hook invoked when the
// transfer ends. A succeeded upload means the remote counterpart now
// exists.
func (t *LocalTree) Completed(ev models.TransferEvent, n *LocalNode) {
	if ev.Err != nil {
		n.Flags.Reported = true
		n.SetState(TreeStatePending)
		return
	}
	if ev.Direction == models.TransferUpload {
		n.Flags.Created = true
	}
	n.Flags.Checked = true
	n.SetState(TreeStateSynced)
}
